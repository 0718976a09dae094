// Package console provides the kernel's only output path before (and
// after) the scheduler is running: a single Putc hook backed by the UART,
// and an allocation-free Printf built on top of it. Printf avoids fmt
// because fmt's formatting machinery reaches into reflect and the Go
// allocator, neither of which can be assumed to work during early boot or
// from inside a panic handler.
package console

import "rv64kernel/kernel/spinlock"

// Putc transmits a single byte. It is a package variable, not a direct
// UART call, so tests can redirect output to a buffer and so the real
// boot path can install the UART driver once it is initialized.
var Putc func(byte) = func(byte) {}

var lock spinlock.Spinlock

func init() {
	lock.Init("console")
}

// WriteString writes s byte-for-byte, translating a bare '\n' to "\r\n"
// the way a real serial terminal expects.
func WriteString(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			Putc('\r')
		}
		Putc(s[i])
	}
}

const hexDigits = "0123456789abcdef"

func writeUint(v uint64, base uint64, width int, pad byte) {
	var buf [20]byte
	i := len(buf)
	if v == 0 {
		i--
		buf[i] = '0'
	}
	for v > 0 {
		i--
		buf[i] = hexDigits[v%base]
		v /= base
	}
	for len(buf)-i < width {
		i--
		buf[i] = pad
	}
	WriteString(string(buf[i:]))
}

func writeInt(v int64, width int, pad byte) {
	if v < 0 {
		WriteString("-")
		writeUint(uint64(-v), 10, width, pad)
		return
	}
	writeUint(uint64(v), 10, width, pad)
}

// Printf supports a small subset of fmt's verbs: %s, %d, %x, %o, %t, %c
// and %%, each with an optional zero-padded width (e.g. %04x). Anything
// else passes through literally. Acquires console's spinlock for the
// duration of the call so concurrent callers (a trap handler racing the
// scheduler's idle loop) don't interleave output.
func Printf(format string, args ...interface{}) {
	lock.Acquire()
	defer lock.Release()

	argi := 0
	next := func() interface{} {
		if argi >= len(args) {
			return nil
		}
		a := args[argi]
		argi++
		return a
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			if c == '\n' {
				Putc('\r')
			}
			Putc(c)
			i++
			continue
		}
		i++
		if i >= len(format) {
			break
		}

		width := 0
		pad := byte(' ')
		if format[i] == '0' {
			pad = '0'
			i++
		}
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}
		if i >= len(format) {
			break
		}

		switch format[i] {
		case 's':
			if s, ok := next().(string); ok {
				WriteString(s)
			}
		case 'd':
			switch v := next().(type) {
			case int:
				writeInt(int64(v), width, pad)
			case int32:
				writeInt(int64(v), width, pad)
			case int64:
				writeInt(v, width, pad)
			case uint64:
				writeUint(v, 10, width, pad)
			case uint32:
				writeUint(uint64(v), 10, width, pad)
			case uintptr:
				writeUint(uint64(v), 10, width, pad)
			}
		case 'x':
			switch v := next().(type) {
			case uint64:
				writeUint(v, 16, width, pad)
			case uint32:
				writeUint(uint64(v), 16, width, pad)
			case uintptr:
				writeUint(uint64(v), 16, width, pad)
			case int:
				writeUint(uint64(v), 16, width, pad)
			}
		case 'o':
			if v, ok := next().(uint64); ok {
				writeUint(v, 8, width, pad)
			}
		case 't':
			if v, ok := next().(bool); ok {
				if v {
					WriteString("true")
				} else {
					WriteString("false")
				}
			}
		case 'c':
			if v, ok := next().(byte); ok {
				Putc(v)
			}
		case '%':
			Putc('%')
		default:
			Putc('%')
			Putc(format[i])
		}
		i++
	}
}
