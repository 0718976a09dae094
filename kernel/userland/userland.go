// Package userland registers the kernel's built-in programs. This
// kernel ships no filesystem, so exec() can only resolve a handful of
// paths baked into the kernel image itself at build time, exactly as the
// kernel this is ported from booted straight into a hardcoded /init.
//
// The three images registered here are minimal, header-only ELF64
// riscv64 placeholders (valid enough for debug/elf to parse and for
// LoadELF to map, but with no program headers) standing in for the real
// userspace binaries a full build would cross-compile and embed with
// go:embed; wiring in real ELF binaries is a userspace build-tooling
// concern outside this kernel's scope.
package userland

import (
	"bytes"
	"encoding/binary"
)

const (
	elfMagic = "\x7fELF"

	etExec   = 2
	emRISCV  = 243
	evCurrent = 1
)

// makeHeaderOnlyELF builds a minimal valid ELF64 file with zero program
// and section headers and the given entry point.
func makeHeaderOnlyELF(entry uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString(elfMagic)
	buf.WriteByte(2) // ELFCLASS64
	buf.WriteByte(1) // ELFDATA2LSB
	buf.WriteByte(evCurrent)
	buf.WriteByte(0) // ELFOSABI_SYSV
	buf.Write(make([]byte, 8))

	binary.Write(&buf, binary.LittleEndian, uint16(etExec))
	binary.Write(&buf, binary.LittleEndian, uint16(emRISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(evCurrent))
	binary.Write(&buf, binary.LittleEndian, entry) // e_entry
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(64)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(56)) // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(64)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shstrndx

	return buf.Bytes()
}

var images = map[string][]byte{
	"/init": makeHeaderOnlyELF(0x1000),
	"/sh":   makeHeaderOnlyELF(0x1000),
	"/echo": makeHeaderOnlyELF(0x1000),
}

// Lookup resolves a built-in path to its ELF image. Registered as
// syscall.ReadUserELF by the boot path.
func Lookup(path string) ([]byte, bool) {
	img, ok := images[path]
	return img, ok
}

// InitPath is the program the scheduler starts as pid 1.
const InitPath = "/init"
