// Package uart drives the 16550-compatible UART QEMU's virt machine
// exposes at a fixed MMIO address: the kernel's only character I/O
// device, backing the console and the put_char/get_char syscalls.
package uart

import "unsafe"

// Base is the UART's MMIO base address on the QEMU virt machine.
const Base = 0x10000000

const (
	regRBR = 0 // receiver buffer, read
	regTHR = 0 // transmitter holding, write
	regIER = 1
	regFCR = 2
	regLCR = 3
	regLSR = 5

	lsrRxReady = 1 << 0
	lsrTxIdle  = 1 << 5
)

func reg(offset uintptr) *byte {
	return (*byte)(unsafe.Pointer(uintptr(Base) + offset))
}

// Init configures 8N1 at the UART's default divisor and enables the FIFO.
// No baud-rate programming is attempted: QEMU's virt UART ignores the
// divisor latch entirely and runs at whatever rate the host terminal is
// already attached at.
func Init() {
	*reg(regIER) = 0
	*reg(regLCR) = 0x03 // 8 bits, no parity, one stop bit
	*reg(regFCR) = 0x01 // enable FIFO
}

// PutChar transmits one byte, spinning until the transmitter is idle.
func PutChar(c byte) {
	for *reg(regLSR)&lsrTxIdle == 0 {
	}
	*reg(regTHR) = c
}

// GetChar returns the next received byte and true, or (0, false) if
// nothing has arrived.
func GetChar() (byte, bool) {
	if *reg(regLSR)&lsrRxReady == 0 {
		return 0, false
	}
	return *reg(regRBR), true
}
