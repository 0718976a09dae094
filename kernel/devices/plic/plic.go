// Package plic configures the platform-level interrupt controller: the
// external-interrupt router between device IRQ lines (the UART, in this
// kernel's device set) and the hart's supervisor-external-interrupt line.
// Kmain gives the UART line a priority, enables it and sets the threshold
// through this package. Console I/O is still polled: the trap dispatcher
// has no external-interrupt branch and never calls Claim or Complete.
package plic

import "unsafe"

// Base is the PLIC's MMIO base address on the QEMU virt machine.
const Base = 0x0c000000

const (
	priorityOffset = 0x0
	enableOffset   = 0x2080 // hart 0, S-mode enable bits
	thresholdOffset = 0x201000
	claimOffset    = 0x201004
)

func reg(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(Base) + offset))
}

// SetPriority sets irq's priority; 0 disables it regardless of the
// enable bit.
func SetPriority(irq uint32, priority uint32) {
	*reg(priorityOffset + uintptr(irq)*4) = priority
}

// Enable sets the enable bit for irq on hart 0, S-mode.
func Enable(irq uint32) {
	word := enableOffset + uintptr(irq/32)*4
	*reg(word) |= 1 << (irq % 32)
}

// SetThreshold sets the minimum priority hart 0 S-mode will observe.
func SetThreshold(threshold uint32) {
	*reg(thresholdOffset) = threshold
}

// Claim returns the highest-priority pending IRQ and acknowledges it as
// claimed. Returns 0 if nothing is pending.
func Claim() uint32 {
	return *reg(claimOffset)
}

// Complete signals that irq's handling has finished.
func Complete(irq uint32) {
	*reg(claimOffset) = irq
}
