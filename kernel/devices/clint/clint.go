// Package clint drives the core-local interruptor: it reads mtime (Now)
// and programs the timer-compare register (SetTimer) the scheduler's
// preemption relies on. The timer reaches the kernel as a supervisor
// software interrupt forwarded by the machine-mode firmware; trap.go's
// Classify recognizes and acknowledges it through sip, not through this
// package.
package clint

import "unsafe"

// Base is the CLINT's MMIO base address on the QEMU virt machine.
const Base = 0x02000000

const mtimeOffset = 0xbff8
const mtimecmpOffset = 0x4000 // hart 0

// Frequency is QEMU virt's fixed timer tick rate.
const Frequency = 10000000

func reg64(offset uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(Base) + offset))
}

// Now returns the current mtime value.
func Now() uint64 {
	return *reg64(mtimeOffset)
}

// SetTimer arms the next timer interrupt to fire delta ticks from now.
func SetTimer(delta uint64) {
	*reg64(mtimecmpOffset) = Now() + delta
}
