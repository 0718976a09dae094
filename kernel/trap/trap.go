// Package trap classifies and dispatches supervisor traps: timer
// interrupts, ecall-from-U-mode (the syscall gateway), and page faults,
// following the cause categories the kernel distinguishes in scause.
// There is no external-interrupt category: a supervisor external
// interrupt classifies as Unknown, and no PLIC claim/complete is done.
package trap

import (
	"rv64kernel/kernel"
	"rv64kernel/kernel/console"
	"rv64kernel/kernel/proc"
	"rv64kernel/kernel/riscv"
	"rv64kernel/kernel/sched"
)

// Cause is the coarse classification user_trap/kernel_trap dispatch on.
type Cause int

const (
	Unknown Cause = iota
	Syscall
	Timer
	PageFault
	IllegalInstruction
)

// Classify maps a raw scause value to a Cause, clearing the pending
// supervisor-software-interrupt bit (SSIP) when the cause is the timer,
// since that bit is what the CLINT/timer trampoline uses to request a
// reschedule and must be acknowledged before returning.
func Classify(scause uint64) Cause {
	switch scause {
	case riscv.ScauseSupervisorSoftwareInterrupt:
		riscv.WriteSip(riscv.ReadSip() &^ riscv.SipSSIP)
		return Timer
	case riscv.ScauseEcallFromUMode:
		return Syscall
	case riscv.ScauseInstructionPageFault, riscv.ScauseLoadPageFault, riscv.ScauseStorePageFault:
		return PageFault
	case riscv.ScauseIllegalInstruction:
		return IllegalInstruction
	default:
		return Unknown
	}
}

// SyscallFn is installed by the syscall package to avoid an import cycle
// (syscall needs proc.Task; trap needs to invoke syscall dispatch).
var SyscallFn func(t *proc.Task)

// GrowUserStack is installed by the boot path (or a test) to grow a
// task's stack on demand when a page fault lands below its current
// base, per the on-demand stack growth policy. Returns false if the fault
// address is not a legitimate stack-growth candidate.
var GrowUserStack func(t *proc.Task, faultAddr uint64) bool

// UserTrap handles a trap that arrived while t was running in user mode.
// It is fatal for the hart's previous privilege (sstatus.SPP) to be
// anything but user. A page fault that GrowUserStack does not resolve,
// and any other cause it does not handle, is logged and terminates t with
// exit status -1.
func UserTrap(t *proc.Task) {
	if riscv.ReadSstatus()&riscv.SstatusSPP != 0 {
		kernel.Panic(&kernel.Error{Module: "trap", Message: "user_trap taken from supervisor mode"})
	}

	t.TrapFrame.Epc = riscv.ReadSepc()

	scause := riscv.ReadScause()
	switch Classify(scause) {
	case Syscall:
		t.TrapFrame.Epc += 4 // skip over the ecall instruction
		if SyscallFn != nil {
			SyscallFn(t)
		}
	case Timer:
		sched.Yield()
	case PageFault:
		if GrowUserStack != nil && GrowUserStack(t, riscv.ReadStval()) {
			break
		}
		fallthrough
	default:
		// A fault the kernel cannot resolve terminates the task, not the
		// kernel.
		console.Printf("user fault: scause %x stval %x pid %d\n", scause, riscv.ReadStval(), t.Pid)
		proc.Exit(t, -1)
		sched.Yield() // never returns: t is Zombie, not Runnable
	}

	UserTrapReturn(t)
}

// KernelTrap handles a trap that arrived while the hart was already in
// supervisor mode (i.e. running kernel code on behalf of t, or the idle
// scheduler loop). It is fatal for the hart's previous privilege to be
// anything but supervisor, or for interrupts to have been enabled at the
// time of the trap. Only the timer cause is expected here; anything else
// is fatal too, matching the original's refusal to handle kernel-mode
// faults.
func KernelTrap() {
	sepc := riscv.ReadSepc()
	sstatus := riscv.ReadSstatus()

	if sstatus&riscv.SstatusSPP == 0 {
		kernel.Panic(&kernel.Error{Module: "trap", Message: "kernel_trap taken from user mode"})
	}
	if sstatus&riscv.SstatusSIE != 0 {
		kernel.Panic(&kernel.Error{Module: "trap", Message: "kernel_trap taken with interrupts enabled"})
	}

	switch Classify(riscv.ReadScause()) {
	case Timer:
		sched.Yield()
	default:
		kernel.Panic(&kernel.Error{Module: "trap", Message: "unexpected kernel trap"})
	}

	// Yield may have context-switched through other tasks and back,
	// each of which will have run its own trap entry/exit and so
	// clobbered sepc/sstatus; restore what was current when this trap
	// was taken.
	riscv.WriteSepc(sepc)
	riscv.WriteSstatus(sstatus)
}

// UserTrapReturn prepares t's trap frame and satp for re-entry to user
// mode and hands off to the trampoline, which this package does not
// implement (it is a fixed-address, identically-mapped piece of
// assembly shared by the kernel and every user page table; out of scope
// here, as in the kernel this is ported from).
var UserTrapReturnHook func(t *proc.Task, satp uint64)

// UserTrapReturn clears the interrupt-enable bit, records the top of t's
// kernel stack in the trap frame, sets sstatus for an sret into user mode
// with interrupts enabled, restores sepc, and computes the satp for t's
// address space before invoking the trampoline hand-off. It does not
// write stvec.
func UserTrapReturn(t *proc.Task) {
	riscv.WriteSstatus(riscv.ReadSstatus() &^ riscv.SstatusSIE)

	t.TrapFrame.KernelSATP = 0 // filled by the boot path with the real kernel satp
	t.TrapFrame.KernelSP = uint64(t.KernelStack) + uint64(proc.KernelStackPages)*riscv.PageSize
	t.TrapFrame.KernelHartid = 0

	sstatus := riscv.ReadSstatus()
	sstatus &^= riscv.SstatusSPP
	sstatus |= riscv.SstatusSPIE
	riscv.WriteSstatus(sstatus)

	riscv.WriteSepc(t.TrapFrame.Epc)

	satp := riscv.MakeSatp(uint64(t.Pagetable))
	if UserTrapReturnHook != nil {
		UserTrapReturnHook(t, satp)
	}
}
