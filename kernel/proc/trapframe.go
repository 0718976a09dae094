// Package proc owns task lifecycle: the Task record, trap and context
// save areas, ELF loading, and fork/exec/exit/wait.
package proc

// TrapFrame is the fixed-layout save area the user-mode trampoline reads
// and writes when crossing into and out of the kernel. Field order is
// load-bearing: the trampoline assembly indexes into this structure by
// byte offset, not by field name, so fields must stay in this order and
// all be 8 bytes wide. The offsets are listed for cross-reference against
// the trampoline.
type TrapFrame struct {
	KernelSATP   uint64 // 0:  kernel page table, for user_trap_return
	KernelSP     uint64 // 8:  top of this task's kernel stack
	KernelTrap   uint64 // 16: address of user_trap's Go entry point
	Epc          uint64 // 24: saved sepc, user pc to resume at
	KernelHartid uint64 // 32: hart id (always 0 on this single-hart target)
	Ra           uint64 // 40
	Sp           uint64 // 48
	Gp           uint64 // 56
	Tp           uint64 // 64
	T0           uint64 // 72
	T1           uint64 // 80
	T2           uint64 // 88
	S0           uint64 // 96
	S1           uint64 // 104
	A0           uint64 // 112
	A1           uint64 // 120
	A2           uint64 // 128
	A3           uint64 // 136
	A4           uint64 // 144
	A5           uint64 // 152
	A6           uint64 // 160
	A7           uint64 // 168
	S2           uint64 // 176
	S3           uint64 // 184
	S4           uint64 // 192
	S5           uint64 // 200
	S6           uint64 // 208
	S7           uint64 // 216
	S8           uint64 // 224
	S9           uint64 // 232
	S10          uint64 // 240
	S11          uint64 // 248
	T3           uint64 // 256
	T4           uint64 // 264
	T5           uint64 // 272
	T6           uint64 // 280
}

// Context holds the callee-saved registers a kernel-mode context switch
// must preserve: ra and sp plus s0-s11. Caller-saved registers (t0-t6,
// a0-a7) are the Go compiler's responsibility across any real function
// call, exactly as in the C scheduler this is ported from.
type Context struct {
	Ra  uint64
	Sp  uint64
	S0  uint64
	S1  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
}

// Switch saves the currently executing context into old and restores new,
// resuming execution at new.Ra. Implemented in assembly since it must not
// disturb any register Go didn't ask it to.
func Switch(old, new *Context)
