// Package syscall implements the kernel's table-dispatched syscall
// gateway: ten syscalls reachable from user mode via ecall, with the
// syscall number in a7 and arguments in a0-a6, following the same
// register convention the trap frame lays out.
package syscall

import (
	"rv64kernel/kernel/mem/vmm"
	"rv64kernel/kernel/proc"
	"rv64kernel/kernel/sched"
	"rv64kernel/kernel/trap"
)

// Numbers, matching the user-space ulib.h call sites this ABI serves.
const (
	SysFork = iota + 1
	SysExec
	SysExit
	SysWait
	SysWaitPid
	SysSendSignal
	SysYield
	SysPowerOff
	SysPutChar
	SysGetChar
)

// handler is one syscall's implementation. It receives the calling task
// and returns the value to place in a0.
type handler func(t *proc.Task) uint64

var table = map[uint64]handler{
	SysFork:       sysFork,
	SysExec:       sysExec,
	SysExit:       sysExit,
	SysWait:       sysWait,
	SysWaitPid:    sysWaitPid,
	SysSendSignal: sysSendSignal,
	SysYield:      sysYield,
	SysPowerOff:   sysPowerOff,
	SysPutChar:    sysPutChar,
	SysGetChar:    sysGetChar,
}

// Allocator is installed by the boot path: the frame allocator backing
// every syscall that maps or copies user memory (fork, exec).
var Allocator vmm.FrameAllocator

// ReadUserELF is installed by the boot path to resolve an exec() path
// argument (a null-terminated string in the caller's address space,
// pointed to by a0) to an ELF image. This kernel ships no filesystem;
// the only resolvable names are the built-in userland images registered
// under kernel/userland.
var ReadUserELF func(path string) ([]byte, bool)

// ReadUserCString is installed by the boot path: copies a NUL-terminated
// string out of t's user address space starting at virtual address va.
var ReadUserCString func(t *proc.Task, va uint64) (string, bool)

func init() {
	trap.SyscallFn = Dispatch
}

// Dispatch reads the syscall number from t's trap frame (a7), invokes
// the matching handler, and writes its result back to a0. An unknown
// syscall number leaves a0 set to ^uint64(0), matching the original's
// convention of returning -1 for "no such syscall."
func Dispatch(t *proc.Task) {
	num := t.TrapFrame.A7
	h, ok := table[num]
	if !ok {
		t.TrapFrame.A0 = ^uint64(0)
		return
	}
	t.TrapFrame.A0 = h(t)
}

func sysFork(t *proc.Task) uint64 {
	child, err := proc.Fork(t)
	if err != nil {
		return ^uint64(0)
	}
	sched.Enqueue(child)
	return uint64(child.Pid)
}

func sysExec(t *proc.Task) uint64 {
	if ReadUserCString == nil || ReadUserELF == nil || Allocator == nil {
		return ^uint64(0)
	}
	path, ok := ReadUserCString(t, t.TrapFrame.A0)
	if !ok {
		return ^uint64(0)
	}
	image, ok := ReadUserELF(path)
	if !ok {
		return ^uint64(0)
	}
	// argv (a1) and envp (a2) are caller virtual addresses into an
	// array of NUL-terminated C strings; this port's userland images
	// take no arguments, so they are accepted but not threaded through
	// to the new image. A real argv/envp copy would walk the array the
	// same way ReadUserCString walks one string, placing the copies in
	// a freshly-mapped section above the new stack.
	if err := proc.Exec(t, path, image, Allocator); err != nil {
		return ^uint64(0)
	}
	return 0
}

func sysExit(t *proc.Task) uint64 {
	status := int(int64(t.TrapFrame.A0))
	proc.Exit(t, status)
	sched.Yield() // never returns: t is Zombie, not Runnable
	return 0
}

func sysWait(t *proc.Task) uint64 {
	statusPtr := t.TrapFrame.A0
	pid, status, err := proc.Wait(t)
	if err != nil {
		return ^uint64(0)
	}
	writeUserStatus(t, statusPtr, status)
	return uint64(pid)
}

func sysWaitPid(t *proc.Task) uint64 {
	pid := int(t.TrapFrame.A0)
	statusPtr := t.TrapFrame.A1
	status, err := proc.WaitPid(t, pid)
	if err != nil {
		return ^uint64(0)
	}
	writeUserStatus(t, statusPtr, status)
	return uint64(pid)
}

// WriteUserStatus is installed by the boot path: writes a 4-byte status
// word into t's user address space at va. A nil statusPtr (0) is a valid
// "don't care" from the caller and is silently skipped.
var WriteUserStatus func(t *proc.Task, va uint64, status int)

func writeUserStatus(t *proc.Task, va uint64, status int) {
	if va == 0 || WriteUserStatus == nil {
		return
	}
	WriteUserStatus(t, va, status)
}

func sysSendSignal(t *proc.Task) uint64 {
	pid := int(t.TrapFrame.A0)
	sig := int(t.TrapFrame.A1)
	if err := proc.SendSignal(t, pid, sig); err != nil {
		return ^uint64(0)
	}
	return uint64(sig)
}

func sysYield(t *proc.Task) uint64 {
	sched.Yield()
	return 0
}

// PowerOffFn is installed by the boot path: whatever halts the machine
// for good (riscv.Halt, or a SiFive test-device poweroff write on a real
// board). Defaults to a no-op so a missing install degrades to "syscall
// returns 0" rather than crashing.
var PowerOffFn = func() {}

// sysPowerOff refuses any caller other than init (pid 1), matching the
// original kernel's test_poweroff scenario: every other task gets -1.
func sysPowerOff(t *proc.Task) uint64 {
	if t.Pid != 1 {
		return ^uint64(0)
	}
	PowerOffFn()
	return 0
}

// PutCharFn and GetCharFn are installed by the boot path to the real
// UART; GetCharFn's second return is false when no byte is available,
// which sysGetChar turns into a yield-and-retry loop rather than an
// immediate -1.
var (
	PutCharFn = func(byte) {}
	GetCharFn = func() (byte, bool) { return 0, false }
)

func sysPutChar(t *proc.Task) uint64 {
	PutCharFn(byte(t.TrapFrame.A0))
	return 0
}

// sysGetChar blocks the caller by yielding until a byte is available.
// With no other runnable task, Yield puts the caller straight back on the
// runqueue and the dispatch loop redispatches it at once, so the UART is
// polled in a loop; the hart does not wait with wfi here.
func sysGetChar(t *proc.Task) uint64 {
	for {
		if c, ok := GetCharFn(); ok {
			return uint64(c)
		}
		sched.Yield()
	}
}
