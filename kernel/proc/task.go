package proc

import (
	"rv64kernel/kernel/mem/vmm"
	"rv64kernel/kernel/riscv"
)

// State is a task's position in its lifecycle.
type State int

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "invalid"
	}
}

// MaxTasks bounds the static task table, mirroring the original kernel's
// fixed-size process array (NPROC).
const MaxTasks = 64

// NameLen is the size of a task's name buffer, matching the original's
// name[32].
const NameLen = 32

// Task is one schedulable unit: a user address space plus the kernel-side
// bookkeeping needed to run, suspend, and reap it.
type Task struct {
	State       State
	Pid         int
	Parent      *Task
	KernelStack uintptr // base of this task's two-page kernel stack
	Sz          uint64  // size in bytes of the user address space
	Pagetable   vmm.Table
	TrapFrame   *TrapFrame
	Context     Context
	Name        [NameLen]byte

	Sections []vmm.Section   // user memory regions, for teardown and fork copy
	Perms    []riscv.PTEFlag // permissions parallel to Sections

	Channel    uintptr // non-zero while Sleeping: the wait channel
	ExitStatus int
	Killed     bool
	PendingSig int

	// StackSection indexes into Sections/Perms for the user stack's
	// growable mapping, or is -1 if the task has no stack yet (true only
	// very briefly, between AllocTask and the stack being mapped during
	// exec). StackLimit is the lowest virtual address the stack is
	// allowed to grow down to; a fault below it is a real overflow, not
	// a growth request.
	StackSection int
	StackLimit   uint64
}

// SetName copies s (truncated to NameLen-1 bytes) into Name, leaving the
// remainder zeroed.
func (t *Task) SetName(s string) {
	for i := range t.Name {
		t.Name[i] = 0
	}
	n := len(s)
	if n > NameLen-1 {
		n = NameLen - 1
	}
	copy(t.Name[:n], s[:n])
}

// NameString returns Name as a Go string, stopping at the first NUL.
func (t *Task) NameString() string {
	for i, b := range t.Name {
		if b == 0 {
			return string(t.Name[:i])
		}
	}
	return string(t.Name[:])
}

// IsAlive reports whether the task currently occupies a slot in the task
// table: anything other than Unused. A Zombie is alive until its parent
// reaps it with Wait/WaitPid.
func (t *Task) IsAlive() bool {
	return t.State != Unused
}
