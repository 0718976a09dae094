package proc

import (
	"unsafe"

	"rv64kernel/kernel"
	"rv64kernel/kernel/mem/vmm"
	"rv64kernel/kernel/riscv"
)

var (
	errNoChildren  = &kernel.Error{Module: "proc", Message: "no children to wait for"}
	errNotAChild   = &kernel.Error{Module: "proc", Message: "pid is not a child of the caller"}
	errNoSuchTask  = &kernel.Error{Module: "proc", Message: "no such task"}
)

// chanOf turns a task pointer into the opaque wait/wakeup channel token
// used by Wait, WaitPid and Exit: any task sleeping with channel equal to
// a given parent's address wakes when that parent's child exits.
func chanOf(t *Task) uintptr { return uintptr(unsafe.Pointer(t)) }

// Fork creates a child of parent: a fresh task whose address space is a
// full copy of parent's (every mapped section re-allocated and copied,
// not shared — this kernel has no copy-on-write) and whose trap frame is
// a copy of parent's with A0 zeroed, so the child's syscall return value
// is 0 where the parent's is the child's pid. The child is left Used,
// not Runnable; the caller (the fork syscall handler) enqueues it once
// this returns successfully.
func Fork(parent *Task) (*Task, *kernel.Error) {
	child, err := AllocTask()
	if err != nil {
		return nil, err
	}

	if cerr := vmm.CopyAllMemoryWithPageTable(child.Pagetable, parent.Sections, parent.Pagetable, parent.Perms, pool); cerr != nil {
		FreeTask(child)
		return nil, cerr
	}
	child.Sections = append([]vmm.Section(nil), parent.Sections...)
	child.Perms = append([]riscv.PTEFlag(nil), parent.Perms...)
	child.Sz = parent.Sz
	child.StackSection = parent.StackSection
	child.StackLimit = parent.StackLimit

	*child.TrapFrame = *parent.TrapFrame
	child.TrapFrame.A0 = 0

	child.Parent = parent
	child.SetName(parent.NameString())
	child.State = Used

	return child, nil
}

// Exec replaces t's address space with the image's, discarding every
// previously mapped section. On failure t is left exactly as it was
// (sections loaded from image so far are unwound before returning), so a
// failed exec does not kill the caller.
func Exec(t *Task, name string, image []byte, allocator vmm.FrameAllocator) *kernel.Error {
	oldSections := t.Sections
	oldPerms := t.Perms
	oldSz := t.Sz
	oldPagetable := t.Pagetable
	oldEpc := t.TrapFrame.Epc

	newRoot, err := vmm.CreateVoidPageTable(allocator)
	if err != nil {
		return err
	}

	t.Pagetable = newRoot
	t.Sections = nil
	t.Perms = nil
	t.Sz = 0

	rollback := func(lerr *kernel.Error) *kernel.Error {
		for _, sec := range t.Sections {
			vmm.FreeMemory(newRoot, sec.Start, sec.Size, allocator)
		}
		vmm.FreePageTable(newRoot, allocator)
		t.Pagetable = oldPagetable
		t.Sections = oldSections
		t.Perms = oldPerms
		t.Sz = oldSz
		t.TrapFrame.Epc = oldEpc
		return lerr
	}

	stackExecutable, lerr := LoadELF(t, image, allocator)
	if lerr != nil {
		return rollback(lerr)
	}
	if lerr := MapUserStack(t, stackExecutable, allocator); lerr != nil {
		return rollback(lerr)
	}

	for _, sec := range oldSections {
		vmm.FreeMemory(oldPagetable, sec.Start, sec.Size, allocator)
	}
	vmm.FreePageTable(oldPagetable, allocator)

	t.SetName(name)
	return nil
}

// initialStackPages is how many pages of stack a task starts with.
const initialStackPages = 1

// maxStackGrowthPages bounds how far GrowStack will extend a task's
// stack downward before treating a fault as a real overflow.
const maxStackGrowthPages = 16

// MapUserStack allocates and maps a fresh user stack near the top of the
// Sv39 address space, records it as t's growable stack section, and
// points the trap frame's Sp at its top. Called once by Exec (and by the
// boot path for the first task) after the rest of the address space is
// in place. stackExecutable carries the image's PT_GNU_STACK PF_X bit
// (see LoadELF) through to the stack's actual mapping permission.
func MapUserStack(t *Task, stackExecutable bool, allocator vmm.FrameAllocator) *kernel.Error {
	top := riscv.MAXVA - uint64(riscv.PageSize)
	base := top - uint64(initialStackPages)*uint64(riscv.PageSize)
	perm := riscv.PteR | riscv.PteW | riscv.PteU
	if stackExecutable {
		perm |= riscv.PteX
	}

	sec, err := vmm.MapSectionForUser(t.Pagetable, base, nil, uint64(initialStackPages)*uint64(riscv.PageSize), perm, allocator)
	if err != nil {
		return err
	}

	t.Sections = append(t.Sections, sec)
	t.Perms = append(t.Perms, perm)
	t.Sz += sec.Size
	t.StackSection = len(t.Sections) - 1
	t.StackLimit = top - uint64(maxStackGrowthPages)*uint64(riscv.PageSize)
	t.TrapFrame.Sp = top
	return nil
}

// GrowStack handles a page fault at faultAddr by mapping every page from
// the one holding faultAddr up to t's current stack base, if faultAddr falls within
// the region the stack is still allowed to grow into. Returns false
// (leaving the fault unhandled, fatal to the faulting task) if t has no stack
// section yet, faultAddr is above the stack's current base (not a
// growth request at all), or below StackLimit (a genuine overflow).
func GrowStack(t *Task, faultAddr uint64, allocator vmm.FrameAllocator) bool {
	if t.StackSection < 0 || t.StackSection >= len(t.Sections) {
		return false
	}
	sec := &t.Sections[t.StackSection]
	if faultAddr >= sec.Start || faultAddr < t.StackLimit {
		return false
	}

	newBase := riscv.PGRoundDown(faultAddr)
	grown, err := vmm.MapSectionForUser(t.Pagetable, newBase, nil, sec.Start-newBase, t.Perms[t.StackSection], allocator)
	if err != nil {
		return false
	}

	sec.Start = grown.Start
	sec.Size += grown.Size
	t.Sz += grown.Size
	return true
}

// Exit tears down t's user memory, records status, reparents any
// children to the init task, and wakes t's parent if it is blocked in
// Wait/WaitPid. t itself becomes a Zombie, retaining its pid and name
// until the parent reaps it. Exit does not reschedule; the caller must
// follow it with a yield that never returns to t.
func Exit(t *Task, status int) {
	for _, sec := range t.Sections {
		vmm.FreeMemory(t.Pagetable, sec.Start, sec.Size, pool)
	}
	t.Sections = nil
	t.Perms = nil

	ForEach(func(c *Task) {
		if c.Parent == t {
			c.Parent = initTask
			if c.State == Zombie {
				wakeFn(chanOf(initTask))
			}
		}
	})

	t.ExitStatus = status
	t.State = Zombie

	if t.Parent != nil {
		wakeFn(chanOf(t.Parent))
	}
}

// Wait blocks parent until any child exits, then reaps it (freeing its
// task slot) and returns its pid and exit status. Returns errNoChildren
// immediately if parent has no children at all.
func Wait(parent *Task) (pid int, status int, err *kernel.Error) {
	for {
		Lock()
		haveChildren := false
		for i := range table {
			c := &table[i]
			if !c.IsAlive() || c.Parent != parent {
				continue
			}
			haveChildren = true
			if c.State == Zombie {
				pid, status = c.Pid, c.ExitStatus
				Unlock()
				FreeTask(c)
				return pid, status, nil
			}
		}
		Unlock()
		if !haveChildren {
			return 0, 0, errNoChildren
		}
		sleepFn(chanOf(parent))
	}
}

// WaitPid blocks parent until the specific child pid exits, then reaps
// it. Returns errNotAChild immediately if pid does not name a live child
// of parent.
func WaitPid(parent *Task, pid int) (status int, err *kernel.Error) {
	for {
		Lock()
		var target *Task
		for i := range table {
			c := &table[i]
			if c.IsAlive() && c.Parent == parent && c.Pid == pid {
				target = c
				break
			}
		}
		if target == nil {
			Unlock()
			return 0, errNotAChild
		}
		if target.State == Zombie {
			status = target.ExitStatus
			Unlock()
			FreeTask(target)
			return status, nil
		}
		Unlock()
		sleepFn(chanOf(parent))
	}
}

// isAncestor reports whether sender appears somewhere on target's parent
// chain. A task is never its own ancestor by this definition, so
// self-signaling is rejected the same way signaling an unrelated task is.
func isAncestor(sender, target *Task) bool {
	for p := target.Parent; p != nil; p = p.Parent {
		if p == sender {
			return true
		}
	}
	return false
}

// SendSignal delivers sig to the task with the given pid on behalf of
// sender. A missing target, or one that has already exited (Zombie), is
// refused with errNoSuchTask; a target without sender somewhere on its
// parent chain is refused with errNotAChild. SigNothing is
// a no-op once authorization passes (its only effect is proving the
// target is reachable). SigInt and SigKill both terminate the target
// immediately via Exit, matching the original kernel's send_signal, which
// never queued a signal for later delivery.
func SendSignal(sender *Task, pid int, sig int) *kernel.Error {
	target := Find(pid)
	if target == nil || !target.IsAlive() || target.State == Zombie {
		return errNoSuchTask
	}
	if !isAncestor(sender, target) {
		return errNotAChild
	}
	target.PendingSig = sig
	switch sig {
	case SigNothing:
	case SigInt:
		Exit(target, 2)
	case SigKill:
		target.Killed = true
		Exit(target, SigKill)
	default:
		return errNoSuchTask
	}
	return nil
}

// Signal values recognized by SendSignal. SigInt and SigKill are the real
// POSIX signal numbers for SIGINT and SIGKILL; this kernel implements
// only synchronous termination, never signal handlers.
const (
	SigNothing = 0
	SigInt     = 2
	SigKill    = 9
)
