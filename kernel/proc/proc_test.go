package proc

import (
	"testing"
	"unsafe"

	"rv64kernel/kernel/mem"
	"rv64kernel/kernel/mem/pmm"
	"rv64kernel/kernel/mem/vmm"
	"rv64kernel/kernel/riscv"
)

// resetForTest clears the package-level task table and re-attaches it to a
// fresh pool backed by host memory, so each test starts from a known empty
// state despite the table being a package-level array shared across the
// whole test binary run.
func resetForTest(t *testing.T) {
	t.Helper()

	tableLock.Acquire()
	for i := range table {
		table[i] = Task{}
	}
	tableLock.Release()
	nextPid = 1
	current = nil
	initTask = nil
	sleepFn = func(uintptr) {}
	wakeFn = func(uintptr) {}

	var p pmm.Pool
	size := uintptr(mem.PageSize) << 12
	buf := make([]byte, size+uintptr(mem.PageSize))
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	p.Deallocate(aligned, 12)
	Init(&p)
}

func TestAllocTaskAssignsMonotonicPid(t *testing.T) {
	resetForTest(t)

	a, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Pid != a.Pid+1 {
		t.Fatalf("expected pids to be monotonic, got %d then %d", a.Pid, b.Pid)
	}
}

func TestAllocTaskTableFull(t *testing.T) {
	resetForTest(t)

	for i := 0; i < MaxTasks; i++ {
		if _, err := AllocTask(); err != nil {
			t.Fatalf("unexpected failure allocating task %d: %v", i, err)
		}
	}
	if _, err := AllocTask(); err == nil {
		t.Fatal("expected AllocTask to fail once every slot is in use")
	}
}

func TestForkDuplicatesMemoryAndZeroesChildA0(t *testing.T) {
	resetForTest(t)

	parent, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	perm := riscv.PteR | riscv.PteW | riscv.PteU
	sec, err := vmm.MapSectionForUser(parent.Pagetable, 0x1000, []byte{1, 2, 3, 4}, uint64(riscv.PageSize), perm, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parent.Sections = append(parent.Sections, sec)
	parent.Perms = append(parent.Perms, perm)
	parent.TrapFrame.A0 = 42

	child, err := Fork(parent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if child.TrapFrame.A0 != 0 {
		t.Fatalf("expected child's a0 to be 0, got %d", child.TrapFrame.A0)
	}
	if child.Parent != parent {
		t.Fatal("expected child's parent to be set")
	}

	parentPA, err := vmm.PhysOf(parent.Pagetable, sec.Start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	childPA, err := vmm.PhysOf(child.Pagetable, sec.Start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parentPA == childPA {
		t.Fatal("expected fork to give the child a distinct physical frame")
	}

	childBytes := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(childPA))), 4)
	for i, want := range []byte{1, 2, 3, 4} {
		if childBytes[i] != want {
			t.Fatalf("byte %d: expected %d, got %d", i, want, childBytes[i])
		}
	}
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	resetForTest(t)

	initTaskP, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	SetInitTask(initTaskP)

	parent, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child.Parent = parent

	Exit(parent, 7)

	if parent.State != Zombie {
		t.Fatalf("expected parent to become Zombie, got %s", parent.State)
	}
	if parent.ExitStatus != 7 {
		t.Fatalf("expected exit status 7, got %d", parent.ExitStatus)
	}
	if child.Parent != initTaskP {
		t.Fatal("expected orphaned child to be reparented to init")
	}
}

func TestExitWakesSleepingParent(t *testing.T) {
	resetForTest(t)

	parent, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child.Parent = parent

	var woken uintptr
	SetWakeFn(func(ch uintptr) { woken = ch })
	defer SetWakeFn(func(uintptr) {})

	Exit(child, 5)

	if woken != chanOf(parent) {
		t.Fatal("expected exit to wake the parent's channel")
	}
	if parent.State == Zombie {
		t.Fatal("exit must not affect the parent's own state")
	}
}

func TestWaitReapsZombieChild(t *testing.T) {
	resetForTest(t)

	parent, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child.Parent = parent
	childPid := child.Pid

	Exit(child, 0x31)

	pid, status, err := Wait(parent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != childPid {
		t.Fatalf("expected reaped pid %d, got %d", childPid, pid)
	}
	if status != 0x31 {
		t.Fatalf("expected status 0x31, got %#x", status)
	}
	if child.State != Unused {
		t.Fatalf("expected the reaped slot to return to Unused, got %s", child.State)
	}
}

func TestWaitNoChildrenReturnsError(t *testing.T) {
	resetForTest(t)

	parent, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := Wait(parent); err == nil {
		t.Fatal("expected an error waiting with no children")
	}
}

func TestWaitPidRejectsNonChild(t *testing.T) {
	resetForTest(t)

	a, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := WaitPid(a, b.Pid); err == nil {
		t.Fatal("expected WaitPid to reject a pid that is not a's child")
	}
}

func TestSendSignalRequiresAncestor(t *testing.T) {
	resetForTest(t)

	a, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := SendSignal(a, b.Pid, SigKill); err == nil {
		t.Fatal("expected SendSignal to refuse a sender that is not an ancestor")
	}
}

func TestSendSignalKillTerminatesDescendant(t *testing.T) {
	resetForTest(t)

	parent, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child.Parent = parent

	if err := SendSignal(parent, child.Pid, SigKill); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if child.State != Zombie {
		t.Fatalf("expected signaled child to become Zombie, got %s", child.State)
	}
	if child.ExitStatus != SigKill {
		t.Fatalf("expected exit status %d, got %d", SigKill, child.ExitStatus)
	}
	if !child.Killed {
		t.Fatal("expected Killed to be set")
	}
}

func TestGrowStackExtendsDownward(t *testing.T) {
	resetForTest(t)

	task, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := MapUserStack(task, false, pool); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stackBase := task.Sections[task.StackSection].Start
	if !GrowStack(task, stackBase-1, pool) {
		t.Fatal("expected GrowStack to succeed just below the current stack base")
	}
	if newBase := task.Sections[task.StackSection].Start; newBase >= stackBase {
		t.Fatalf("expected the stack section to extend downward: old=%#x new=%#x", stackBase, newBase)
	}
}

func TestGrowStackBeyondLimitFails(t *testing.T) {
	resetForTest(t)

	task, err := AllocTask()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := MapUserStack(task, false, pool); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if GrowStack(task, task.StackLimit-1, pool) {
		t.Fatal("expected a fault below StackLimit to be rejected as a real overflow")
	}
}
