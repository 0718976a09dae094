// Package sched implements the single-hart cooperative scheduler: a FIFO
// runqueue, Yield, Sleep/Wakeup on an opaque channel token, and deferred
// reclamation of a task's kernel stack once it has fully stopped running
// on it.
package sched

import (
	"rv64kernel/kernel"
	"rv64kernel/kernel/mem/list"
	"rv64kernel/kernel/proc"
	"rv64kernel/kernel/riscv"
	"rv64kernel/kernel/spinlock"
)

var (
	runq     list.List[*proc.Task]
	runqLock spinlock.Spinlock

	// schedulerCtx is the context the idle scheduler loop runs in; every
	// task's Context.Ra/Sp eventually Switch back to it.
	schedulerCtx proc.Context

	// toReclaim holds the kernel stacks of the last two tasks that
	// stopped running, freed once it is certain nothing is executing on
	// them anymore. A task's own stack cannot be freed while it is still
	// the one calling Switch away from itself, hence the one-deep delay;
	// a second slot covers the case where two tasks exit back to back
	// before the scheduler loop gets a chance to drain the first.
	toReclaim [2]*proc.Task
)

func init() {
	runqLock.Init("sched.runq")
	proc.SetSleepFn(Sleep)
	proc.SetWakeFn(Wakeup)
}

// Enqueue marks t Runnable and appends it to the tail of the runqueue.
func Enqueue(t *proc.Task) {
	runqLock.Acquire()
	t.State = proc.Runnable
	runq.PushTail(t)
	runqLock.Release()
}

// reclaim frees the kernel stack of the task in the first pending slot
// (queued when it last switched away) and shifts the pending slots down
// by one. Only the kernel stack and
// trap frame are freed here; the task slot itself stays Zombie (pid and
// exit status intact) until the parent reaps it via Wait/WaitPid.
func reclaim() {
	if toReclaim[0] != nil {
		proc.ReclaimStack(toReclaim[0])
	}
	toReclaim[0] = toReclaim[1]
	toReclaim[1] = nil
}

// Run is the scheduler's idle loop: forever pick the head of the
// runqueue, mark it Running, and Switch into it. It never returns. It is
// fatal to enter an iteration while a task is still recorded as current.
// Run sets SIE only when the runqueue is empty, before waiting with wfi;
// it does not change the interrupt state before dispatching a task.
func Run() {
	for {
		if proc.Current() != nil {
			kernel.Panic(&kernel.Error{Module: "sched", Message: "dispatch while a task is running"})
		}
		runqLock.Acquire()
		if runq.Empty() {
			runqLock.Release()
			// Nothing runnable: spin with interrupts enabled so the
			// UART/timer that would make something runnable again can
			// actually reach the hart, then wfi until one does.
			riscv.WriteSstatus(riscv.ReadSstatus() | riscv.SstatusSIE)
			riscv.WaitForInterrupt()
			continue
		}
		t := runq.PopHead()
		runqLock.Release()

		t.State = proc.Running
		proc.SetCurrent(t)
		reclaim()

		proc.Switch(&schedulerCtx, &t.Context)

		proc.SetCurrent(nil)
	}
}

// Yield voluntarily gives up the hart: the current task is re-enqueued
// (unless it has already transitioned to Sleeping or Zombie, in which
// case the caller is responsible for that transition before calling
// Yield) and control returns to Run, which dispatches the next runnable
// task. Yield returns once this task is dispatched again.
func Yield() {
	t := proc.Current()
	if t == nil {
		kernel.Panic(&kernel.Error{Module: "sched", Message: "yield with no current task"})
	}

	runqLock.Acquire()
	if t.State == proc.Running {
		t.State = proc.Runnable
		runq.PushTail(t)
	}
	runqLock.Release()

	switchToScheduler(t)
}

// Sleep marks the current task Sleeping on channel and switches away. It
// returns once some Wakeup(channel) call has re-enqueued it and the
// scheduler has dispatched it again.
func Sleep(channel uintptr) {
	t := proc.Current()
	if t == nil {
		kernel.Panic(&kernel.Error{Module: "sched", Message: "sleep with no current task"})
	}

	runqLock.Acquire()
	t.State = proc.Sleeping
	t.Channel = channel
	runqLock.Release()

	switchToScheduler(t)
}

// Wakeup moves every Sleeping task whose Channel equals channel back
// onto the runqueue as Runnable.
func Wakeup(channel uintptr) {
	proc.ForEach(func(t *proc.Task) {
		if t.State == proc.Sleeping && t.Channel == channel {
			runqLock.Acquire()
			t.State = proc.Runnable
			t.Channel = 0
			runq.PushTail(t)
			runqLock.Release()
		}
	})
}

// switchToScheduler hands the hart back to Run, queuing t's kernel stack
// for deferred reclamation first if t is now a Zombie (its user memory
// is already gone by the time Exit calls into this path; only the
// kernel-side stack and trap frame remain to be reclaimed, and only once
// it is safe to do so).
func switchToScheduler(t *proc.Task) {
	if t.State == proc.Zombie {
		if toReclaim[0] == nil {
			toReclaim[0] = t
		} else {
			toReclaim[1] = t
		}
	}
	proc.Switch(&t.Context, &schedulerCtx)
}
