// Package spinlock stubs the original kernel's mutual-exclusion primitive.
// The target is a single hart with cooperative scheduling and interrupts
// disabled across every critical section that matters, so there is never
// real contention for a Spinlock to resolve; the type and its
// Acquire/Release/PushOff/PopOff shape are kept so a future SMP port has a
// call-compatible point to fill in with a real compare-and-swap loop.
package spinlock

import (
	"rv64kernel/kernel"
	"rv64kernel/kernel/riscv"
)

// Spinlock is a named mutual-exclusion lock. On this single-hart target,
// Acquire/Release degrade to disabling/restoring interrupts around the
// critical section (preventing a timer interrupt from re-entering it),
// which is sufficient because no second hart can ever be holding the lock
// concurrently.
type Spinlock struct {
	name   string
	locked bool
	depth  int // nested push_off depth, for PushOff/PopOff
	wasIE  bool
}

// Init names the lock for diagnostics. Locks are usable zero-valued;
// Init only attaches a name.
func (l *Spinlock) Init(name string) {
	l.name = name
}

// Acquire disables interrupts and marks the lock held. Panics on
// recursive acquisition, matching the original's non-reentrant contract.
func (l *Spinlock) Acquire() {
	l.PushOff()
	if l.locked {
		kernel.Panic(&kernel.Error{Module: "spinlock", Message: "already locked: " + l.name})
	}
	l.locked = true
}

// Release marks the lock free and restores the interrupt state saved by
// the matching Acquire.
func (l *Spinlock) Release() {
	if !l.locked {
		kernel.Panic(&kernel.Error{Module: "spinlock", Message: "not locked: " + l.name})
	}
	l.locked = false
	l.PopOff()
}

// Held reports whether the calling hart holds the lock.
func (l *Spinlock) Held() bool {
	return l.locked
}

// PushOff disables interrupts, remembering whether they were enabled so a
// matching PopOff can restore the prior state. Nested PushOff/PopOff
// pairs are allowed; interrupts are only re-enabled once the outermost
// PopOff runs and the saved state was itself enabled.
func (l *Spinlock) PushOff() {
	ie := riscv.ReadSstatus()&riscv.SstatusSIE != 0
	riscv.WriteSstatus(riscv.ReadSstatus() &^ riscv.SstatusSIE)
	if l.depth == 0 {
		l.wasIE = ie
	}
	l.depth++
}

// PopOff undoes one PushOff, re-enabling interrupts once depth returns to
// zero and the outermost caller had them enabled.
func (l *Spinlock) PopOff() {
	if l.depth == 0 {
		kernel.Panic(&kernel.Error{Module: "spinlock", Message: "PopOff without PushOff: " + l.name})
	}
	l.depth--
	if l.depth == 0 && l.wasIE {
		riscv.WriteSstatus(riscv.ReadSstatus() | riscv.SstatusSIE)
	}
}
