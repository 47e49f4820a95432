package kernel

import "fmt"

// semCB is a counting semaphore control block, per spec.md §4.8. Per
// spec.md §9 open question (a), Post uses handoff semantics: if a task is
// already queued waiting, Post transfers the unit of resource directly to
// the longest-waiting task without ever touching count, instead of
// incrementing count and leaving every waiter (including non-queued
// newcomers) to race for it. count is only ever incremented when no task is
// queued, which keeps strict FIFO fairness: a newcomer that observes
// count == 0 always queues behind any existing waiters rather than possibly
// stealing a just-posted unit.
type semCB struct {
	gen      uint32
	count    int
	max      int
	waitList link
}

// SemHandle is an opaque, generation-checked reference to a semaphore.
type SemHandle struct {
	idx int32
	gen uint32
}

func (h SemHandle) valid() bool { return h.idx >= 0 }

// NilSemHandle is returned by a failed SemCreate.
var NilSemHandle = SemHandle{idx: -1}

// SemCreate allocates a counting semaphore with the given initial count and
// maximum count (initial must be in [0, max]).
func (k *Kernel) SemCreate(initial, max int) (SemHandle, error) {
	if max <= 0 || initial < 0 || initial > max {
		return NilSemHandle, fmt.Errorf("rtkernel: %w: invalid initial/max", ErrInvalidArgument)
	}
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	idx, ok := k.sems.alloc()
	if !ok {
		k.log.Warning().Log("semaphore pool exhausted")
		return NilSemHandle, ErrAllocationFailed
	}
	s := k.sems.at(idx)
	s.gen = k.sems.generation(idx)
	s.count = initial
	s.max = max
	linkInit(&s.waitList)
	return SemHandle{idx: int32(idx), gen: s.gen}, nil
}

// NewBinarySemaphore creates a semaphore with max count 1, the common
// signaling idiom (initial 0: "not yet signaled"; initial 1: "pre-signaled").
func (k *Kernel) NewBinarySemaphore(initial int) (SemHandle, error) {
	return k.SemCreate(initial, 1)
}

// NewCountingSemaphore is an alias for SemCreate, named to match spec.md §6's
// illustrative external-interface naming for the general case.
func (k *Kernel) NewCountingSemaphore(initial, max int) (SemHandle, error) {
	return k.SemCreate(initial, max)
}

func (k *Kernel) resolveSem(h SemHandle) *semCB {
	if !h.valid() || int(h.idx) >= k.sems.capacity() {
		return nil
	}
	s := k.sems.at(int(h.idx))
	if s.gen != h.gen || s.max == 0 {
		return nil
	}
	return s
}

// SemDelete frees a semaphore, force-waking every queued waiter with
// ErrObjectDeleted.
func (k *Kernel) SemDelete(h SemHandle) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	s := k.resolveSem(h)
	if s == nil {
		return fmt.Errorf("rtkernel: %w: invalid semaphore handle", ErrInvalidArgument)
	}
	k.wakeAllWaiters(&s.waitList)
	s.max = 0
	k.sems.free(int(h.idx))
	return nil
}

// SemPost releases one unit, handing it directly to the longest-waiting
// blocked task if any, or incrementing count otherwise. ErrOverflow is
// returned if count is already at max and nobody is waiting.
func (k *Kernel) SemPost(h SemHandle) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	s := k.resolveSem(h)
	if s == nil {
		return fmt.Errorf("rtkernel: %w: invalid semaphore handle", ErrInvalidArgument)
	}
	if f := listFront(&s.waitList); f != nil {
		k.wakeDelayed(tcbOfWaitLink(f), wakeDataAvailable)
		return nil
	}
	if s.count >= s.max {
		return ErrOverflow
	}
	s.count++
	return nil
}

// SemWait acquires one unit, blocking up to timeout ticks if none is
// available. A handoff wake (see semCB's doc comment) always succeeds
// without rechecking count, since Post only ever wakes the exact task it
// intends to hand the unit to.
func (k *Kernel) SemWait(h SemHandle, timeout uint32) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	s := k.resolveSem(h)
	if s == nil {
		return fmt.Errorf("rtkernel: %w: invalid semaphore handle", ErrInvalidArgument)
	}
	if s.count > 0 {
		s.count--
		return nil
	}
	if timeout == NoWait {
		return ErrTimeout
	}

	hasDeadline := timeout != WaitForever
	var deadline uint32
	if hasDeadline {
		deadline = k.tickNow + timeout
	}
	for {
		remaining := WaitForever
		if hasDeadline {
			remaining = ticksUntil(deadline, k.tickNow)
			if remaining == 0 {
				return ErrTimeout
			}
		}
		var outcome waitOutcome
		tok, outcome = k.waitBlock(tok, &s.waitList, objRef{kind: objSem, id: h.idx}, remaining)
		switch outcome {
		case waitTimedOut:
			return ErrTimeout
		case waitObjectDeleted:
			return ErrObjectDeleted
		default:
			return nil
		}
	}
}

// SemTryWait is SemWait with a NoWait timeout.
func (k *Kernel) SemTryWait(h SemHandle) error {
	return k.SemWait(h, NoWait)
}

// SemGetCount returns the semaphore's current count.
func (k *Kernel) SemGetCount(h SemHandle) (int, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	s := k.resolveSem(h)
	if s == nil {
		return 0, fmt.Errorf("rtkernel: %w: invalid semaphore handle", ErrInvalidArgument)
	}
	return s.count, nil
}

// SemHasWaitingTasks reports whether any task is currently blocked on h.
func (k *Kernel) SemHasWaitingTasks(h SemHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	s := k.resolveSem(h)
	if s == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid semaphore handle", ErrInvalidArgument)
	}
	return !listEmpty(&s.waitList), nil
}
