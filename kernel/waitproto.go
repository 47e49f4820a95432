package kernel

// This file implements spec.md §4.6, the wait/timeout loop template shared
// by the message queue, semaphore and mutex: block the calling task on a
// sync object's FIFO wait-list, wake it on data availability, timeout, or
// object deletion, and (for the timeout case) recompute the remaining
// deadline with the wrap-safe arithmetic in ktime.go across repeated retries.

// waitOutcome is why a blocked task's waitBlock call returned.
type waitOutcome uint8

const (
	waitWoken waitOutcome = iota
	waitTimedOut
	waitObjectDeleted
)

// waitBlock suspends the calling task on waitHead's FIFO wait-list (tagged
// with ref, so a force-wake on object deletion can be targeted), arms a
// timeout if one was requested, yields, and reports why it was later woken.
// Must be called with the critical section held via tok; it releases the
// section for the suspension itself and always returns with it held again.
func (k *Kernel) waitBlock(tok uintptr, waitHead *link, ref objRef, timeout uint32) (uintptr, waitOutcome) {
	cur := k.currentTCB()
	cur.waitingOn = ref
	listInsertTail(waitHead, &cur.waitLink)
	if timeout != WaitForever {
		k.addDelayed(cur, k.tickNow+timeout)
	} else {
		cur.state = stateBlocked
	}
	k.port.LeaveCritical(tok)
	k.scheduleYield()

	tok = k.port.EnterCritical()
	switch cur.wakeReason {
	case wakeTimeout:
		return tok, waitTimedOut
	case wakeSignal:
		return tok, waitObjectDeleted
	default:
		return tok, waitWoken
	}
}

// wakeOneWaiter wakes the longest-waiting task on waitHead, if any, with
// wakeDataAvailable, implementing the FIFO "handoff to the first waiter"
// fairness spec.md §4.6 and §5 require. Reports whether a waiter was woken.
func (k *Kernel) wakeOneWaiter(waitHead *link) bool {
	f := listFront(waitHead)
	if f == nil {
		return false
	}
	k.wakeDelayed(tcbOfWaitLink(f), wakeDataAvailable)
	return true
}

// wakeAllWaiters force-wakes every task on waitHead with wakeSignal, so each
// returns ErrObjectDeleted from its blocking call. Used when a sync object is
// deleted out from under its waiters, per spec.md §4.6/§7.
func (k *Kernel) wakeAllWaiters(waitHead *link) {
	for {
		f := listFront(waitHead)
		if f == nil {
			return
		}
		k.wakeDelayed(tcbOfWaitLink(f), wakeSignal)
	}
}

// waitUntil is the generic form of the template: it calls try (a non-blocking
// attempt at the guarded operation) and, while try reports failure, blocks
// the caller on waitHead and retries on every wake, until try succeeds, the
// deadline elapses, or the object is deleted. If try fails and timeout is
// NoWait, it returns immediateErr without ever blocking (spec.md §9 open
// question (b): a non-blocking caller gets the operation's own "not ready"
// error, not a generic timeout). Must be called with the critical section
// held via tok, and always returns with it held.
func (k *Kernel) waitUntil(tok uintptr, waitHead *link, ref objRef, timeout uint32, immediateErr error, try func() bool) (uintptr, error) {
	if try() {
		return tok, nil
	}
	if timeout == NoWait {
		return tok, immediateErr
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
				return tok, ErrTimeout
			}
		}
		var outcome waitOutcome
		tok, outcome = k.waitBlock(tok, waitHead, ref, remaining)
		switch outcome {
		case waitTimedOut:
			return tok, ErrTimeout
		case waitObjectDeleted:
			return tok, ErrObjectDeleted
		}
		if try() {
			return tok, nil
		}
		// Another waiter (or a higher-priority non-blocking caller) won the
		// race for the resource between our wake and our retry; loop and
		// block again rather than spuriously failing.
	}
}
