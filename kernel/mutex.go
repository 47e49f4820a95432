package kernel

import "fmt"

// mutexCB is a mutex control block, per spec.md §4.9: ownership plus a FIFO
// wait-list, with single-step, non-transitive priority inheritance (spec.md
// §9 open question (c)): locking a contended mutex boosts its current
// owner's effective priority to the locker's, if higher, and unlocking
// always restores the (former) owner to its own base priority. There is no
// priority ceiling and no chaining through a second mutex the owner might
// itself be blocked on; an owner holding two boosted mutexes simultaneously
// is out of scope, matching spec.md's explicit simplification.
//
// Unlock does not transfer ownership: it clears owner and wakes only the
// longest-waiting blocked task, which then re-enters Lock's try and races
// through the same free-mutex fast path any fresh locker would, per spec.md
// §4.6's generic wait/timeout protocol and §4.9's unlock() description.
// Waking only the front waiter (rather than every waiter) still gives that
// task first crack at the uncontended mutex, so FIFO order holds in
// practice without an explicit ownership handoff.
type mutexCB struct {
	gen      uint32
	owner    int32 // -1 if unlocked
	ownerGen uint32
	waitList link
	live     bool // false once deleted, so a stale handle sharing a not-yet-reallocated gen is still rejected
}

// MutexHandle is an opaque, generation-checked reference to a mutex.
type MutexHandle struct {
	idx int32
	gen uint32
}

func (h MutexHandle) valid() bool { return h.idx >= 0 }

// NilMutexHandle is returned by a failed MutexCreate.
var NilMutexHandle = MutexHandle{idx: -1}

// MutexCreate allocates an unlocked, non-recursive mutex.
func (k *Kernel) MutexCreate() (MutexHandle, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	idx, ok := k.mutexes.alloc()
	if !ok {
		k.log.Warning().Log("mutex pool exhausted")
		return NilMutexHandle, ErrAllocationFailed
	}
	m := k.mutexes.at(idx)
	m.gen = k.mutexes.generation(idx)
	m.owner = -1
	m.live = true
	linkInit(&m.waitList)
	return MutexHandle{idx: int32(idx), gen: m.gen}, nil
}

func (k *Kernel) resolveMutex(h MutexHandle) *mutexCB {
	if !h.valid() || int(h.idx) >= k.mutexes.capacity() {
		return nil
	}
	m := k.mutexes.at(int(h.idx))
	if m.gen != h.gen || !m.live {
		return nil
	}
	return m
}

// MutexDelete frees a mutex, restoring any priority boost its current owner
// may be carrying from this mutex before releasing it, and force-waking
// every queued waiter with ErrObjectDeleted, per spec.md §4.9's delete()
// description and §8 scenario 3.
func (k *Kernel) MutexDelete(h MutexHandle) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	m := k.resolveMutex(h)
	if m == nil {
		return fmt.Errorf("rtkernel: %w: invalid mutex handle", ErrInvalidArgument)
	}
	if m.owner >= 0 {
		k.restorePriority(k.selfTask(m.owner))
	}
	k.wakeAllWaiters(&m.waitList)
	m.owner = -1
	m.live = false
	k.mutexes.free(int(h.idx))
	k.log.Info().Log("mutex deleted")
	return nil
}

// MutexLock acquires h, blocking up to timeout ticks if it is already held.
// Locking a mutex already held by the calling task returns ErrRecursive,
// per spec.md's explicit non-goal of recursive mutex support. Contending for
// a held mutex boosts its owner's effective priority to the caller's, if
// higher (spec.md §4.9/§9 open question (c)); every attempt, blocking or
// not, re-enters the same free-mutex fast path via waitUntil's generic
// try-then-block protocol (spec.md §4.6), matching how queue/semaphore
// callers retry after being woken.
func (k *Kernel) MutexLock(h MutexHandle, timeout uint32) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	m := k.resolveMutex(h)
	if m == nil {
		return fmt.Errorf("rtkernel: %w: invalid mutex handle", ErrInvalidArgument)
	}
	cur := k.currentTCB()
	if m.owner == cur.selfIndex && m.ownerGen == cur.gen {
		k.log.Warning().Str("task", cur.Name()).Log("recursive mutex lock attempt")
		return ErrRecursive
	}

	try := func() bool {
		if m.owner >= 0 {
			if owner := k.selfTask(m.owner); owner.gen == m.ownerGen && cur.effectivePriority < owner.effectivePriority {
				k.boostPriority(owner, cur.effectivePriority)
			}
			return false
		}
		m.owner = cur.selfIndex
		m.ownerGen = cur.gen
		return true
	}

	var err error
	tok, err = k.waitUntil(tok, &m.waitList, objRef{kind: objMutex, id: h.idx}, timeout, ErrTimeout, try)
	return err
}

// MutexTryLock is MutexLock with a NoWait timeout.
func (k *Kernel) MutexTryLock(h MutexHandle) error {
	return k.MutexLock(h, NoWait)
}

// MutexUnlock releases h, restoring the caller's own priority if it had
// inherited a boost, and clearing ownership. If any task is queued, the
// longest-waiting one is woken to re-race through MutexLock's fast path, not
// handed ownership directly, per spec.md §4.6's generic wait/timeout
// protocol. ErrNotOwner is returned if the caller does not currently hold h.
func (k *Kernel) MutexUnlock(h MutexHandle) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	m := k.resolveMutex(h)
	if m == nil {
		return fmt.Errorf("rtkernel: %w: invalid mutex handle", ErrInvalidArgument)
	}
	cur := k.currentTCB()
	if m.owner != cur.selfIndex || m.ownerGen != cur.gen {
		k.log.Warning().Str("task", cur.Name()).Log("mutex unlock by non-owner")
		return ErrNotOwner
	}
	k.restorePriority(cur)
	m.owner = -1
	k.wakeOneWaiter(&m.waitList)
	return nil
}

// MutexGetOwner returns a handle to h's current owner, or NilTaskHandle if
// it is unlocked.
func (k *Kernel) MutexGetOwner(h MutexHandle) (TaskHandle, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	m := k.resolveMutex(h)
	if m == nil {
		return NilTaskHandle, fmt.Errorf("rtkernel: %w: invalid mutex handle", ErrInvalidArgument)
	}
	if m.owner < 0 {
		return NilTaskHandle, nil
	}
	return TaskHandle{idx: m.owner, gen: m.ownerGen}, nil
}

// MutexIsLocked reports whether h is currently held.
func (k *Kernel) MutexIsLocked(h MutexHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	m := k.resolveMutex(h)
	if m == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid mutex handle", ErrInvalidArgument)
	}
	return m.owner >= 0, nil
}

// MutexHasWaitingTasks reports whether any task is currently blocked on h.
func (k *Kernel) MutexHasWaitingTasks(h MutexHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	m := k.resolveMutex(h)
	if m == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid mutex handle", ErrInvalidArgument)
	}
	return !listEmpty(&m.waitList), nil
}
