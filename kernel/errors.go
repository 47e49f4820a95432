package kernel

import "errors"

// Standard kernel errors, per spec.md §7. Every fallible kernel operation
// returns one of these (or wraps one via fmt.Errorf("%w: ...", ...)) rather
// than panicking; internal invariant violations degrade to one of these plus
// a logged warning, never undefined behavior.
var (
	// ErrNull is returned for a nil handle or nil buffer/item parameter.
	ErrNull = errors.New("rtkernel: null argument")

	// ErrTimeout is returned when a blocking operation's deadline is
	// exceeded before it could complete, and by the non-blocking semaphore
	// wait and mutex lock (SemTryWait, MutexTryLock) when they cannot
	// complete at once.
	ErrTimeout = errors.New("rtkernel: timeout")

	// ErrFull is returned by a non-blocking send against a full queue.
	ErrFull = errors.New("rtkernel: queue full")

	// ErrEmpty is returned by a non-blocking receive against an empty queue.
	ErrEmpty = errors.New("rtkernel: queue empty")

	// ErrOverflow is returned by a semaphore post at max count with no
	// waiters to hand the token to.
	ErrOverflow = errors.New("rtkernel: semaphore overflow")

	// ErrNotOwner is returned by a mutex unlock attempted by a task other
	// than the current owner.
	ErrNotOwner = errors.New("rtkernel: mutex not owned by caller")

	// ErrRecursive is returned by a mutex lock attempted by its current
	// owner; recursive locking is explicitly rejected.
	ErrRecursive = errors.New("rtkernel: recursive mutex lock")

	// ErrObjectDeleted is returned to a blocked waiter woken because the
	// object it was waiting on was deleted out from under it.
	ErrObjectDeleted = errors.New("rtkernel: object deleted while waiting")

	// ErrAllocationFailed is returned on pool exhaustion, or when a
	// requested size exceeds the largest size class available.
	ErrAllocationFailed = errors.New("rtkernel: pool allocation failed")

	// ErrNotInitialized names a kernel that was not initialized. A *Kernel
	// returned by New is always initialized, so no current entry point
	// returns it.
	ErrNotInitialized = errors.New("rtkernel: kernel not initialized")

	// ErrAlreadyRunning is returned by Start when called more than once.
	ErrAlreadyRunning = errors.New("rtkernel: kernel already running")

	// ErrInvalidArgument is returned for arguments that fail validation
	// (e.g. a priority beyond MaxPriority, a zero-length name).
	ErrInvalidArgument = errors.New("rtkernel: invalid argument")
)
