package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexLockUnlockRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.MutexCreate()
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = k.TaskCreate("worker", 2, 0, func(any) {
		require.NoError(t, k.MutexLock(h, WaitForever))
		locked, err := k.MutexIsLocked(h)
		require.NoError(t, err)
		assert.True(t, locked)
		require.NoError(t, k.MutexUnlock(h))
		close(done)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, k.Start())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker never completed its lock/unlock round trip")
	}
	locked, err := k.MutexIsLocked(h)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMutexLockRejectsRecursiveRelock(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.MutexCreate()
	require.NoError(t, err)

	relockErr := make(chan error, 1)
	_, err = k.TaskCreate("worker", 2, 0, func(any) {
		require.NoError(t, k.MutexLock(h, WaitForever))
		relockErr <- k.MutexLock(h, NoWait)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, k.Start())

	select {
	case err := <-relockErr:
		assert.ErrorIs(t, err, ErrRecursive)
	case <-time.After(time.Second):
		t.Fatal("worker never attempted its recursive relock")
	}
}

func TestMutexUnlockRejectsNonOwner(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.MutexCreate()
	require.NoError(t, err)

	unlockErr := make(chan error, 1)
	_, err = k.TaskCreate("bystander", 2, 0, func(any) {
		unlockErr <- k.MutexUnlock(h)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, k.Start())

	select {
	case err := <-unlockErr:
		assert.ErrorIs(t, err, ErrNotOwner)
	case <-time.After(time.Second):
		t.Fatal("bystander never attempted its unlock")
	}
}

func TestMutexUnlockWakesFrontWaiterWhichReacquiresInFIFOOrder(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.MutexCreate()
	require.NoError(t, err)

	order := make(chan string, 3)
	holderReady := make(chan struct{})
	releaseHolder := make(chan struct{})
	_, err = k.TaskCreate("holder", 3, 0, func(any) {
		require.NoError(t, k.MutexLock(h, WaitForever))
		order <- "holder"
		close(holderReady)
		// A bare channel receive would block this goroutine without ever
		// calling back into the scheduler, starving every other task of the
		// CPU in this cooperative simulation; yield repeatedly instead so
		// first/second actually get dispatched and queue on h.
		for {
			select {
			case <-releaseHolder:
				require.NoError(t, k.MutexUnlock(h))
				return
			default:
				k.TaskYield()
				time.Sleep(time.Microsecond)
			}
		}
	}, nil)
	require.NoError(t, err)

	// first/second never see the mutex handed to them directly: each wakes
	// from waitUntil's retry loop and re-races through MutexLock's own
	// try-and-claim fast path, same as any fresh locker would.
	makeWaiter := func(name string) TaskFunc {
		return func(any) {
			if err := k.MutexLock(h, WaitForever); err == nil {
				order <- name
				require.NoError(t, k.MutexUnlock(h))
			}
		}
	}
	_, err = k.TaskCreate("first", 3, 0, makeWaiter("first"), nil)
	require.NoError(t, err)
	_, err = k.TaskCreate("second", 3, 0, makeWaiter("second"), nil)
	require.NoError(t, err)

	require.NoError(t, k.Start())

	select {
	case <-holderReady:
	case <-time.After(time.Second):
		t.Fatal("holder never acquired the mutex")
	}
	require.Eventually(t, func() bool {
		tok := k.port.EnterCritical()
		defer k.port.LeaveCritical(tok)
		m := k.resolveMutex(h)
		return m != nil && countLinks(&m.waitList) == 2
	}, time.Second, time.Millisecond, "both waiters should have queued before the holder releases")

	close(releaseHolder)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case name := <-order:
			got = append(got, name)
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 tasks acquired the mutex", i)
		}
	}
	assert.Equal(t, []string{"holder", "first", "second"}, got)
}

func TestMutexLockBoostsAndUnlockRestoresOwnerPriority(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.MutexCreate()
	require.NoError(t, err)

	lowHandle := make(chan TaskHandle, 1)
	holderReady := make(chan struct{})
	highBlocked := make(chan struct{})
	boostSeen := make(chan struct{})
	unlocked := make(chan struct{})
	ack := make(chan struct{})
	done := make(chan struct{})

	// pollUntil yields (never a bare channel receive, which would never hand
	// the CPU back to the scheduler) until signal fires.
	pollUntil := func(signal chan struct{}) {
		for {
			select {
			case <-signal:
				return
			default:
				k.TaskYield()
				time.Sleep(time.Microsecond)
			}
		}
	}

	_, err = k.TaskCreate("low", 6, 0, func(any) {
		require.NoError(t, k.MutexLock(h, WaitForever))
		lowHandle <- k.CurrentTask()
		close(holderReady)

		pollUntil(highBlocked)
		// Keep holding h until the test has observed the inherited priority.
		pollUntil(boostSeen)
		require.NoError(t, k.MutexUnlock(h))
		close(unlocked)

		// Stay alive (still yielding, never self-deleting) until the test has
		// inspected the restored priority, so the handle can't go stale out
		// from under that check.
		pollUntil(ack)
		close(done)
	}, nil)
	require.NoError(t, err)

	require.NoError(t, k.Start())

	select {
	case <-holderReady:
	case <-time.After(time.Second):
		t.Fatal("low-priority task never acquired the mutex")
	}
	h2 := <-lowHandle

	tok := k.port.EnterCritical()
	basePrio := k.resolveTask(h2).basePriority
	k.port.LeaveCritical(tok)
	assert.Equal(t, 6, basePrio)

	_, err = k.TaskCreate("high", 1, 0, func(any) {
		close(highBlocked)
		require.NoError(t, k.MutexLock(h, WaitForever))
		require.NoError(t, k.MutexUnlock(h))
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tok := k.port.EnterCritical()
		defer k.port.LeaveCritical(tok)
		t := k.resolveTask(h2)
		return t != nil && t.effectivePriority == 1
	}, time.Second, time.Millisecond, "low task should inherit high's priority while it holds the contended mutex")
	close(boostSeen)

	select {
	case <-unlocked:
	case <-time.After(time.Second):
		t.Fatal("low-priority task never unlocked")
	}

	require.Eventually(t, func() bool {
		tok := k.port.EnterCritical()
		defer k.port.LeaveCritical(tok)
		tk := k.resolveTask(h2)
		return tk != nil && tk.effectivePriority == tk.basePriority
	}, time.Second, time.Millisecond, "priority must be restored to base once the mutex is unlocked")

	close(ack)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("low-priority task never finished after priority restoration was observed")
	}
}

func TestMutexDeleteWakesBlockedWaitersWithObjectDeleted(t *testing.T) {
	k := newTestKernel(t)
	h, err := k.MutexCreate()
	require.NoError(t, err)

	lockErr := make(chan error, 1)
	holderHandle := make(chan TaskHandle, 1)
	holderReady := make(chan struct{})
	stopHolder := make(chan struct{})
	t.Cleanup(func() { close(stopHolder) })
	_, err = k.TaskCreate("holder", 6, 0, func(any) {
		require.NoError(t, k.MutexLock(h, WaitForever))
		holderHandle <- k.CurrentTask()
		close(holderReady)
		// Keep holding h for the rest of the test, yielding (never a bare
		// channel receive, which would never hand the CPU back to the
		// scheduler) so the waiter can run and queue on h.
		for {
			select {
			case <-stopHolder:
				return
			default:
				k.TaskYield()
				time.Sleep(time.Microsecond)
			}
		}
	}, nil)
	require.NoError(t, err)

	require.NoError(t, k.Start())
	select {
	case <-holderReady:
	case <-time.After(time.Second):
		t.Fatal("holder never acquired the mutex")
	}
	hHolder := <-holderHandle

	// A higher-priority waiter boosts the holder's effective priority on
	// contention, same as TestMutexLockBoostsAndUnlockRestoresOwnerPriority;
	// MutexDelete must undo that boost exactly as MutexUnlock would, per
	// spec.md §8 scenario 3. It is created only once the holder owns h, so
	// that it cannot be dispatched first and take the free mutex itself.
	_, err = k.TaskCreate("waiter", 1, 0, func(any) {
		lockErr <- k.MutexLock(h, WaitForever)
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		waiting, _ := k.MutexHasWaitingTasks(h)
		return waiting
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		tok := k.port.EnterCritical()
		defer k.port.LeaveCritical(tok)
		tk := k.resolveTask(hHolder)
		return tk != nil && tk.effectivePriority == 1
	}, time.Second, time.Millisecond, "holder should inherit waiter's priority while it holds the contended mutex")

	require.NoError(t, k.MutexDelete(h))
	select {
	case err := <-lockErr:
		assert.ErrorIs(t, err, ErrObjectDeleted)
	case <-time.After(time.Second):
		t.Fatal("blocked waiter was never woken by MutexDelete")
	}

	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	tk := k.resolveTask(hHolder)
	require.NotNil(t, tk)
	assert.Equal(t, tk.basePriority, tk.effectivePriority, "holder's priority boost must be undone once its mutex is deleted")
}
