package simport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalSectionIsReentrant(t *testing.T) {
	p := New()
	tok1 := p.EnterCritical()
	tok2 := p.EnterCritical()
	p.LeaveCritical(tok2)
	p.LeaveCritical(tok1)

	// A third, non-nested enter must still succeed (i.e. the lock was fully
	// released, not leaked by the nested pair).
	done := make(chan struct{})
	go func() {
		tok := p.EnterCritical()
		p.LeaveCritical(tok)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EnterCritical deadlocked after a nested enter/leave pair")
	}
}

func TestCriticalSectionExcludesOtherGoroutines(t *testing.T) {
	p := New()
	tok := p.EnterCritical()

	acquired := make(chan struct{})
	go func() {
		tok2 := p.EnterCritical()
		close(acquired)
		p.LeaveCritical(tok2)
	}()

	select {
	case <-acquired:
		t.Fatal("a second goroutine acquired the critical section while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	p.LeaveCritical(tok)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("critical section was never released to the other goroutine")
	}
}

func TestSwitchTaskHandsOffExclusively(t *testing.T) {
	// Mirrors how the scheduler actually drives SwitchTask: the currently
	// running task's own goroutine calls it to hand off and park itself, it
	// is never called from an unrelated goroutine.
	p := New()
	var mu sync.Mutex
	var order []string
	var execA, execB any

	_, eA := p.PrepareTaskStack(nil, func(any) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		p.SwitchTask(execA, execB)
	}, nil, func() {})
	execA = eA

	_, eB := p.PrepareTaskStack(nil, func(any) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	}, nil, func() {})
	execB = eB

	p.StartFirstTask(execA)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestTriggerContextSwitchCountsCalls(t *testing.T) {
	p := New()
	assert.Equal(t, uint64(0), p.SwitchCount())
	p.TriggerContextSwitch()
	p.TriggerContextSwitch()
	assert.Equal(t, uint64(2), p.SwitchCount())
}
