// Package simport is a hosted implementation of kernel.Port suitable for
// tests and for running the kernel on a development machine instead of real
// ARMv7-M hardware. It replaces interrupt masking with a reentrant mutex and
// replaces the PendSV/register-frame context switch with a goroutine-per-task
// baton hand-off: at any instant at most one task's goroutine is runnable,
// mirroring the single-core, one-task-running invariant the core assumes.
//
// There is no real preemption here: a running task's goroutine only ever
// relinquishes the CPU at a voluntary suspension point (yield, delay, or a
// blocking wait/queue/semaphore/mutex call), exactly as spec.md §9's design
// notes say a cooperative simulation may. A tick() "interrupt" therefore only
// takes visible effect the next time the currently running task reaches one
// of those suspension points.
package simport

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Port implements kernel.Port on top of goroutines and channels.
type Port struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth atomic.Int32

	switches atomic.Uint64 // TriggerContextSwitch call count, for diagnostics/tests
}

// New returns a ready-to-use simulated Port.
func New() *Port {
	return &Port{}
}

// SwitchCount reports how many times TriggerContextSwitch has been called;
// exposed for tests asserting the scheduler requested a preemption even
// though the hosted simulation can't act on it until the next suspension
// point.
func (p *Port) SwitchCount() uint64 { return p.switches.Load() }

func (p *Port) EnterCritical() uintptr {
	gid := getGoroutineID()
	if p.owner.Load() == gid {
		d := p.depth.Add(1)
		return uintptr(d)
	}
	p.mu.Lock()
	p.owner.Store(gid)
	d := p.depth.Add(1)
	return uintptr(d)
}

func (p *Port) LeaveCritical(token uintptr) {
	_ = token
	if p.depth.Add(-1) == 0 {
		p.owner.Store(0)
		p.mu.Unlock()
	}
}

func (p *Port) TriggerContextSwitch() {
	p.switches.Add(1)
}

// WaitForInterrupt throttles the idle task instead of spinning it at 100% of
// a core when nothing is ready; there is no real low-power mode to enter on
// a hosted build.
func (p *Port) WaitForInterrupt() {
	time.Sleep(50 * time.Microsecond)
}

// taskExec is the execution handle stored in tcb.exec (via the any return of
// PrepareTaskStack) and passed back into SwitchTask/StartFirstTask.
type taskExec struct {
	turn chan struct{} // buffered(1): signaled to hand this task the CPU
}

// PrepareTaskStack takes fn as a plain func(any), which is kernel.TaskFunc
// (a type alias), so this package does not import kernel: the kernel
// package's own tests import simport.
func (p *Port) PrepareTaskStack(stack []byte, fn func(param any), param any, onExit func()) (uintptr, any) {
	te := &taskExec{turn: make(chan struct{}, 1)}
	go func() {
		<-te.turn
		fn(param)
		onExit()
	}()
	var sp uintptr
	if len(stack) > 0 {
		sp = uintptr(unsafe.Pointer(&stack[len(stack)-1]))
	}
	return sp, te
}

func (p *Port) StartFirstTask(exec any) {
	exec.(*taskExec).turn <- struct{}{}
}

func (p *Port) SwitchTask(from, to any) {
	to.(*taskExec).turn <- struct{}{}
	if from != nil {
		<-from.(*taskExec).turn
	}
}

// getGoroutineID parses the running goroutine's numeric ID out of
// runtime.Stack, the same technique eventloop's loop.go uses to recognize
// its own loop goroutine.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
