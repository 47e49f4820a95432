package kernel

import "unsafe"

// taskState is one of the five states a tcb can be in, per spec.md §3.
type taskState uint8

const (
	stateReady taskState = iota
	stateRunning
	stateBlocked
	stateSuspended
	stateDeleted
)

func (s taskState) String() string {
	switch s {
	case stateReady:
		return "Ready"
	case stateRunning:
		return "Running"
	case stateBlocked:
		return "Blocked"
	case stateSuspended:
		return "Suspended"
	case stateDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// wakeReason records why a blocked task became Ready, per spec.md §3.
type wakeReason uint8

const (
	wakeNone wakeReason = iota
	wakeDataAvailable
	wakeTimeout
	wakeSignal
)

// objKind tags what kind of sync object a tcb.waitingOn refers to.
type objKind uint8

const (
	objNone objKind = iota
	objQueueSend // blocked in QueueSend, waiting for room
	objQueueRecv // blocked in QueueReceive, waiting for data
	objSem
	objMutex
)

// objRef is an opaque reference to a sync object a task is blocked on: a
// kind tag plus the object's pool slot index. This is the arena-plus-index
// encoding spec.md §9's design notes recommend in place of raw pointers.
type objRef struct {
	kind objKind
	id   int32
}

func (r objRef) isNil() bool { return r.kind == objNone }

var nilObjRef = objRef{kind: objNone, id: -1}

const taskNameLen = 16 // 15 bytes + NUL terminator, per spec.md §3

// TaskHandle is an opaque, generation-checked reference to a task. The zero
// TaskHandle is not special: it names pool slot 0 at generation 0, which in
// a freshly built kernel is the idle task. Use NilTaskHandle for "no task".
type TaskHandle struct {
	idx int32
	gen uint32
}

func (h TaskHandle) valid() bool { return h.idx >= 0 }

// NilTaskHandle is returned by failed task creation and never refers to a
// live task.
var NilTaskHandle = TaskHandle{idx: -1}

// TaskFunc is a task's entry point, invoked as fn(param) on a dedicated
// logical stack. It is expected to run forever (typically an infinite loop
// around blocking kernel calls) or to return, in which case the kernel
// treats the task as if it had called TaskDelete on itself. It is an alias,
// so a Port implementation can name the plain func type without importing
// this package.
type TaskFunc = func(param any)

// tcb is the Task Control Block, per spec.md §3. At most one of
// {readyLink, delayLink} is linked at a time; waitLink is linked iff
// waitingOn is non-nil; a Running tcb is the kernel's currentTask and sits
// on no list at all.
type tcb struct {
	// identity
	gen       uint32
	selfIndex int32 // this tcb's own slot index in the kernel's task pool
	name      [taskNameLen]byte

	// stack bookkeeping; stackPointer is populated by the Port (the real
	// register-frame synthesis is a Non-goal of the core, see SPEC_FULL.md
	// §0) and is otherwise opaque to the scheduler.
	stackPointer uintptr
	stackBase    uintptr
	stackSize    int
	stackClass   int
	stackSlot    int

	// scheduling
	basePriority      int
	effectivePriority int
	state             taskState
	wakeTick          uint32
	wakeReason        wakeReason
	waitingOn         objRef

	// list membership
	readyLink link
	delayLink link
	waitLink  link

	// statistics
	runCount     uint64
	totalRuntime uint64

	// port-owned execution handle (e.g. the simulated port's goroutine
	// control block); the core never interprets this, it only carries it.
	exec any
}

// tcbOfReadyLink, tcbOfDelayLink and tcbOfWaitLink recover the owning *tcb
// from a *link returned by the intrusive list operations in list.go, using
// the same container-of-field technique the Go runtime's own intrusive lists
// rely on: a tcb is never moved after allocation (pool slots are stable for
// the pool's lifetime), so the field offset is valid for as long as the link
// is reachable at all.
func tcbOfReadyLink(l *link) *tcb {
	return (*tcb)(unsafe.Pointer(uintptr(unsafe.Pointer(l)) - unsafe.Offsetof(tcb{}.readyLink)))
}

func tcbOfDelayLink(l *link) *tcb {
	return (*tcb)(unsafe.Pointer(uintptr(unsafe.Pointer(l)) - unsafe.Offsetof(tcb{}.delayLink)))
}

func tcbOfWaitLink(l *link) *tcb {
	return (*tcb)(unsafe.Pointer(uintptr(unsafe.Pointer(l)) - unsafe.Offsetof(tcb{}.waitLink)))
}

// setName truncates s to taskNameLen-1 bytes and NUL-terminates it, per
// spec.md §3 ("fixed-width ASCII identifier, for debugging only").
func (t *tcb) setName(s string) {
	var buf [taskNameLen]byte
	n := copy(buf[:taskNameLen-1], s)
	_ = n
	t.name = buf
}

// Name returns the task's debugging name.
func (t *tcb) Name() string {
	n := 0
	for n < len(t.name) && t.name[n] != 0 {
		n++
	}
	return string(t.name[:n])
}
