package kernel

// Port is the hardware seam spec.md §1 and §6 place out of the core's scope:
// interrupt masking, the context-switch trigger, and the first/next-task
// hand-off. The scheduler core depends only on this interface; it never
// assumes anything about register frames, PSP, or PendSV beyond what these
// methods document. kernel/simport supplies a goroutine-based implementation
// for hosted tests, matching spec.md §9's note that a cooperative simulation
// (no real preemption, only yield-based switching) is sufficient to exercise
// every property in spec.md §8 except hardware preemption fairness.
type Port interface {
	// EnterCritical masks interrupts (or, in a hosted simulation, acquires
	// the kernel's mutual-exclusion token) and returns an opaque token for
	// the matching LeaveCritical call. Nesting is required to work: a
	// nested EnterCritical/LeaveCritical pair on the same logical CPU must
	// restore the outer mask exactly, per spec.md §5.
	EnterCritical() uintptr

	// LeaveCritical restores the interrupt mask token previously returned
	// by EnterCritical.
	LeaveCritical(token uintptr)

	// TriggerContextSwitch requests that the CPU resume in whichever task
	// the scheduler has selected as current at the next opportunity (a
	// pendable, lowest-priority exception on the reference target). It
	// must never block. On a hosted simulation without real preemption,
	// the actual switch happens at the running task's next voluntary
	// suspension point; this method exists for the port to count/trace
	// preemption requests, not to perform them.
	TriggerContextSwitch()

	// WaitForInterrupt is an optional low-power hint used by the idle task
	// while no other task is ready.
	WaitForInterrupt()

	// PrepareTaskStack synthesizes whatever initial frame the target's
	// context-switch trampoline expects so that the first restore lands
	// the CPU in fn(param), returning the resulting stack pointer value
	// (opaque to the core) and a port-private execution handle the core
	// will pass back to SwitchTask/StartFirstTask. onExit is invoked
	// (on the task's own logical thread of control) if fn returns, and the
	// core treats that exactly like a self-delete.
	PrepareTaskStack(stack []byte, fn TaskFunc, param any, onExit func()) (sp uintptr, exec any)

	// StartFirstTask hands off the CPU to the task identified by exec (as
	// returned by PrepareTaskStack). On real hardware this never returns;
	// the hosted simulation returns once the hand-off has been initiated,
	// since a Go program embedding the kernel needs its calling goroutine
	// back (a deliberate deviation from the bare-metal "must not return"
	// contract).
	StartFirstTask(exec any)

	// SwitchTask is the suspension point itself: it hands the CPU to to
	// (as returned by PrepareTaskStack) and, once some future switch hands
	// the CPU back to from, returns. from is the handle of the calling
	// task, or nil when the calling task has just been deleted; with a nil
	// from, SwitchTask returns as soon as the hand-off is made.
	SwitchTask(from, to any)
}
