package kernel

import (
	"fmt"
	"runtime"
)

// Kernel is the top-level object spec.md §6 describes as a single global
// instance; SPEC_FULL.md §1.3 turns it into an explicit, constructible value
// so a hosted program (or a test) can run more than one independently, and so
// dependencies (the Port, the logger) are passed in rather than reached for
// as globals.
type Kernel struct {
	cfg  Config
	log  *Logger
	port Port

	tasks  *pool[tcb]
	stacks *sizeClassPool

	queues    *pool[queueCB]
	queueBufs *sizeClassPool
	sems      *pool[semCB]
	mutexes   *pool[mutexCB]

	readyQueues    []link
	delayedCurrent link
	delayedOverflow link

	tickNow     uint32
	tickCount   uint64
	currentTask int32
	idleTask    int32

	started  bool
	idleStop chan struct{}
}

// New constructs a Kernel bound to port, with every pool pre-allocated per
// the resolved Config. It creates (but does not start) the idle task. This
// is spec.md §4.10's kernel_init.
func New(port Port, opts ...Option) (*Kernel, error) {
	if port == nil {
		return nil, fmt.Errorf("rtkernel: %w: nil port", ErrNull)
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:         cfg,
		log:         defaultLogger(),
		port:        port,
		tasks:       newPool[tcb](cfg.MaxTasks),
		stacks:      newSizeClassPool(cfg.StackSizes, cfg.StackCounts),
		queues:      newPool[queueCB](cfg.MaxQueues),
		queueBufs:   newSizeClassPool(cfg.QueueBufSizes, cfg.QueueBufCounts),
		sems:        newPool[semCB](cfg.MaxSemaphores),
		mutexes:     newPool[mutexCB](cfg.MaxMutexes),
		readyQueues: make([]link, cfg.MaxPriority+2), // bands 0..MaxPriority, plus idle's band
		currentTask: -1,
		idleStop:    make(chan struct{}),
	}
	for i := range k.readyQueues {
		linkInit(&k.readyQueues[i])
	}
	linkInit(&k.delayedCurrent)
	linkInit(&k.delayedOverflow)

	idleIdx, err := k.newTaskLocked("idle", cfg.MaxPriority+1, cfg.IdleTaskStackIdx, k.idleTaskBody, nil)
	if err != nil {
		return nil, fmt.Errorf("rtkernel: failed to create idle task: %w", err)
	}
	k.idleTask = idleIdx
	k.addReady(k.selfTask(idleIdx))

	return k, nil
}

// Start hands the CPU to the highest-priority ready task (the idle task, if
// none other was created before Start), per spec.md §4.10's kernel_start.
// Unlike the bare-metal contract ("must not return"), the hosted
// implementation returns once the hand-off is initiated, so a Go program
// embedding the kernel gets its calling goroutine back; see the
// Port.StartFirstTask doc comment in port.go.
func (k *Kernel) Start() error {
	if k.started {
		return ErrAlreadyRunning
	}
	tok := k.port.EnterCritical()
	next := k.getNextTask()
	t := k.selfTask(next)
	t.state = stateRunning
	k.removeReady(t)
	k.currentTask = next
	t.runCount++
	k.started = true
	exec := t.exec
	k.port.LeaveCritical(tok)
	k.port.StartFirstTask(exec)
	return nil
}

// Shutdown stops the idle task's loop so its goroutine can exit; it is a
// hosted-only convenience (not a spec.md operation) so tests and other Go
// programs embedding the kernel can tear it down cleanly instead of leaking
// the idle goroutine. User tasks are expected to observe their own
// cancellation the same way any Go goroutine would (e.g. via their param),
// since the kernel has no way to force an arbitrary blocked task goroutine to
// return.
func (k *Kernel) Shutdown() {
	select {
	case <-k.idleStop:
	default:
		close(k.idleStop)
	}
}

// Tick advances the kernel's tick counter by one and processes expirations,
// equivalent to one firing of the reference target's SysTick ISR. It is a
// supplemented, hosted-only entry point (SPEC_FULL.md §4): ports that drive
// ticks from a real timer call this from their ISR handler, while tests can
// call it directly for deterministic control over time.
func (k *Kernel) Tick() {
	k.tickInternal()
}

// TickCount returns the number of ticks processed so far.
func (k *Kernel) TickCount() uint64 {
	return k.tickCount
}

// Stats is a point-in-time snapshot of kernel occupancy and scheduling
// activity, supplementing the distilled spec per SPEC_FULL.md §4: useful for
// tests asserting spec.md §8's properties and for an idle task's own
// bookkeeping, without introducing a new subsystem.
type Stats struct {
	Ticks       uint64
	Tasks       poolStats
	Queues      poolStats
	Semaphores  poolStats
	Mutexes     poolStats
	StackClasses []poolStats
	QueueBufClasses []poolStats
}

// Stats returns a snapshot of current kernel occupancy.
func (k *Kernel) Stats() Stats {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	return Stats{
		Ticks:           k.tickCount,
		Tasks:           k.tasks.stats(),
		Queues:          k.queues.stats(),
		Semaphores:      k.sems.stats(),
		Mutexes:         k.mutexes.stats(),
		StackClasses:    k.stacks.stats(),
		QueueBufClasses: k.queueBufs.stats(),
	}
}

// newTaskLocked allocates a tcb and its stack, and asks the port to prepare
// its execution context, without touching any ready/delayed list (the caller
// decides whether/where to make it Ready). It does not acquire the critical
// section itself; New calls it before any task is running, and TaskCreate
// wraps it with one.
func (k *Kernel) newTaskLocked(name string, priority, stackClass int, fn TaskFunc, param any) (int32, error) {
	idx, ok := k.tasks.alloc()
	if !ok {
		k.log.Warning().Str("name", name).Log("task pool exhausted")
		return -1, ErrAllocationFailed
	}
	t := k.tasks.at(idx)
	if stackClass < 0 || stackClass >= len(k.cfg.StackSizes) {
		k.tasks.free(idx)
		return -1, fmt.Errorf("rtkernel: %w: stack class %d", ErrInvalidArgument, stackClass)
	}
	buf, class, slot, ok := k.stacks.alloc(k.cfg.StackSizes[stackClass])
	if !ok {
		k.tasks.free(idx)
		k.log.Warning().Str("name", name).Int("stack_class", stackClass).Log("stack pool exhausted")
		return -1, ErrAllocationFailed
	}
	t.gen = k.tasks.generation(idx)
	t.selfIndex = int32(idx)
	t.setName(name)
	t.stackBase = 0
	t.stackSize = len(buf)
	t.stackClass = class
	t.stackSlot = slot
	t.basePriority = priority
	t.effectivePriority = priority
	t.state = stateSuspended
	t.wakeTick = 0
	t.wakeReason = wakeNone
	t.waitingOn = nilObjRef
	t.runCount = 0
	t.totalRuntime = 0
	linkInit(&t.readyLink)
	linkInit(&t.delayLink)
	linkInit(&t.waitLink)

	gen := t.gen
	onExit := func() { k.taskSelfExit(int32(idx), gen) }
	sp, exec := k.port.PrepareTaskStack(buf, fn, param, onExit)
	t.stackPointer = sp
	t.exec = exec
	return int32(idx), nil
}

// TaskCreate allocates a new task from the given entry point, priority and
// stack size class, makes it Ready, and returns a handle to it. Per spec.md
// §4.4 it never runs the new task immediately: it only becomes current once
// the scheduler picks it, at the next suspension point.
func (k *Kernel) TaskCreate(name string, priority int, stackClass int, fn TaskFunc, param any) (TaskHandle, error) {
	if fn == nil {
		return NilTaskHandle, ErrNull
	}
	if name == "" {
		return NilTaskHandle, fmt.Errorf("rtkernel: %w: empty task name", ErrInvalidArgument)
	}
	if priority < 0 || priority > k.cfg.MaxPriority {
		return NilTaskHandle, fmt.Errorf("rtkernel: %w: priority %d", ErrInvalidArgument, priority)
	}
	tok := k.port.EnterCritical()
	idx, err := k.newTaskLocked(name, priority, stackClass, fn, param)
	if err != nil {
		k.port.LeaveCritical(tok)
		return NilTaskHandle, err
	}
	t := k.selfTask(idx)
	k.addReady(t)
	gen := t.gen
	k.port.LeaveCritical(tok)
	k.log.Info().Str("name", name).Int("priority", priority).Log("task created")
	return TaskHandle{idx: idx, gen: gen}, nil
}

// resolveTask validates h against the live tcb at h.idx, returning nil if h
// is stale (wrong generation) or out of range. Callers hold the critical
// section.
func (k *Kernel) resolveTask(h TaskHandle) *tcb {
	if !h.valid() || int(h.idx) >= k.tasks.capacity() {
		return nil
	}
	t := k.selfTask(h.idx)
	if t.gen != h.gen || t.state == stateDeleted {
		return nil
	}
	return t
}

// TaskDelete removes a task from the scheduler and frees its stack and tcb.
// Deleting the idle task or an invalid handle is a no-op error, per
// spec.md §4.4. Deleting the current task deletes it and yields, never
// returning to the caller (it behaves like a self-delete).
func (k *Kernel) TaskDelete(h TaskHandle) error {
	tok := k.port.EnterCritical()
	t := k.resolveTask(h)
	if t == nil || h.idx == k.idleTask {
		k.port.LeaveCritical(tok)
		return fmt.Errorf("rtkernel: %w: invalid or idle task handle", ErrInvalidArgument)
	}
	self := h.idx == k.currentTask
	name := t.Name()
	k.deleteTaskLocked(t)
	k.port.LeaveCritical(tok)
	k.log.Info().Str("name", name).Log("task deleted")
	if self {
		k.scheduleYield()
		// The deleted task's own goroutine must not carry on running its
		// body alongside the task just switched to.
		runtime.Goexit()
	}
	return nil
}

// deleteTaskLocked frees t's resources and removes it from every list it may
// be a member of. Callers hold the critical section.
func (k *Kernel) deleteTaskLocked(t *tcb) {
	k.removeReady(t)
	k.removeDelayed(t)
	if linked(&t.waitLink) {
		listUnlink(&t.waitLink)
	}
	t.state = stateDeleted
	k.stacks.free(t.stackClass, t.stackSlot)
	k.tasks.free(int(t.selfIndex))
}

// taskSelfExit is the onExit callback threaded through PrepareTaskStack: it
// runs (on the task's own goroutine, in the hosted port) when a TaskFunc
// returns instead of looping forever, per spec.md §3's TaskFunc contract.
func (k *Kernel) taskSelfExit(idx int32, gen uint32) {
	tok := k.port.EnterCritical()
	t := k.selfTask(idx)
	if t.gen != gen || t.state == stateDeleted {
		k.port.LeaveCritical(tok)
		return
	}
	name := t.Name()
	k.deleteTaskLocked(t)
	k.port.LeaveCritical(tok)
	k.log.Info().Str("name", name).Log("task exited")
	k.scheduleYield()
}

// TaskDelay blocks the calling task for ticks system ticks. It must be
// called from task context (i.e. on a task's own goroutine in the hosted
// port).
func (k *Kernel) TaskDelay(ticks uint32) {
	if ticks == 0 {
		k.TaskYield()
		return
	}
	k.delayCurrent(ticks)
}

// TaskYield gives up the remainder of the current task's time slice to any
// other ready task of equal or higher priority, per spec.md §4.4.
func (k *Kernel) TaskYield() {
	tok := k.port.EnterCritical()
	cur := k.currentTCB()
	if cur != nil {
		k.addReady(cur)
	}
	k.port.LeaveCritical(tok)
	k.scheduleYield()
}

// CurrentTask returns a handle to the task currently running, or
// NilTaskHandle if called outside task context (e.g. before Start).
func (k *Kernel) CurrentTask() TaskHandle {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	if k.currentTask < 0 {
		return NilTaskHandle
	}
	t := k.currentTCB()
	return TaskHandle{idx: k.currentTask, gen: t.gen}
}

// TaskName returns h's debugging name, or "" if h is stale.
func (k *Kernel) TaskName(h TaskHandle) string {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	t := k.resolveTask(h)
	if t == nil {
		return ""
	}
	return t.Name()
}
