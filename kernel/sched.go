package kernel

// This file implements the scheduler core of spec.md §4.3/§4.4: ready-queue
// management, the wrap-safe current/overflow delayed-task lists, tick
// processing, and the suspension point every blocking call funnels through.
//
// Every exported-looking method here is still package-private; they are
// building blocks kernel.go's public API composes, always called with the
// kernel's critical section already held unless documented otherwise.

// readyHead returns the sentinel list head for priority band p.
func (k *Kernel) readyHead(p int) *link {
	return &k.readyQueues[p]
}

// addReady inserts t at the tail of its effective priority's ready queue and
// marks it Ready. Callers hold the critical section.
func (k *Kernel) addReady(t *tcb) {
	t.state = stateReady
	listInsertTail(k.readyHead(t.effectivePriority), &t.readyLink)
}

// removeReady unlinks t from whatever ready queue it is on, if any.
func (k *Kernel) removeReady(t *tcb) {
	if linked(&t.readyLink) {
		listUnlink(&t.readyLink)
	}
}

// getNextTask scans priority bands from highest (0) to lowest, returning the
// pool index of the first ready task found (round-robin within a band, since
// addReady always inserts at the tail and this always takes the head). The
// idle task is always present and always eligible, so this never returns -1
// once the kernel has been initialized, until Shutdown lets the idle task
// exit.
func (k *Kernel) getNextTask() int32 {
	for p := 0; p <= k.cfg.MaxPriority+1; p++ {
		if f := listFront(k.readyHead(p)); f != nil {
			return tcbOfReadyLink(f).selfIndex
		}
	}
	return -1
}

// addDelayed places t on the current-epoch or overflow-epoch delayed list
// depending on whether wakeTick has numerically wrapped past k.tickNow,
// per spec.md §4.2's wrap-safe design notes.
func (k *Kernel) addDelayed(t *tcb, wakeTick uint32) {
	t.state = stateBlocked
	t.wakeTick = wakeTick
	if wakeTick < k.tickNow {
		listInsertTail(&k.delayedOverflow, &t.delayLink)
	} else {
		listInsertTail(&k.delayedCurrent, &t.delayLink)
	}
}

// removeDelayed unlinks t from whichever delayed list it is on, if any.
func (k *Kernel) removeDelayed(t *tcb) {
	if linked(&t.delayLink) {
		listUnlink(&t.delayLink)
	}
}

// selfTask returns the tcb at idx; idx must be a valid, allocated slot.
func (k *Kernel) selfTask(idx int32) *tcb {
	return k.tasks.at(int(idx))
}

func (k *Kernel) currentTCB() *tcb {
	if k.currentTask < 0 {
		return nil
	}
	return k.selfTask(k.currentTask)
}

// tickInternal advances tick_now by one, handles 32-bit wraparound by
// moving every overflow-epoch delayed task onto the current-epoch list, and
// moves every delayed
// task whose deadline has now been reached back onto its ready queue. It is
// the core of the simulated SysTick ISR and of Kernel.Tick.
func (k *Kernel) tickInternal() {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)

	prev := k.tickNow
	k.tickNow++
	k.tickCount++
	if k.tickNow < prev {
		// tick_now wrapped: whatever was in the overflow-epoch list is now
		// reachable in this epoch. The nodes are moved one by one rather
		// than swapping the sentinel heads by value, since member links
		// point at the sentinel's address.
		for f := listFront(&k.delayedOverflow); f != nil; f = listFront(&k.delayedOverflow) {
			listUnlink(f)
			listInsertTail(&k.delayedCurrent, f)
		}
		k.log.Debug().Uint64("tick", k.tickCount).Log("tick counter wrapped")
	}

	for l := k.delayedCurrent.next; l != &k.delayedCurrent; {
		t := tcbOfDelayLink(l)
		l = l.next
		if tickGTE(k.tickNow, t.wakeTick) {
			k.wakeDelayed(t, wakeTimeout)
			k.log.Debug().Str("name", t.Name()).Uint64("tick", k.tickCount).Log("delay expired")
		}
	}

	cur := k.currentTCB()
	for p := 0; p <= k.cfg.MaxPriority+1; p++ {
		f := listFront(k.readyHead(p))
		if f == nil {
			continue
		}
		// The highest nonempty band found is the best candidate to run
		// next; request a switch if it is not the current task and its band
		// is strictly higher than the current task's effective priority.
		if cur == nil || tcbOfReadyLink(f).selfIndex != k.currentTask && p < cur.effectivePriority {
			k.port.TriggerContextSwitch()
		}
		break
	}
}

// wakeDelayed moves a blocked task off its delayed/wait lists and back onto
// its ready queue, recording why it woke. Callers hold the critical section.
func (k *Kernel) wakeDelayed(t *tcb, reason wakeReason) {
	k.removeDelayed(t)
	if linked(&t.waitLink) {
		listUnlink(&t.waitLink)
	}
	t.waitingOn = nilObjRef
	t.wakeReason = reason
	k.addReady(t)
}

// scheduleYield is the scheduler's suspension point, per spec.md §4.3's
// yield(): it picks the next task to run and, if it differs from the one
// calling, performs the context switch and blocks (from the calling
// goroutine's perspective) until this task is chosen to run again. Must be
// called with the critical section NOT held; it manages its own.
func (k *Kernel) scheduleYield() {
	tok := k.port.EnterCritical()
	next := k.getNextTask()
	cur := k.currentTCB()
	curIdx := k.currentTask
	if next < 0 {
		// Nothing left to run: the idle task itself has exited after Shutdown.
		k.port.LeaveCritical(tok)
		return
	}
	if next == curIdx {
		// The caller keeps the CPU: take it back off the ready queue so a
		// running task is never also queued as Ready.
		cur.state = stateRunning
		k.removeReady(cur)
		k.port.LeaveCritical(tok)
		return
	}
	nextTCB := k.selfTask(next)
	nextTCB.state = stateRunning
	k.removeReady(nextTCB)
	k.currentTask = next
	nextTCB.runCount++
	var fromExec any
	// A deleted task's goroutine is retiring for good: nothing will ever
	// switch back to it, so it must not be passed as SwitchTask's from,
	// which would otherwise park this goroutine forever waiting for a turn
	// it will never be given (deleteTaskLocked already ran, above, for the
	// self-delete/self-exit paths that reach this state).
	if cur != nil && cur.state != stateDeleted {
		fromExec = cur.exec
	}
	toExec := nextTCB.exec
	k.port.LeaveCritical(tok)
	k.log.Debug().Str("from", nameOrNone(cur)).Str("to", nextTCB.Name()).Log("context switch")
	k.port.SwitchTask(fromExec, toExec)
}

// nameOrNone returns t's debug name, or "<none>" if t is nil (no task was
// running yet, e.g. the very first dispatch).
func nameOrNone(t *tcb) string {
	if t == nil {
		return "<none>"
	}
	return t.Name()
}

// delayCurrent removes the current task from the ready queue, places it on
// the delayed list for ticks ticks from now, and yields. Called with the
// critical section NOT held.
func (k *Kernel) delayCurrent(ticks uint32) {
	tok := k.port.EnterCritical()
	cur := k.currentTCB()
	if cur == nil {
		k.port.LeaveCritical(tok)
		return
	}
	wake := k.tickNow + ticks
	k.removeReady(cur)
	k.addDelayed(cur, wake)
	k.port.LeaveCritical(tok)
	k.scheduleYield()
}

// boostPriority temporarily raises t's effective priority (priority
// inheritance, spec.md §4.9) and re-homes it on its new ready-queue band if
// it is currently Ready. Callers hold the critical section.
func (k *Kernel) boostPriority(t *tcb, prio int) {
	if prio >= t.effectivePriority {
		return
	}
	wasReady := t.state == stateReady && linked(&t.readyLink)
	if wasReady {
		k.removeReady(t)
	}
	k.log.Debug().Str("name", t.Name()).Int("from", t.effectivePriority).Int("to", prio).Log("priority boosted")
	t.effectivePriority = prio
	if wasReady {
		k.addReady(t)
	}
}

// restorePriority resets t's effective priority back to its base priority.
func (k *Kernel) restorePriority(t *tcb) {
	if t.effectivePriority == t.basePriority {
		return
	}
	wasReady := t.state == stateReady && linked(&t.readyLink)
	if wasReady {
		k.removeReady(t)
	}
	k.log.Debug().Str("name", t.Name()).Int("from", t.effectivePriority).Int("to", t.basePriority).Log("priority restored")
	t.effectivePriority = t.basePriority
	if wasReady {
		k.addReady(t)
	}
}

// idleTaskBody is the kernel-owned body run by the idle task: it never
// blocks, never calls a sync primitive, and always remains eligible, per
// spec.md §4.4's non-goals for the idle task.
func (k *Kernel) idleTaskBody(any) {
	for {
		select {
		case <-k.idleStop:
			return
		default:
		}
		k.port.WaitForInterrupt()
		k.TaskYield()
	}
}
