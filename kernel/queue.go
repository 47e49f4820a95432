package kernel

import "fmt"

// queueCB is a message queue control block, per spec.md §4.7: a fixed-size
// ring of fixed-size messages plus two FIFO wait-lists, one for tasks
// blocked trying to send into a full queue and one for tasks blocked trying
// to receive from an empty one.
type queueCB struct {
	gen      uint32
	selfIndex int32
	ring     *byteRing
	bufClass int
	bufSlot  int
	sendWait link
	recvWait link
}

// QueueHandle is an opaque, generation-checked reference to a message queue.
type QueueHandle struct {
	idx int32
	gen uint32
}

func (h QueueHandle) valid() bool { return h.idx >= 0 }

// NilQueueHandle is returned by a failed QueueCreate.
var NilQueueHandle = QueueHandle{idx: -1}

// QueueCreate allocates a message queue able to hold at least capacityItems
// messages of itemSize bytes each: the capacity is rounded up to a power of
// 2, and the buffer comes from the smallest queue buffer size class that fits
// it, per spec.md §4.5/§4.7.
func (k *Kernel) QueueCreate(itemSize, capacityItems int) (QueueHandle, error) {
	if itemSize <= 0 || capacityItems <= 0 {
		return NilQueueHandle, fmt.Errorf("rtkernel: %w: itemSize/capacityItems must be positive", ErrInvalidArgument)
	}
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)

	idx, ok := k.queues.alloc()
	if !ok {
		k.log.Warning().Log("queue pool exhausted")
		return NilQueueHandle, ErrAllocationFailed
	}
	q := k.queues.at(idx)
	want := itemSize * nextPow2(capacityItems)
	buf, class, slot, ok := k.queueBufs.alloc(want)
	if !ok {
		k.queues.free(idx)
		k.log.Warning().Int("want_bytes", want).Log("queue buffer pool exhausted")
		return NilQueueHandle, ErrAllocationFailed
	}
	q.gen = k.queues.generation(idx)
	q.selfIndex = int32(idx)
	q.bufClass = class
	q.bufSlot = slot
	q.ring = newByteRing(buf, itemSize, capacityItems)
	linkInit(&q.sendWait)
	linkInit(&q.recvWait)

	return QueueHandle{idx: int32(idx), gen: q.gen}, nil
}

func (k *Kernel) resolveQueue(h QueueHandle) *queueCB {
	if !h.valid() || int(h.idx) >= k.queues.capacity() {
		return nil
	}
	q := k.queues.at(int(h.idx))
	if q.gen != h.gen || q.ring == nil {
		return nil
	}
	return q
}

// QueueDelete frees a queue and force-wakes every task blocked on it with
// ErrObjectDeleted, per spec.md §4.6/§7.
func (k *Kernel) QueueDelete(h QueueHandle) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	k.wakeAllWaiters(&q.sendWait)
	k.wakeAllWaiters(&q.recvWait)
	k.queueBufs.free(q.bufClass, q.bufSlot)
	q.ring = nil
	k.queues.free(int(h.idx))
	return nil
}

// QueueSend enqueues item (which must be exactly the queue's configured
// message size), blocking up to timeout ticks if the queue is full. A
// NoWait timeout against a full queue returns ErrFull, never ErrTimeout, per
// spec.md §9 open question (b).
func (k *Kernel) QueueSend(h QueueHandle, item []byte, timeout uint32) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	if item == nil {
		return ErrNull
	}
	try := func() bool {
		if !q.ring.Put(item) {
			return false
		}
		k.wakeOneWaiter(&q.recvWait)
		return true
	}
	var err error
	tok, err = k.waitUntil(tok, &q.sendWait, objRef{kind: objQueueSend, id: h.idx}, timeout, ErrFull, try)
	return err
}

// QueueSendImmediate is QueueSend with a NoWait timeout.
func (k *Kernel) QueueSendImmediate(h QueueHandle, item []byte) error {
	return k.QueueSend(h, item, NoWait)
}

// QueueReceive dequeues the oldest message into dst (which must be at least
// the queue's configured message size), blocking up to timeout ticks if the
// queue is empty.
func (k *Kernel) QueueReceive(h QueueHandle, dst []byte, timeout uint32) error {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	if dst == nil {
		return ErrNull
	}
	try := func() bool {
		if !q.ring.Get(dst) {
			return false
		}
		k.wakeOneWaiter(&q.sendWait)
		return true
	}
	var err error
	tok, err = k.waitUntil(tok, &q.recvWait, objRef{kind: objQueueRecv, id: h.idx}, timeout, ErrEmpty, try)
	return err
}

// QueueReceiveImmediate is QueueReceive with a NoWait timeout.
func (k *Kernel) QueueReceiveImmediate(h QueueHandle, dst []byte) error {
	return k.QueueReceive(h, dst, NoWait)
}

// QueueIsEmpty, QueueIsFull and QueueMessagesWaiting report a queue's
// current occupancy; they return (false/0, ErrInvalidArgument) for a stale
// handle.
func (k *Kernel) QueueIsEmpty(h QueueHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	return q.ring.Empty(), nil
}

func (k *Kernel) QueueIsFull(h QueueHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	return q.ring.Full(), nil
}

func (k *Kernel) QueueMessagesWaiting(h QueueHandle) (int, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return 0, fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	return q.ring.Len(), nil
}

// QueueHasWaitingSenders and QueueHasWaitingReceivers report whether any task
// is currently blocked trying to send into (respectively receive from) h.
func (k *Kernel) QueueHasWaitingSenders(h QueueHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	return !listEmpty(&q.sendWait), nil
}

func (k *Kernel) QueueHasWaitingReceivers(h QueueHandle) (bool, error) {
	tok := k.port.EnterCritical()
	defer k.port.LeaveCritical(tok)
	q := k.resolveQueue(h)
	if q == nil {
		return false, fmt.Errorf("rtkernel: %w: invalid queue handle", ErrInvalidArgument)
	}
	return !listEmpty(&q.recvWait), nil
}
