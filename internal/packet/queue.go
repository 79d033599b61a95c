package packet

import (
	"errors"
	"sync"
)

// nodeOverhead is the fixed bookkeeping cost charged to the byte accounting
// per resident packet, so the memory limit tracks real usage rather than
// payload bytes alone.
const nodeOverhead = 64

// ErrQueueAborted is returned by Enqueue once Abort has been called. The
// producer treats it as a dropped frame; capture continues.
var ErrQueueAborted = errors.New("packet queue aborted")

type node struct {
	pkt  *MediaPacket
	next *node
}

// Queue is a thread-safe FIFO of media packets shared between the capture
// callbacks and the writer loop. Producers never block: Enqueue either
// appends immediately or fails. The single consumer blocks in Dequeue until
// a packet is available or the queue has been aborted and drained.
//
// Insertion order equals delivery order across all producers; ties between
// concurrent callbacks are broken by lock acquisition order.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	head    *node
	tail    *node
	count   int
	size    uint64
	aborted bool
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends pkt at the tail and wakes one blocked consumer. It never
// blocks on a full queue; backpressure is advisory and enforced by the
// writer loop, not here. Returns ErrQueueAborted after Abort.
func (q *Queue) Enqueue(pkt *MediaPacket) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.aborted {
		return ErrQueueAborted
	}

	n := &node{pkt: pkt}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.count++
	q.size += uint64(pkt.Size()) + nodeOverhead

	q.cond.Signal()
	return nil
}

// Dequeue removes and returns the packet at the head. With block=false an
// empty queue returns (nil, false) immediately. With block=true the caller
// is suspended until a packet arrives or the queue is aborted and empty,
// which signals end of stream. Pending packets remain drainable after Abort.
func (q *Queue) Dequeue(block bool) (*MediaPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.head != nil {
			n := q.head
			q.head = n.next
			if q.head == nil {
				q.tail = nil
			}
			q.count--
			q.size -= uint64(n.pkt.Size()) + nodeOverhead
			return n.pkt, true
		}
		if q.aborted || !block {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Size returns a snapshot of the accounted bytes of all resident packets.
func (q *Queue) Size() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Len returns a snapshot of the number of resident packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Abort disallows further enqueues and wakes every blocked waiter.
// Idempotent. Already-resident packets are not discarded; they are still
// delivered through Dequeue until the queue is empty.
func (q *Queue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.aborted {
		return
	}
	q.aborted = true
	q.cond.Broadcast()
}

// Flush discards all resident packets and resets the accounting. The abort
// flag is left as is. Used during teardown after a fatal sink error.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.head = nil
	q.tail = nil
	q.count = 0
	q.size = 0
}
