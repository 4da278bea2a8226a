package pool

import (
	"time"
)

// grant is the hand-off message to a queued acquirer. Exactly one field is
// meaningful: an existing slot, permission to dial (create), or a rejection.
type grant struct {
	sl     *slot
	create bool
	err    error
}

// waiter is one queued Acquire call. done flips under the pool mutex exactly
// once — either by a resolver sending a grant or by the acquirer abandoning
// the wait — which keeps hand-off and timeout mutually exclusive. ch is
// buffered so a resolver never blocks on a racing acquirer.
type waiter struct {
	sessionID  string
	priority   int
	seq        uint64
	enqueuedAt time.Time
	ch         chan grant
	done       bool
	index      int
}

// waiterQueue is a max-heap: highest priority first, FIFO within a priority.
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() interface{} {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
