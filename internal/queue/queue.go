package queue

import "errors"

// Queue is a FIFO worklist. An element is held at most once: pushing an
// element that is already queued has no effect.
type Queue[E comparable] struct {
	elements []E
	head     int
	queued   map[E]struct{}
}

// Push enqueues e and reports whether it was not already queued.
func (q *Queue[E]) Push(e E) bool {
	if q.queued == nil {
		q.queued = make(map[E]struct{})
	}
	if _, ok := q.queued[e]; ok {
		return false
	}
	q.queued[e] = struct{}{}
	q.elements = append(q.elements, e)
	return true
}

func (q *Queue[E]) Empty() bool {
	return q.head == len(q.elements)
}

func (q *Queue[E]) Len() int {
	return len(q.elements) - q.head
}

var ErrEmpty = errors.New("Queue is empty")

func (q *Queue[E]) Pop() E {
	if q.Empty() {
		panic(ErrEmpty)
	}

	e := q.elements[q.head]
	q.head++
	delete(q.queued, e)

	// Reclaim the consumed prefix once it dominates the buffer.
	if q.head > 32 && q.head*2 > len(q.elements) {
		n := copy(q.elements, q.elements[q.head:])
		q.elements = q.elements[:n]
		q.head = 0
	}
	return e
}
