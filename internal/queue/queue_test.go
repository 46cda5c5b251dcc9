package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue(t *testing.T) {
	var q Queue[int]
	assert.True(t, q.Empty())

	assert.True(t, q.Push(1))
	assert.False(t, q.Empty())
	assert.Equal(t, 1, q.Pop())
	assert.True(t, q.Empty())

	q.Push(2)
	q.Push(3)

	assert.Equal(t, 2, q.Pop())
	assert.Equal(t, 3, q.Pop())
	assert.True(t, q.Empty())

	assert.Panics(t, func() { q.Pop() })
}

func TestQueueDedupe(t *testing.T) {
	var q Queue[int]
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(1))
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, 1, q.Pop())
	// Popped elements may be queued again.
	assert.True(t, q.Push(1))
	assert.Equal(t, 2, q.Pop())
	assert.Equal(t, 1, q.Pop())
	assert.True(t, q.Empty())
}

func TestQueueCompaction(t *testing.T) {
	var q Queue[int]
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	for i := 0; i < 60; i++ {
		assert.Equal(t, i, q.Pop())
	}
	for i := 100; i < 120; i++ {
		q.Push(i)
	}
	assert.Equal(t, 60, q.Len())
	for i := 60; i < 120; i++ {
		assert.Equal(t, i, q.Pop())
	}
	assert.True(t, q.Empty())
}
