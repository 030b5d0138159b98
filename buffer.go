package bedrock

import (
	"sync"
	"sync/atomic"
)

type bufferNode[T any] struct {
	value T
	next  atomic.Pointer[bufferNode[T]]
}

// Buffer is an unbounded FIFO queue with separate locks for the pop end,
// the push end and the element count, so producers and the consumer only
// meet on the short count update. Pop never blocks.
//
// Lock order: push takes tail then count, pop takes head then count, Clear
// takes head, tail, count.
type Buffer[T any] struct {
	headMu sync.Mutex
	head   *bufferNode[T] // sentinel; head.next is the oldest element

	tailMu sync.Mutex
	tail   *bufferNode[T]

	countMu sync.Mutex
	count   int
}

// NewBuffer returns an empty buffer.
func NewBuffer[T any]() *Buffer[T] {
	n := &bufferNode[T]{}
	return &Buffer[T]{head: n, tail: n}
}

// Push appends v.
func (b *Buffer[T]) Push(v T) {
	n := &bufferNode[T]{value: v}
	b.tailMu.Lock()
	// Count before linking so Len never trails a visible element.
	b.countMu.Lock()
	b.count++
	b.countMu.Unlock()
	b.tail.next.Store(n)
	b.tail = n
	b.tailMu.Unlock()
}

// Pop removes and returns the oldest element. ok is false when empty.
func (b *Buffer[T]) Pop() (v T, ok bool) {
	b.headMu.Lock()
	defer b.headMu.Unlock()
	next := b.head.next.Load()
	if next == nil {
		return v, false
	}
	v = next.value
	var zero T
	next.value = zero
	b.head = next
	b.countMu.Lock()
	b.count--
	b.countMu.Unlock()
	return v, true
}

// Peek returns the oldest element without removing it.
func (b *Buffer[T]) Peek() (v T, ok bool) {
	b.headMu.Lock()
	defer b.headMu.Unlock()
	next := b.head.next.Load()
	if next == nil {
		return v, false
	}
	return next.value, true
}

// Clear drops every element. No concurrent Push or Pop can observe a
// partially cleared queue.
func (b *Buffer[T]) Clear() {
	b.headMu.Lock()
	b.tailMu.Lock()
	b.countMu.Lock()
	n := &bufferNode[T]{}
	b.head, b.tail = n, n
	b.count = 0
	b.countMu.Unlock()
	b.tailMu.Unlock()
	b.headMu.Unlock()
}

// Len returns the number of queued elements.
func (b *Buffer[T]) Len() int {
	b.countMu.Lock()
	defer b.countMu.Unlock()
	return b.count
}

// Empty reports whether Len is zero.
func (b *Buffer[T]) Empty() bool { return b.Len() == 0 }
