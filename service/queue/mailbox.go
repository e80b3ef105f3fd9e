// Package queue provides an unbounded FIFO used wherever a producer must never
// block on a slow consumer.
package queue

import "sync"

// Mailbox is an unbounded, goroutine-safe FIFO. Any number of producers may Put;
// items are handed out by Take in insertion order.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// New creates an empty mailbox.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put appends an item. It never blocks and returns false once the mailbox is closed.
func (m *Mailbox[T]) Put(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.items = append(m.items, item)
	m.cond.Signal()
	return true
}

// Take removes the oldest item, blocking until one is available. After Close it
// keeps returning queued items and then reports false.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.items) == 0 {
		var zero T
		return zero, false
	}

	item := m.items[0]
	var zero T
	m.items[0] = zero // release for GC
	m.items = m.items[1:]
	if len(m.items) == 0 {
		m.items = nil
	}
	return item, true
}

// Close stops accepting items and wakes all waiting consumers.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
