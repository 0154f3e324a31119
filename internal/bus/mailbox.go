// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import "sync"

// mailbox is an unbounded FIFO between a publisher and one reader.
type mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool

	wake chan struct{}
	done chan struct{}
	out  chan T
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
}

// push enqueues msg and returns the backlog after the push.
func (m *mailbox[T]) push(msg T) int {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	m.queue = append(m.queue, msg)
	depth := len(m.queue)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return depth
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *mailbox[T]) pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.queue) == 0 {
		return zero, false
	}
	msg := m.queue[0]
	m.queue[0] = zero
	m.queue = m.queue[1:]
	return msg, true
}

// pump forwards queued messages to out until the mailbox is closed.
func (m *mailbox[T]) pump() {
	defer close(m.out)
	for {
		msg, ok := m.pop()
		if !ok {
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		select {
		case m.out <- msg:
		case <-m.done:
			return
		}
	}
}
