package nats

import (
	"context"
	"sync"
)

// MockPublisher keeps published record events in memory. It satisfies
// Publisher for tests and for running the server without a NATS cluster.
type MockPublisher struct {
	mu       sync.Mutex
	events   []*RecordEvent
	err      error
	attempts int
	closed   bool
}

// NewMockPublisher creates an empty mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishRecord stores event unless a failure was configured with Fail.
func (m *MockPublisher) PublishRecord(ctx context.Context, event *RecordEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// Close implements Publisher.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Fail makes every later PublishRecord return err; nil clears it.
func (m *MockPublisher) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Events returns the stored events for address, in publish order.
// An empty address returns every event.
func (m *MockPublisher) Events(address string) []*RecordEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*RecordEvent
	for _, ev := range m.events {
		if address == "" || ev.Address == address {
			out = append(out, ev)
		}
	}
	return out
}

// Attempts counts PublishRecord calls, failed ones included.
func (m *MockPublisher) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Closed reports whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
