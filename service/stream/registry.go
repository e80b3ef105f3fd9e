package stream

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/symfeed/service/queue"
	"github.com/goccy/go-json"
)

// Topic names understood by the node's websocket endpoint.
const (
	BlockTopic = "block"

	unconfirmedAddedPrefix = "unconfirmedAdded/"
	confirmedAddedPrefix   = "confirmedAdded/"
)

// UnconfirmedAddedTopic is the topic announcing unconfirmed transactions for address.
func UnconfirmedAddedTopic(address string) string {
	return unconfirmedAddedPrefix + address
}

// ConfirmedAddedTopic is the topic announcing confirmed transactions for address.
func ConfirmedAddedTopic(address string) string {
	return confirmedAddedPrefix + address
}

// Message is one inbound frame routed to a topic.
type Message struct {
	Topic      string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Listener handles messages for one topic. Listeners of the same topic run one
// after another in registration order.
type Listener func(ctx context.Context, msg Message)

type listenerEntry struct {
	id int
	fn Listener
}

type topicWorker struct {
	listeners []listenerEntry
	box       *queue.Mailbox[Message]
}

// Registry maps topics to listeners. Each topic owns an unbounded mailbox
// drained by its own goroutine, so Dispatch never blocks and a slow listener
// only delays its own topic.
type Registry struct {
	mu     sync.Mutex
	topics map[string]*topicWorker
	nextID int
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		topics: make(map[string]*topicWorker),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Register appends listener to topic and returns a function that removes it.
func (r *Registry) Register(topic string, listener Listener) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return func() {}
	}

	w, ok := r.topics[topic]
	if !ok {
		w = &topicWorker{box: queue.New[Message]()}
		r.topics[topic] = w
		r.wg.Add(1)
		go r.work(topic, w)
	}

	r.nextID++
	id := r.nextID
	w.listeners = append(w.listeners, listenerEntry{id: id, fn: listener})

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(topic, id) })
	}
}

func (r *Registry) remove(topic string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.topics[topic]
	if !ok {
		return
	}
	kept := make([]listenerEntry, 0, len(w.listeners))
	for _, l := range w.listeners {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	w.listeners = kept
}

// Dispatch queues msg for its topic's listeners. It returns false when no
// listener is registered for the topic and the message was dropped.
func (r *Registry) Dispatch(msg Message) bool {
	r.mu.Lock()
	w, ok := r.topics[msg.Topic]
	if !ok || len(w.listeners) == 0 || r.closed {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	return w.box.Put(msg)
}

// Topics returns the topics that currently have listeners, sorted.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.topics))
	for t, w := range r.topics {
		if len(w.listeners) > 0 {
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	return topics
}

// Listeners returns the number of listeners registered for topic.
func (r *Registry) Listeners(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.topics[topic]; ok {
		return len(w.listeners)
	}
	return 0
}

// Close stops all topic workers after they finish the messages already queued.
// Listener contexts are cancelled first.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, w := range r.topics {
		w.box.Close()
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Registry) work(topic string, w *topicWorker) {
	defer r.wg.Done()

	for {
		msg, ok := w.box.Take()
		if !ok {
			r.logger.Debug("topic worker stopped", "topic", topic)
			return
		}

		r.mu.Lock()
		listeners := make([]listenerEntry, len(w.listeners))
		copy(listeners, w.listeners)
		r.mu.Unlock()

		for _, l := range listeners {
			l.fn(r.ctx, msg)
		}
	}
}
