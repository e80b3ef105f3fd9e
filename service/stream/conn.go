// Package stream maintains the websocket subscription to a Symbol node and
// routes its frames to per-topic listeners.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/goccy/go-json"
)

// DefaultReconnectDelay is the fixed wait between a close and the next dial.
const DefaultReconnectDelay = 1200 * time.Millisecond

// ErrNotOpen is returned by Send when the handshake has not completed.
var ErrNotOpen = errors.New("connection not open")

// Config describes what a Conn connects to.
type Config struct {
	// Endpoint is the node origin, e.g. https://node:3001.
	Endpoint string
	// Address is the account whose topics are subscribed on every open.
	Address string
	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration
}

// frame is the union of the handshake frame and topic frames.
type frame struct {
	UID   string          `json:"uid,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type subscribeFrame struct {
	UID       string `json:"uid"`
	Subscribe string `json:"subscribe"`
}

// Conn is a self-healing websocket subscription. Run drives it through
// Disconnected, Connecting, Open and Closed, redialling after every close.
type Conn struct {
	cfg      Config
	url      string
	dialer   Dialer
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	uid      string
	sock     Socket
	onOpen   []func(ctx context.Context)
	onChange []func(State)
	opens    int
}

// NewConn creates a connection in the Disconnected state.
// If metrics is nil, no metrics will be recorded.
func NewConn(cfg Config, dialer Dialer, registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Conn {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if dialer == nil {
		dialer = NewGorillaDialer()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Conn{
		cfg:      cfg,
		url:      WebSocketURL(cfg.Endpoint),
		dialer:   dialer,
		registry: registry,
		metrics:  m,
		logger:   logger.With("endpoint", cfg.Endpoint),
		state:    StateDisconnected,
	}
}

// WebSocketURL derives the websocket URL from a node origin.
func WebSocketURL(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint + "/ws"
}

// OnOpen registers fn to run after every handshake, once the account topics
// have been subscribed. Hooks run on the read goroutine before any topic frame
// is dispatched. Register hooks before calling Run.
func (c *Conn) OnOpen(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = append(c.onOpen, fn)
}

// OnStateChange registers fn to observe every state transition.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UID returns the session identifier issued at the last handshake.
func (c *Conn) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// Opens returns how many handshakes have completed.
func (c *Conn) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Subscribe asks the node for topic. Before the handshake completes the call
// is silently dropped; it is not replayed later. Write failures are logged and
// do not close the connection.
func (c *Conn) Subscribe(topic string) {
	c.mu.Lock()
	if c.state != StateOpen || c.sock == nil {
		c.mu.Unlock()
		c.logger.Debug("subscribe dropped, connection not open", "topic", topic)
		c.metrics.RecordSubscribe("dropped")
		return
	}
	sock, uid := c.sock, c.uid
	c.mu.Unlock()

	payload, err := json.Marshal(subscribeFrame{UID: uid, Subscribe: topic})
	if err != nil {
		c.logger.Error("failed to encode subscribe frame", "topic", topic, "error", err)
		return
	}
	if err := sock.WriteMessage(payload); err != nil {
		c.logger.Warn("failed to send subscribe frame", "topic", topic, "error", err)
		c.metrics.RecordSubscribe("error")
		return
	}
	c.metrics.RecordSubscribe("sent")
}

// Run dials the node and keeps the subscription alive until ctx is done. Every
// close, whichever side caused it, is followed by a fixed delay and a fresh
// dial to the same endpoint. Run returns ctx.Err() and leaves the connection
// Closed.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "starting event connection", "url", c.url, "address", c.cfg.Address)

	for {
		if err := ctx.Err(); err != nil {
			c.transition(StateClosed)
			return err
		}

		sock, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				c.transition(StateClosed)
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "failed to dial node websocket", "error", err)
		} else {
			c.mu.Lock()
			c.sock = sock
			c.uid = ""
			c.mu.Unlock()
			c.transition(StateConnecting)

			err = c.serve(ctx, sock)

			c.mu.Lock()
			c.sock = nil
			c.mu.Unlock()
			sock.Close()
			c.transition(StateClosed)

			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "event connection closed, reconnecting",
				"error", err,
				"delay", c.cfg.ReconnectDelay,
			)
		}

		c.metrics.RecordReconnect()
		select {
		case <-ctx.Done():
			c.transition(StateClosed)
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// Close marks a connection whose Run has returned, or never started, as
// Closed. It does not interrupt a running Run; cancel its context instead.
func (c *Conn) Close() {
	if c.State() == StateDisconnected {
		c.transition(StateClosed)
	}
}

// serve reads frames until the socket fails or ctx is done.
func (c *Conn) serve(ctx context.Context, sock Socket) error {
	stop := context.AfterFunc(ctx, func() { sock.Close() })
	defer stop()

	for {
		data, err := sock.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Conn) handleFrame(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.DebugContext(ctx, "dropping undecodable frame", "error", err)
		c.metrics.RecordFrame("invalid")
		return
	}

	if f.UID != "" {
		c.handshake(ctx, f.UID)
		c.metrics.RecordFrame("handshake")
		return
	}

	if f.Topic == "" {
		c.metrics.RecordFrame("invalid")
		return
	}
	if c.State() != StateOpen {
		c.metrics.RecordFrame("early")
		return
	}

	msg := Message{Topic: f.Topic, Data: f.Data, ReceivedAt: time.Now()}
	if c.registry == nil || !c.registry.Dispatch(msg) {
		c.metrics.RecordFrame("unrouted")
		return
	}
	c.metrics.RecordFrame("dispatched")
}

func (c *Conn) handshake(ctx context.Context, uid string) {
	c.mu.Lock()
	if c.state != StateConnecting {
		state := c.state
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "ignoring handshake frame", "uid", uid, "state", state.String())
		return
	}
	c.uid = uid
	c.opens++
	c.mu.Unlock()

	if !c.transition(StateOpen) {
		return
	}
	c.logger.InfoContext(ctx, "event connection open", "uid", uid)

	c.Subscribe(BlockTopic)
	if c.cfg.Address != "" {
		c.Subscribe(UnconfirmedAddedTopic(c.cfg.Address))
		c.Subscribe(ConfirmedAddedTopic(c.cfg.Address))
	}

	c.mu.Lock()
	hooks := make([]func(context.Context), len(c.onOpen))
	copy(hooks, c.onOpen)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}

// transition moves to next if the transition table allows it.
func (c *Conn) transition(next State) bool {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return false
	}
	if !prev.CanTransition(next) {
		c.mu.Unlock()
		c.logger.Warn("ignoring invalid state transition", "from", prev.String(), "to", next.String())
		return false
	}
	c.state = next
	observers := make([]func(State), len(c.onChange))
	copy(observers, c.onChange)
	c.mu.Unlock()

	c.logger.Debug("event connection state changed", "from", prev.String(), "to", next.String())
	c.metrics.RecordStateTransition(next.String())
	for _, fn := range observers {
		fn(next)
	}
	return true
}
