package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "NATNE7Q5BITMUTRRN6IB4I7FLSDRDWZA37JGO5Q"

// fakeSocket is an in-memory Socket fed by the test.
type fakeSocket struct {
	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   []subscribeFrame
	writeErr error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		reads:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.reads:
		return data, nil
	case <-s.closed:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	var f subscribeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.writes = append(s.writes, f)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) send(v string) { s.reads <- []byte(v) }

func (s *fakeSocket) subscriptions() []subscribeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscribeFrame, len(s.writes))
	copy(out, s.writes)
	return out
}

// fakeDialer hands out queued sockets, failing first when told to.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	fails   int
	dials   int
	urls    []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	if d.fails > 0 {
		d.fails--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	if len(d.sockets) > 0 {
		s := d.sockets[0]
		d.sockets = d.sockets[1:]
		d.mu.Unlock()
		return s, nil
	}
	d.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func startConn(t *testing.T, conn *Conn) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "wss://node:3001/ws", WebSocketURL("https://node:3001"))
	assert.Equal(t, "ws://node:3000/ws", WebSocketURL("http://node:3000/"))
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, StateDisconnected.CanTransition(StateConnecting))
	assert.True(t, StateConnecting.CanTransition(StateOpen))
	assert.True(t, StateOpen.CanTransition(StateClosed))
	assert.True(t, StateClosed.CanTransition(StateConnecting))

	assert.False(t, StateDisconnected.CanTransition(StateOpen))
	assert.False(t, StateOpen.CanTransition(StateConnecting))
	assert.False(t, StateClosed.CanTransition(StateOpen))
	assert.Equal(t, "open", StateOpen.String())
}

func TestConn_HandshakeSubscribesAndDispatches(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	registry := NewRegistry(nil)
	defer registry.Close()

	conn := NewConn(Config{Endpoint: "https://node:3001", Address: testAddress}, dialer, registry, nil, nil)

	received := make(chan Message, 4)
	conn.OnOpen(func(ctx context.Context) {
		registry.Register(ConfirmedAddedTopic(testAddress), func(ctx context.Context, msg Message) {
			received <- msg
		})
	})

	assert.Equal(t, StateDisconnected, conn.State())
	cancel := startConn(t, conn)

	require.Eventually(t, func() bool { return conn.State() == StateConnecting }, time.Second, 5*time.Millisecond)

	// Subscribing before the handshake is dropped.
	conn.Subscribe("early")
	assert.Empty(t, sock.subscriptions())

	sock.send(`{"uid":"abc123"}`)
	require.Eventually(t, func() bool { return conn.State() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "abc123", conn.UID())

	require.Eventually(t, func() bool { return len(sock.subscriptions()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []subscribeFrame{
		{UID: "abc123", Subscribe: "block"},
		{UID: "abc123", Subscribe: "unconfirmedAdded/" + testAddress},
		{UID: "abc123", Subscribe: "confirmedAdded/" + testAddress},
	}, sock.subscriptions())

	sock.send(`{"topic":"confirmedAdded/` + testAddress + `","data":{"meta":{"hash":"H1"}}}`)
	sock.send(`{"topic":"somethingElse","data":{}}`)
	sock.send(`not json`)

	select {
	case msg := <-received:
		assert.Equal(t, ConfirmedAddedTopic(testAddress), msg.Topic)
		assert.JSONEq(t, `{"meta":{"hash":"H1"}}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("topic frame not dispatched")
	}

	assert.ErrorIs(t, cancel(), context.Canceled)
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, []string{"wss://node:3001/ws"}, dialer.urls)
}

func TestConn_ReconnectsAfterClose(t *testing.T) {
	first, second := newFakeSocket(), newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{first, second}}

	conn := NewConn(Config{
		Endpoint:       "https://node:3001",
		Address:        testAddress,
		ReconnectDelay: 20 * time.Millisecond,
	}, dialer, NewRegistry(nil), nil, nil)

	rec := &stateRecorder{}
	conn.OnStateChange(rec.record)

	var mu sync.Mutex
	opens := 0
	conn.OnOpen(func(ctx context.Context) {
		mu.Lock()
		opens++
		mu.Unlock()
	})

	cancel := startConn(t, conn)

	first.send(`{"uid":"one"}`)
	require.Eventually(t, func() bool { return conn.State() == StateOpen }, time.Second, 5*time.Millisecond)

	// Server-side close.
	first.Close()

	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, time.Second, 5*time.Millisecond)
	second.send(`{"uid":"two"}`)
	require.Eventually(t, func() bool { return conn.UID() == "two" && conn.State() == StateOpen }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(second.subscriptions()) == 3 }, time.Second, 5*time.Millisecond)
	for _, f := range second.subscriptions() {
		assert.Equal(t, "two", f.UID)
	}

	cancel()

	assert.Equal(t, []State{
		StateConnecting, StateOpen, StateClosed,
		StateConnecting, StateOpen, StateClosed,
	}, rec.snapshot())

	mu.Lock()
	assert.Equal(t, 2, opens)
	mu.Unlock()
	assert.Equal(t, 2, conn.Opens())
}

func TestConn_FixedDelayBetweenAttempts(t *testing.T) {
	dialer := &fakeDialer{fails: 3}
	delay := 30 * time.Millisecond
	conn := NewConn(Config{Endpoint: "https://node:3001", ReconnectDelay: delay}, dialer, nil, nil, nil)

	start := time.Now()
	cancel := startConn(t, conn)

	require.Eventually(t, func() bool { return dialer.dialCount() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 3*delay)

	cancel()
	assert.Equal(t, StateClosed, conn.State())
}

func TestConn_WriteErrorDoesNotClose(t *testing.T) {
	sock := newFakeSocket()
	sock.writeErr = errors.New("broken pipe")
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	conn := NewConn(Config{Endpoint: "https://node:3001", Address: testAddress}, dialer, nil, nil, nil)

	cancel := startConn(t, conn)
	defer cancel()

	sock.send(`{"uid":"abc"}`)
	require.Eventually(t, func() bool { return conn.State() == StateOpen }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestConn_CancelBeforeDial(t *testing.T) {
	conn := NewConn(Config{Endpoint: "https://node:3001"}, &fakeDialer{}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, conn.Run(ctx), context.Canceled)
	assert.Equal(t, StateClosed, conn.State())
}

func TestConn_CloseBeforeRun(t *testing.T) {
	conn := NewConn(Config{Endpoint: "https://node:3001"}, &fakeDialer{}, nil, nil, nil)
	rec := &stateRecorder{}
	conn.OnStateChange(rec.record)

	conn.Close()
	conn.Close()
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, []State{StateClosed}, rec.snapshot())
}

func TestConn_SecondHandshakeIgnoredWhileOpen(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{sockets: []*fakeSocket{sock}}
	registry := NewRegistry(nil)
	defer registry.Close()

	received := make(chan Message, 1)
	registry.Register(BlockTopic, func(ctx context.Context, msg Message) { received <- msg })

	conn := NewConn(Config{Endpoint: "https://node:3001", Address: testAddress}, dialer, registry, nil, nil)
	opens := 0
	conn.OnOpen(func(ctx context.Context) { opens++ })

	cancel := startConn(t, conn)
	defer cancel()

	sock.send(`{"uid":"one"}`)
	require.Eventually(t, func() bool { return len(sock.subscriptions()) == 3 }, time.Second, 5*time.Millisecond)

	// Frames are handled in order, so the block frame proves the uid frame was seen.
	sock.send(`{"uid":"two"}`)
	sock.send(`{"topic":"block","data":{}}`)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("block frame not dispatched")
	}

	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, "one", conn.UID())
	assert.Equal(t, 1, conn.Opens())
	assert.Equal(t, 1, opens)
	assert.Len(t, sock.subscriptions(), 3)
}

func TestConn_GorillaServer(t *testing.T) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	subscribed := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"uid":"srv-uid"}`)); err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var f subscribeFrame
			if json.Unmarshal(data, &f) == nil {
				subscribed <- f.Subscribe
			}
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"topic":"block","data":{"block":{"height":"100","timestamp":"5000"}}}`))

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	registry := NewRegistry(nil)
	defer registry.Close()
	blocks := make(chan Message, 1)
	registry.Register(BlockTopic, func(ctx context.Context, msg Message) {
		blocks <- msg
	})

	conn := NewConn(Config{Endpoint: server.URL, Address: testAddress}, NewGorillaDialer(), registry, nil, nil)
	cancel := startConn(t, conn)
	defer cancel()

	var topics []string
	for i := 0; i < 3; i++ {
		select {
		case topic := <-subscribed:
			topics = append(topics, topic)
		case <-time.After(2 * time.Second):
			t.Fatal("subscription not received by server")
		}
	}
	assert.Equal(t, "block", topics[0])
	assert.True(t, strings.HasSuffix(topics[2], testAddress))

	select {
	case msg := <-blocks:
		assert.Contains(t, string(msg.Data), `"height":"100"`)
	case <-time.After(2 * time.Second):
		t.Fatal("block frame not dispatched")
	}
}
