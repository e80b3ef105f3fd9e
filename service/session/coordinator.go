package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/nodeselect"
	"github.com/brojonat/symfeed/service/notify"
	"github.com/brojonat/symfeed/service/stream"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/google/uuid"
)

// ErrNoSession is returned when no account is being tracked.
var ErrNoSession = errors.New("no active session")

// Selector picks node endpoints.
type Selector interface {
	Select(ctx context.Context, network symbol.Network, exclude ...string) nodeselect.Endpoint
}

// ClientFactory builds a node client for an endpoint origin.
type ClientFactory func(endpoint string) NodeClient

// Config holds the per-session tunables.
type Config struct {
	// Network is reported while no account is tracked; sessions use the
	// network encoded in their address.
	Network        symbol.Network
	HistoryLimit   int
	ReconnectDelay time.Duration
	NotifyGap      time.Duration
	// NotifyTimeout bounds each alert action; zero keeps notify.DefaultActionTimeout.
	NotifyTimeout time.Duration
	// StartupTimeout bounds the network properties and history requests.
	// Zero means no bound beyond the HTTP client's own timeout.
	StartupTimeout time.Duration
}

// Coordinator owns the active session and replaces it on account switches.
type Coordinator struct {
	cfg         Config
	selector    Selector
	newClient   ClientFactory
	dialer      stream.Dialer
	alerter     notify.Alerter
	broadcaster *tracker.Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// switchMu serializes account switches; mu guards the fields below.
	switchMu sync.Mutex
	mu       sync.Mutex
	root     context.Context
	current  *Session
}

// NewCoordinator creates a coordinator. alerter may be nil to disable
// notifications and broadcaster may be nil when nobody consumes events.
// If metrics is nil, no metrics will be recorded.
func NewCoordinator(
	cfg Config,
	selector Selector,
	newClient ClientFactory,
	dialer stream.Dialer,
	alerter notify.Alerter,
	broadcaster *tracker.Broadcaster,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Network == "" {
		cfg.Network = symbol.Mainnet
	}
	if broadcaster == nil {
		broadcaster = tracker.NewBroadcaster(0, logger)
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Coordinator{
		cfg:         cfg,
		selector:    selector,
		newClient:   newClient,
		dialer:      dialer,
		alerter:     alerter,
		broadcaster: broadcaster,
		metrics:     m,
		logger:      logger,
	}
}

// Start begins tracking address. ctx bounds the lifetime of this and every
// later session; cancelling it stops tracking.
func (c *Coordinator) Start(ctx context.Context, address string) (*Session, error) {
	c.Bind(ctx)
	return c.SwitchAccount(address)
}

// Bind sets the context bounding every session without tracking anything
// yet; an account is chosen later with SwitchAccount.
func (c *Coordinator) Bind(ctx context.Context) {
	c.mu.Lock()
	c.root = ctx
	c.mu.Unlock()
}

// SwitchAccount stops the current session, if any, and starts a fresh one for
// address. Subscribers receive a reset event before any record of the new
// session.
func (c *Coordinator) SwitchAccount(address string) (*Session, error) {
	addr, network, err := symbol.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	root, prev := c.root, c.current
	c.current = nil
	c.mu.Unlock()

	if root == nil {
		return nil, errors.New("coordinator not started")
	}
	if prev != nil {
		c.logger.Info("stopping session", "session_id", prev.ID, "address", prev.Address)
		prev.stop()
	}
	if err := root.Err(); err != nil {
		return nil, err
	}

	s := c.build(root, addr, network)

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	c.broadcaster.Emit(tracker.Event{
		Kind:      tracker.EventReset,
		SessionID: s.ID,
		Address:   s.Address,
		Network:   string(s.Network),
		At:        time.Now().UTC(),
	})

	c.run(root, s)
	return s, nil
}

// build selects an endpoint, reads the network properties and assembles the
// session components without starting them.
func (c *Coordinator) build(root context.Context, address string, network symbol.Network) *Session {
	startCtx := root
	if c.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(root, c.cfg.StartupTimeout)
		defer cancel()
	}

	endpoint := c.selector.Select(startCtx, network)
	client := c.newClient(endpoint.URL)

	props, err := client.NetworkProperties(startCtx)
	if err != nil {
		c.logger.Warn("network properties unavailable, selecting another node",
			"node", endpoint.URL,
			"error", err,
		)
		retry := c.selector.Select(startCtx, network, endpoint.URL)
		retryClient := c.newClient(retry.URL)
		props, err = retryClient.NetworkProperties(startCtx)
		if err != nil {
			c.logger.Warn("network properties unavailable, continuing with defaults",
				"node", retry.URL,
				"error", err,
			)
			props = nil
		}
		endpoint, client = retry, retryClient
	}

	var (
		epoch     time.Time
		nativeIDs []string
	)
	if props != nil {
		if e, err := props.Epoch(); err == nil {
			epoch = e
		} else {
			c.logger.Warn("invalid network epoch", "error", err)
		}
		if id := props.CurrencyMosaicID(); id != "" {
			nativeIDs = append(nativeIDs, id)
		}
	}
	nativeIDs = append(nativeIDs, network.Info().NativeMosaicID, symbol.NamespaceAliasXYM)

	id := uuid.NewString()
	logger := c.logger.With("session_id", id, "address", address)

	registry := stream.NewRegistry(logger)
	gate := notify.NewGate(c.cfg.NotifyGap, c.metrics, logger)
	if c.cfg.NotifyTimeout > 0 {
		gate.SetActionTimeout(c.cfg.NotifyTimeout)
	}
	tr := tracker.New(tracker.Config{
		SessionID:       id,
		Address:         address,
		Network:         network,
		NativeMosaicIDs: nativeIDs,
		Epoch:           epoch,
		HistoryLimit:    c.cfg.HistoryLimit,
	}, client, gate, c.broadcaster, c.metrics, logger)
	conn := stream.NewConn(stream.Config{
		Endpoint:       endpoint.URL,
		Address:        address,
		ReconnectDelay: c.cfg.ReconnectDelay,
	}, c.dialer, registry, c.metrics, logger)

	logger.Info("session created",
		"network", network,
		"node", endpoint.URL,
		"node_source", endpoint.Source,
	)

	return &Session{
		ID:         id,
		Address:    address,
		Network:    network,
		Endpoint:   endpoint,
		Properties: props,
		StartedAt:  time.Now().UTC(),
		nativeIDs:  nativeIDs,
		client:     client,
		registry:   registry,
		conn:       conn,
		tracker:    tr,
		gate:       gate,
		alerter:    c.alerter,
	}
}

// run starts the session goroutines: gate and tracker loops first, then the
// historical load, then the listeners and finally the connection.
func (c *Coordinator) run(root context.Context, s *Session) {
	ctx, cancel := context.WithCancel(root)
	s.cancel = cancel

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.gate.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.tracker.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()

		historyCtx := ctx
		if c.cfg.StartupTimeout > 0 {
			var cancel context.CancelFunc
			historyCtx, cancel = context.WithTimeout(ctx, c.cfg.StartupTimeout)
			defer cancel()
		}
		s.tracker.LoadHistory(historyCtx)
		if ctx.Err() != nil {
			return
		}

		s.registry.Register(stream.BlockTopic, s.tracker.HandleBlock)
		s.registry.Register(stream.UnconfirmedAddedTopic(s.Address), s.tracker.HandleUnconfirmed)
		s.registry.Register(stream.ConfirmedAddedTopic(s.Address), s.tracker.HandleConfirmed)
		s.conn.OnOpen(s.registerHooks)

		s.conn.Run(ctx)
	}()
}

// Stop ends the current session and waits for it.
func (c *Coordinator) Stop() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s != nil {
		s.stop()
	}
}

// Current returns the active session or nil.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) session() (*Session, error) {
	s := c.Current()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Broadcaster returns the event fan-out shared by all sessions.
func (c *Coordinator) Broadcaster() *tracker.Broadcaster {
	return c.broadcaster
}

// Subscribe returns future record events across account switches.
func (c *Coordinator) Subscribe() (<-chan tracker.Event, func()) {
	return c.broadcaster.Subscribe()
}

// Records returns the active session's records, most recent first.
func (c *Coordinator) Records(ctx context.Context) ([]tracker.Record, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return s.tracker.Records(ctx)
}

// Record returns one record of the active session.
func (c *Coordinator) Record(ctx context.Context, hash string) (tracker.Record, bool, error) {
	s, err := c.session()
	if err != nil {
		return tracker.Record{}, false, err
	}
	return s.tracker.Record(ctx, hash)
}

// Status summarizes the active session.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	s, err := c.session()
	if err != nil {
		return Status{}, err
	}
	return s.Status(ctx), nil
}

// Balance returns the tracked account's native balance.
func (c *Coordinator) Balance(ctx context.Context) (symbol.Balance, error) {
	s, err := c.session()
	if err != nil {
		return symbol.Balance{}, err
	}
	return s.Balance(ctx)
}

// Announce sends a signed payload through the active session's endpoint.
func (c *Coordinator) Announce(ctx context.Context, signedPayload string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if err := s.client.Announce(ctx, signedPayload); err != nil {
		return fmt.Errorf("announce via %s: %w", s.client.BaseURL(), err)
	}
	return nil
}

// Network returns the network of the active session, or the configured
// default when nothing is tracked.
func (c *Coordinator) Network() symbol.Network {
	if s := c.Current(); s != nil {
		return s.Network
	}
	return c.cfg.Network
}

// GenerationHashSeed returns the generation hash seed reported by the active
// session's node, or "" when it is unknown.
func (c *Coordinator) GenerationHashSeed() string {
	s := c.Current()
	if s == nil || s.Properties == nil {
		return ""
	}
	return s.Properties.Network.GenerationHashSeed
}
