// Package session ties endpoint selection, the event connection, the tracker
// and the notification gate together for one tracked account.
//
// A Session is never reused: switching accounts tears the current one down
// and builds a fresh one, so no state leaks between accounts.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/symfeed/service/nodeselect"
	"github.com/brojonat/symfeed/service/notify"
	"github.com/brojonat/symfeed/service/stream"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
)

// NodeClient is the node REST API a session uses.
type NodeClient interface {
	tracker.NodeAPI
	NetworkProperties(ctx context.Context) (*symbol.NetworkProperties, error)
	Account(ctx context.Context, address string) (*symbol.Account, error)
	Announce(ctx context.Context, signedPayload string) error
	BaseURL() string
}

// Session is the state of tracking one account against one endpoint.
type Session struct {
	ID         string
	Address    string
	Network    symbol.Network
	Endpoint   nodeselect.Endpoint
	Properties *symbol.NetworkProperties
	StartedAt  time.Time

	nativeIDs []string
	client    NodeClient
	registry  *stream.Registry
	conn      *stream.Conn
	tracker   *tracker.Tracker
	gate      *notify.Gate
	alerter   notify.Alerter

	hooksMu         sync.Mutex
	hooksRegistered bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Tracker returns the session's record tracker.
func (s *Session) Tracker() *tracker.Tracker { return s.tracker }

// Conn returns the session's event connection.
func (s *Session) Conn() *stream.Conn { return s.conn }

// Registry returns the session's topic registry.
func (s *Session) Registry() *stream.Registry { return s.registry }

// Gate returns the session's notification gate.
func (s *Session) Gate() *notify.Gate { return s.gate }

// Client returns the node client of the session's endpoint.
func (s *Session) Client() NodeClient { return s.client }

// HooksRegistered reports whether notifications have been switched on.
func (s *Session) HooksRegistered() bool {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return s.hooksRegistered
}

// registerHooks switches on the tracker's notifications. It runs on every
// open but only the first call per session has an effect. Hooks run before
// any topic frame of the open is dispatched, so no live transition is missed.
func (s *Session) registerHooks(ctx context.Context) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	if s.hooksRegistered || s.alerter == nil {
		return
	}
	s.hooksRegistered = true
	s.tracker.EnableNotifications(s.alerter)
}

// Balance returns the account's native-currency balance.
func (s *Session) Balance(ctx context.Context) (symbol.Balance, error) {
	acct, err := s.client.Account(ctx, s.Address)
	if err != nil {
		return symbol.Balance{}, err
	}
	bal := symbol.NativeBalance(*acct, s.nativeIDs...)
	bal.Address = s.Address
	return bal, nil
}

// Status is a point-in-time summary of a session.
type Status struct {
	SessionID       string              `json:"session_id"`
	Address         string              `json:"address"`
	Network         string              `json:"network"`
	NetworkType     int                 `json:"network_type"`
	Endpoint        nodeselect.Endpoint `json:"endpoint"`
	Connection      string              `json:"connection"`
	Opens           int                 `json:"opens"`
	LastBlockHeight uint64              `json:"last_block_height,omitempty"`
	History         string              `json:"history"`
	HistoryError    string              `json:"history_error,omitempty"`
	Records         int                 `json:"records"`
	Topics          []string            `json:"topics"`
	PendingAlerts   int                 `json:"pending_alerts"`
	EpochAdjustment string              `json:"epoch_adjustment,omitempty"`
	CurrencyMosaic  string              `json:"currency_mosaic_id,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
}

// Status summarizes the session.
func (s *Session) Status(ctx context.Context) Status {
	st := Status{
		SessionID:       s.ID,
		Address:         s.Address,
		Network:         string(s.Network),
		NetworkType:     s.Network.Info().Type,
		Endpoint:        s.Endpoint,
		Connection:      s.conn.State().String(),
		Opens:           s.conn.Opens(),
		LastBlockHeight: s.tracker.Blocks().Latest(),
		PendingAlerts:   s.gate.Pending(),
		Topics:          s.registry.Topics(),
		StartedAt:       s.StartedAt,
	}

	history, herr := s.tracker.HistoryStatus()
	st.History = string(history)
	if herr != nil {
		st.HistoryError = herr.Error()
	}
	if recs, err := s.tracker.Records(ctx); err == nil {
		st.Records = len(recs)
	}
	if s.Properties != nil {
		st.EpochAdjustment = s.Properties.Network.EpochAdjustment
		st.CurrencyMosaic = s.Properties.CurrencyMosaicID()
	}
	return st
}

// stop cancels the session and waits for its goroutines. The connection ends
// Closed even when the session was stopped before it dialled.
func (s *Session) stop() {
	s.cancel()
	s.wg.Wait()
	s.conn.Close()
	s.registry.Close()
}
