package tracker

import (
	"time"

	"github.com/brojonat/symfeed/service/symbol"
)

// State is the lifecycle state of a transaction record. It only ever moves
// from StateUnconfirmed to StateConfirmed.
type State string

const (
	StateUnconfirmed State = "unconfirmed"
	StateConfirmed   State = "confirmed"
)

// Source tells which ingestion path created a record.
type Source string

const (
	SourceHistory Source = "history"
	SourceLive    Source = "live"
)

// Record is one transaction touching the tracked account.
type Record struct {
	Hash    string `json:"hash"`
	Signer  string `json:"signer"`
	Message string `json:"message"`
	// Amount is the native currency moved, in whole units; nil for
	// transactions that move no native currency.
	Amount    *float64         `json:"amount"`
	Direction symbol.Direction `json:"direction,omitempty"`
	State     State            `json:"state"`
	Height    uint64           `json:"height,omitempty"`
	// NetworkTimestamp is milliseconds since the network epoch; nil when the
	// settlement time could not be resolved.
	NetworkTimestamp *uint64    `json:"network_timestamp"`
	SettledAt        *time.Time `json:"settled_at"`
	Source           Source     `json:"source"`
	SeenAt           time.Time  `json:"seen_at"`
	ExplorerURL      string     `json:"explorer_url"`
}

// SignedAmount returns the amount negated for outgoing transfers.
func (r Record) SignedAmount() *float64 {
	if r.Amount == nil {
		return nil
	}
	v := *r.Amount
	if r.Direction == symbol.DirectionSend {
		v = -v
	}
	return &v
}

// Confirmed reports whether the record has settled.
func (r Record) Confirmed() bool {
	return r.State == StateConfirmed
}

func (r *Record) clone() Record {
	c := *r
	if r.Amount != nil {
		v := *r.Amount
		c.Amount = &v
	}
	if r.NetworkTimestamp != nil {
		v := *r.NetworkTimestamp
		c.NetworkTimestamp = &v
	}
	if r.SettledAt != nil {
		v := *r.SettledAt
		c.SettledAt = &v
	}
	return c
}

// EventKind classifies record set changes.
type EventKind string

const (
	// EventAdded is emitted when a new hash enters the record set.
	EventAdded EventKind = "added"
	// EventUpgraded is emitted when a pending record settles in place.
	EventUpgraded EventKind = "upgraded"
	// EventReset is emitted when the tracked account changes and the
	// record set starts over.
	EventReset EventKind = "reset"
	// EventResync replaces events a slow subscriber missed; it should
	// reload the record set.
	EventResync EventKind = "resync"
)

// Event is a change to the record set.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Address   string    `json:"address"`
	Network   string    `json:"network,omitempty"`
	Record    *Record   `json:"record,omitempty"`
	At        time.Time `json:"at"`
}

// Emitter receives record set changes. Emit must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev Event) { f(ev) }
