package nats

import (
	"time"

	"github.com/brojonat/symfeed/service/tracker"
)

// RecordEvent is a record change published to NATS.
// It is published to the subject "records.{address}" in JetStream.
type RecordEvent struct {
	// Change information
	Kind      tracker.EventKind `json:"kind"`
	SessionID string            `json:"session_id"`
	Address   string            `json:"address"`
	Network   string            `json:"network"`

	// Transaction details
	Hash      string   `json:"hash"`
	State     string   `json:"state"`
	Signer    string   `json:"signer"`
	Message   string   `json:"message"`
	Amount    *float64 `json:"amount"`
	Direction string   `json:"direction,omitempty"`
	Height    uint64   `json:"height,omitempty"`
	Source    string   `json:"source"`

	// Timing information
	NetworkTimestamp *uint64    `json:"network_timestamp"`
	SettledAt        *time.Time `json:"settled_at"`
	SeenAt           time.Time  `json:"seen_at"`

	// Metadata
	ExplorerURL string    `json:"explorer_url"`
	PublishedAt time.Time `json:"published_at"`
}

// FromTrackerEvent converts a record set change for publishing. Changes that
// carry no record (resets) yield nil.
func FromTrackerEvent(ev tracker.Event) *RecordEvent {
	if ev.Record == nil {
		return nil
	}
	r := ev.Record
	return &RecordEvent{
		Kind:             ev.Kind,
		SessionID:        ev.SessionID,
		Address:          ev.Address,
		Network:          ev.Network,
		Hash:             r.Hash,
		State:            string(r.State),
		Signer:           r.Signer,
		Message:          r.Message,
		Amount:           r.Amount,
		Direction:        string(r.Direction),
		Height:           r.Height,
		Source:           string(r.Source),
		NetworkTimestamp: r.NetworkTimestamp,
		SettledAt:        r.SettledAt,
		SeenAt:           r.SeenAt,
		ExplorerURL:      r.ExplorerURL,
		PublishedAt:      time.Now().UTC(),
	}
}
