package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a record is not archived.
var ErrNotFound = errors.New("record not found")

// Store archives transaction records. The tracker never reads from it; it
// only serves the CLI and offline inspection.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Record is an archived transaction record.
type Record struct {
	Hash             string
	Address          string
	Network          string
	State            string
	Signer           string
	Message          string
	Amount           *float64
	Direction        string
	Height           int64
	NetworkTimestamp *int64
	SettledAt        *time.Time
	Source           string
	SeenAt           time.Time
	UpdatedAt        time.Time
}

// UpsertRecordParams contains the parameters for archiving a record.
type UpsertRecordParams struct {
	Hash             string
	Address          string
	Network          string
	State            string
	Signer           string
	Message          string
	Amount           *float64
	Direction        string
	Height           int64
	NetworkTimestamp *int64
	SettledAt        *time.Time
	Source           string
	SeenAt           time.Time
}

const recordColumns = `hash, address, network, state, signer, message, amount, direction,
	height, network_timestamp, settled_at, source, seen_at, updated_at`

// UpsertRecord inserts a record or upgrades an archived one. A confirmed row is
// never overwritten, so the archive only moves forward like the live set.
func (s *Store) UpsertRecord(ctx context.Context, p UpsertRecordParams) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO records (hash, address, network, state, signer, message, amount, direction,
			height, network_timestamp, settled_at, source, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hash, address) DO UPDATE SET
			state = EXCLUDED.state,
			amount = COALESCE(EXCLUDED.amount, records.amount),
			direction = EXCLUDED.direction,
			height = EXCLUDED.height,
			network_timestamp = EXCLUDED.network_timestamp,
			settled_at = EXCLUDED.settled_at,
			updated_at = NOW()
		WHERE records.state <> 'confirmed'`,
		p.Hash, p.Address, p.Network, p.State, p.Signer, p.Message, p.Amount, p.Direction,
		p.Height, p.NetworkTimestamp, p.SettledAt, p.Source, p.SeenAt,
	)
	s.metrics.RecordDBQuery("upsert_record", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", p.Hash, err)
	}
	return nil
}

// GetRecord retrieves an archived record.
func (s *Store) GetRecord(ctx context.Context, address, hash string) (*Record, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE address = $1 AND hash = $2`, address, hash)
	r, err := scanRecord(row)
	s.metrics.RecordDBQuery("get_record", time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", hash, err)
	}
	return r, nil
}

// ListRecords returns the newest archived records for address.
func (s *Store) ListRecords(ctx context.Context, address string, limit int32) ([]*Record, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM records
		WHERE address = $1 ORDER BY seen_at DESC LIMIT $2`, address, limit)
	if err != nil {
		s.metrics.RecordDBQuery("list_records", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			s.metrics.RecordDBQuery("list_records", time.Since(start).Seconds(), err)
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list_records", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.Hash, &r.Address, &r.Network, &r.State, &r.Signer, &r.Message, &r.Amount, &r.Direction,
		&r.Height, &r.NetworkTimestamp, &r.SettledAt, &r.Source, &r.SeenAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ParamsFromEvent converts a record change into archive parameters; ok is
// false for changes without a record.
func ParamsFromEvent(ev tracker.Event) (UpsertRecordParams, bool) {
	if ev.Record == nil {
		return UpsertRecordParams{}, false
	}
	r := ev.Record
	p := UpsertRecordParams{
		Hash:      r.Hash,
		Address:   ev.Address,
		Network:   ev.Network,
		State:     string(r.State),
		Signer:    r.Signer,
		Message:   r.Message,
		Amount:    r.Amount,
		Direction: string(r.Direction),
		Height:    int64(r.Height),
		SettledAt: r.SettledAt,
		Source:    string(r.Source),
		SeenAt:    r.SeenAt,
	}
	if r.NetworkTimestamp != nil {
		ts := int64(*r.NetworkTimestamp)
		p.NetworkTimestamp = &ts
	}
	return p, true
}

// RecordWriter is the part of Store Archive needs.
type RecordWriter interface {
	UpsertRecord(ctx context.Context, p UpsertRecordParams) error
}

// Archive writes every record change read from events until ctx is done or
// events is closed. Write failures are logged and skipped.
func Archive(ctx context.Context, events <-chan tracker.Event, w RecordWriter, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p, ok := ParamsFromEvent(ev)
			if !ok {
				continue
			}
			if err := w.UpsertRecord(ctx, p); err != nil {
				logger.Error("failed to archive record", "hash", p.Hash, "address", p.Address, "error", err)
			}
		}
	}
}
