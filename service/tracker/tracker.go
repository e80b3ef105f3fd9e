// Package tracker merges historical and live transaction data for one account
// into a single deduplicated record set.
//
// All reads and writes of the record set happen on the goroutine running
// Tracker.Run. Ingestion methods only enqueue work for it, so they are safe to
// call from any topic worker and never race each other.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/notify"
	"github.com/brojonat/symfeed/service/queue"
	"github.com/brojonat/symfeed/service/stream"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/goccy/go-json"
)

// DefaultHistoryLimit is the page size of the historical load.
const DefaultHistoryLimit = 50

// ErrStopped is returned by queries after Run has returned.
var ErrStopped = errors.New("tracker stopped")

// NodeAPI is the subset of the node REST API the tracker queries.
type NodeAPI interface {
	ConfirmedTransactions(ctx context.Context, address string, limit int) ([]symbol.TransactionInfo, error)
	BlockTimestamp(ctx context.Context, height uint64) (uint64, error)
}

// HistoryStatus reports the outcome of the historical load.
type HistoryStatus string

const (
	HistoryPending HistoryStatus = "pending"
	HistoryLoaded  HistoryStatus = "loaded"
	HistoryEmpty   HistoryStatus = "empty"
	HistoryError   HistoryStatus = "error"
)

// Config describes the account being tracked.
type Config struct {
	SessionID string
	Address   string
	Network   symbol.Network
	// NativeMosaicIDs are the ids counted as native currency. The network's
	// default id and the symbol.xym alias are always included.
	NativeMosaicIDs []string
	// Epoch converts network timestamps to wall-clock time. Zero leaves
	// SettledAt unset.
	Epoch        time.Time
	HistoryLimit int
}

// Tracker owns the record set of one session.
type Tracker struct {
	cfg       Config
	nativeIDs []string
	api       NodeAPI
	gate      *notify.Gate
	emitter   Emitter
	blocks    *BlockCache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	ops     *queue.Mailbox[func()]
	stopped chan struct{}
	lookups sync.WaitGroup

	// Owned by the Run goroutine.
	records map[string]*Record
	order   []string // most recent first
	alerter notify.Alerter

	historyMu     sync.Mutex
	historyStatus HistoryStatus
	historyErr    error
}

// New creates a tracker. gate may be nil when no notifications are wanted and
// emitter may be nil when nobody listens. If metrics is nil, no metrics will
// be recorded.
func New(cfg Config, api NodeAPI, gate *notify.Gate, emitter Emitter, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if emitter == nil {
		emitter = EmitterFunc(func(Event) {})
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	nativeIDs := append([]string{}, cfg.NativeMosaicIDs...)
	nativeIDs = append(nativeIDs, cfg.Network.Info().NativeMosaicID, symbol.NamespaceAliasXYM)

	return &Tracker{
		cfg:           cfg,
		nativeIDs:     nativeIDs,
		api:           api,
		gate:          gate,
		emitter:       emitter,
		blocks:        NewBlockCache(DefaultBlockCacheSize),
		metrics:       m,
		logger:        logger.With("address", cfg.Address),
		now:           time.Now,
		ops:           queue.New[func()](),
		stopped:       make(chan struct{}),
		records:       make(map[string]*Record),
		historyStatus: HistoryPending,
	}
}

// Blocks exposes the block timestamp cache.
func (t *Tracker) Blocks() *BlockCache {
	return t.blocks
}

// Run processes ingestion work until ctx is done. It must be called exactly once.
func (t *Tracker) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, t.ops.Close)
	defer stop()
	defer close(t.stopped)

	for {
		op, ok := t.ops.Take()
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}
		op()
	}
}

// Wait blocks until in-flight timestamp lookups have finished.
func (t *Tracker) Wait() {
	t.lookups.Wait()
}

// enqueue schedules op on the Run goroutine without waiting.
func (t *Tracker) enqueue(op func()) bool {
	return t.ops.Put(op)
}

// do runs op on the Run goroutine and waits for it.
func (t *Tracker) do(ctx context.Context, op func()) error {
	done := make(chan struct{})
	if !t.ops.Put(func() {
		op()
		close(done)
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnableNotifications makes every later record transition alert through the
// gate: a new pending record as unconfirmed, a settlement as confirmed.
// Transitions applied before the call stay silent.
func (t *Tracker) EnableNotifications(alerter notify.Alerter) {
	t.enqueue(func() { t.alerter = alerter })
}

// LoadHistory fetches the newest confirmed transactions and inserts them as
// confirmed records behind any live ones. Hashes already present are left
// untouched. Inserted hashes are marked as already notified. A failed fetch
// only changes HistoryStatus; the returned error is informational.
func (t *Tracker) LoadHistory(ctx context.Context) (int, error) {
	infos, err := t.api.ConfirmedTransactions(ctx, t.cfg.Address, t.cfg.HistoryLimit)
	if err != nil {
		t.setHistory(HistoryError, err)
		t.metrics.RecordHistoryLoad("error", 0)
		t.logger.WarnContext(ctx, "failed to load transaction history", "error", err)
		return 0, fmt.Errorf("failed to load history: %w", err)
	}

	inserted := 0
	err = t.do(ctx, func() {
		for _, info := range infos {
			hash := info.Meta.Hash
			if hash == "" {
				continue
			}
			if _, ok := t.records[hash]; ok {
				continue
			}
			rec := t.build(info, StateConfirmed, SourceHistory)
			if info.Meta.Timestamp != nil {
				t.settle(&rec, uint64(*info.Meta.Timestamp))
			}
			t.records[hash] = &rec
			t.order = append(t.order, hash)
			if t.gate != nil {
				t.gate.MarkFired(hash)
			}
			inserted++
		}
	})
	if err != nil {
		t.setHistory(HistoryError, err)
		return 0, err
	}

	status := HistoryLoaded
	if len(infos) == 0 {
		status = HistoryEmpty
	}
	t.setHistory(status, nil)
	t.metrics.RecordHistoryLoad(string(status), inserted)
	t.logger.InfoContext(ctx, "loaded transaction history",
		"fetched", len(infos),
		"inserted", inserted,
	)
	return inserted, nil
}

// HandleUnconfirmed is the listener for the unconfirmedAdded topic.
func (t *Tracker) HandleUnconfirmed(ctx context.Context, msg stream.Message) {
	var info symbol.TransactionInfo
	if err := json.Unmarshal(msg.Data, &info); err != nil {
		t.logger.WarnContext(ctx, "dropping undecodable unconfirmed frame", "error", err)
		return
	}
	t.IngestUnconfirmed(info)
}

// HandleConfirmed is the listener for the confirmedAdded topic.
func (t *Tracker) HandleConfirmed(ctx context.Context, msg stream.Message) {
	var info symbol.TransactionInfo
	if err := json.Unmarshal(msg.Data, &info); err != nil {
		t.logger.WarnContext(ctx, "dropping undecodable confirmed frame", "error", err)
		return
	}
	t.IngestConfirmed(ctx, info)
}

// HandleBlock is the listener for the block topic; it feeds the timestamp cache.
func (t *Tracker) HandleBlock(ctx context.Context, msg stream.Message) {
	var info symbol.BlockInfo
	if err := json.Unmarshal(msg.Data, &info); err != nil {
		t.logger.DebugContext(ctx, "dropping undecodable block frame", "error", err)
		return
	}
	if info.Block.Height == 0 {
		return
	}
	t.blocks.Put(uint64(info.Block.Height), uint64(info.Block.Timestamp))
}

// IngestUnconfirmed adds a pending record for an unknown hash. Known hashes
// are ignored.
func (t *Tracker) IngestUnconfirmed(info symbol.TransactionInfo) {
	if info.Meta.Hash == "" {
		return
	}
	t.enqueue(func() {
		hash := info.Meta.Hash
		if _, ok := t.records[hash]; ok {
			t.metrics.RecordRecordEvent("duplicate", string(StateUnconfirmed))
			return
		}
		rec := t.build(info, StateUnconfirmed, SourceLive)
		t.insertFront(&rec)
		t.emit(EventAdded, &rec)
		t.alert(&rec, notify.KindUnconfirmed)
	})
}

// IngestConfirmed settles a pending record in place or adds a confirmed
// record for an unknown hash. The settlement timestamp is resolved off the
// Run goroutine; when it cannot be resolved the record settles without one.
// Already confirmed hashes are ignored.
func (t *Tracker) IngestConfirmed(ctx context.Context, info symbol.TransactionInfo) {
	hash := info.Meta.Hash
	if hash == "" {
		return
	}
	t.enqueue(func() {
		if rec, ok := t.records[hash]; ok && rec.State == StateConfirmed {
			t.metrics.RecordRecordEvent("duplicate", string(StateConfirmed))
			return
		}

		t.lookups.Add(1)
		go func() {
			defer t.lookups.Done()
			ts := t.resolveTimestamp(ctx, info)
			t.enqueue(func() { t.applyConfirmed(info, ts) })
		}()
	})
}

func (t *Tracker) applyConfirmed(info symbol.TransactionInfo, ts *uint64) {
	hash := info.Meta.Hash
	rec, ok := t.records[hash]
	switch {
	case ok && rec.State == StateConfirmed:
		t.metrics.RecordRecordEvent("duplicate", string(StateConfirmed))
	case ok:
		rec.State = StateConfirmed
		rec.Height = uint64(info.Meta.Height)
		if ts != nil {
			t.settle(rec, *ts)
		}
		t.emit(EventUpgraded, rec)
		t.alert(rec, notify.KindConfirmed)
	default:
		created := t.build(info, StateConfirmed, SourceLive)
		if ts != nil {
			t.settle(&created, *ts)
		}
		t.insertFront(&created)
		t.emit(EventAdded, &created)
		// The record never passes through pending, so a late unconfirmed
		// frame must not alert either.
		if t.gate != nil {
			t.gate.MarkFired(hash, notify.KindUnconfirmed)
		}
		t.alert(&created, notify.KindConfirmed)
	}
}

func (t *Tracker) resolveTimestamp(ctx context.Context, info symbol.TransactionInfo) *uint64 {
	if info.Meta.Timestamp != nil && *info.Meta.Timestamp > 0 {
		ts := uint64(*info.Meta.Timestamp)
		t.metrics.RecordTimestampLookup("frame")
		return &ts
	}

	height := uint64(info.Meta.Height)
	if height == 0 {
		t.metrics.RecordTimestampLookup("missing_height")
		return nil
	}
	if ts, ok := t.blocks.Get(height); ok {
		t.metrics.RecordTimestampLookup("cache")
		return &ts
	}

	ts, err := t.api.BlockTimestamp(ctx, height)
	if err != nil {
		t.logger.WarnContext(ctx, "block timestamp lookup failed, settling without timestamp",
			"hash", info.Meta.Hash,
			"height", height,
			"error", err,
		)
		t.metrics.RecordTimestampLookup("failed")
		return nil
	}
	t.blocks.Put(height, ts)
	t.metrics.RecordTimestampLookup("node")
	return &ts
}

func (t *Tracker) build(info symbol.TransactionInfo, state State, source Source) Record {
	rec := Record{
		Hash:        info.Meta.Hash,
		Signer:      info.Transaction.SignerPublicKey,
		Message:     symbol.DecodeMessage(string(info.Transaction.Message)),
		State:       state,
		Source:      source,
		SeenAt:      t.now().UTC(),
		ExplorerURL: t.cfg.Network.ExplorerTransactionURL(info.Meta.Hash),
	}
	if state == StateConfirmed {
		rec.Height = uint64(info.Meta.Height)
	}
	if tr, ok := symbol.ExtractTransfer(info.Transaction, t.cfg.Address, t.nativeIDs...); ok {
		amount := tr.Amount
		rec.Amount = &amount
		rec.Direction = tr.Direction
	}
	return rec
}

func (t *Tracker) settle(rec *Record, ts uint64) {
	rec.NetworkTimestamp = &ts
	if !t.cfg.Epoch.IsZero() {
		at := symbol.NetworkTime(t.cfg.Epoch, ts)
		rec.SettledAt = &at
	}
}

func (t *Tracker) insertFront(rec *Record) {
	t.records[rec.Hash] = rec
	t.order = append(t.order, "")
	copy(t.order[1:], t.order)
	t.order[0] = rec.Hash
}

func (t *Tracker) emit(kind EventKind, rec *Record) {
	c := rec.clone()
	t.metrics.RecordRecordEvent(string(kind), string(rec.Source))
	t.emitter.Emit(Event{
		Kind:      kind,
		SessionID: t.cfg.SessionID,
		Address:   t.cfg.Address,
		Network:   string(t.cfg.Network),
		Record:    &c,
		At:        t.now().UTC(),
	})
}

// Records returns the record set, most recent first.
func (t *Tracker) Records(ctx context.Context) ([]Record, error) {
	var out []Record
	err := t.do(ctx, func() {
		out = make([]Record, 0, len(t.order))
		for _, hash := range t.order {
			out = append(out, t.records[hash].clone())
		}
	})
	return out, err
}

// Record returns the record for hash.
func (t *Tracker) Record(ctx context.Context, hash string) (Record, bool, error) {
	var (
		out   Record
		found bool
	)
	err := t.do(ctx, func() {
		if rec, ok := t.records[hash]; ok {
			out = rec.clone()
			found = true
		}
	})
	return out, found, err
}

// HistoryStatus returns the state of the historical load and its error, if any.
func (t *Tracker) HistoryStatus() (HistoryStatus, error) {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()
	return t.historyStatus, t.historyErr
}

func (t *Tracker) setHistory(status HistoryStatus, err error) {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()
	t.historyStatus = status
	t.historyErr = err
}

// alert queues a notification for rec on the gate once notifications are on.
func (t *Tracker) alert(rec *Record, kind notify.Kind) {
	if t.gate == nil || t.alerter == nil {
		return
	}
	n := notify.Notification{
		Hash:      rec.Hash,
		Kind:      kind,
		Direction: string(rec.Direction),
		Message:   rec.Message,
	}
	if rec.Amount != nil {
		v := *rec.Amount
		n.Amount = &v
	}
	t.gate.NotifyOnce(rec.Hash, kind, notify.ActionFor(t.alerter, n))
}
