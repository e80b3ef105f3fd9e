// Package notify serializes user-facing alerts and makes sure each transaction
// lifecycle step alerts at most once.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/queue"
)

// Kind is the lifecycle transition a notification is about.
type Kind string

const (
	KindUnconfirmed Kind = "unconfirmed"
	KindConfirmed   Kind = "confirmed"
)

// Kinds lists every notification kind.
var Kinds = []Kind{KindUnconfirmed, KindConfirmed}

// DefaultGap is the pause after each action before the next one starts.
const DefaultGap = 100 * time.Millisecond

// DefaultActionTimeout bounds a single action so a hung player cannot hold up
// the alerts queued behind it.
const DefaultActionTimeout = 30 * time.Second

// Action is a side effect such as playing a sound. Errors are logged only.
type Action func(ctx context.Context) error

type flagKey struct {
	hash string
	kind Kind
}

type job struct {
	key    flagKey
	action Action
}

// Gate runs actions one at a time in call order and lets each (hash, kind)
// pair fire once for the gate's lifetime. A gate belongs to one session.
type Gate struct {
	flagsMu sync.Mutex
	fired   map[flagKey]struct{}

	box     *queue.Mailbox[job]
	gap     time.Duration
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGate creates a gate. A negative gap disables the pause between actions;
// zero selects DefaultGap. If metrics is nil, no metrics will be recorded.
func NewGate(gap time.Duration, m *metrics.Metrics, logger *slog.Logger) *Gate {
	if gap == 0 {
		gap = DefaultGap
	}
	if gap < 0 {
		gap = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Gate{
		fired:   make(map[flagKey]struct{}),
		box:     queue.New[job](),
		gap:     gap,
		timeout: DefaultActionTimeout,
		metrics: m,
		logger:  logger,
	}
}

// SetActionTimeout changes how long one action may run before its context is
// cancelled. Zero or less removes the bound. Call it before Run.
func (g *Gate) SetActionTimeout(d time.Duration) {
	g.timeout = d
}

// NotifyOnce queues action unless (hash, kind) has already fired or been
// marked. It never blocks and reports whether the action was queued.
func (g *Gate) NotifyOnce(hash string, kind Kind, action Action) bool {
	key := flagKey{hash: hash, kind: kind}

	g.flagsMu.Lock()
	if _, ok := g.fired[key]; ok {
		g.flagsMu.Unlock()
		g.metrics.RecordNotification(string(kind), "duplicate")
		return false
	}
	g.fired[key] = struct{}{}
	g.flagsMu.Unlock()

	if !g.box.Put(job{key: key, action: action}) {
		g.metrics.RecordNotification(string(kind), "closed")
		return false
	}
	g.metrics.RecordNotification(string(kind), "queued")
	return true
}

// MarkFired sets the flags for hash without running anything. With no kinds
// given every kind is marked.
func (g *Gate) MarkFired(hash string, kinds ...Kind) {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	g.flagsMu.Lock()
	defer g.flagsMu.Unlock()
	for _, k := range kinds {
		g.fired[flagKey{hash: hash, kind: k}] = struct{}{}
	}
}

// Fired reports whether (hash, kind) has fired or been marked.
func (g *Gate) Fired(hash string, kind Kind) bool {
	g.flagsMu.Lock()
	defer g.flagsMu.Unlock()
	_, ok := g.fired[flagKey{hash: hash, kind: kind}]
	return ok
}

// Pending returns the number of queued actions.
func (g *Gate) Pending() int {
	return g.box.Len()
}

// Run executes queued actions until ctx is done. It is the gate's only
// consumer and must be called once. Actions still queued at cancellation are
// discarded.
func (g *Gate) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, g.box.Close)
	defer stop()

	for {
		j, ok := g.box.Take()
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		if err := g.run(ctx, j); err != nil {
			g.logger.WarnContext(ctx, "notification action failed",
				"hash", j.key.hash,
				"kind", j.key.kind,
				"error", err,
			)
			g.metrics.RecordNotification(string(j.key.kind), "error")
		} else {
			g.metrics.RecordNotification(string(j.key.kind), "fired")
		}
		g.metrics.RecordNotificationDuration(time.Since(start).Seconds())

		if g.gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.gap):
			}
		}
	}
}

func (g *Gate) run(ctx context.Context, j job) error {
	if g.timeout <= 0 {
		return j.action(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return j.action(actx)
}

// Close stops accepting actions. Run returns once the queue is drained or its
// context is done.
func (g *Gate) Close() {
	g.box.Close()
}
