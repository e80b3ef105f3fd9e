package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/symfeed/service/notify"
	"github.com/brojonat/symfeed/service/stream"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	account = "NATNE7Q5BITMUTRRN6IB4I7FLSDRDWZA37JGO5Q"
	other   = "TBWUIUMDL3SRHXIVVJF5GJJP3WXWW2SY2PYS2TA"
	xym     = "6BED913FA20223F8"
)

var epoch = time.Unix(1615853185, 0).UTC()

type fakeNode struct {
	mu         sync.Mutex
	history    []symbol.TransactionInfo
	historyErr error
	blocks     map[uint64]uint64
	blockErr   error
	blockCalls int
}

func (f *fakeNode) ConfirmedTransactions(ctx context.Context, address string, limit int) ([]symbol.TransactionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeNode) BlockTimestamp(ctx context.Context, height uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls++
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	ts, ok := f.blocks[height]
	if !ok {
		return 0, fmt.Errorf("block %d not found", height)
	}
	return ts, nil
}

func (f *fakeNode) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockCalls
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) kinds(hash string) []EventKind {
	var out []EventKind
	for _, ev := range l.snapshot() {
		if ev.Record != nil && ev.Record.Hash == hash {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func txInfo(hash string, height uint64, recipient string, units uint64) symbol.TransactionInfo {
	info := symbol.TransactionInfo{
		Meta: symbol.TransactionMeta{Hash: hash, Height: symbol.Uint64(height)},
		Transaction: symbol.Transaction{
			SignerPublicKey:  "SIGNER",
			RecipientAddress: recipient,
			Message:          "0068656C6C6F",
		},
	}
	if units > 0 {
		info.Transaction.Mosaics = []symbol.Mosaic{{ID: xym, Amount: symbol.Uint64(units)}}
	}
	return info
}

func newTracker(t *testing.T, node *fakeNode) (*Tracker, *eventLog, *notify.Gate) {
	t.Helper()
	events := &eventLog{}
	gate := notify.NewGate(-1, nil, nil)
	tr := New(Config{
		SessionID: "session-1",
		Address:   account,
		Network:   symbol.Mainnet,
		Epoch:     epoch,
	}, node, gate, events, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr, events, gate
}

func records(t *testing.T, tr *Tracker) []Record {
	t.Helper()
	recs, err := tr.Records(context.Background())
	require.NoError(t, err)
	return recs
}

func waitForState(t *testing.T, tr *Tracker, hash string, state State) Record {
	t.Helper()
	var rec Record
	require.Eventually(t, func() bool {
		r, ok, err := tr.Record(context.Background(), hash)
		if err != nil || !ok {
			return false
		}
		rec = r
		return r.State == state
	}, time.Second, 2*time.Millisecond)
	return rec
}

func TestLoadHistory_AmountAndDirection(t *testing.T) {
	h1 := txInfo("H1", 1200, account, 5000000)
	ts := symbol.Uint64(86400000)
	h1.Meta.Timestamp = &ts
	node := &fakeNode{history: []symbol.TransactionInfo{h1, txInfo("H0", 1100, other, 0)}}

	tr, events, gate := newTracker(t, node)

	n, err := tr.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs := records(t, tr)
	require.Len(t, recs, 2)

	rec := recs[0]
	assert.Equal(t, "H1", rec.Hash)
	assert.Equal(t, StateConfirmed, rec.State)
	assert.Equal(t, SourceHistory, rec.Source)
	require.NotNil(t, rec.Amount)
	assert.Equal(t, 5.0, *rec.Amount)
	assert.Equal(t, symbol.DirectionReceive, rec.Direction)
	assert.Equal(t, "hello", rec.Message)
	require.NotNil(t, rec.NetworkTimestamp)
	require.NotNil(t, rec.SettledAt)
	assert.Equal(t, epoch.Add(24*time.Hour), *rec.SettledAt)
	assert.Equal(t, "https://symbol.fyi/transactions/H1", rec.ExplorerURL)

	assert.Nil(t, recs[1].Amount, "message-only transaction has no amount")

	status, statusErr := tr.HistoryStatus()
	assert.Equal(t, HistoryLoaded, status)
	assert.NoError(t, statusErr)

	// History never notifies.
	assert.True(t, gate.Fired("H1", notify.KindUnconfirmed))
	assert.True(t, gate.Fired("H1", notify.KindConfirmed))
	assert.Empty(t, events.snapshot())
}

func TestLoadHistory_Failure(t *testing.T) {
	node := &fakeNode{historyErr: errors.New("connection reset")}
	tr, _, _ := newTracker(t, node)

	_, err := tr.LoadHistory(context.Background())
	require.Error(t, err)

	status, statusErr := tr.HistoryStatus()
	assert.Equal(t, HistoryError, status)
	assert.Error(t, statusErr)
	assert.Empty(t, records(t, tr))
}

func TestLoadHistory_Empty(t *testing.T) {
	tr, _, _ := newTracker(t, &fakeNode{})

	_, err := tr.LoadHistory(context.Background())
	require.NoError(t, err)

	status, _ := tr.HistoryStatus()
	assert.Equal(t, HistoryEmpty, status)
}

func TestLoadHistory_DoesNotOverwriteLive(t *testing.T) {
	node := &fakeNode{history: []symbol.TransactionInfo{
		txInfo("LIVE", 10, account, 9000000),
		txInfo("OLD", 9, account, 1000000),
	}}
	tr, _, gate := newTracker(t, node)

	tr.IngestUnconfirmed(txInfo("LIVE", 0, account, 1000000))
	tr.IngestUnconfirmed(txInfo("NEWER", 0, other, 2000000))

	_, err := tr.LoadHistory(context.Background())
	require.NoError(t, err)

	recs := records(t, tr)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"NEWER", "LIVE", "OLD"}, []string{recs[0].Hash, recs[1].Hash, recs[2].Hash})

	assert.Equal(t, StateUnconfirmed, recs[1].State)
	assert.Equal(t, 1.0, *recs[1].Amount)
	assert.False(t, gate.Fired("LIVE", notify.KindConfirmed))
}

func TestUnconfirmedThenConfirmed_AddedThenUpgraded(t *testing.T) {
	node := &fakeNode{blocks: map[uint64]uint64{1300: 90000000}}
	tr, events, _ := newTracker(t, node)

	tr.IngestUnconfirmed(txInfo("H2", 0, other, 1500000))
	rec := waitForState(t, tr, "H2", StateUnconfirmed)
	assert.Nil(t, rec.NetworkTimestamp)
	assert.Equal(t, symbol.DirectionSend, rec.Direction)
	assert.Equal(t, -1.5, *rec.SignedAmount())

	tr.IngestConfirmed(context.Background(), txInfo("H2", 1300, other, 1500000))
	rec = waitForState(t, tr, "H2", StateConfirmed)

	require.NotNil(t, rec.NetworkTimestamp)
	assert.Equal(t, uint64(90000000), *rec.NetworkTimestamp)
	assert.Equal(t, uint64(1300), rec.Height)
	assert.Equal(t, SourceLive, rec.Source)

	assert.Equal(t, []EventKind{EventAdded, EventUpgraded}, events.kinds("H2"))
	assert.Len(t, records(t, tr), 1)
}

func TestConfirmed_FailedLookupSettlesWithoutTimestamp(t *testing.T) {
	node := &fakeNode{blockErr: errors.New("node unavailable")}
	tr, events, _ := newTracker(t, node)

	tr.IngestUnconfirmed(txInfo("H2", 0, account, 1000000))
	tr.IngestConfirmed(context.Background(), txInfo("H2", 1400, account, 1000000))

	rec := waitForState(t, tr, "H2", StateConfirmed)
	assert.Nil(t, rec.NetworkTimestamp)
	assert.Nil(t, rec.SettledAt)
	assert.Equal(t, 1, node.calls())
	assert.Equal(t, []EventKind{EventAdded, EventUpgraded}, events.kinds("H2"))
}

func TestConfirmed_DuplicateIsNoop(t *testing.T) {
	node := &fakeNode{blocks: map[uint64]uint64{1500: 1000}}
	tr, events, _ := newTracker(t, node)

	info := txInfo("H3", 1500, account, 3000000)
	tr.IngestConfirmed(context.Background(), info)
	first := waitForState(t, tr, "H3", StateConfirmed)

	tr.IngestConfirmed(context.Background(), info)
	tr.IngestUnconfirmed(info)

	// Let the duplicates pass through the op loop.
	require.Eventually(t, func() bool { return tr.ops.Len() == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	second, ok, err := tr.Record(context.Background(), "H3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, []EventKind{EventAdded}, events.kinds("H3"))
	assert.Equal(t, 1, node.calls(), "known confirmed hashes skip the lookup")
}

func TestConfirmed_UnknownHashAddedDirectly(t *testing.T) {
	node := &fakeNode{blocks: map[uint64]uint64{10: 5000}}
	tr, events, _ := newTracker(t, node)

	tr.IngestConfirmed(context.Background(), txInfo("MISSED", 10, account, 0))
	rec := waitForState(t, tr, "MISSED", StateConfirmed)

	assert.Equal(t, SourceLive, rec.Source)
	assert.Nil(t, rec.Amount)
	assert.Equal(t, []EventKind{EventAdded}, events.kinds("MISSED"))

	// A late unconfirmed event never moves it back.
	tr.IngestUnconfirmed(txInfo("MISSED", 0, account, 0))
	time.Sleep(10 * time.Millisecond)
	rec = waitForState(t, tr, "MISSED", StateConfirmed)
	assert.Equal(t, StateConfirmed, rec.State)
}

func TestConfirmed_UsesTimestampFromFrameAndCache(t *testing.T) {
	node := &fakeNode{}
	tr, _, _ := newTracker(t, node)

	withTS := txInfo("FRAME", 20, account, 0)
	ts := symbol.Uint64(777)
	withTS.Meta.Timestamp = &ts
	tr.IngestConfirmed(context.Background(), withTS)
	rec := waitForState(t, tr, "FRAME", StateConfirmed)
	assert.Equal(t, uint64(777), *rec.NetworkTimestamp)

	tr.HandleBlock(context.Background(), stream.Message{
		Topic: stream.BlockTopic,
		Data:  []byte(`{"block":{"height":"21","timestamp":"888"}}`),
	})
	assert.Equal(t, uint64(21), tr.Blocks().Latest())

	tr.IngestConfirmed(context.Background(), txInfo("CACHED", 21, account, 0))
	rec = waitForState(t, tr, "CACHED", StateConfirmed)
	assert.Equal(t, uint64(888), *rec.NetworkTimestamp)

	assert.Equal(t, 0, node.calls())
}

func TestHandleFrames(t *testing.T) {
	node := &fakeNode{blocks: map[uint64]uint64{30: 100}}
	tr, _, _ := newTracker(t, node)

	data := []byte(`{"meta":{"hash":"WS1","height":"0"},"transaction":{"signerPublicKey":"AA","recipientAddress":"` + account + `","message":"006869","mosaics":[{"id":"` + xym + `","amount":"2000000"}]}}`)
	tr.HandleUnconfirmed(context.Background(), stream.Message{Topic: stream.UnconfirmedAddedTopic(account), Data: data})
	rec := waitForState(t, tr, "WS1", StateUnconfirmed)
	assert.Equal(t, "hi", rec.Message)
	assert.Equal(t, 2.0, *rec.Amount)

	confirmed := []byte(`{"meta":{"hash":"WS1","height":"30"},"transaction":{"recipientAddress":"` + account + `"}}`)
	tr.HandleConfirmed(context.Background(), stream.Message{Topic: stream.ConfirmedAddedTopic(account), Data: confirmed})
	rec = waitForState(t, tr, "WS1", StateConfirmed)
	assert.Equal(t, uint64(100), *rec.NetworkTimestamp)
	assert.Equal(t, 2.0, *rec.Amount, "upgrade keeps the original amount")

	// Malformed frames are dropped without effect.
	tr.HandleUnconfirmed(context.Background(), stream.Message{Data: []byte(`{"meta":`)})
	tr.HandleConfirmed(context.Background(), stream.Message{Data: []byte(`[]`)})
	assert.Len(t, records(t, tr), 1)
}

func TestUniquenessUnderBurst(t *testing.T) {
	node := &fakeNode{blocks: map[uint64]uint64{}}
	for h := uint64(1); h <= 20; h++ {
		node.blocks[h] = h * 1000
	}
	tr, events, _ := newTracker(t, node)

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				hash := fmt.Sprintf("B%d", i)
				tr.IngestUnconfirmed(txInfo(hash, 0, account, 1000000))
				tr.IngestConfirmed(context.Background(), txInfo(hash, uint64(i), account, 1000000))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		recs := records(t, tr)
		if len(recs) != 20 {
			return false
		}
		for _, r := range recs {
			if r.State != StateConfirmed {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	seen := map[string]bool{}
	for _, r := range records(t, tr) {
		assert.False(t, seen[r.Hash], "duplicate record %s", r.Hash)
		seen[r.Hash] = true
	}

	added := 0
	for _, ev := range events.snapshot() {
		if ev.Kind == EventAdded {
			added++
		}
	}
	assert.Equal(t, 20, added)
}

func TestQueriesAfterStop(t *testing.T) {
	tr := New(Config{Address: account, Network: symbol.Mainnet}, &fakeNode{}, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	cancel()
	<-done

	_, err := tr.Records(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

// drainAlerts waits until every action queued on gate so far has run and
// returns what rec received.
func drainAlerts(t *testing.T, gate *notify.Gate, rec *notify.Recorder) []notify.Notification {
	t.Helper()
	done := make(chan struct{})
	gate.NotifyOnce("drain", notify.KindConfirmed, func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gate did not drain")
	}
	return rec.Notifications()
}

func runGate(t *testing.T, gate *notify.Gate) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		gate.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNotifications_FollowTransitions(t *testing.T) {
	tr, _, gate := newTracker(t, &fakeNode{})
	runGate(t, gate)
	alerts := &notify.Recorder{}

	// Nothing alerts before notifications are switched on.
	tr.IngestUnconfirmed(txInfo("EARLY", 0, account, 1000000))
	waitForState(t, tr, "EARLY", StateUnconfirmed)

	tr.EnableNotifications(alerts)

	info := txInfo("N1", 0, account, 2500000)
	tr.IngestUnconfirmed(info)
	waitForState(t, tr, "N1", StateUnconfirmed)

	ts := symbol.Uint64(5000)
	info.Meta.Height = 10
	info.Meta.Timestamp = &ts
	tr.IngestConfirmed(context.Background(), info)
	waitForState(t, tr, "N1", StateConfirmed)

	// A repeated confirmation changes nothing and stays silent.
	tr.IngestConfirmed(context.Background(), info)
	tr.Wait()
	records(t, tr)

	got := drainAlerts(t, gate, alerts)
	require.Len(t, got, 2)
	assert.Equal(t, "N1", got[0].Hash)
	assert.Equal(t, notify.KindUnconfirmed, got[0].Kind)
	require.NotNil(t, got[0].Amount)
	assert.Equal(t, 2.5, *got[0].Amount)
	assert.Equal(t, "receive", got[0].Direction)
	assert.Equal(t, "hello", got[0].Message)
	assert.Equal(t, "N1", got[1].Hash)
	assert.Equal(t, notify.KindConfirmed, got[1].Kind)
}

func TestNotifications_LateUnconfirmedAfterSettlement(t *testing.T) {
	tr, _, gate := newTracker(t, &fakeNode{})
	runGate(t, gate)
	alerts := &notify.Recorder{}
	tr.EnableNotifications(alerts)

	ts := symbol.Uint64(7000)
	confirmed := txInfo("H9", 12, account, 1000000)
	confirmed.Meta.Timestamp = &ts
	tr.IngestConfirmed(context.Background(), confirmed)
	waitForState(t, tr, "H9", StateConfirmed)

	tr.IngestUnconfirmed(txInfo("H9", 0, account, 1000000))
	rec := waitForState(t, tr, "H9", StateConfirmed)
	assert.Equal(t, StateConfirmed, rec.State)

	got := drainAlerts(t, gate, alerts)
	require.Len(t, got, 1)
	assert.Equal(t, "H9", got[0].Hash)
	assert.Equal(t, notify.KindConfirmed, got[0].Kind)
	assert.True(t, gate.Fired("H9", notify.KindUnconfirmed))
}
