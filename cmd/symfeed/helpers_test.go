package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runApp runs the full CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"symfeed"}, args...))
	return out.String(), err
}

func TestRunJQ(t *testing.T) {
	type item struct {
		Hash   string   `json:"hash"`
		Amount *float64 `json:"amount"`
	}
	five := 5.0
	input := []item{{Hash: "H1", Amount: &five}, {Hash: "H2"}}

	tests := []struct {
		name    string
		filter  string
		want    string
		wantErr bool
	}{
		{
			name:   "field projection",
			filter: ".[].hash",
			want:   `["H1","H2"]`,
		},
		{
			name:   "select transfers",
			filter: `[.[] | select(.amount != null) | .amount]`,
			want:   `[[5]]`,
		},
		{
			name:   "no results",
			filter: `.[] | select(.hash == "H3")`,
			want:   `null`,
		},
		{
			name:    "runtime error",
			filter:  ".[0].hash | tonumber",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := gojq.Parse(tt.filter)
			require.NoError(t, err)
			code, err := gojq.Compile(query)
			require.NoError(t, err)

			got, err := runJQ(code, input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			data, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestInvalidJQFilter(t *testing.T) {
	_, err := runApp(t, "--server-url", "http://127.0.0.1:0", "feed", "list", "--jq", ".[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestFormatAmount(t *testing.T) {
	amount := 1.5
	assert.Equal(t, "+1.500000", formatAmount(&amount, "receive"))
	assert.Equal(t, "-1.500000", formatAmount(&amount, "send"))
	assert.Equal(t, "-", formatAmount(nil, ""))
	neg := -0.25
	assert.Equal(t, "-0.250000", formatSigned(&neg))
}

func TestPrintEvent(t *testing.T) {
	amount := 1.5
	var buf bytes.Buffer
	printEvent(&buf, tracker.Event{
		Kind: tracker.EventAdded,
		Record: &tracker.Record{
			Hash:        "H1",
			Message:     "rent",
			Amount:      &amount,
			Direction:   symbol.DirectionSend,
			State:       tracker.StateUnconfirmed,
			SeenAt:      time.Now(),
			ExplorerURL: "https://symbol.fyi/transactions/H1",
		},
	})
	assert.Contains(t, buf.String(), "-1.500000")
	assert.Contains(t, buf.String(), "rent")
	assert.Contains(t, buf.String(), "https://symbol.fyi/transactions/H1")

	buf.Reset()
	printEvent(&buf, tracker.Event{Kind: tracker.EventReset, Address: "NABC", At: time.Now()})
	assert.Contains(t, buf.String(), "reset NABC")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
