// Package client is the HTTP client for the symfeed account feed service.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned when the server has no such record.
var ErrNotFound = errors.New("not found")

// Record is one transaction touching the tracked account.
type Record struct {
	Hash             string     `json:"hash"`
	Signer           string     `json:"signer"`
	Message          string     `json:"message"`
	Amount           *float64   `json:"amount"`
	Direction        string     `json:"direction,omitempty"`
	State            string     `json:"state"`
	Height           uint64     `json:"height,omitempty"`
	NetworkTimestamp *uint64    `json:"network_timestamp"`
	SettledAt        *time.Time `json:"settled_at"`
	Source           string     `json:"source"`
	SeenAt           time.Time  `json:"seen_at"`
	ExplorerURL      string     `json:"explorer_url"`
}

// Confirmed reports whether the record has settled.
func (r Record) Confirmed() bool { return r.State == "confirmed" }

// Event is a record set change delivered over the stream.
type Event struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Address   string    `json:"address"`
	Network   string    `json:"network,omitempty"`
	Record    *Record   `json:"record,omitempty"`
	At        time.Time `json:"at"`
}

// Status summarizes the server's tracking session.
type Status struct {
	SessionID   string `json:"session_id"`
	Address     string `json:"address"`
	Network     string `json:"network"`
	NetworkType int    `json:"network_type"`
	Endpoint    struct {
		URL    string `json:"url"`
		Height uint64 `json:"height,omitempty"`
		Source string `json:"source"`
	} `json:"endpoint"`
	Connection      string    `json:"connection"`
	Opens           int       `json:"opens"`
	LastBlockHeight uint64    `json:"last_block_height,omitempty"`
	History         string    `json:"history"`
	HistoryError    string    `json:"history_error,omitempty"`
	Records         int       `json:"records"`
	Topics          []string  `json:"topics"`
	PendingAlerts   int       `json:"pending_alerts"`
	StartedAt       time.Time `json:"started_at"`
}

// Balance is the native-currency balance of the tracked account.
type Balance struct {
	Address string  `json:"address"`
	Units   uint64  `json:"units"`
	Amount  float64 `json:"amount"`
}

// Switched describes the session started by SwitchAccount.
type Switched struct {
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
	Network   string `json:"network"`
}

// Submitted describes an announced transaction.
type Submitted struct {
	Hash        string    `json:"hash,omitempty"`
	Payload     string    `json:"payload"`
	AnnouncedAt time.Time `json:"announced_at"`
}

// StreamEvent is one SSE frame. Event is nil for the connected frame.
type StreamEvent struct {
	Name  string
	Event *Event
	Raw   []byte
}

// Client is the HTTP client for the symfeed service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a new feed service client. Streams use a client without
// a timeout derived from httpClient's transport.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		streamClient: &http.Client{Transport: httpClient.Transport},
		logger:       logger,
	}
}

// Records lists the tracked records, most recent first. A limit of zero
// returns all of them.
func (c *Client) Records(ctx context.Context, limit int) ([]Record, error) {
	path := "/api/v1/records"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Records []Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Record fetches a record by hash. It returns ErrNotFound when the hash is
// not tracked.
func (c *Client) Record(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(hash), nil, http.StatusOK, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Status fetches the session summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Balance fetches the tracked account's native balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var bal Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/account", nil, http.StatusOK, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// SwitchAccount tells the server to track address instead.
func (c *Client) SwitchAccount(ctx context.Context, address string) (*Switched, error) {
	var out Switched
	body := map[string]string{"address": address}
	if err := c.do(ctx, http.MethodPut, "/api/v1/account", body, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("tracked account switched", "address", out.Address, "session_id", out.SessionID)
	return &out, nil
}

// Submit asks the server to sign and announce payloadHex.
func (c *Client) Submit(ctx context.Context, payloadHex string) (*Submitted, error) {
	var out Submitted
	body := map[string]string{"payload": payloadHex}
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Stream follows the record stream and calls fn for every frame. It returns
// fn's first error, ctx's error once it is done, or io.EOF when the server
// ends the stream.
func (c *Client) Stream(ctx context.Context, fn func(StreamEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/records", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name string
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name == "" && data.Len() == 0 {
				continue
			}
			ev := StreamEvent{Name: name, Raw: append([]byte(nil), data.Bytes()...)}
			if name != "connected" {
				var parsed Event
				if err := json.Unmarshal(ev.Raw, &parsed); err != nil {
					c.logger.Warn("failed to decode stream event", "event", name, "error", err)
				} else {
					ev.Event = &parsed
				}
			}
			name = ""
			data.Reset()
			if err := fn(ev); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return io.EOF
}

var errFound = errors.New("found")

// Await blocks until the record with hash is tracked, and confirmed if
// confirmed is true. The current record set is checked once the stream is
// established, so a record that arrived earlier is still found.
func (c *Client) Await(ctx context.Context, hash string, confirmed bool) (*Record, error) {
	hash = strings.ToUpper(strings.TrimSpace(hash))
	satisfied := func(r *Record) bool {
		return r != nil && strings.EqualFold(r.Hash, hash) && (!confirmed || r.Confirmed())
	}

	var found *Record
	err := c.Stream(ctx, func(ev StreamEvent) error {
		// Both mean events may have been missed, so ask for the record.
		if ev.Name == "connected" || ev.Name == "resync" {
			rec, err := c.Record(ctx, hash)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if satisfied(rec) {
				found = rec
				return errFound
			}
			return nil
		}
		if ev.Event != nil && satisfied(ev.Event.Record) {
			found = ev.Event.Record
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, nil
	}
	return nil, err
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		err := fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
