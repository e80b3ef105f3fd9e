package symbol

import (
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

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrAnnounceRejected is returned when the node answers a transaction
// announcement with a non-2xx status.
var ErrAnnounceRejected = errors.New("announce rejected by node")

// StatusError is returned for non-200 responses to GET queries.
type StatusError struct {
	Method string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: node returned status %d: %s", e.Method, e.Status, e.Body)
}

// Client queries a single Symbol node over REST.
// GET queries run through a circuit breaker so that a dead node fails fast.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a client for the node at baseURL (an origin such as
// https://node:3001). If httpClient is nil a client with a 30s timeout is used.
// If metrics is nil, no metrics will be recorded.
func NewClient(baseURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}

	name := "symbol-node"
	m.SetCircuitBreakerState(name, 0)
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		// Open after five consecutive failures.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 404s are answers, not node failures.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("node circuit breaker state change",
				"node", c.baseURL,
				"from", from.String(),
				"to", to.String(),
			)
			m.SetCircuitBreakerState(name, stateToFloat(to))
		},
	})

	return c
}

// BaseURL returns the node origin this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NetworkProperties fetches /network/properties.
func (c *Client) NetworkProperties(ctx context.Context) (*NetworkProperties, error) {
	var props NetworkProperties
	if err := c.getJSON(ctx, "network_properties", "/network/properties", &props); err != nil {
		return nil, err
	}
	return &props, nil
}

// Account fetches /accounts/{address}.
func (c *Client) Account(ctx context.Context, address string) (*Account, error) {
	var info AccountInfo
	path := "/accounts/" + url.PathEscape(NormalizeAddress(address))
	if err := c.getJSON(ctx, "account", path, &info); err != nil {
		return nil, err
	}
	return &info.Account, nil
}

// ConfirmedTransactions fetches the newest confirmed transactions involving
// address, newest first.
func (c *Client) ConfirmedTransactions(ctx context.Context, address string, limit int) ([]TransactionInfo, error) {
	q := url.Values{}
	q.Set("address", NormalizeAddress(address))
	q.Set("order", "desc")
	q.Set("limit", strconv.Itoa(limit))

	var page struct {
		Data []TransactionInfo `json:"data"`
	}
	if err := c.getJSON(ctx, "confirmed_transactions", "/transactions/confirmed?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// BlockTimestamp fetches /blocks/{height} and returns its network timestamp.
func (c *Client) BlockTimestamp(ctx context.Context, height uint64) (uint64, error) {
	var info BlockInfo
	path := "/blocks/" + strconv.FormatUint(height, 10)
	if err := c.getJSON(ctx, "block", path, &info); err != nil {
		return 0, err
	}
	if info.Block.Timestamp == 0 {
		return 0, fmt.Errorf("block %d: missing timestamp", height)
	}
	return uint64(info.Block.Timestamp), nil
}

// Announce PUTs a signed transaction payload to /transactions. It makes a single
// attempt; any non-2xx response wraps ErrAnnounceRejected.
func (c *Client) Announce(ctx context.Context, signedPayload string) error {
	body, err := json.Marshal(map[string]string{"payload": signedPayload})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordNodeCall("announce", "error", time.Since(start).Seconds())
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.RecordNodeCall("announce", "error", time.Since(start).Seconds())
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrAnnounceRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.metrics.RecordNodeCall("announce", "success", time.Since(start).Seconds())
	c.logger.DebugContext(ctx, "transaction announced", "node", c.baseURL)
	return nil
}

// getJSON performs a GET through the breaker and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, method, path string, out interface{}) error {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, method, path)
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.RecordCircuitBreakerRejection("symbol-node")
		}
		c.metrics.RecordNodeCall(method, "error", duration)
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.RecordNodeCall(method, "decode_error", duration)
		return fmt.Errorf("%s: failed to decode response: %w", method, err)
	}

	c.metrics.RecordNodeCall(method, "success", duration)
	return nil
}

func (c *Client) get(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Method: method,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
