// Package nodeselect picks the node a session talks to.
//
// A public ranking service is asked for candidate nodes; the one reporting the
// greatest chain height wins. Whenever the ranking cannot be used the selector
// falls back to a random member of a static per-network pool, so Select always
// returns an endpoint.
package nodeselect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/goccy/go-json"
)

// Endpoint sources.
const (
	SourceRanking  = "ranking"
	SourceFallback = "fallback"
	SourceStatic   = "static"
)

// DefaultTimeout bounds the ranking request.
const DefaultTimeout = 1500 * time.Millisecond

// Endpoint is a selected node origin (scheme://host[:port], no path).
type Endpoint struct {
	URL        string    `json:"url"`
	Height     uint64    `json:"height,omitempty"`
	Source     string    `json:"source"`
	SelectedAt time.Time `json:"selected_at"`
}

// Config overrides the built-in per-network settings. Zero values keep the defaults.
type Config struct {
	// StaticURL bypasses selection entirely.
	StaticURL string
	// RankingURL replaces the network's ranking service URL.
	RankingURL string
	// FallbackNodes replaces the network's fallback pool.
	FallbackNodes []string
	// Timeout bounds the ranking request; DefaultTimeout when zero.
	Timeout time.Duration
}

// Selector chooses node endpoints.
type Selector struct {
	cfg        Config
	httpClient *http.Client
	pick       func(n int) int
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewSelector creates a selector. If httpClient is nil http.DefaultClient is used;
// the ranking timeout is applied per request through the context either way.
// If metrics is nil, no metrics will be recorded.
func NewSelector(cfg Config, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Selector {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Selector{
		cfg:        cfg,
		httpClient: httpClient,
		pick:       rand.IntN,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

type rankedNode struct {
	Endpoint string        `json:"endpoint"`
	Height   symbol.Uint64 `json:"height"`
}

// Select returns an endpoint for network. It never fails: any problem with the
// ranking service yields a fallback node. Origins listed in exclude are skipped
// where an alternative exists, which lets a caller re-select after a node
// turned out to be unusable.
func (s *Selector) Select(ctx context.Context, network symbol.Network, exclude ...string) Endpoint {
	if s.cfg.StaticURL != "" {
		origin, err := staticOrigin(s.cfg.StaticURL)
		if err != nil {
			origin = strings.TrimRight(s.cfg.StaticURL, "/")
		}
		s.metrics.RecordNodeSelection(string(network), SourceStatic)
		return Endpoint{URL: origin, Source: SourceStatic, SelectedAt: s.now()}
	}

	ep, err := s.fromRanking(ctx, network, exclude)
	if err == nil {
		s.logger.InfoContext(ctx, "selected node from ranking",
			"network", network,
			"node", ep.URL,
			"height", ep.Height,
		)
		s.metrics.RecordNodeSelection(string(network), SourceRanking)
		return ep
	}

	ep = s.fromFallback(network, exclude)
	s.logger.WarnContext(ctx, "node ranking unavailable, using fallback node",
		"network", network,
		"node", ep.URL,
		"error", err,
	)
	s.metrics.RecordNodeSelection(string(network), SourceFallback)
	return ep
}

func (s *Selector) rankingURL(network symbol.Network) string {
	if s.cfg.RankingURL != "" {
		return s.cfg.RankingURL
	}
	return network.Info().RankingURL
}

func (s *Selector) fallbackPool(network symbol.Network) []string {
	if len(s.cfg.FallbackNodes) > 0 {
		return s.cfg.FallbackNodes
	}
	return network.Info().FallbackNodes
}

func (s *Selector) fromRanking(ctx context.Context, network symbol.Network, exclude []string) (Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		s.metrics.RecordRankingDuration(string(network), time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.rankingURL(network), nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Endpoint{}, fmt.Errorf("ranking request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Endpoint{}, fmt.Errorf("ranking returned status %d", resp.StatusCode)
	}

	var nodes []rankedNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return Endpoint{}, fmt.Errorf("failed to decode ranking: %w", err)
	}
	if len(nodes) == 0 {
		return Endpoint{}, fmt.Errorf("ranking returned no nodes")
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Height > nodes[j].Height
	})

	for _, n := range nodes {
		origin, err := Origin(n.Endpoint)
		if err != nil {
			// Only the best candidate is trusted; a malformed top entry means
			// the ranking is unusable.
			return Endpoint{}, fmt.Errorf("invalid ranked endpoint %q: %w", n.Endpoint, err)
		}
		if excluded(origin, exclude) {
			continue
		}
		return Endpoint{
			URL:        origin,
			Height:     uint64(n.Height),
			Source:     SourceRanking,
			SelectedAt: s.now(),
		}, nil
	}
	return Endpoint{}, fmt.Errorf("all ranked nodes excluded")
}

func (s *Selector) fromFallback(network symbol.Network, exclude []string) Endpoint {
	pool := s.fallbackPool(network)
	candidates := make([]string, 0, len(pool))
	for _, node := range pool {
		if !excluded(strings.TrimRight(node, "/"), exclude) {
			candidates = append(candidates, node)
		}
	}
	if len(candidates) == 0 {
		candidates = pool
	}

	var node string
	if len(candidates) > 0 {
		node = strings.TrimRight(candidates[s.pick(len(candidates))], "/")
	}
	return Endpoint{URL: node, Source: SourceFallback, SelectedAt: s.now()}
}

// Origin reduces a node URL to its https origin: the scheme is forced to https
// and any path, query or fragment is dropped.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	return "https://" + u.Host, nil
}

// staticOrigin is like Origin but keeps the configured scheme, so an operator
// can point at a plain-http node.
func staticOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

func excluded(origin string, exclude []string) bool {
	for _, e := range exclude {
		if e != "" && strings.EqualFold(strings.TrimRight(e, "/"), origin) {
			return true
		}
	}
	return false
}
