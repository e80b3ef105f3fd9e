package session

import (
	"log/slog"
	"net/http"

	"github.com/brojonat/symfeed/service/config"
	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/nodeselect"
	"github.com/brojonat/symfeed/service/notify"
	"github.com/brojonat/symfeed/service/stream"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
)

// NewCoordinatorFromConfig wires the production selector, node client and
// websocket dialer from cfg.
func NewCoordinatorFromConfig(
	cfg *config.Config,
	alerter notify.Alerter,
	broadcaster *tracker.Broadcaster,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	selector := nodeselect.NewSelector(nodeselect.Config{
		StaticURL:     cfg.NodeURL,
		RankingURL:    cfg.RankingURL,
		FallbackNodes: cfg.FallbackNodes,
		Timeout:       cfg.RankingTimeout,
	}, nil, m, logger)

	newClient := func(endpoint string) NodeClient {
		return symbol.NewClient(endpoint, httpClient, m, logger)
	}

	return NewCoordinator(Config{
		Network:        cfg.Network,
		HistoryLimit:   cfg.HistoryLimit,
		ReconnectDelay: cfg.ReconnectDelay,
		NotifyGap:      cfg.NotifyGap,
		NotifyTimeout:  cfg.NotifyTimeout,
		StartupTimeout: cfg.HTTPTimeout,
	}, selector, newClient, stream.NewGorillaDialer(), alerter, broadcaster, m, logger)
}

// NewAlerterFromConfig returns the alerter described by cfg: the log always,
// plus the sound player when NotifyCommand is set. extra alerters, such as a
// terminal bell, are appended.
func NewAlerterFromConfig(cfg *config.Config, logger *slog.Logger, extra ...notify.Alerter) notify.Alerter {
	alerters := notify.Multi{&notify.LogAlert{Logger: logger}}
	if cfg.NotifyCommand != "" {
		alerters = append(alerters, &notify.CommandAlert{
			Command: cfg.NotifyCommand,
			Sounds: map[notify.Kind]string{
				notify.KindUnconfirmed: cfg.SoundUnconfirmed,
				notify.KindConfirmed:   cfg.SoundConfirmed,
			},
		})
	}
	return append(alerters, extra...)
}
