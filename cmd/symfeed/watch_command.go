package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/symfeed/service/config"
	"github.com/brojonat/symfeed/service/notify"
	"github.com/brojonat/symfeed/service/session"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Track an account in this process and print its activity",
		ArgsUsage: "ADDRESS",
		Description: `Select a node, load the account's recent history and follow it live over
the node websocket, exactly like the server does. Settings such as
HISTORY_LIMIT and NOTIFY_COMMAND are read from the environment.

Example:
  symfeed watch NATNE7Q5BITMUTRRN6IB4I7FLSDRDWZA37JGO5Q --bell`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "bell",
				Usage: "Ring the terminal bell on new and confirmed transactions",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			if _, _, err := symbol.ParseAddress(c.Args().First()); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if u := c.String("node-url"); u != "" {
				cfg.NodeURL = u
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if d := c.Duration("duration"); d > 0 {
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			logger := cliLogger()
			var extra []notify.Alerter
			if c.Bool("bell") {
				extra = append(extra, &notify.BellAlert{W: os.Stderr})
			}

			broadcaster := tracker.NewBroadcaster(0, logger)
			defer broadcaster.Close()
			events, unsubscribe := broadcaster.Subscribe()
			defer unsubscribe()

			coordinator := session.NewCoordinatorFromConfig(cfg,
				session.NewAlerterFromConfig(cfg, logger, extra...),
				broadcaster, nil, logger)
			s, err := coordinator.Start(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to start tracking: %w", err)
			}
			defer coordinator.Stop()

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(c.App.Writer, "Watching %s on %s via %s\n\n", s.Address, s.Network.Label(), s.Endpoint.URL)
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if jsonOutput {
						if err := outputJSON(c, ev, nil); err != nil {
							return err
						}
						continue
					}
					printEvent(c.App.Writer, ev)
				}
			}
		},
	}
}

// printEvent writes one record set change as a human-readable line.
func printEvent(w io.Writer, ev tracker.Event) {
	if ev.Record == nil {
		fmt.Fprintf(w, "[%s] %s %s\n", ev.At.Local().Format(time.TimeOnly), ev.Kind, ev.Address)
		return
	}
	r := ev.Record
	when := r.SeenAt
	if r.SettledAt != nil {
		when = *r.SettledAt
	}
	fmt.Fprintf(w, "[%s] %-9s %-11s %s  %s\n",
		when.Local().Format(time.TimeOnly),
		ev.Kind,
		r.State,
		formatSigned(r.SignedAmount()),
		truncate(r.Message, 60),
	)
	fmt.Fprintf(w, "           %s\n", r.ExplorerURL)
}
