package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/brojonat/symfeed/client"
	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health and what it is tracking",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			cl := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, cliLogger())
			if err := cl.Health(ctx); err != nil {
				return fmt.Errorf("server is unhealthy: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL:      %s\n", serverURL)

			st, err := cl.Status(ctx)
			switch {
			case errors.Is(err, client.ErrNotFound):
				fmt.Fprintf(c.App.Writer, "  Tracking: nothing\n")
			case err != nil:
				fmt.Fprintf(c.App.Writer, "  Tracking: unknown (%v)\n", err)
			default:
				fmt.Fprintf(c.App.Writer, "  Tracking: %s (%s, %s)\n", st.Address, st.Network, st.Connection)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return outputJSON(c, map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
					"go":      runtime.Version(),
				}, nil)
			}
			fmt.Fprintf(c.App.Writer, "symfeed %s\n", version)
			fmt.Fprintf(c.App.Writer, "  commit: %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  built:  %s\n", date)
			fmt.Fprintf(c.App.Writer, "  go:     %s\n", runtime.Version())
			return nil
		},
	}
}
