package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/symfeed/client"
	"github.com/urfave/cli/v2"
)

func feedClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, cliLogger()), nil
}

func feedListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the records tracked by the server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records (0 for all)",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c)
			if err != nil {
				return err
			}
			cl, err := feedClient(c)
			if err != nil {
				return err
			}

			records, err := cl.Records(c.Context, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			if c.Bool("json") || filter != nil {
				return outputJSON(c, records, filter)
			}

			if len(records) == 0 {
				fmt.Fprintln(c.App.Writer, "No records found")
				return nil
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tSTATE\tAMOUNT\tSETTLED\tMESSAGE")
			for _, r := range records {
				settled := "-"
				if r.SettledAt != nil {
					settled = r.SettledAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					truncate(r.Hash, 20),
					r.State,
					formatAmount(r.Amount, r.Direction),
					settled,
					truncate(r.Message, 40),
				)
			}
			w.Flush()
			fmt.Fprintf(c.App.Writer, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}

func feedStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the server's tracking session",
		Action: func(c *cli.Context) error {
			cl, err := feedClient(c)
			if err != nil {
				return err
			}
			st, err := cl.Status(c.Context)
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("the server is not tracking an account")
			}
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, st, nil)
			}
			fmt.Fprintf(c.App.Writer, "Account:    %s (%s)\n", st.Address, st.Network)
			fmt.Fprintf(c.App.Writer, "Session:    %s\n", st.SessionID)
			fmt.Fprintf(c.App.Writer, "Node:       %s (%s)\n", st.Endpoint.URL, st.Endpoint.Source)
			fmt.Fprintf(c.App.Writer, "Connection: %s (opens: %d)\n", st.Connection, st.Opens)
			fmt.Fprintf(c.App.Writer, "History:    %s\n", st.History)
			if st.HistoryError != "" {
				fmt.Fprintf(c.App.Writer, "            %s\n", st.HistoryError)
			}
			fmt.Fprintf(c.App.Writer, "Records:    %d\n", st.Records)
			if len(st.Topics) > 0 {
				fmt.Fprintf(c.App.Writer, "Topics:     %s\n", strings.Join(st.Topics, ", "))
			}
			return nil
		},
	}
}

func feedSwitchCommand() *cli.Command {
	return &cli.Command{
		Name:      "switch",
		Usage:     "Make the server track another account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			cl, err := feedClient(c)
			if err != nil {
				return err
			}
			sw, err := cl.SwitchAccount(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to switch account: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c, sw, nil)
			}
			fmt.Fprintf(c.App.Writer, "✓ Now tracking %s (%s)\n", sw.Address, sw.Network)
			fmt.Fprintf(c.App.Writer, "  Session: %s\n", sw.SessionID)
			return nil
		},
	}
}

func feedStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Follow the server's record stream",
		Description: `Print record changes as they happen until interrupted.

Example:
  symfeed feed stream --jq 'select(.record.amount != null) | .record.hash'`,
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c)
			if err != nil {
				return err
			}
			cl, err := feedClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			jsonOutput := c.Bool("json") || filter != nil
			err = cl.Stream(ctx, func(ev client.StreamEvent) error {
				if ev.Event == nil {
					if !jsonOutput {
						fmt.Fprintf(c.App.Writer, "Connected: %s\n\n", ev.Raw)
					}
					return nil
				}
				if jsonOutput {
					return outputJSON(c, ev.Event, filter)
				}
				printClientEvent(c.App.Writer, ev.Name, ev.Event)
				return nil
			})
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		},
	}
}

func feedAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transaction appears in the feed",
		ArgsUsage: "HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "confirmed",
				Usage: "Wait until the transaction is confirmed",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait",
				Value: 5 * time.Minute,
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction hash is required")
			}
			filter, err := compileJQ(c)
			if err != nil {
				return err
			}
			cl, err := feedClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			rec, err := cl.Await(ctx, c.Args().First(), c.Bool("confirmed"))
			if err != nil {
				return fmt.Errorf("failed to await transaction: %w", err)
			}

			if c.Bool("json") || filter != nil {
				return outputJSON(c, rec, filter)
			}
			fmt.Fprintf(c.App.Writer, "✓ Transaction %s is %s\n", rec.Hash, rec.State)
			fmt.Fprintf(c.App.Writer, "  %s\n", rec.ExplorerURL)
			return nil
		},
	}
}

func printClientEvent(w io.Writer, name string, ev *client.Event) {
	if ev.Record == nil {
		fmt.Fprintf(w, "[%s] %s %s\n", ev.At.Local().Format(time.TimeOnly), name, ev.Address)
		return
	}
	r := ev.Record
	fmt.Fprintf(w, "[%s] %-7s %-11s %s  %s\n",
		ev.At.Local().Format(time.TimeOnly),
		name,
		r.State,
		formatAmount(r.Amount, r.Direction),
		truncate(r.Message, 60),
	)
}
