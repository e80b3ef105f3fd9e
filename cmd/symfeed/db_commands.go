package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/symfeed/service/db"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-records",
		Usage:     "List archived records for an account",
		Aliases:   []string{"ls"},
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records",
				Value:   50,
			},
			&cli.StringFlag{
				Name:    "state",
				Aliases: []string{"s"},
				Usage:   "Filter by state (unconfirmed, confirmed)",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address, _, err := symbol.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}
			filter, err := compileJQ(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListRecords(c.Context, address, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			if state := c.String("state"); state != "" {
				filtered := make([]*db.Record, 0, len(records))
				for _, r := range records {
					if r.State == state {
						filtered = append(filtered, r)
					}
				}
				records = filtered
			}

			if c.Bool("json") || filter != nil {
				return outputJSON(c, records, filter)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tSTATE\tAMOUNT\tHEIGHT\tSEEN\tMESSAGE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					truncate(r.Hash, 20),
					r.State,
					formatAmount(r.Amount, r.Direction),
					r.Height,
					r.SeenAt.Format(time.RFC3339),
					truncate(r.Message, 40),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}

func getRecordCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-record",
		Usage:     "Show one archived record",
		ArgsUsage: "ADDRESS HASH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("account address and transaction hash are required")
			}
			address, _, err := symbol.ParseAddress(c.Args().Get(0))
			if err != nil {
				return err
			}
			hash := strings.ToUpper(c.Args().Get(1))

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			r, err := store.GetRecord(c.Context, address, hash)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("record %s not found for %s", hash, address)
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c, r, nil)
			}

			fmt.Fprintf(c.App.Writer, "Hash:      %s\n", r.Hash)
			fmt.Fprintf(c.App.Writer, "Account:   %s (%s)\n", r.Address, r.Network)
			fmt.Fprintf(c.App.Writer, "State:     %s\n", r.State)
			fmt.Fprintf(c.App.Writer, "Amount:    %s\n", formatAmount(r.Amount, r.Direction))
			fmt.Fprintf(c.App.Writer, "Signer:    %s\n", r.Signer)
			fmt.Fprintf(c.App.Writer, "Message:   %s\n", r.Message)
			if r.Height > 0 {
				fmt.Fprintf(c.App.Writer, "Height:    %d\n", r.Height)
			}
			if r.SettledAt != nil {
				fmt.Fprintf(c.App.Writer, "Settled:   %s\n", r.SettledAt.Format(time.RFC3339))
			}
			fmt.Fprintf(c.App.Writer, "Source:    %s\n", r.Source)
			fmt.Fprintf(c.App.Writer, "Seen:      %s\n", r.SeenAt.Format(time.RFC3339))
			fmt.Fprintf(c.App.Writer, "Updated:   %s\n", r.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// Helper functions

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}
