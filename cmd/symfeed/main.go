package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "symfeed",
		Usage: "Symbol account activity feed CLI",
		Description: `A command-line tool for the symfeed service.

Use this CLI to query Symbol nodes directly, watch an account in the terminal,
follow a running server's feed, and inspect the NATS stream and record archive.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Direct node queries
			{
				Name:  "node",
				Usage: "Node selection and inspection commands",
				Subcommands: []*cli.Command{
					nodeSelectCommand(),
					nodePropertiesCommand(),
				},
			},
			{
				Name:  "account",
				Usage: "Account queries against a Symbol node",
				Subcommands: []*cli.Command{
					accountBalanceCommand(),
					accountHistoryCommand(),
				},
			},
			// In-process tracking
			watchCommand(),
			// Client commands (HTTP API)
			{
				Name:  "feed",
				Usage: "Commands for a running symfeed server",
				Subcommands: []*cli.Command{
					feedListCommand(),
					feedStatusCommand(),
					feedSwitchCommand(),
					feedStreamCommand(),
					feedAwaitCommand(),
				},
			},
			{
				Name:  "tx",
				Usage: "Transaction submission commands",
				Subcommands: []*cli.Command{
					txAnnounceCommand(),
					txHashCommand(),
				},
			},
			// NATS record streaming commands
			{
				Name:  "nats",
				Usage: "NATS record streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Record archive inspection commands",
				Subcommands: []*cli.Command{
					listRecordsCommand(),
					getRecordCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "symfeed server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Symbol network (mainnet or testnet)",
				EnvVars: []string{"SYMBOL_NETWORK"},
				Value:   "mainnet",
			},
			&cli.StringFlag{
				Name:    "node-url",
				Usage:   "Use this node instead of selecting one",
				EnvVars: []string{"NODE_URL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
