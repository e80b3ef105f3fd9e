package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/brojonat/symfeed/service/symbol"
	"github.com/urfave/cli/v2"
)

// historyEntry is one confirmed transaction as printed by account history.
type historyEntry struct {
	Hash        string   `json:"hash"`
	Height      uint64   `json:"height"`
	Signer      string   `json:"signer"`
	Message     string   `json:"message"`
	Amount      *float64 `json:"amount"`
	Direction   string   `json:"direction,omitempty"`
	ExplorerURL string   `json:"explorer_url"`
}

// nativeMosaicIDs returns the ids counted as the network currency, asking the
// node first and falling back to the built-in ones.
func nativeMosaicIDs(ctx context.Context, client *symbol.Client, network symbol.Network) []string {
	var ids []string
	if props, err := client.NetworkProperties(ctx); err == nil {
		if id := props.CurrencyMosaicID(); id != "" {
			ids = append(ids, id)
		}
	}
	return append(ids, network.Info().NativeMosaicID, symbol.NamespaceAliasXYM)
}

func accountBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show an account's native currency balance",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address, network, err := symbol.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}

			client, ep := nodeClient(c, network, cliLogger())
			acct, err := client.Account(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to get account from %s: %w", ep.URL, err)
			}
			bal := symbol.NativeBalance(*acct, nativeMosaicIDs(c.Context, client, network)...)
			bal.Address = address

			if c.Bool("json") {
				return outputJSON(c, bal, nil)
			}
			fmt.Fprintf(c.App.Writer, "Account: %s (%s)\n", address, network.Label())
			fmt.Fprintf(c.App.Writer, "Balance: %.6f XYM\n", bal.Amount)
			return nil
		},
	}
}

func accountHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List an account's most recent confirmed transactions",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of transactions to fetch (1-100)",
				Value: 50,
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			limit := c.Int("limit")
			if limit < 1 || limit > 100 {
				return fmt.Errorf("limit must be between 1 and 100")
			}
			filter, err := compileJQ(c)
			if err != nil {
				return err
			}
			address, network, err := symbol.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}

			client, ep := nodeClient(c, network, cliLogger())
			infos, err := client.ConfirmedTransactions(c.Context, address, limit)
			if err != nil {
				return fmt.Errorf("failed to get transactions from %s: %w", ep.URL, err)
			}
			nativeIDs := nativeMosaicIDs(c.Context, client, network)

			entries := make([]historyEntry, 0, len(infos))
			for _, info := range infos {
				e := historyEntry{
					Hash:        info.Meta.Hash,
					Height:      uint64(info.Meta.Height),
					Signer:      info.Transaction.SignerPublicKey,
					Message:     symbol.DecodeMessage(string(info.Transaction.Message)),
					ExplorerURL: network.ExplorerTransactionURL(info.Meta.Hash),
				}
				if tr, ok := symbol.ExtractTransfer(info.Transaction, address, nativeIDs...); ok {
					amount := tr.Amount
					e.Amount = &amount
					e.Direction = string(tr.Direction)
				}
				entries = append(entries, e)
			}

			if c.Bool("json") || filter != nil {
				return outputJSON(c, entries, filter)
			}

			if len(entries) == 0 {
				fmt.Fprintln(c.App.Writer, "No confirmed transactions found")
				return nil
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tHEIGHT\tAMOUNT\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					truncate(e.Hash, 20),
					e.Height,
					formatAmount(e.Amount, e.Direction),
					truncate(e.Message, 40),
				)
			}
			w.Flush()
			fmt.Fprintf(c.App.Writer, "\nTotal: %d transactions\n", len(entries))
			return nil
		},
	}
}
