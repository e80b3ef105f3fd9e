package main

import (
	"fmt"
	"strings"

	"github.com/brojonat/symfeed/service/symbol"
	"github.com/urfave/cli/v2"
)

func txAnnounceCommand() *cli.Command {
	return &cli.Command{
		Name:      "announce",
		Usage:     "Sign and announce a transaction through the server",
		ArgsUsage: "PAYLOAD",
		Description: `Send an unsigned transaction payload (hex) to the server, which has it
signed by the configured signer and announces it to the tracked account's node.

Example:
  symfeed tx announce 0000...`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction payload is required")
			}
			cl, err := feedClient(c)
			if err != nil {
				return err
			}
			res, err := cl.Submit(c.Context, strings.TrimSpace(c.Args().First()))
			if err != nil {
				return fmt.Errorf("failed to announce transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, res, nil)
			}
			fmt.Fprintln(c.App.Writer, "✓ Transaction announced")
			if res.Hash != "" {
				fmt.Fprintf(c.App.Writer, "  Hash: %s\n", res.Hash)
				fmt.Fprintf(c.App.Writer, "  Wait for it: symfeed feed await %s --confirmed\n", res.Hash)
			}
			return nil
		},
	}
}

func txHashCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash",
		Usage:     "Compute the hash of a signed transaction payload",
		ArgsUsage: "SIGNED_PAYLOAD",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "seed",
				Usage: "Network generation hash seed (read from a node when omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("signed payload is required")
			}
			seed := c.String("seed")
			if seed == "" {
				network, err := networkFlag(c)
				if err != nil {
					return err
				}
				client, ep := nodeClient(c, network, cliLogger())
				props, err := client.NetworkProperties(c.Context)
				if err != nil {
					return fmt.Errorf("failed to get generation hash seed from %s: %w", ep.URL, err)
				}
				seed = props.Network.GenerationHashSeed
			}

			hash, err := symbol.TransactionHash(strings.TrimSpace(c.Args().First()), seed)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, hash)
			return nil
		},
	}
}
