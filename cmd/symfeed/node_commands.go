package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func nodeSelectCommand() *cli.Command {
	return &cli.Command{
		Name:  "select",
		Usage: "Select a node the way the server does",
		Description: `Ask the ranking service for the highest node of the network, falling back
to the static pool when the ranking is unavailable.

Example:
  symfeed --network testnet node select`,
		Action: func(c *cli.Context) error {
			network, err := networkFlag(c)
			if err != nil {
				return err
			}

			ep := newSelector(c, cliLogger()).Select(c.Context, network)

			if c.Bool("json") {
				return outputJSON(c, ep, nil)
			}
			fmt.Fprintf(c.App.Writer, "Node:   %s\n", ep.URL)
			fmt.Fprintf(c.App.Writer, "Source: %s\n", ep.Source)
			if ep.Height > 0 {
				fmt.Fprintf(c.App.Writer, "Height: %d\n", ep.Height)
			}
			return nil
		},
	}
}

func nodePropertiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "properties",
		Usage: "Show the network properties reported by a node",
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			network, err := networkFlag(c)
			if err != nil {
				return err
			}
			filter, err := compileJQ(c)
			if err != nil {
				return err
			}

			client, ep := nodeClient(c, network, cliLogger())
			props, err := client.NetworkProperties(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get network properties from %s: %w", ep.URL, err)
			}

			if c.Bool("json") || filter != nil {
				return outputJSON(c, props, filter)
			}

			fmt.Fprintf(c.App.Writer, "Node:                 %s\n", ep.URL)
			fmt.Fprintf(c.App.Writer, "Identifier:           %s\n", props.Network.Identifier)
			fmt.Fprintf(c.App.Writer, "Generation hash seed: %s\n", props.Network.GenerationHashSeed)
			fmt.Fprintf(c.App.Writer, "Currency mosaic:      %s\n", props.CurrencyMosaicID())
			if epoch, err := props.Epoch(); err == nil {
				fmt.Fprintf(c.App.Writer, "Epoch:                %s\n", epoch.Format(time.RFC3339))
			}
			return nil
		},
	}
}
