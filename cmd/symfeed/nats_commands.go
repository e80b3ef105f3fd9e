package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/symfeed/service/nats"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to record events for an account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to record events for an account",
		ArgsUsage: "ADDRESS",
		Description: `Subscribe to record events published to NATS JetStream by the server.

Events are published to the subject: records.{address}

Example:
  symfeed nats subscribe NATNE7Q5BITMUTRRN6IB4I7FLSDRDWZA37JGO5Q --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "symfeed-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			address, _, err := symbol.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}

			return streamRecords(c, address)
		},
	}
}

// streamRecords connects to NATS and prints record events until interrupted.
func streamRecords(c *cli.Context, address string) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.Subject(address)
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.Bool("all") {
		consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(c.App.Writer, "Subscribed to %s (press Ctrl+C to stop)\n\n", subject)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case msg := <-msgChan:
			var event natspkg.RecordEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(c.App.Writer, string(data))
			} else {
				fmt.Fprintf(c.App.Writer, "%s %s (%s)\n", event.Kind, event.Hash, event.State)
				fmt.Fprintf(c.App.Writer, "  Amount:    %s\n", formatAmount(event.Amount, event.Direction))
				if event.Message != "" {
					fmt.Fprintf(c.App.Writer, "  Message:   %s\n", event.Message)
				}
				fmt.Fprintf(c.App.Writer, "  Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
			}
			msg.Ack()

		case <-ctx.Done():
			return nil
		}
	}
}
