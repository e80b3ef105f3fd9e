package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/symfeed/service/nodeselect"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jqFlag is the --jq flag of the commands that print records.
func jqFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "jq",
		Usage: "jq filter applied to the JSON output",
	}
}

// cliLogger only reports errors so command output stays readable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// outputJSON writes v as indented JSON, or the results of filter applied to
// it when filter is non-nil.
func outputJSON(c *cli.Context, v interface{}, filter *gojq.Code) error {
	w := c.App.Writer
	if w == nil {
		w = os.Stdout
	}
	if filter == nil {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	results, err := runJQ(filter, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

// compileJQ parses and compiles the --jq flag; an empty flag yields nil.
func compileJQ(c *cli.Context) (*gojq.Code, error) {
	filter := c.String("jq")
	if filter == "" {
		return nil, nil
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ evaluates code against v after converting v to plain JSON values.
func runJQ(code *gojq.Code, v interface{}) ([]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jq input: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode jq input: %w", err)
	}

	var results []interface{}
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq filter failed: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

// networkFlag resolves the global --network flag.
func networkFlag(c *cli.Context) (symbol.Network, error) {
	return symbol.ParseNetwork(c.String("network"))
}

// newSelector builds a selector honoring the global --node-url flag.
func newSelector(c *cli.Context, logger *slog.Logger) *nodeselect.Selector {
	return nodeselect.NewSelector(nodeselect.Config{
		StaticURL: c.String("node-url"),
	}, &http.Client{Timeout: 10 * time.Second}, nil, logger)
}

// nodeClient selects a node for network and returns a client for it.
func nodeClient(c *cli.Context, network symbol.Network, logger *slog.Logger) (*symbol.Client, nodeselect.Endpoint) {
	ep := newSelector(c, logger).Select(c.Context, network)
	return symbol.NewClient(ep.URL, &http.Client{Timeout: 30 * time.Second}, nil, logger), ep
}

func formatAmount(amount *float64, direction string) string {
	if amount == nil || direction != string(symbol.DirectionSend) {
		return formatSigned(amount)
	}
	v := -*amount
	return formatSigned(&v)
}

func formatSigned(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+.6f", *v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
