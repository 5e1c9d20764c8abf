// Package cli maps command-line invocations of the form
//
//	<program> <command> [key=value ...]
//
// onto REST API calls and prints the JSON result. Command names resolve
// against an explicit registry built at startup; there is no runtime
// introspection of the client's surface.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/veiloq/kraken-connector/pkg/kraken/rest"
)

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitError = 1 // network, API or signing failure
	ExitUsage = 2 // unknown command, malformed or missing arguments
)

// command describes one invocable REST endpoint: its wire name, whether it
// needs signing, and the form keys that must be present.
type command struct {
	endpoint string
	private  bool
	required []string
}

// registry maps CLI command names to endpoint descriptors. Names follow the
// exchange's endpoint names, lowercased with underscores.
var registry = map[string]command{
	"time":           {endpoint: "Time"},
	"system_status":  {endpoint: "SystemStatus"},
	"assets":         {endpoint: "Assets"},
	"asset_pairs":    {endpoint: "AssetPairs"},
	"ticker":         {endpoint: "Ticker", required: []string{"pair"}},
	"ohlc":           {endpoint: "OHLC", required: []string{"pair"}},
	"depth":          {endpoint: "Depth", required: []string{"pair"}},
	"trades":         {endpoint: "Trades", required: []string{"pair"}},
	"spread":         {endpoint: "Spread", required: []string{"pair"}},
	"balance":        {endpoint: "Balance", private: true},
	"trade_balance":  {endpoint: "TradeBalance", private: true},
	"open_orders":    {endpoint: "OpenOrders", private: true},
	"closed_orders":  {endpoint: "ClosedOrders", private: true},
	"query_orders":   {endpoint: "QueryOrders", private: true, required: []string{"txid"}},
	"trades_history": {endpoint: "TradesHistory", private: true},
	"query_trades":   {endpoint: "QueryTrades", private: true, required: []string{"txid"}},
	"open_positions": {endpoint: "OpenPositions", private: true},
	"ledgers":        {endpoint: "Ledgers", private: true},
	"query_ledgers":  {endpoint: "QueryLedgers", private: true, required: []string{"id"}},
	"trade_volume":   {endpoint: "TradeVolume", private: true},
	"add_export":     {endpoint: "AddExport", private: true, required: []string{"description", "report"}},
	"add_order":      {endpoint: "AddOrder", private: true, required: []string{"pair", "type", "ordertype", "volume"}},
	"cancel_order":   {endpoint: "CancelOrder", private: true, required: []string{"txid"}},
	"ws_token":       {endpoint: "GetWebSocketsToken", private: true},
}

// Commands returns the registered command names, sorted.
func Commands() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseArgs converts key=value arguments into form values. Each value is
// coerced before transmission; a missing '=' is a usage error.
func parseArgs(args []string) (url.Values, error) {
	form := url.Values{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed argument %q, want key=value", arg)
		}
		form.Set(key, coerceValue(value))
	}
	return form, nil
}

// coerceValue canonicalizes an argument value the way a user would expect:
// boolean spellings collapse to "true"/"false", integers are re-rendered
// without leading zeros, and everything else passes through untouched.
// Decimal strings are deliberately not reformatted so order volumes and
// prices keep the caller's exact precision.
func coerceValue(value string) string {
	switch strings.ToLower(value) {
	case "true", "yes":
		return "true"
	case "false", "no":
		return "false"
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return value
}

// Run resolves and executes one command against the client, writing the JSON
// result to stdout or a formatted error to stderr, and returns the process
// exit code.
func Run(ctx context.Context, client *rest.Client, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "usage: <command> [key=value ...]\ncommands: %s\n",
			strings.Join(Commands(), ", "))
		return ExitUsage
	}

	name := strings.ToLower(args[0])
	cmd, ok := registry[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\ncommands: %s\n",
			name, strings.Join(Commands(), ", "))
		return ExitUsage
	}

	form, err := parseArgs(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}
	for _, key := range cmd.required {
		if form.Get(key) == "" {
			fmt.Fprintf(stderr, "command %q requires %s=<value>\n", name, key)
			return ExitUsage
		}
	}

	var result json.RawMessage
	if cmd.private {
		result, err = client.Private(ctx, cmd.endpoint, form)
	} else {
		result, err = client.Public(ctx, cmd.endpoint, form)
	}
	if err != nil {
		printError(stderr, err)
		return ExitError
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(result))
		return ExitOK
	}
	fmt.Fprintln(stdout, pretty.String())
	return ExitOK
}

func printError(stderr io.Writer, err error) {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(stderr, "api error: %s\n", strings.Join(apiErr.Messages, "; "))
		return
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
}
