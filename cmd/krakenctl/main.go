// Command krakenctl invokes Kraken REST endpoints from the command line:
//
//	krakenctl time
//	krakenctl ticker pair=XBT/USD
//	krakenctl add_order pair=XBT/USD type=buy ordertype=limit volume=0.5 price=30000
//
// Credentials for private endpoints come from KRAKEN_API_KEY and
// KRAKEN_API_SECRET, read from the process environment or an env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/veiloq/kraken-connector/pkg/cli"
	"github.com/veiloq/kraken-connector/pkg/kraken/rest"
	"github.com/veiloq/kraken-connector/pkg/logging"
)

func main() {
	envFile := flag.String("env", ".env", "env-format file holding KRAKEN_API_KEY and KRAKEN_API_SECRET")
	timeout := flag.Duration("timeout", 15*time.Second, "HTTP request timeout")
	debug := flag.Bool("debug", false, "log requests and responses (credentials redacted)")
	flag.Parse()

	logger := logging.NewLogger()
	if *debug {
		logger.SetLevel(logging.DEBUG)
	}

	creds, err := cli.LoadCredentials(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitError)
	}

	client, err := rest.New(rest.Options{
		Key:         creds.Key,
		Secret:      creds.Secret,
		HTTPTimeout: *timeout,
		Debug:       *debug,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitError)
	}

	ctx := context.WithValue(context.Background(), "trace_id", uuid.NewString())
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := cli.Run(ctx, client, flag.Args(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
