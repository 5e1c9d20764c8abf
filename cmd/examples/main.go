package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veiloq/kraken-connector/pkg/kraken/rest"
	"github.com/veiloq/kraken-connector/pkg/logging"
	"github.com/veiloq/kraken-connector/pkg/websocket"
)

func main() {
	// Create logger
	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	// Create REST client (credentials optional for public endpoints)
	client, err := rest.New(rest.Options{
		Key:         os.Getenv("KRAKEN_API_KEY"),
		Secret:      os.Getenv("KRAKEN_API_SECRET"),
		HTTPTimeout: 15 * time.Second,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create client", logging.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fetch server time over REST
	logger.Info("fetching server time")
	serverTime, err := client.Time(ctx)
	if err != nil {
		logger.Error("failed to get server time", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("server time", logging.String("result", string(serverTime)))

	// Fetch the last trade price for a pair
	price, err := client.LastPrice(ctx, "XBT/USD")
	if err != nil {
		logger.Error("failed to get last price", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("last price",
		logging.String("pair", "XBT/USD"),
		logging.String("price", price.String()),
	)

	// Connect the public WebSocket feed
	manager := websocket.NewManager(websocket.Config{Logger: logger})

	logger.Info("connecting to public feed")
	err = manager.Connect(ctx, "public", func(msg websocket.Message) {
		if msg.Err != nil {
			logger.Warn("feed error", logging.Error(msg.Err))
			return
		}
		logger.Info("feed message", logging.String("data", string(msg.Data)))
	})
	if err != nil {
		logger.Error("failed to connect", logging.Error(err))
		os.Exit(1)
	}
	defer manager.CloseAll()

	// Subscribe to real-time candles; queued until the socket is ready and
	// replayed automatically after any reconnect.
	logger.Info("subscribing to ohlc feed")
	err = manager.Subscribe(ctx, "public",
		map[string]interface{}{"name": "ohlc", "interval": 1},
		[]string{"XBT/USD", "ETH/USD"},
	)
	if err != nil {
		logger.Error("failed to subscribe to ohlc", logging.Error(err))
		os.Exit(1)
	}

	// Subscribe to ticker updates on the same connection
	logger.Info("subscribing to ticker feed")
	err = manager.Subscribe(ctx, "public",
		map[string]interface{}{"name": "ticker"},
		[]string{"XBT/USD"},
	)
	if err != nil {
		logger.Error("failed to subscribe to ticker", logging.Error(err))
		os.Exit(1)
	}

	// Private feeds need a WebSockets token from the REST API
	if os.Getenv("KRAKEN_API_KEY") != "" {
		token, err := client.GetWebSocketsToken(ctx)
		if err != nil {
			logger.Error("failed to get websocket token", logging.Error(err))
			os.Exit(1)
		}

		logger.Info("connecting to private feed")
		err = manager.Connect(ctx, "private", func(msg websocket.Message) {
			if msg.Err != nil {
				logger.Warn("private feed error", logging.Error(msg.Err))
				return
			}
			logger.Info("private feed message", logging.String("data", string(msg.Data)))
		})
		if err != nil {
			logger.Error("failed to connect private feed", logging.Error(err))
			os.Exit(1)
		}

		err = manager.Subscribe(ctx, "private",
			map[string]interface{}{"name": "ownTrades", "token": token}, nil)
		if err != nil {
			logger.Error("failed to subscribe to ownTrades", logging.Error(err))
			os.Exit(1)
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("running... press Ctrl+C to exit")
	<-sigChan

	// Cleanup
	logger.Info("shutting down")
	cancel()
}
