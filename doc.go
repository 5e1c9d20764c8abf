// Package kraken-connector provides a client library for the Kraken
// cryptocurrency exchange: signed REST calls and managed WebSocket feeds.
//
// Core Features:
//
//   - REST API access to public market data and private account endpoints
//   - HMAC-SHA512 request signing with strictly increasing nonces
//   - Synchronous and channel-based asynchronous call shapes
//   - WebSocket subscriptions for real-time data
//   - Automatic connection management, reconnection and subscription replay
//   - Rate limiting protection based on exchange requirements
//
// The library is organized around two entry points: rest.Client for request/
// response interaction and websocket.Manager for streaming feeds. A small CLI
// (cmd/krakenctl) exposes the REST surface from the command line.
//
// # Standard Errors
//
// REST failures are distinguished by type so callers can react precisely:
//
//   - APIError: the exchange answered HTTP 200 but the response envelope's
//     error array is non-empty (authentication, argument or business errors)
//
//   - HTTPError: the exchange answered with a non-2xx status
//
//   - ErrNoCredentials: a private endpoint was called on a client built
//     without an API key pair
//
// WebSocket failures never escape the receive loop. Connection loss triggers
// automatic reconnection; malformed inbound frames are delivered to the
// handler as a Message carrying a ProtocolError.
//
// # Examples
//
// Fetching market data over REST:
//
//	client, err := rest.New(rest.Options{})
//	if err != nil {
//	    log.Fatalf("failed to create client: %v", err)
//	}
//
//	ticker, err := client.Ticker(ctx, "XBT/USD")
//	if err != nil {
//	    log.Fatalf("failed to get ticker: %v", err)
//	}
//
// Private endpoints need credentials at construction:
//
//	client, err := rest.New(rest.Options{
//	    Key:    os.Getenv("KRAKEN_API_KEY"),
//	    Secret: os.Getenv("KRAKEN_API_SECRET"),
//	})
//	if err != nil {
//	    log.Fatalf("invalid credentials: %v", err)
//	}
//
//	balance, err := client.Balance(ctx)
//
// Streaming real-time candles:
//
//	manager := websocket.NewManager(websocket.DefaultConfig())
//
//	err := manager.Connect(ctx, "public", func(msg websocket.Message) {
//	    if msg.Err != nil {
//	        log.Printf("feed error: %v", msg.Err)
//	        return
//	    }
//	    fmt.Printf("frame: %s\n", msg.Data)
//	})
//	if err != nil {
//	    log.Fatalf("failed to connect: %v", err)
//	}
//	defer manager.CloseAll()
//
//	err = manager.Subscribe(ctx, "public",
//	    map[string]interface{}{"name": "ohlc", "interval": 1},
//	    []string{"XBT/USD"})
//
// Subscriptions are durable: they may be issued before the socket is up and
// are replayed automatically after every reconnect, so callers never need to
// track connection state themselves.
package krakenconnector
