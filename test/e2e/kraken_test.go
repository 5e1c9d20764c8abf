package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/avast/retry-go"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/kraken-connector/pkg/kraken/rest"
	"github.com/veiloq/kraken-connector/pkg/logging"
	"github.com/veiloq/kraken-connector/pkg/websocket"
)

// TestKraken_E2E performs end-to-end testing against the actual Kraken API.
//
// Public subtests need only network access. To also run the private subtests:
// KRAKEN_API_KEY=your_api_key KRAKEN_API_SECRET=your_api_secret go test -v ./test/e2e
func TestKraken_E2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	// Create logger for debugging
	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	// Get API credentials
	apiKey := os.Getenv("KRAKEN_API_KEY")
	apiSecret := os.Getenv("KRAKEN_API_SECRET")

	client, err := rest.New(rest.Options{
		Key:    apiKey,
		Secret: apiSecret,
		Logger: logger,
	})
	require.NoError(t, err, "failed to create client")

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	t.Run("Time", func(t *testing.T) {
		result, err := client.Time(ctx)
		require.NoError(t, err, "failed to get server time")

		var serverTime struct {
			Unixtime int64 `json:"unixtime"`
		}
		require.NoError(t, json.Unmarshal(result, &serverTime))
		require.Greater(t, serverTime.Unixtime, int64(0))
	})

	t.Run("Ticker", func(t *testing.T) {
		result, err := client.Ticker(ctx, "XBTUSD")
		require.NoError(t, err, "failed to get ticker")
		require.NotEmpty(t, result)
	})

	t.Run("LastPrice", func(t *testing.T) {
		price, err := client.LastPrice(ctx, "XBTUSD")
		require.NoError(t, err, "failed to get last price")
		require.True(t, price.IsPositive(), "last price must be positive, got %s", price)
	})

	t.Run("Balance", func(t *testing.T) {
		if apiKey == "" || apiSecret == "" {
			t.Skip("skipping private endpoint test - requires API credentials")
		}

		result, err := client.Balance(ctx)
		require.NoError(t, err, "failed to get balance")
		require.NotNil(t, result)
	})

	// Test WebSocket subscription with live market data
	t.Run("WebSocketSubscription", func(t *testing.T) {
		manager := websocket.NewManager(websocket.Config{Logger: logger})

		messages := make(chan websocket.Message, 64)
		err := manager.Connect(ctx, "public", func(msg websocket.Message) {
			select {
			case messages <- msg:
			default:
			}
		})
		require.NoError(t, err, "failed to connect")
		defer manager.CloseAll()

		err = manager.Subscribe(ctx, "public",
			map[string]interface{}{"name": "ticker"},
			[]string{"XBT/USD"},
		)
		require.NoError(t, err, "failed to subscribe to ticker")

		// Wait for a data frame (not just subscription status events)
		var receivedData bool
		err = retry.Do(
			func() error {
				select {
				case msg := <-messages:
					if msg.Err != nil {
						return msg.Err
					}
					// Data frames are JSON arrays; event frames are objects.
					if len(msg.Data) > 0 && msg.Data[0] == '[' {
						receivedData = true
						return nil
					}
					return fmt.Errorf("waiting for data frame")
				case <-time.After(time.Second):
					return fmt.Errorf("waiting for WebSocket messages")
				}
			},
			retry.Attempts(30),
			retry.Delay(1*time.Second),
			retry.DelayType(retry.FixedDelay),
			retry.OnRetry(func(n uint, err error) {
				t.Logf("Retry %d: %v", n+1, err)
			}),
		)
		require.NoError(t, err, "timeout waiting for WebSocket updates")
		require.True(t, receivedData, "did not receive a ticker data frame")

		require.Equal(t, websocket.StateReady, manager.State("public"))
	})

	// Test explicit close semantics
	t.Run("Close", func(t *testing.T) {
		manager := websocket.NewManager(websocket.Config{Logger: logger})

		require.NoError(t, manager.Connect(ctx, "public", nil))

		deadline := time.Now().Add(30 * time.Second)
		for manager.State("public") != websocket.StateReady && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		require.Equal(t, websocket.StateReady, manager.State("public"))

		require.NoError(t, manager.Close("public"))
		require.Equal(t, websocket.StateClosed, manager.State("public"))
	})
}
