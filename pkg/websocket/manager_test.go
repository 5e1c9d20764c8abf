package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(wsURL string) Config {
	return Config{
		Endpoints: map[string]string{
			"public": wsURL,
		},
		HandshakeTimeout:     time.Second,
		HeartbeatInterval:    time.Second,
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectInterval: 100 * time.Millisecond,
	}
}

func waitState(t *testing.T, m Manager, name string, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.State(name) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %q never reached state %s (now %s)", name, want, m.State(name))
}

func decodeFrame(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestManager_ConnectAndReceive(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	manager := NewManager(testConfig(wsURL))

	received := make(chan Message, 16)
	err := manager.Connect(context.Background(), "public", func(msg Message) {
		received <- msg
	})
	require.NoError(t, err)
	waitState(t, manager, "public", StateReady)

	mock.Broadcast([]byte(`{"event":"heartbeat"}`))

	select {
	case msg := <-received:
		require.NoError(t, msg.Err)
		assert.Equal(t, "public", msg.Connection)
		assert.JSONEq(t, `{"event":"heartbeat"}`, string(msg.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	require.NoError(t, manager.Close("public"))
	assert.Equal(t, StateClosed, manager.State("public"))
}

func TestManager_UnknownEndpoint(t *testing.T) {
	manager := NewManager(testConfig("ws://unused"))

	err := manager.Connect(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestManager_ConnectTwice(t *testing.T) {
	_, wsURL := setupMockServer(t)
	manager := NewManager(testConfig(wsURL))

	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	err := manager.Connect(context.Background(), "public", nil)
	require.ErrorIs(t, err, ErrAlreadyConnected)

	require.NoError(t, manager.Close("public"))
}

func TestManager_SubscribeUnknownConnection(t *testing.T) {
	_, wsURL := setupMockServer(t)
	manager := NewManager(testConfig(wsURL))

	err := manager.Subscribe(context.Background(), "public",
		map[string]interface{}{"name": "ticker"}, []string{"XBT/USD"})
	require.ErrorIs(t, err, ErrConnectionNotFound)
}

// Subscriptions issued while the first dial is still failing must be queued
// and sent exactly once, in issue order, during the first replay step.
func TestManager_QueuedSubscriptionsReplayInOrder(t *testing.T) {
	mock, wsURL := setupMockServer(t)
	mock.SetRejectConnection(true)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	defer manager.Close("public")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := manager.Subscribe(ctx,
			"public",
			map[string]interface{}{"name": "trade", "seq": i},
			[]string{"XBT/USD"},
		)
		require.NoError(t, err)
	}

	// No socket yet, so nothing may have been transmitted.
	assert.Empty(t, mock.GetMessageBuffer())

	mock.SetRejectConnection(false)
	waitState(t, manager, "public", StateReady)

	var frames [][]byte
	require.Eventually(t, func() bool {
		frames = mock.GetMessageBuffer()
		return len(frames) == 3
	}, 5*time.Second, 10*time.Millisecond, "expected exactly 3 subscribe frames")

	for i, data := range frames {
		frame := decodeFrame(t, data)
		assert.Equal(t, "subscribe", frame["event"])
		sub := frame["subscription"].(map[string]interface{})
		assert.Equal(t, float64(i), sub["seq"], "replay must preserve issue order")
	}

	// Exactly once: no duplicates arrive later.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, mock.GetMessageBuffer(), 3)
}

// A subscription issued while the replay of earlier subscriptions is still in
// flight must be transmitted on the current socket generation, not stranded
// until the next reconnect.
func TestManager_SubscribeDuringReplayIsSent(t *testing.T) {
	mock, wsURL := setupMockServer(t)
	mock.SetRejectConnection(true)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	defer manager.Close("public")

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, manager.Subscribe(ctx,
			"public",
			map[string]interface{}{"name": "trade", "seq": i},
			[]string{"XBT/USD"},
		))
	}

	// Issue one more subscription the moment the first replayed frame hits
	// the wire, while the replay loop is still working through its snapshot.
	var once sync.Once
	mock.OnMessage(func(conn *websocket.Conn, data []byte) {
		once.Do(func() {
			go func() {
				_ = manager.Subscribe(ctx, "public",
					map[string]interface{}{"name": "ticker"}, []string{"ETH/USD"})
			}()
		})
	})

	mock.SetRejectConnection(false)
	waitState(t, manager, "public", StateReady)

	var frames [][]byte
	require.Eventually(t, func() bool {
		frames = mock.GetMessageBuffer()
		return len(frames) == 6
	}, 5*time.Second, 10*time.Millisecond,
		"the mid-replay subscription must arrive without a reconnect")

	counts := make(map[string]int)
	for _, data := range frames {
		frame := decodeFrame(t, data)
		assert.Equal(t, "subscribe", frame["event"])
		sub := frame["subscription"].(map[string]interface{})
		counts[sub["name"].(string)]++
	}
	assert.Equal(t, 5, counts["trade"], "snapshot subscriptions sent exactly once")
	assert.Equal(t, 1, counts["ticker"], "mid-replay subscription sent exactly once")

	// Single successful dial: nothing here required a reconnect.
	assert.Equal(t, int64(1), manager.Metrics("public").ReconnectCount)
}

// The documented scenario: an ohlc subscription with interval 30 for two
// pairs, issued before the socket is up, yields one subscribe frame carrying
// both pairs once the socket opens.
func TestManager_OHLCSubscriptionScenario(t *testing.T) {
	mock, wsURL := setupMockServer(t)
	mock.SetRejectConnection(true)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	defer manager.Close("public")

	err := manager.Subscribe(context.Background(), "public",
		map[string]interface{}{"name": "ohlc", "interval": 30},
		[]string{"XBT/USD", "ETH/USD"},
	)
	require.NoError(t, err)

	mock.SetRejectConnection(false)
	waitState(t, manager, "public", StateReady)

	var frames [][]byte
	require.Eventually(t, func() bool {
		frames = mock.GetMessageBuffer()
		return len(frames) == 1
	}, 5*time.Second, 10*time.Millisecond)

	frame := decodeFrame(t, frames[0])
	assert.Equal(t, "subscribe", frame["event"])
	sub := frame["subscription"].(map[string]interface{})
	assert.Equal(t, "ohlc", sub["name"])
	assert.Equal(t, float64(30), sub["interval"])
	assert.Equal(t, []interface{}{"XBT/USD", "ETH/USD"}, frame["pair"])
}

// After a remote drop the manager must reconnect and re-send every active
// subscription before any post-reconnect data reaches the handler.
func TestManager_ReconnectReplaysSubscriptions(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	var connects int
	var connectsMu sync.Mutex
	mock.OnConnect(func(conn *websocket.Conn) {
		connectsMu.Lock()
		connects++
		connectsMu.Unlock()
	})

	manager := NewManager(testConfig(wsURL))

	received := make(chan Message, 16)
	require.NoError(t, manager.Connect(context.Background(), "public", func(msg Message) {
		received <- msg
	}))
	defer manager.Close("public")
	waitState(t, manager, "public", StateReady)

	err := manager.Subscribe(context.Background(), "public",
		map[string]interface{}{"name": "ticker"}, []string{"XBT/USD"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(mock.GetMessageBuffer()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	mock.ClearMessageBuffer()

	// Kill the socket from the server side.
	mock.DropAll()

	require.Eventually(t, func() bool {
		connectsMu.Lock()
		defer connectsMu.Unlock()
		return connects >= 2
	}, 5*time.Second, 10*time.Millisecond, "expected a reconnect")
	waitState(t, manager, "public", StateReady)

	// The replayed subscribe frame must be the first thing on the new socket.
	var frames [][]byte
	require.Eventually(t, func() bool {
		frames = mock.GetMessageBuffer()
		return len(frames) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	frame := decodeFrame(t, frames[0])
	assert.Equal(t, "subscribe", frame["event"])
	assert.Equal(t, "ticker", frame["subscription"].(map[string]interface{})["name"])

	// And data flows again after the replay.
	mock.Broadcast([]byte(`[42,{"a":["1.0"]},"ticker","XBT/USD"]`))
	select {
	case msg := <-received:
		require.NoError(t, msg.Err)
		assert.Contains(t, string(msg.Data), "ticker")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for post-reconnect data")
	}

	metrics := manager.Metrics("public")
	assert.GreaterOrEqual(t, metrics.ReconnectCount, int64(2))
}

func TestManager_UnsubscribeRemovesFromReplay(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	defer manager.Close("public")
	waitState(t, manager, "public", StateReady)

	ctx := context.Background()
	params := map[string]interface{}{"name": "spread"}
	pairs := []string{"XBT/USD"}

	require.NoError(t, manager.Subscribe(ctx, "public", params, pairs))
	require.Eventually(t, func() bool {
		return len(mock.GetMessageBuffer()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, manager.Unsubscribe(ctx, "public", params, pairs))
	require.Eventually(t, func() bool {
		frames := mock.GetMessageBuffer()
		if len(frames) != 2 {
			return false
		}
		return decodeFrame(t, frames[1])["event"] == "unsubscribe"
	}, 5*time.Second, 10*time.Millisecond)

	// Drop and reconnect: nothing is replayed for the removed subscription.
	mock.ClearMessageBuffer()
	mock.DropAll()
	waitState(t, manager, "public", StateReady)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, mock.GetMessageBuffer())
}

// Unsubscribing a subscription that was never tracked must neither send a
// frame nor fail.
func TestManager_UnsubscribeUntrackedIsNoop(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	defer manager.Close("public")
	waitState(t, manager, "public", StateReady)

	err := manager.Unsubscribe(context.Background(), "public",
		map[string]interface{}{"name": "ohlc", "interval": 5}, []string{"ETH/USD"})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, mock.GetMessageBuffer())
}

// Close must stop the receive loop promptly and prevent any further
// reconnect attempt, observed over a window well beyond the backoff cap.
func TestManager_CloseStopsReconnects(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	var connects int
	var connectsMu sync.Mutex
	mock.OnConnect(func(conn *websocket.Conn) {
		connectsMu.Lock()
		connects++
		connectsMu.Unlock()
	})

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	waitState(t, manager, "public", StateReady)

	require.NoError(t, manager.Close("public"))
	assert.Equal(t, StateClosed, manager.State("public"))

	connectsMu.Lock()
	before := connects
	connectsMu.Unlock()

	// Observation window of several MaxReconnectInterval periods.
	time.Sleep(500 * time.Millisecond)

	connectsMu.Lock()
	after := connects
	connectsMu.Unlock()
	assert.Equal(t, before, after, "no connection attempts may happen after close")

	// Operations on a closed connection fail cleanly.
	err := manager.Subscribe(context.Background(), "public",
		map[string]interface{}{"name": "ticker"}, nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

// Close during reconnect backoff must interrupt the dial loop promptly.
func TestManager_CloseDuringBackoff(t *testing.T) {
	mock, wsURL := setupMockServer(t)
	mock.SetRejectConnection(true)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))

	time.Sleep(50 * time.Millisecond) // let a few dial attempts fail

	done := make(chan struct{})
	go func() {
		_ = manager.Close("public")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not interrupt the reconnect backoff")
	}
	assert.Equal(t, StateClosed, manager.State("public"))
}

func TestManager_MalformedFrameReportedToHandler(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	manager := NewManager(testConfig(wsURL))

	received := make(chan Message, 16)
	require.NoError(t, manager.Connect(context.Background(), "public", func(msg Message) {
		received <- msg
	}))
	defer manager.Close("public")
	waitState(t, manager, "public", StateReady)

	mock.Broadcast([]byte(`{"event":` /* truncated frame */))

	select {
	case msg := <-received:
		require.Error(t, msg.Err)
		var protoErr *ProtocolError
		require.ErrorAs(t, msg.Err, &protoErr)
		assert.Nil(t, msg.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for error message")
	}

	// The connection survives the protocol error.
	mock.Broadcast([]byte(`{"event":"heartbeat"}`))
	select {
	case msg := <-received:
		require.NoError(t, msg.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not survive malformed frame")
	}
}

func TestManager_HandlerPanicRecovered(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	manager := NewManager(testConfig(wsURL))

	var calls int
	received := make(chan Message, 16)
	require.NoError(t, manager.Connect(context.Background(), "public", func(msg Message) {
		calls++
		if calls == 1 {
			panic("handler bug")
		}
		received <- msg
	}))
	defer manager.Close("public")
	waitState(t, manager, "public", StateReady)

	mock.Broadcast([]byte(`{"seq":1}`))
	time.Sleep(100 * time.Millisecond)
	mock.Broadcast([]byte(`{"seq":2}`))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"seq":2}`, string(msg.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not survive handler panic")
	}
}

func TestManager_OrderedDelivery(t *testing.T) {
	mock, wsURL := setupMockServer(t)

	manager := NewManager(testConfig(wsURL))

	received := make(chan Message, 64)
	require.NoError(t, manager.Connect(context.Background(), "public", func(msg Message) {
		received <- msg
	}))
	defer manager.Close("public")
	waitState(t, manager, "public", StateReady)

	const count = 20
	for i := 0; i < count; i++ {
		mock.Broadcast([]byte(fmt.Sprintf(`{"seq":%d}`, i)))
		// Broadcast writes from a goroutine per frame; pace the sends so the
		// socket sees them in sequence.
		time.Sleep(2 * time.Millisecond)
	}

	for i := 0; i < count; i++ {
		select {
		case msg := <-received:
			var frame struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &frame))
			require.Equal(t, i, frame.Seq, "messages must arrive in socket order")
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestManager_IndependentConnections(t *testing.T) {
	mockA, urlA := setupMockServer(t)
	mockB, urlB := setupMockServer(t)

	config := testConfig(urlA)
	config.Endpoints["private"] = urlB
	manager := NewManager(config)

	receivedA := make(chan Message, 4)
	require.NoError(t, manager.Connect(context.Background(), "public", func(msg Message) {
		receivedA <- msg
	}))

	privateBusy := make(chan struct{})
	require.NoError(t, manager.Connect(context.Background(), "private", func(msg Message) {
		// A slow private handler must not stall the public receive loop.
		close(privateBusy)
		time.Sleep(2 * time.Second)
	}))
	defer manager.CloseAll()

	waitState(t, manager, "public", StateReady)
	waitState(t, manager, "private", StateReady)

	mockB.Broadcast([]byte(`{"event":"heartbeat"}`))
	select {
	case <-privateBusy:
	case <-time.After(5 * time.Second):
		t.Fatal("private handler never invoked")
	}

	mockA.Broadcast([]byte(`{"event":"heartbeat"}`))
	select {
	case <-receivedA:
	case <-time.After(time.Second):
		t.Fatal("public connection blocked by private handler")
	}
}

func TestManager_SendWhenDisconnected(t *testing.T) {
	mock, wsURL := setupMockServer(t)
	mock.SetRejectConnection(true)

	manager := NewManager(testConfig(wsURL))
	require.NoError(t, manager.Connect(context.Background(), "public", nil))
	defer manager.Close("public")

	err := manager.Send("public", []byte(`{"event":"ping"}`))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestMockManager(t *testing.T) {
	mock := NewMockManager()

	t.Run("Connect", func(t *testing.T) {
		err := mock.Connect(context.Background(), "public", nil)
		require.NoError(t, err)
		assert.Equal(t, StateReady, mock.State("public"))
		assert.Equal(t, 1, mock.GetConnectCalls("public"))

		mock.SetConnectError(errors.New("connection failed"))
		err = mock.Connect(context.Background(), "public", nil)
		require.Error(t, err)
		assert.Equal(t, 2, mock.GetConnectCalls("public"))
		mock.SetConnectError(nil)
	})

	t.Run("SubscribeAndSimulate", func(t *testing.T) {
		received := make(chan Message, 1)
		require.NoError(t, mock.Connect(context.Background(), "data", func(msg Message) {
			received <- msg
		}))

		params := map[string]interface{}{"name": "ohlc", "interval": 30}
		require.NoError(t, mock.Subscribe(context.Background(), "data", params, []string{"XBT/USD"}))
		assert.Len(t, mock.ActiveSubscriptions("data"), 1)

		mock.SimulateMessage("data", []byte(`{"event":"heartbeat"}`))
		select {
		case msg := <-received:
			assert.JSONEq(t, `{"event":"heartbeat"}`, string(msg.Data))
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for simulated message")
		}

		require.NoError(t, mock.Unsubscribe(context.Background(), "data", params, []string{"XBT/USD"}))
		assert.Empty(t, mock.ActiveSubscriptions("data"))
	})

	t.Run("SubscribeUnknown", func(t *testing.T) {
		err := mock.Subscribe(context.Background(), "ghost", map[string]interface{}{"name": "x"}, nil)
		require.ErrorIs(t, err, ErrConnectionNotFound)
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, mock.Close("public"))
		assert.Equal(t, StateClosed, mock.State("public"))
		assert.Equal(t, 1, mock.GetCloseCalls("public"))
	})
}
