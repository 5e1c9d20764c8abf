package websocket

import (
	"encoding/json"
)

// Subscription is a caller's standing request for one feed on a connection:
// channel parameters (e.g. {"name":"ohlc","interval":30} or a private feed's
// {"name":"ownTrades","token":...}) plus an optional list of pairs.
//
// Subscriptions are durable client-side state: they survive socket loss and
// are replayed after every reconnect, which is the only way the exchange's
// protocol allows feed state to be restored. They are removed only by an
// explicit Unsubscribe or by closing the connection.
type Subscription struct {
	Params map[string]interface{}
	Pairs  []string
}

// key returns the subscription's identity: the canonical JSON of its
// parameters and pairs. json.Marshal sorts map keys, so equal subscriptions
// always produce equal keys.
func (s Subscription) key() string {
	params, _ := json.Marshal(s.Params)
	pairs, _ := json.Marshal(s.Pairs)
	return string(params) + "|" + string(pairs)
}

// frame builds the outbound subscribe/unsubscribe message in the exchange's
// wire shape: {"event":...,"subscription":{...},"pair":[...]}.
func (s Subscription) frame(event string) outboundFrame {
	return outboundFrame{
		Event:        event,
		Subscription: s.Params,
		Pair:         s.Pairs,
	}
}

type outboundFrame struct {
	Event        string                 `json:"event"`
	Subscription map[string]interface{} `json:"subscription"`
	Pair         []string               `json:"pair,omitempty"`
}

// Message is one inbound frame routed to the connection's handler. Exactly
// one of Data and Err is set: malformed frames arrive with Err so they are
// never silently dropped. The manager does not interpret payload semantics.
type Message struct {
	Connection string
	Data       json.RawMessage
	Err        error
}

// Handler receives every inbound message of a connection, in socket order.
// A panicking handler is recovered and logged; it never terminates the
// receive loop.
type Handler func(Message)
