package rest

import (
	"context"
	"encoding/json"
	"net/url"
)

// Result is the outcome of an asynchronous REST call.
type Result struct {
	Body json.RawMessage
	Err  error
}

// PublicAsync issues a public call on its own goroutine and returns a
// one-shot channel with the outcome. The channel is buffered, so abandoning
// it never leaks the goroutine. Callers driving a WebSocket receive loop use
// this variant to overlap REST traffic without blocking the loop.
func (c *Client) PublicAsync(ctx context.Context, endpoint string, params url.Values) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		body, err := c.Public(ctx, endpoint, params)
		out <- Result{Body: body, Err: err}
		close(out)
	}()
	return out
}

// PrivateAsync is the signed counterpart of PublicAsync. Nonce ordering is
// preserved across concurrent calls because the nonce source is shared and
// strictly increasing.
func (c *Client) PrivateAsync(ctx context.Context, endpoint string, params url.Values) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		body, err := c.Private(ctx, endpoint, params)
		out <- Result{Body: body, Err: err}
		close(out)
	}()
	return out
}
