package rest

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="

type recordedRequest struct {
	path    string
	form    url.Values
	headers http.Header
}

func newTestClient(t *testing.T, handler http.HandlerFunc, key, secret string) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Options{
		BaseURL:     server.URL,
		Key:         key,
		Secret:      secret,
		HTTPTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client, server
}

func TestClient_Public(t *testing.T) {
	var got recordedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = recordedRequest{path: r.URL.Path, form: r.PostForm, headers: r.Header.Clone()}
		w.Write([]byte(`{"error":[],"result":{"unixtime":1688669448}}`))
	}, "", "")

	result, err := client.Public(context.Background(), "Time", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"unixtime":1688669448}`, string(result))
	assert.Equal(t, "/0/public/Time", got.path)
	assert.Empty(t, got.headers.Get("API-Key"))
}

func TestClient_PrivateSignsRequest(t *testing.T) {
	requests := make([]recordedRequest, 0, 2)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		requests = append(requests, recordedRequest{
			path: r.URL.Path, form: r.PostForm, headers: r.Header.Clone(),
		})
		w.Write([]byte(`{"error":[],"result":{}}`))
	}, "test-key", testSecret)

	ctx := context.Background()
	_, err := client.Balance(ctx)
	require.NoError(t, err)
	_, err = client.Balance(ctx)
	require.NoError(t, err)

	require.Len(t, requests, 2)
	for _, req := range requests {
		assert.Equal(t, "/0/private/Balance", req.path)
		assert.Equal(t, "test-key", req.headers.Get("API-Key"))

		// Signature must be well-formed base64 of an HMAC-SHA512 digest.
		sig, err := base64.StdEncoding.DecodeString(req.headers.Get("API-Sign"))
		require.NoError(t, err)
		assert.Len(t, sig, 64)
	}

	// Nonces must be strictly increasing across calls.
	first, err := strconv.ParseInt(requests[0].form.Get("nonce"), 10, 64)
	require.NoError(t, err)
	second, err := strconv.ParseInt(requests[1].form.Get("nonce"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestClient_APIErrorSurfaced(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EGeneral:Invalid arguments"],"result":null}`))
	}, "", "")

	_, err := client.Public(context.Background(), "Ticker", url.Values{"pair": {"nope"}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Messages, "EGeneral:Invalid arguments")
}

func TestClient_HTTPErrorSurfaced(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}, "", "")

	_, err := client.Public(context.Background(), "Nope", nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestClient_PrivateWithoutCredentials(t *testing.T) {
	var calls int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}, "", "")

	_, err := client.Balance(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
	assert.Zero(t, atomic.LoadInt64(&calls), "no request should be issued")
}

func TestNew_MalformedSecret(t *testing.T) {
	_, err := New(Options{Key: "key", Secret: "bad-base64!"})
	require.Error(t, err, "malformed secret must fail at construction, before any request")
}

func TestClient_Async(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"unixtime":1688669448}}`))
	}, "", "")

	res := <-client.PublicAsync(context.Background(), "Time", nil)
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"unixtime":1688669448}`, string(res.Body))
}

func TestClient_GetWebSocketsToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"token":"1Dwc4lzSwNWOAwkMdqhssNNFhs1ed606d1WcF3XfEMw","expires":900}}`))
	}, "test-key", testSecret)

	token, err := client.GetWebSocketsToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1Dwc4lzSwNWOAwkMdqhssNNFhs1ed606d1WcF3XfEMw", token)
}

func TestClient_LastPrice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[[1688669400,"30300.1","30310.2","30290.0","30305.7","30300.0","1.23",42]],"last":1688669400}}`))
	}, "", "")

	price, err := client.LastPrice(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("30305.7")), "got %s", price)
}
