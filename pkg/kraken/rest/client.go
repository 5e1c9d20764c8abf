// Package rest implements a client for Kraken's REST API: unauthenticated
// public endpoints and HMAC-signed private endpoints, in both blocking and
// channel-based asynchronous call shapes.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/veiloq/kraken-connector/pkg/common"
	"github.com/veiloq/kraken-connector/pkg/kraken/auth"
	"github.com/veiloq/kraken-connector/pkg/logging"
	"github.com/veiloq/kraken-connector/pkg/ratelimit"
)

// DefaultBaseURL is Kraken's production REST endpoint.
const DefaultBaseURL = "https://api.kraken.com"

// Options configures a REST client.
type Options struct {
	// BaseURL overrides the production endpoint, mainly for tests.
	BaseURL string

	// Key and Secret are the account's API credentials. Both may be empty
	// for public-only use; Secret must be valid base64 when set.
	Key    string
	Secret string

	// HTTPTimeout bounds each request round trip.
	HTTPTimeout time.Duration

	// RateLimit caps outbound request rate to respect Kraken's API counter.
	RateLimit ratelimit.Rate

	// Debug enables request/response dumping through the debug HTTP client.
	Debug bool

	// Logger defaults to the package logger when nil.
	Logger logging.Logger
}

// envelope is Kraken's fixed response shape.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Client talks to Kraken's REST API. Credentials are immutable after
// construction and are never logged. Each client owns one nonce source, so
// concurrent private calls from the same instance never repeat a nonce.
type Client struct {
	baseURL string
	key     string
	signer  *auth.Signer
	nonce   *auth.NonceSource
	http    common.HTTPClient
	logger  logging.Logger
}

// New creates a REST client. A malformed secret is rejected here rather than
// on the first signed call.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPTimeout == 0 {
		opts.HTTPTimeout = 15 * time.Second
	}
	if opts.RateLimit.Limit == 0 {
		opts.RateLimit = ratelimit.Rate{Limit: 10, Interval: time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}

	var signer *auth.Signer
	if opts.Secret != "" {
		var err error
		signer, err = auth.NewSigner(opts.Secret)
		if err != nil {
			return nil, fmt.Errorf("invalid credentials: %w", err)
		}
	}

	// Signed requests carry a one-shot nonce, so transport retries stay
	// disabled (MaxRetries 1 means a single attempt).
	httpConfig := &common.ClientConfig{
		BaseURL:    opts.BaseURL,
		Timeout:    opts.HTTPTimeout,
		RateLimit:  opts.RateLimit,
		MaxRetries: 1,
		Logger:     opts.Logger,
	}

	var httpClient common.HTTPClient
	if opts.Debug {
		httpClient = common.NewDebugHTTPClient(&common.DebugClientConfig{
			ClientConfig:    httpConfig,
			LogRequestBody:  true,
			LogResponseBody: true,
			MaxBodyLogSize:  4096,
		})
	} else {
		httpClient = common.NewHTTPClient(httpConfig)
	}

	return &Client{
		baseURL: opts.BaseURL,
		key:     opts.Key,
		signer:  signer,
		nonce:   auth.NewNonceSource(),
		http:    httpClient,
		logger:  opts.Logger,
	}, nil
}

// Public calls an unauthenticated endpoint, e.g. Public(ctx, "Time", nil).
// The result JSON is returned verbatim without schema validation.
func (c *Client) Public(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	uri := fmt.Sprintf("%s/0/public/%s", c.baseURL, endpoint)
	return c.request(ctx, uri, params, nil)
}

// Private calls a signed endpoint. The nonce is injected into the form body
// and the API-Key/API-Sign headers are attached per Kraken's scheme.
func (c *Client) Private(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if c.signer == nil || c.key == "" {
		return nil, ErrNoCredentials
	}

	form := cloneValues(params)
	nonce := strconv.FormatInt(c.nonce.Next(), 10)
	form.Set("nonce", nonce)

	path := fmt.Sprintf("/0/private/%s", endpoint)
	headers := map[string]string{
		"API-Key":  c.key,
		"API-Sign": c.signer.Sign(path, nonce, form),
	}
	return c.request(ctx, c.baseURL+path, form, headers)
}

func (c *Client) request(ctx context.Context, uri string, form url.Values, headers map[string]string) (json.RawMessage, error) {
	if form == nil {
		form = url.Values{}
	}

	resp, err := c.http.PostForm(ctx, uri, form, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyResponse, err)
	}
	if len(env.Error) > 0 {
		return nil, &APIError{Messages: env.Error}
	}
	return env.Result, nil
}

func cloneValues(params url.Values) url.Values {
	form := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	return form
}
