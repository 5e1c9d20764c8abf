// Package auth provides Kraken API request authentication: HMAC-SHA512
// signatures over the request path and form body, and strictly increasing
// nonce generation.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"
)

// Signer computes API-Sign header values for private requests. The secret is
// decoded once at construction; a malformed secret fails fast instead of
// producing corrupt signatures.
type Signer struct {
	secret []byte
}

// NewSigner decodes the base64 API secret and returns a ready Signer.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("api secret is empty")
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	return &Signer{secret: key}, nil
}

// Sign generates the signature for a private API request.
// Message format: path + SHA256(nonce + url-encoded form).
// The form must already contain the nonce so the signed bytes match the
// transmitted body exactly.
func (s *Signer) Sign(path, nonce string, form url.Values) string {
	digest := sha256.New()
	digest.Write([]byte(nonce))
	digest.Write([]byte(form.Encode()))

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(digest.Sum(nil))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// NonceSource issues strictly increasing nonces for one client instance.
// Nonces are wall-clock milliseconds; when two calls land in the same
// millisecond the counter advances past the last issued value, so no two
// calls ever observe the same nonce.
type NonceSource struct {
	last atomic.Int64
}

// NewNonceSource returns a NonceSource starting from the current time.
func NewNonceSource() *NonceSource {
	return &NonceSource{}
}

// Next returns the next nonce.
func (n *NonceSource) Next() int64 {
	for {
		last := n.last.Load()
		next := time.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if n.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
