// Package auth authenticates API clients by hashed API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeStorefront = "storefront"
	ScopeAdmin      = "admin"
)

var (
	// ErrNotFound is returned by Repository when no key matches the hash.
	ErrNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned when a presented key is not valid.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
// UserID is set when the key belongs to a registered customer.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Scopes  []string
}

// HasScope reports whether the key was granted scope. Admin keys have every scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeAdmin)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hash returns the hex HMAC-SHA256 of key under pepper, as stored in the
// api_keys table.
func Hash(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves raw API keys to their stored identity.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator over keys using pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate looks up key and compares the stored hash in constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hexHash := Hash(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

type ctxKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// FromContext returns the authenticated key, if any.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(ctxKey{}).(*APIKeyInfo)
	return k, ok
}
