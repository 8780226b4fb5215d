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

const (
	// ScopeAdmin grants access to the administrative surface.
	ScopeAdmin = "admin"
	// ScopePayments allows reporting asynchronous charge outcomes.
	ScopePayments = "payments"
)

var (
	// ErrUnauthorized is returned when no valid credential was presented.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller lacks the required scope.
	ErrForbidden = errors.New("forbidden")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of a raw key under pepper. Stored keys
// are hashed the same way.
func HashKey(pepper []byte, raw string) string {
	return hex.EncodeToString(hashKey(pepper, raw))
}

func hashKey(pepper []byte, raw string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(raw))
	return mac.Sum(nil)
}

// Authenticator resolves raw API keys to key records.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given API key repository
// and HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate hashes raw, looks the hash up and compares it in constant
// time. Every failure is reported as ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*APIKeyInfo, error) {
	if raw == "" {
		return nil, ErrUnauthorized
	}
	hash := hashKey(a.pepper, raw)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, ErrUnauthorized
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated key.
func WithPrincipal(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, principalKey{}, info)
}

// PrincipalFrom returns the authenticated key stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(principalKey{}).(*APIKeyInfo)
	return info, ok && info != nil
}

// ScopeAuthorizer admits callers whose principal carries Scope.
type ScopeAuthorizer struct {
	Scope string
}

// Authorize checks the principal in ctx.
func (a ScopeAuthorizer) Authorize(ctx context.Context, action string) error {
	info, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthorized
	}
	if !info.HasScope(a.Scope) {
		return errors.Wrapf(ErrForbidden, "%s requires scope %q", action, a.Scope)
	}
	return nil
}
