package auth_test

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-store/internal/domain/auth"
)

type fakeKeys map[string]*auth.APIKeyInfo

func (f fakeKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := f[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return info, nil
}

var pepper = []byte("test-pepper")

func newAuthenticator() *auth.Authenticator {
	hash := auth.HashKey(pepper, "secret")
	return auth.NewAuthenticator(fakeKeys{
		hash: {ID: "k1", KeyHash: hash, Name: "ops", Scopes: []string{auth.ScopeAdmin}},
	}, pepper)
}

func TestHashKey(t *testing.T) {
	a := auth.HashKey(pepper, "secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, auth.HashKey(pepper, "secret"))
	assert.NotEqual(t, a, auth.HashKey([]byte("other"), "secret"))
	assert.NotEqual(t, a, auth.HashKey(pepper, "secret2"))
}

func TestAuthenticator(t *testing.T) {
	a := newAuthenticator()
	ctx := context.Background()

	info, err := a.Authenticate(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "k1", info.ID)
	assert.True(t, info.HasScope(auth.ScopeAdmin))
	assert.False(t, info.HasScope(auth.ScopePayments))

	for _, raw := range []string{"", "wrong"} {
		_, err := a.Authenticate(ctx, raw)
		require.ErrorIs(t, err, auth.ErrUnauthorized, raw)
	}
}

func TestAuthenticator_CorruptHash(t *testing.T) {
	hash := auth.HashKey(pepper, "secret")
	a := auth.NewAuthenticator(fakeKeys{
		hash: {ID: "k1", KeyHash: "not-hex"},
	}, pepper)

	_, err := a.Authenticate(context.Background(), "secret")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestScopeAuthorizer(t *testing.T) {
	authz := auth.ScopeAuthorizer{Scope: auth.ScopeAdmin}

	err := authz.Authorize(context.Background(), "orders.list")
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	ctx := auth.WithPrincipal(context.Background(), &auth.APIKeyInfo{ID: "k2", Scopes: []string{auth.ScopePayments}})
	err = authz.Authorize(ctx, "orders.list")
	require.ErrorIs(t, err, auth.ErrForbidden)
	assert.Contains(t, err.Error(), `orders.list requires scope "admin"`)

	ctx = auth.WithPrincipal(context.Background(), &auth.APIKeyInfo{ID: "k1", Scopes: []string{auth.ScopeAdmin}})
	require.NoError(t, authz.Authorize(ctx, "orders.list"))

	info, ok := auth.PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "k1", info.ID)

	_, ok = auth.PrincipalFrom(auth.WithPrincipal(context.Background(), nil))
	assert.False(t, ok)
}
