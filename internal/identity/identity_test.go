package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/identity"
)

type stubProvider struct{ identity.Provider }

func TestNewProvider_DispatchesOnBackend(t *testing.T) {
	want := &stubProvider{}
	identity.Register("stub-backend", func(_ *config.Config) (identity.Provider, error) {
		return want, nil
	})

	cfg := &config.Config{Identity: config.IdentityConfig{Backend: "stub-backend"}}
	got, err := identity.NewProvider(cfg)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestNewProvider_UnknownBackend(t *testing.T) {
	cfg := &config.Config{Identity: config.IdentityConfig{Backend: "does-not-exist"}}
	_, err := identity.NewProvider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported identity backend")
}

func TestGenerateInitialCredential(t *testing.T) {
	a, err := identity.GenerateInitialCredential(16)
	require.NoError(t, err)
	b, err := identity.GenerateInitialCredential(16)
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.False(t, strings.ContainsAny(a, "0O1lI"), "ambiguous characters should be excluded")
}

func TestGenerateInitialCredential_TooShort(t *testing.T) {
	_, err := identity.GenerateInitialCredential(8)
	assert.Error(t, err)
}
