package apikey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

type mockCredentialSource struct {
	mu        sync.Mutex
	getFn     func(ctx context.Context, keyHash string) (persistence.Credential, error)
	touched   []uuid.UUID
	touchDone chan struct{}
}

func (m *mockCredentialSource) GetCredentialByHash(ctx context.Context, keyHash string) (persistence.Credential, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx, keyHash)
}

func (m *mockCredentialSource) TouchLastUsed(_ context.Context, credentialID uuid.UUID) error {
	m.mu.Lock()
	m.touched = append(m.touched, credentialID)
	m.mu.Unlock()
	if m.touchDone != nil {
		close(m.touchDone)
	}
	return nil
}

func validCredential(key string) persistence.Credential {
	return persistence.Credential{
		CredentialID:       uuid.New(),
		TenantID:           uuid.New(),
		KeyPrefix:          DisplayPrefix(key),
		KeyHash:            SHA256Hasher{}.Hash(key),
		Permissions:        []string{PermissionRead, PermissionWrite},
		RateLimitPerMinute: 60,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()

	key := GenerateKey()
	stored := validCredential(key)
	source := &mockCredentialSource{touchDone: make(chan struct{})}
	source.getFn = func(_ context.Context, keyHash string) (persistence.Credential, error) {
		require.Equal(t, stored.KeyHash, keyHash)
		return stored, nil
	}

	authenticator := NewAuthenticator(source, SHA256Hasher{}, zaptest.NewLogger(t))

	auth, err := authenticator.Authenticate(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, stored.TenantID, auth.TenantID)
	require.Equal(t, stored.CredentialID, auth.CredentialID)
	require.True(t, auth.HasPermission(PermissionWrite))
	require.Equal(t, 60, auth.RateLimitPerMinute)

	select {
	case <-source.touchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("last_used_at was never touched")
	}
	require.Equal(t, []uuid.UUID{stored.CredentialID}, source.touched)
}

func TestAuthenticateMalformedKeySkipsLookup(t *testing.T) {
	t.Parallel()

	source := &mockCredentialSource{}
	source.getFn = func(context.Context, string) (persistence.Credential, error) {
		t.Fatal("lookup must not run for malformed keys")
		return persistence.Credential{}, nil
	}
	authenticator := NewAuthenticator(source, SHA256Hasher{}, zaptest.NewLogger(t))

	for _, raw := range []string{
		"",
		"cg_short",
		"sk_0123456789abcdef0123456789abcdef01234567",   // wrong prefix
		"cg_zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",   // not hex
		"cg_0123456789abcdef0123456789abcdef012345678",  // wrong length
	} {
		_, err := authenticator.Authenticate(context.Background(), raw)
		require.ErrorIs(t, err, ErrUnauthorized, "key %q", raw)
	}
}

func TestAuthenticateRejectionsAreUniform(t *testing.T) {
	t.Parallel()

	key := GenerateKey()

	revoked := validCredential(key)
	revoked.IsActive = false

	past := time.Now().Add(-time.Hour)
	expired := validCredential(key)
	expired.ExpiresAt = &past

	cases := []struct {
		name string
		getFn func(ctx context.Context, keyHash string) (persistence.Credential, error)
	}{
		{"unknown", func(context.Context, string) (persistence.Credential, error) {
			return persistence.Credential{}, persistence.ErrCredentialNotFound
		}},
		{"revoked", func(context.Context, string) (persistence.Credential, error) {
			return revoked, nil
		}},
		{"expired", func(context.Context, string) (persistence.Credential, error) {
			return expired, nil
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			source := &mockCredentialSource{getFn: tc.getFn}
			authenticator := NewAuthenticator(source, SHA256Hasher{}, zaptest.NewLogger(t))

			_, err := authenticator.Authenticate(context.Background(), key)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAuthenticateFutureExpiryStillValid(t *testing.T) {
	t.Parallel()

	key := GenerateKey()
	future := time.Now().Add(time.Hour)
	stored := validCredential(key)
	stored.ExpiresAt = &future

	source := &mockCredentialSource{}
	source.getFn = func(context.Context, string) (persistence.Credential, error) {
		return stored, nil
	}
	authenticator := NewAuthenticator(source, SHA256Hasher{}, zaptest.NewLogger(t))

	auth, err := authenticator.Authenticate(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, stored.TenantID, auth.TenantID)
}

func TestGeneratedKeyShape(t *testing.T) {
	t.Parallel()

	key := GenerateKey()
	require.True(t, WellFormed(key))
	require.Len(t, key, KeyLength)
	require.Equal(t, key[:StoredPrefixLen], DisplayPrefix(key))
	require.NotEqual(t, key, GenerateKey())
}
