package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

// ErrUnauthorized is the single rejection the authenticator ever returns.
// Malformed, unknown, revoked, and expired keys are indistinguishable to
// the caller so the error cannot be used to enumerate keys.
var ErrUnauthorized = errors.New("invalid api key")

// CredentialSource is the subset of the credential store the authenticator
// needs.
type CredentialSource interface {
	GetCredentialByHash(ctx context.Context, keyHash string) (persistence.Credential, error)
	TouchLastUsed(ctx context.Context, credentialID uuid.UUID) error
}

// Authenticator resolves a presented raw key to an AuthContext.
type Authenticator struct {
	source CredentialSource
	hasher Hasher
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(source CredentialSource, hasher Hasher, logger *zap.Logger) *Authenticator {
	if source == nil {
		panic("credential source is required")
	}
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Authenticator{
		source: source,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}
}

// Authenticate validates the raw key and returns the identity it resolves
// to. On success the credential's last_used_at is stamped in the
// background; the response never waits on that write.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (AuthContext, error) {
	if !WellFormed(rawKey) {
		return AuthContext{}, ErrUnauthorized
	}

	credential, err := a.source.GetCredentialByHash(ctx, a.hasher.Hash(rawKey))
	if err != nil {
		if errors.Is(err, persistence.ErrCredentialNotFound) {
			return AuthContext{}, ErrUnauthorized
		}
		return AuthContext{}, err
	}

	if !credential.IsActive {
		return AuthContext{}, ErrUnauthorized
	}
	if credential.ExpiresAt != nil && credential.ExpiresAt.Before(a.now()) {
		return AuthContext{}, ErrUnauthorized
	}

	go a.touchLastUsed(credential.CredentialID)

	return AuthContext{
		TenantID:           credential.TenantID,
		CredentialID:       credential.CredentialID,
		Permissions:        credential.Permissions,
		RateLimitPerMinute: credential.RateLimitPerMinute,
	}, nil
}

func (a *Authenticator) touchLastUsed(credentialID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.source.TouchLastUsed(ctx, credentialID); err != nil {
		a.logger.Warn("touch credential last_used_at", zap.Error(err), zap.String("credential_id", credentialID.String()))
	}
}
