package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Offlode-platform/back-end/internal/crypto"
	"github.com/Offlode-platform/back-end/internal/repo"
	"github.com/Offlode-platform/back-end/internal/xero"
	"github.com/Offlode-platform/back-end/pkg/events"
)

// refreshMargin is how close to expiry a stored access token is still
// trusted without refreshing.
const refreshMargin = 2 * time.Minute

// XeroTokenClient is the slice of the Xero client the token manager needs.
type XeroTokenClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (xero.TokenSet, error)
}

// TokenService hands out valid decrypted access tokens, refreshing the
// stored pair on demand. Refreshes are serialized per organization: Xero
// invalidates a refresh token on first use, so two callers must never race
// a refresh with the same token.
type TokenService struct {
	connections repo.ConnectionRepository
	cipher      *crypto.Cipher
	xero        XeroTokenClient
	logger      *zap.Logger

	mu       sync.Mutex
	orgLocks map[uuid.UUID]*sync.Mutex
}

// NewTokenService creates a new token service.
func NewTokenService(
	connections repo.ConnectionRepository,
	cipher *crypto.Cipher,
	xeroClient XeroTokenClient,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		connections: connections,
		cipher:      cipher,
		xero:        xeroClient,
		logger:      logger.Named("token_service"),
		orgLocks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// GetValidAccessToken returns a currently valid plaintext access token for
// the organization. If the stored token expires within the safety margin it
// refreshes the pair against Xero and persists the rotated tokens. A refresh
// rejection marks the connection revoked; callers must not retry, the user
// has to reauthorize.
func (s *TokenService) GetValidAccessToken(ctx context.Context, organizationID uuid.UUID) (string, error) {
	lock := s.lockFor(organizationID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.connections.Get(ctx, organizationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("failed to load connection: %w", err)
	}

	// Losers of the per-org lock land here after the winner persisted the
	// rotated pair and see a fresh expiry.
	if time.Until(conn.ExpiresAt) > refreshMargin {
		token, err := s.cipher.Decrypt(conn.AccessTokenEncrypted)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access token: %w", err)
		}
		return token, nil
	}

	return s.refresh(ctx, conn)
}

func (s *TokenService) refresh(ctx context.Context, conn repo.Connection) (string, error) {
	refreshToken, err := s.cipher.Decrypt(conn.RefreshTokenEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	s.logger.Debug("Refreshing access token",
		zap.String("organization_id", conn.OrganizationID.String()),
		zap.Time("expires_at", conn.ExpiresAt))

	tokens, err := s.xero.RefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, xero.ErrProviderUnavailable) {
			// Transient; leave sync_status untouched so a later call can
			// retry the same refresh token.
			return "", fmt.Errorf("failed to refresh token: %w", err)
		}

		if updateErr := s.connections.UpdateSyncStatus(ctx, conn.OrganizationID, events.SyncStatusRevoked); updateErr != nil {
			s.logger.Error("Failed to mark connection revoked", zap.Error(updateErr))
		}

		s.logger.Warn("Refresh rejected, connection revoked",
			zap.String("organization_id", conn.OrganizationID.String()),
			zap.Error(err))

		return "", fmt.Errorf("%w: %s", ErrRefreshFailed, err)
	}

	// Xero rotates the refresh token on every refresh; both tokens are
	// always rewritten together with the new expiry.
	encryptedAccess, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encryptedRefresh, err := s.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	err = s.connections.UpdateTokens(ctx, repo.UpdateConnectionTokensParams{
		OrganizationID:        conn.OrganizationID,
		AccessTokenEncrypted:  encryptedAccess,
		RefreshTokenEncrypted: encryptedRefresh,
		ExpiresAt:             tokens.ExpiresAt(time.Now()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	s.logger.Info("Access token refreshed",
		zap.String("organization_id", conn.OrganizationID.String()))

	return tokens.AccessToken, nil
}

func (s *TokenService) lockFor(organizationID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.orgLocks[organizationID]
	if !ok {
		lock = &sync.Mutex{}
		s.orgLocks[organizationID] = lock
	}
	return lock
}
