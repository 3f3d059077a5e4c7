package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Offlode-platform/back-end/internal/crypto"
	"github.com/Offlode-platform/back-end/internal/oauthstate"
	"github.com/Offlode-platform/back-end/internal/repo"
	"github.com/Offlode-platform/back-end/internal/xero"
	"github.com/Offlode-platform/back-end/pkg/events"
)

// XeroAuthClient is the slice of the Xero client the OAuth flow needs.
type XeroAuthClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (xero.TokenSet, error)
	Connections(ctx context.Context, accessToken string) ([]xero.Tenant, error)
}

// ConnectService orchestrates the authorize/callback handshake that
// establishes an organization's Xero connection.
type ConnectService struct {
	connections repo.ConnectionRepository
	auditLogs   repo.AuditLogRepository
	states      oauthstate.Store
	cipher      *crypto.Cipher
	xero        XeroAuthClient
	logger      *zap.Logger
}

// NewConnectService creates a new connect service.
func NewConnectService(
	connections repo.ConnectionRepository,
	auditLogs repo.AuditLogRepository,
	states oauthstate.Store,
	cipher *crypto.Cipher,
	xeroClient XeroAuthClient,
	logger *zap.Logger,
) *ConnectService {
	return &ConnectService{
		connections: connections,
		auditLogs:   auditLogs,
		states:      states,
		cipher:      cipher,
		xero:        xeroClient,
		logger:      logger.Named("connect_service"),
	}
}

// StartAuthorization generates a single-use state token, stores the
// handshake state and returns the Xero authorization redirect URL.
func (s *ConnectService) StartAuthorization(ctx context.Context, actor Actor) (string, error) {
	if actor.OrganizationID == uuid.Nil {
		return "", ErrNoOrganization
	}
	if actor.Role != RoleOwner && actor.Role != RoleAdmin {
		return "", ErrForbiddenRole
	}

	token, err := oauthstate.NewToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}

	err = s.states.Put(ctx, token, oauthstate.State{
		UserID:         actor.ID,
		OrganizationID: actor.OrganizationID,
		ExpiresAt:      time.Now().UTC().Add(oauthstate.TTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}

	s.logger.Info("Authorization started",
		zap.String("organization_id", actor.OrganizationID.String()),
		zap.String("user_id", actor.ID.String()))

	return s.xero.AuthorizeURL(token), nil
}

// HandleCallback consumes the state, exchanges the code for tokens, resolves
// the Xero tenant and upserts the organization's connection with encrypted
// tokens.
func (s *ConnectService) HandleCallback(ctx context.Context, code, state string) (repo.Connection, error) {
	if code == "" || state == "" {
		return repo.Connection{}, ErrInvalidState
	}

	handshake, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, oauthstate.ErrStateNotFound) {
			return repo.Connection{}, ErrInvalidState
		}
		return repo.Connection{}, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	tokens, err := s.xero.ExchangeCode(ctx, code)
	if err != nil {
		if errors.Is(err, xero.ErrProviderUnavailable) {
			return repo.Connection{}, fmt.Errorf("failed to exchange code: %w", err)
		}
		s.logger.Warn("Code exchange rejected",
			zap.String("organization_id", handshake.OrganizationID.String()),
			zap.Error(err))
		return repo.Connection{}, fmt.Errorf("%w: %s", ErrTokenExchange, err)
	}

	tenants, err := s.xero.Connections(ctx, tokens.AccessToken)
	if err != nil {
		return repo.Connection{}, fmt.Errorf("failed to list xero tenants: %w", err)
	}
	if len(tenants) == 0 {
		return repo.Connection{}, ErrNoTenant
	}

	// A grant can carry several tenants; only the first is kept. Documented
	// limitation until multi-account connections are a product decision.
	tenant := tenants[0]

	encryptedAccess, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return repo.Connection{}, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encryptedRefresh, err := s.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return repo.Connection{}, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	conn, err := s.connections.Upsert(ctx, repo.UpsertConnectionParams{
		OrganizationID:        handshake.OrganizationID,
		TenantID:              tenant.TenantID,
		TenantName:            sql.NullString{String: tenant.TenantName, Valid: tenant.TenantName != ""},
		AccessTokenEncrypted:  encryptedAccess,
		RefreshTokenEncrypted: encryptedRefresh,
		ExpiresAt:             tokens.ExpiresAt(time.Now()),
		SyncStatus:            events.SyncStatusConnected,
		ConnectedBy:           uuid.NullUUID{UUID: handshake.UserID, Valid: true},
	})
	if err != nil {
		return repo.Connection{}, fmt.Errorf("failed to upsert connection: %w", err)
	}

	if err := s.auditLogs.Insert(ctx, repo.InsertAuditLogParams{
		OrganizationID: conn.OrganizationID,
		UserID:         uuid.NullUUID{UUID: handshake.UserID, Valid: true},
		Action:         events.ActionXeroConnected,
		ResourceType:   sql.NullString{String: "xero_connection", Valid: true},
		ResourceID:     uuid.NullUUID{UUID: conn.ID, Valid: true},
	}); err != nil {
		// The connection is established; a missing audit row is not worth
		// failing the handshake for.
		s.logger.Warn("Failed to write audit log", zap.Error(err))
	}

	s.logger.Info("Xero connected",
		zap.String("organization_id", conn.OrganizationID.String()),
		zap.String("tenant_id", conn.TenantID),
		zap.String("tenant_name", tenant.TenantName))

	return conn, nil
}
