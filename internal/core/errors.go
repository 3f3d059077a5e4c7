package core

import (
	"errors"

	"github.com/google/uuid"
)

// Connection-level failures surface both as errors and as the persisted
// sync_status, so consumers can render an actionable state.
var (
	// ErrNotConnected means the organization has no Xero connection.
	ErrNotConnected = errors.New("xero is not connected for this organization")

	// ErrInvalidState means the OAuth state token is unknown, expired or
	// was already consumed. The user must restart authorization.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrTokenExchange means Xero refused the authorization code exchange.
	ErrTokenExchange = errors.New("xero rejected the authorization code")

	// ErrRefreshFailed means Xero refused the refresh token. The connection
	// is now revoked; do not retry, a human must reauthorize.
	ErrRefreshFailed = errors.New("xero rejected the refresh token, reauthorization required")

	// ErrNoTenant means authorization succeeded but no Xero tenant was
	// granted to the token.
	ErrNoTenant = errors.New("no xero tenant authorized for this connection")

	// ErrNoOrganization means the actor does not belong to an organization.
	ErrNoOrganization = errors.New("actor has no organization")

	// ErrForbiddenRole means the actor's role may not manage the connection.
	ErrForbiddenRole = errors.New("actor role may not manage the xero connection")

	// ErrNoClient means the organization has no client record to attach
	// synced transactions to.
	ErrNoClient = errors.New("organization has no client")
)

// Roles allowed to establish a Xero connection.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Actor identifies the authenticated caller. OrganizationID is uuid.Nil for
// actors that have not joined an organization yet.
type Actor struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Role           string
}
