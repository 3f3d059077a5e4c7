// Package events defines status values, audit actions and notification
// payloads shared across the Offlode backend.
package events

import "time"

// Connection sync status values. These are persisted on the xero_connections
// row so that any consumer can render "reconnect to Xero" without re-deriving
// the state from an error.
const (
	SyncStatusConnected = "connected"
	SyncStatusExpired   = "expired"
	SyncStatusRevoked   = "revoked"
	SyncStatusError     = "error"
)

// Audit log actions recorded by the Xero integration.
const (
	ActionXeroConnected     = "xero.connected"
	ActionXeroSyncCompleted = "xero.sync_completed"
)

// OrgTransactionsSubject returns the NATS subject used to notify listeners
// that an organization's transactions changed.
func OrgTransactionsSubject(organizationID string) string {
	return "notify.org." + organizationID + ".transactions"
}

// TransactionsSyncedPayload is published on OrgTransactionsSubject after a
// successful sync pass.
type TransactionsSyncedPayload struct {
	OrganizationID string    `json:"organization_id"`
	ClientID       string    `json:"client_id"`
	Fetched        int       `json:"fetched"`
	Inserted       int       `json:"inserted"`
	Updated        int       `json:"updated"`
	Skipped        int       `json:"skipped"`
	SyncedAt       time.Time `json:"synced_at"`
}

// ConnectionStatusPayload describes the state of an organization's Xero
// connection as exposed over the API.
type ConnectionStatusPayload struct {
	Connected      bool       `json:"connected"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Status         string     `json:"sync_status,omitempty"`
	TenantID       string     `json:"tenant_id,omitempty"`
	TenantName     string     `json:"tenant_name,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}
