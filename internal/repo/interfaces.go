package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Exclusion rule field selectors.
const (
	RuleTypeSupplierName = "supplier_name"
	RuleTypeDescription  = "description"
	RuleTypeAmountRange  = "amount_range"
	RuleTypeCategory     = "category"
)

// Exclusion rule match predicates.
const (
	MatchContains   = "contains"
	MatchEquals     = "equals"
	MatchStartsWith = "starts_with"
	MatchEndsWith   = "ends_with"
	MatchRegex      = "regex"
)

// Connection is an organization's Xero OAuth connection. Token fields hold
// ciphertext produced by the token cipher; plaintext is never persisted.
type Connection struct {
	ID                    uuid.UUID      `json:"id"`
	OrganizationID        uuid.UUID      `json:"organization_id"`
	TenantID              string         `json:"tenant_id"`
	TenantName            sql.NullString `json:"tenant_name"`
	AccessTokenEncrypted  string         `json:"-"`
	RefreshTokenEncrypted string         `json:"-"`
	ExpiresAt             time.Time      `json:"expires_at"`
	SyncStatus            string         `json:"sync_status"`
	LastSyncAt            sql.NullTime   `json:"last_sync_at"`
	ConnectedBy           uuid.NullUUID  `json:"connected_by"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// ExclusionRule marks matching transactions as not requiring a document.
type ExclusionRule struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	RuleType       string         `json:"rule_type"`
	Pattern        string         `json:"pattern"`
	MatchType      string         `json:"match_type"`
	Enabled        bool           `json:"enabled"`
	Reason         sql.NullString `json:"reason"`
	CreatedBy      uuid.NullUUID  `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Transaction is a bank transaction synced from Xero. XeroTransactionID is
// the idempotency key for sync, unique per organization.
type Transaction struct {
	ID                uuid.UUID      `json:"id"`
	OrganizationID    uuid.UUID      `json:"organization_id"`
	ClientID          uuid.UUID      `json:"client_id"`
	XeroTransactionID string         `json:"xero_transaction_id"`
	XeroType          sql.NullString `json:"xero_type"`
	Date              time.Time      `json:"date"`
	Amount            float64        `json:"amount"`
	Description       sql.NullString `json:"description"`
	SupplierName      sql.NullString `json:"supplier_name"`
	DocumentRequired  bool           `json:"document_required"`
	DocumentReceived  bool           `json:"document_received"`
	Excluded          bool           `json:"excluded"`
	ExclusionReason   sql.NullString `json:"exclusion_reason"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Repository parameter types

type UpsertConnectionParams struct {
	OrganizationID        uuid.UUID
	TenantID              string
	TenantName            sql.NullString
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             time.Time
	SyncStatus            string
	ConnectedBy           uuid.NullUUID
}

// UpdateConnectionTokensParams rewrites both tokens together with the new
// expiry. Xero rotates the refresh token on every refresh, so a successful
// refresh always replaces the pair.
type UpdateConnectionTokensParams struct {
	OrganizationID        uuid.UUID
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             time.Time
}

type CreateExclusionRuleParams struct {
	OrganizationID uuid.UUID
	RuleType       string
	Pattern        string
	MatchType      string
	Enabled        bool
	Reason         sql.NullString
	CreatedBy      uuid.NullUUID
}

type InsertTransactionParams struct {
	OrganizationID    uuid.UUID
	ClientID          uuid.UUID
	XeroTransactionID string
	XeroType          sql.NullString
	Date              time.Time
	Amount            float64
	Description       sql.NullString
	SupplierName      sql.NullString
	DocumentRequired  bool
	DocumentReceived  bool
	Excluded          bool
	ExclusionReason   sql.NullString
}

type UpdateTransactionParams struct {
	OrganizationID    uuid.UUID
	XeroTransactionID string
	XeroType          sql.NullString
	Date              time.Time
	Amount            float64
	Description       sql.NullString
	SupplierName      sql.NullString
	DocumentRequired  bool
	DocumentReceived  bool
	Excluded          bool
	ExclusionReason   sql.NullString
}

type ListTransactionsParams struct {
	OrganizationID uuid.UUID
	Limit          int32
	Offset         int32
}

type InsertAuditLogParams struct {
	OrganizationID uuid.UUID
	UserID         uuid.NullUUID
	Action         string
	ResourceType   sql.NullString
	ResourceID     uuid.NullUUID
}

// Repository interfaces

type ConnectionRepository interface {
	Get(ctx context.Context, organizationID uuid.UUID) (Connection, error)
	Upsert(ctx context.Context, params UpsertConnectionParams) (Connection, error)
	UpdateTokens(ctx context.Context, params UpdateConnectionTokensParams) error
	UpdateSyncStatus(ctx context.Context, organizationID uuid.UUID, status string) error
	TouchLastSync(ctx context.Context, organizationID uuid.UUID, syncedAt time.Time) error
}

type ExclusionRuleRepository interface {
	ListEnabled(ctx context.Context, organizationID uuid.UUID) ([]ExclusionRule, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]ExclusionRule, error)
	Create(ctx context.Context, params CreateExclusionRuleParams) (ExclusionRule, error)
}

// TransactionStore is the per-row surface of the transaction repository. The
// sync batch runs against a store bound to a single database transaction.
type TransactionStore interface {
	GetByXeroID(ctx context.Context, organizationID uuid.UUID, xeroTransactionID string) (Transaction, error)
	Insert(ctx context.Context, params InsertTransactionParams) (Transaction, error)
	Update(ctx context.Context, params UpdateTransactionParams) error
}

type TransactionRepository interface {
	TransactionStore
	// WithinTx runs fn against a store bound to one database transaction.
	// If fn returns an error nothing it did is visible.
	WithinTx(ctx context.Context, fn func(store TransactionStore) error) error
	List(ctx context.Context, params ListTransactionsParams) ([]Transaction, error)
}

type AuditLogRepository interface {
	Insert(ctx context.Context, params InsertAuditLogParams) error
}

// ClientRepository is the read-only boundary to the client records owned by
// the rest of the application.
type ClientRepository interface {
	FirstForOrganization(ctx context.Context, organizationID uuid.UUID) (uuid.UUID, error)
}
