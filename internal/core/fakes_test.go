package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Offlode-platform/back-end/internal/repo"
	"github.com/Offlode-platform/back-end/internal/xero"
)

var errInsertBoom = errors.New("insert failed")

// fakeConnectionRepo keeps one connection per organization in memory.
type fakeConnectionRepo struct {
	mu          sync.Mutex
	connections map[uuid.UUID]repo.Connection

	updateTokensCalls int
	statusUpdates     []string
	lastSyncTouches   int
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{connections: make(map[uuid.UUID]repo.Connection)}
}

func (f *fakeConnectionRepo) Get(_ context.Context, organizationID uuid.UUID) (repo.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[organizationID]
	if !ok {
		return repo.Connection{}, repo.ErrNotFound
	}
	return conn, nil
}

func (f *fakeConnectionRepo) Upsert(_ context.Context, params repo.UpsertConnectionParams) (repo.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[params.OrganizationID]
	if !ok {
		conn = repo.Connection{ID: uuid.New(), OrganizationID: params.OrganizationID}
	}
	conn.TenantID = params.TenantID
	conn.TenantName = params.TenantName
	conn.AccessTokenEncrypted = params.AccessTokenEncrypted
	conn.RefreshTokenEncrypted = params.RefreshTokenEncrypted
	conn.ExpiresAt = params.ExpiresAt
	conn.SyncStatus = params.SyncStatus
	conn.ConnectedBy = params.ConnectedBy
	f.connections[params.OrganizationID] = conn
	return conn, nil
}

func (f *fakeConnectionRepo) UpdateTokens(_ context.Context, params repo.UpdateConnectionTokensParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[params.OrganizationID]
	if !ok {
		return repo.ErrNotFound
	}
	conn.AccessTokenEncrypted = params.AccessTokenEncrypted
	conn.RefreshTokenEncrypted = params.RefreshTokenEncrypted
	conn.ExpiresAt = params.ExpiresAt
	conn.SyncStatus = "connected"
	f.connections[params.OrganizationID] = conn
	f.updateTokensCalls++
	return nil
}

func (f *fakeConnectionRepo) UpdateSyncStatus(_ context.Context, organizationID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[organizationID]
	if !ok {
		return repo.ErrNotFound
	}
	conn.SyncStatus = status
	f.connections[organizationID] = conn
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeConnectionRepo) TouchLastSync(_ context.Context, organizationID uuid.UUID, syncedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[organizationID]
	if !ok {
		return repo.ErrNotFound
	}
	conn.LastSyncAt.Time = syncedAt
	conn.LastSyncAt.Valid = true
	f.connections[organizationID] = conn
	f.lastSyncTouches++
	return nil
}

// fakeAuditLogRepo records inserts.
type fakeAuditLogRepo struct {
	mu      sync.Mutex
	entries []repo.InsertAuditLogParams
}

func (f *fakeAuditLogRepo) Insert(_ context.Context, params repo.InsertAuditLogParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, params)
	return nil
}

// fakeRuleRepo serves a fixed rule set.
type fakeRuleRepo struct {
	rules []repo.ExclusionRule
}

func (f *fakeRuleRepo) ListEnabled(context.Context, uuid.UUID) ([]repo.ExclusionRule, error) {
	enabled := make([]repo.ExclusionRule, 0, len(f.rules))
	for _, r := range f.rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

func (f *fakeRuleRepo) List(context.Context, uuid.UUID) ([]repo.ExclusionRule, error) {
	return f.rules, nil
}

func (f *fakeRuleRepo) Create(_ context.Context, params repo.CreateExclusionRuleParams) (repo.ExclusionRule, error) {
	rule := repo.ExclusionRule{
		ID:             uuid.New(),
		OrganizationID: params.OrganizationID,
		RuleType:       params.RuleType,
		Pattern:        params.Pattern,
		MatchType:      params.MatchType,
		Enabled:        params.Enabled,
		Reason:         params.Reason,
		CreatedBy:      params.CreatedBy,
	}
	f.rules = append(f.rules, rule)
	return rule, nil
}

// fakeXeroClient implements every client slice the services consume, with
// per-call hooks.
type fakeXeroClient struct {
	mu sync.Mutex

	authorizeURLFn func(state string) string
	exchangeFn     func(code string) (xero.TokenSet, error)
	refreshFn      func(refreshToken string) (xero.TokenSet, error)
	connectionsFn  func(accessToken string) ([]xero.Tenant, error)
	bankTxnsFn     func(accessToken, tenantID string) ([]xero.BankTransaction, error)

	refreshCalls int
}

func (f *fakeXeroClient) AuthorizeURL(state string) string {
	if f.authorizeURLFn != nil {
		return f.authorizeURLFn(state)
	}
	return "https://login.xero.test/authorize?state=" + state
}

func (f *fakeXeroClient) ExchangeCode(_ context.Context, code string) (xero.TokenSet, error) {
	return f.exchangeFn(code)
}

func (f *fakeXeroClient) RefreshToken(_ context.Context, refreshToken string) (xero.TokenSet, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	return f.refreshFn(refreshToken)
}

func (f *fakeXeroClient) Connections(_ context.Context, accessToken string) ([]xero.Tenant, error) {
	return f.connectionsFn(accessToken)
}

func (f *fakeXeroClient) BankTransactions(_ context.Context, accessToken, tenantID string) ([]xero.BankTransaction, error) {
	return f.bankTxnsFn(accessToken, tenantID)
}

func (f *fakeXeroClient) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// fakeTransactionRepo keeps transactions keyed by xero id. WithinTx stages
// writes on a copy and publishes only on success, mirroring commit/rollback.
type fakeTransactionRepo struct {
	mu   sync.Mutex
	rows map[string]repo.Transaction

	failInsertFor string
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{rows: make(map[string]repo.Transaction)}
}

func (f *fakeTransactionRepo) GetByXeroID(_ context.Context, _ uuid.UUID, xeroTransactionID string) (repo.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.rows[xeroTransactionID]
	if !ok {
		return repo.Transaction{}, repo.ErrNotFound
	}
	return txn, nil
}

func (f *fakeTransactionRepo) Insert(_ context.Context, params repo.InsertTransactionParams) (repo.Transaction, error) {
	if f.failInsertFor != "" && params.XeroTransactionID == f.failInsertFor {
		return repo.Transaction{}, errInsertBoom
	}
	txn := repo.Transaction{
		ID:                uuid.New(),
		OrganizationID:    params.OrganizationID,
		ClientID:          params.ClientID,
		XeroTransactionID: params.XeroTransactionID,
		XeroType:          params.XeroType,
		Date:              params.Date,
		Amount:            params.Amount,
		Description:       params.Description,
		SupplierName:      params.SupplierName,
		DocumentRequired:  params.DocumentRequired,
		DocumentReceived:  params.DocumentReceived,
		Excluded:          params.Excluded,
		ExclusionReason:   params.ExclusionReason,
	}
	f.mu.Lock()
	f.rows[params.XeroTransactionID] = txn
	f.mu.Unlock()
	return txn, nil
}

func (f *fakeTransactionRepo) Update(_ context.Context, params repo.UpdateTransactionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.rows[params.XeroTransactionID]
	if !ok {
		return repo.ErrNotFound
	}
	txn.XeroType = params.XeroType
	txn.Date = params.Date
	txn.Amount = params.Amount
	txn.Description = params.Description
	txn.SupplierName = params.SupplierName
	txn.DocumentRequired = params.DocumentRequired
	txn.DocumentReceived = params.DocumentReceived
	txn.Excluded = params.Excluded
	txn.ExclusionReason = params.ExclusionReason
	f.rows[params.XeroTransactionID] = txn
	return nil
}

func (f *fakeTransactionRepo) WithinTx(ctx context.Context, fn func(store repo.TransactionStore) error) error {
	f.mu.Lock()
	staged := &fakeTransactionRepo{
		rows:          make(map[string]repo.Transaction, len(f.rows)),
		failInsertFor: f.failInsertFor,
	}
	for k, v := range f.rows {
		staged.rows[k] = v
	}
	f.mu.Unlock()

	if err := fn(staged); err != nil {
		return err
	}

	f.mu.Lock()
	f.rows = staged.rows
	f.mu.Unlock()
	return nil
}

func (f *fakeTransactionRepo) List(_ context.Context, params repo.ListTransactionsParams) ([]repo.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repo.Transaction, 0, len(f.rows))
	for _, txn := range f.rows {
		if txn.OrganizationID == params.OrganizationID {
			out = append(out, txn)
		}
	}
	return out, nil
}
