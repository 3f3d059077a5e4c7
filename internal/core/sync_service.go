package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Offlode-platform/back-end/internal/exclusion"
	"github.com/Offlode-platform/back-end/internal/repo"
	"github.com/Offlode-platform/back-end/internal/xero"
	"github.com/Offlode-platform/back-end/pkg/events"
)

// XeroDataClient is the slice of the Xero client the sync needs.
type XeroDataClient interface {
	BankTransactions(ctx context.Context, accessToken, tenantID string) ([]xero.BankTransaction, error)
}

// SyncService fetches bank transactions from Xero and reconciles them into
// local storage with idempotent upsert semantics.
type SyncService struct {
	transactions repo.TransactionRepository
	rules        repo.ExclusionRuleRepository
	connections  repo.ConnectionRepository
	auditLogs    repo.AuditLogRepository
	tokens       *TokenService
	xero         XeroDataClient
	nats         *nats.Conn
	logger       *zap.Logger
}

// NewSyncService creates a new sync service. natsConn may be nil, in which
// case no notifications are published.
func NewSyncService(
	transactions repo.TransactionRepository,
	rules repo.ExclusionRuleRepository,
	connections repo.ConnectionRepository,
	auditLogs repo.AuditLogRepository,
	tokens *TokenService,
	xeroClient XeroDataClient,
	natsConn *nats.Conn,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		transactions: transactions,
		rules:        rules,
		connections:  connections,
		auditLogs:    auditLogs,
		tokens:       tokens,
		xero:         xeroClient,
		nats:         natsConn,
		logger:       logger.Named("sync_service"),
	}
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// FetchBankTransactions pulls the organization's remote transactions through
// a valid access token.
func (s *SyncService) FetchBankTransactions(ctx context.Context, organizationID uuid.UUID) ([]xero.BankTransaction, error) {
	conn, err := s.connections.Get(ctx, organizationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	accessToken, err := s.tokens.GetValidAccessToken(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	remote, err := s.xero.BankTransactions(ctx, accessToken, conn.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bank transactions: %w", err)
	}

	return remote, nil
}

// Sync fetches and reconciles in one step.
func (s *SyncService) Sync(ctx context.Context, organizationID, clientID uuid.UUID) (SyncResult, error) {
	remote, err := s.FetchBankTransactions(ctx, organizationID)
	if err != nil {
		return SyncResult{}, err
	}

	return s.Reconcile(ctx, organizationID, clientID, remote)
}

// Reconcile upserts a batch of remote transactions for one organization and
// client. The batch commits as a single unit of work; records without an
// identifier or with an unparseable date are skipped, never fatal. Calling
// Reconcile twice with the same input converges to the same rows.
func (s *SyncService) Reconcile(ctx context.Context, organizationID, clientID uuid.UUID, remote []xero.BankTransaction) (SyncResult, error) {
	// One rule query per batch, not per record.
	rules, err := s.rules.ListEnabled(ctx, organizationID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to load exclusion rules: %w", err)
	}

	result := SyncResult{Fetched: len(remote)}

	err = s.transactions.WithinTx(ctx, func(store repo.TransactionStore) error {
		for _, bt := range remote {
			if bt.BankTransactionID == "" {
				result.Skipped++
				continue
			}

			date, ok := bt.TxnDate()
			if !ok {
				s.logger.Warn("Skipping transaction with unparseable date",
					zap.String("organization_id", organizationID.String()),
					zap.String("xero_transaction_id", bt.BankTransactionID))
				result.Skipped++
				continue
			}

			existing, err := store.GetByXeroID(ctx, organizationID, bt.BankTransactionID)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				if err := s.insertTransaction(ctx, store, organizationID, clientID, bt, date, rules); err != nil {
					return err
				}
				result.Inserted++
			case err != nil:
				return err
			default:
				if err := s.updateTransaction(ctx, store, existing, bt, date, rules); err != nil {
					return err
				}
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to reconcile transactions: %w", err)
	}

	s.afterReconcile(ctx, organizationID, clientID, result)

	return result, nil
}

func (s *SyncService) insertTransaction(
	ctx context.Context,
	store repo.TransactionStore,
	organizationID, clientID uuid.UUID,
	bt xero.BankTransaction,
	date time.Time,
	rules []repo.ExclusionRule,
) error {
	description := bt.Reference
	if description == "" {
		description = bt.LineAmountTypes
	}

	txn := repo.Transaction{
		OrganizationID:    organizationID,
		ClientID:          clientID,
		XeroTransactionID: bt.BankTransactionID,
		XeroType:          nullString(bt.Type),
		Date:              date,
		Amount:            bt.Total,
		Description:       nullString(description),
		SupplierName:      nullString(bt.Contact.Name),
		DocumentRequired:  !bt.HasAttachments,
		DocumentReceived:  bt.HasAttachments,
		Excluded:          false,
	}

	exclusion.Apply(&txn, rules)

	_, err := store.Insert(ctx, repo.InsertTransactionParams{
		OrganizationID:    txn.OrganizationID,
		ClientID:          txn.ClientID,
		XeroTransactionID: txn.XeroTransactionID,
		XeroType:          txn.XeroType,
		Date:              txn.Date,
		Amount:            txn.Amount,
		Description:       txn.Description,
		SupplierName:      txn.SupplierName,
		DocumentRequired:  txn.DocumentRequired,
		DocumentReceived:  txn.DocumentReceived,
		Excluded:          txn.Excluded,
		ExclusionReason:   txn.ExclusionReason,
	})
	return err
}

func (s *SyncService) updateTransaction(
	ctx context.Context,
	store repo.TransactionStore,
	existing repo.Transaction,
	bt xero.BankTransaction,
	date time.Time,
	rules []repo.ExclusionRule,
) error {
	existing.XeroType = nullString(bt.Type)
	existing.Date = date
	existing.Amount = bt.Total
	if bt.Reference != "" {
		existing.Description = nullString(bt.Reference)
	}
	existing.SupplierName = nullString(bt.Contact.Name)

	// The document requirement always follows the remote attachment signal,
	// but document_received is monotonic: once true it stays true even if
	// the remote attachment disappears.
	existing.DocumentRequired = !bt.HasAttachments
	if bt.HasAttachments {
		existing.DocumentReceived = true
	}

	exclusion.Apply(&existing, rules)
	if existing.Excluded {
		existing.DocumentRequired = false
	}

	return store.Update(ctx, repo.UpdateTransactionParams{
		OrganizationID:    existing.OrganizationID,
		XeroTransactionID: existing.XeroTransactionID,
		XeroType:          existing.XeroType,
		Date:              existing.Date,
		Amount:            existing.Amount,
		Description:       existing.Description,
		SupplierName:      existing.SupplierName,
		DocumentRequired:  existing.DocumentRequired,
		DocumentReceived:  existing.DocumentReceived,
		Excluded:          existing.Excluded,
		ExclusionReason:   existing.ExclusionReason,
	})
}

// afterReconcile records bookkeeping that must not fail the committed batch:
// last sync stamp, audit row, change notification.
func (s *SyncService) afterReconcile(ctx context.Context, organizationID, clientID uuid.UUID, result SyncResult) {
	now := time.Now().UTC()

	if err := s.connections.TouchLastSync(ctx, organizationID, now); err != nil {
		s.logger.Warn("Failed to update last sync time", zap.Error(err))
	}

	if err := s.auditLogs.Insert(ctx, repo.InsertAuditLogParams{
		OrganizationID: organizationID,
		Action:         events.ActionXeroSyncCompleted,
		ResourceType:   sql.NullString{String: "transaction", Valid: true},
	}); err != nil {
		s.logger.Warn("Failed to write audit log", zap.Error(err))
	}

	if s.nats != nil {
		payload, err := json.Marshal(events.TransactionsSyncedPayload{
			OrganizationID: organizationID.String(),
			ClientID:       clientID.String(),
			Fetched:        result.Fetched,
			Inserted:       result.Inserted,
			Updated:        result.Updated,
			Skipped:        result.Skipped,
			SyncedAt:       now,
		})
		if err == nil {
			if err := s.nats.Publish(events.OrgTransactionsSubject(organizationID.String()), payload); err != nil {
				s.logger.Warn("Failed to publish sync notification", zap.Error(err))
			}
		}
	}

	s.logger.Info("Transactions reconciled",
		zap.String("organization_id", organizationID.String()),
		zap.String("client_id", clientID.String()),
		zap.Int("fetched", result.Fetched),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
