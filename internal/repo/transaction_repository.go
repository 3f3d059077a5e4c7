package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same
// statements serve pooled and transactional execution.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type transactionRepository struct {
	q    querier
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepository{q: db, pool: db}
}

const transactionColumns = `id, organization_id, client_id, xero_transaction_id, xero_type, date,
		amount, description, supplier_name, document_required, document_received,
		excluded, exclusion_reason, created_at, updated_at`

func (r *transactionRepository) WithinTx(ctx context.Context, fn func(store TransactionStore) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&transactionRepository{q: tx, pool: r.pool}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *transactionRepository) GetByXeroID(ctx context.Context, organizationID uuid.UUID, xeroTransactionID string) (Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE organization_id = $1 AND xero_transaction_id = $2`

	txn, err := scanTransaction(r.q.QueryRow(ctx, query, organizationID, xeroTransactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}

	return txn, nil
}

func (r *transactionRepository) Insert(ctx context.Context, params InsertTransactionParams) (Transaction, error) {
	query := `
		INSERT INTO transactions (
			id, organization_id, client_id, xero_transaction_id, xero_type, date,
			amount, description, supplier_name, document_required, document_received,
			excluded, exclusion_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		) RETURNING ` + transactionColumns

	txn, err := scanTransaction(r.q.QueryRow(ctx, query,
		uuid.New(),
		params.OrganizationID,
		params.ClientID,
		params.XeroTransactionID,
		params.XeroType,
		params.Date,
		params.Amount,
		params.Description,
		params.SupplierName,
		params.DocumentRequired,
		params.DocumentReceived,
		params.Excluded,
		params.ExclusionReason,
	))
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return txn, nil
}

func (r *transactionRepository) Update(ctx context.Context, params UpdateTransactionParams) error {
	query := `
		UPDATE transactions
		SET xero_type = $3,
			date = $4,
			amount = $5,
			description = $6,
			supplier_name = $7,
			document_required = $8,
			document_received = $9,
			excluded = $10,
			exclusion_reason = $11,
			updated_at = NOW()
		WHERE organization_id = $1 AND xero_transaction_id = $2`

	result, err := r.q.Exec(ctx, query,
		params.OrganizationID,
		params.XeroTransactionID,
		params.XeroType,
		params.Date,
		params.Amount,
		params.Description,
		params.SupplierName,
		params.DocumentRequired,
		params.DocumentReceived,
		params.Excluded,
		params.ExclusionReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *transactionRepository) List(ctx context.Context, params ListTransactionsParams) ([]Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE organization_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, params.OrganizationID, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return txns, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var txn Transaction
	err := row.Scan(
		&txn.ID,
		&txn.OrganizationID,
		&txn.ClientID,
		&txn.XeroTransactionID,
		&txn.XeroType,
		&txn.Date,
		&txn.Amount,
		&txn.Description,
		&txn.SupplierName,
		&txn.DocumentRequired,
		&txn.DocumentReceived,
		&txn.Excluded,
		&txn.ExclusionReason,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	return txn, err
}
