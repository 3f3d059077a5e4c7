package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogRepository struct {
	db *pgxpool.Pool
}

// NewAuditLogRepository creates a new audit log repository. Audit rows are
// append-only; querying them is owned by the rest of the application.
func NewAuditLogRepository(db *pgxpool.Pool) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Insert(ctx context.Context, params InsertAuditLogParams) error {
	query := `
		INSERT INTO audit_logs (
			id, organization_id, user_id, action, resource_type, resource_id
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)`

	_, err := r.db.Exec(ctx, query,
		uuid.New(),
		params.OrganizationID,
		params.UserID,
		params.Action,
		params.ResourceType,
		params.ResourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

type clientRepository struct {
	db *pgxpool.Pool
}

// NewClientRepository creates a read-only client lookup.
func NewClientRepository(db *pgxpool.Pool) ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) FirstForOrganization(ctx context.Context, organizationID uuid.UUID) (uuid.UUID, error) {
	query := `
		SELECT id FROM clients
		WHERE organization_id = $1
		ORDER BY created_at ASC
		LIMIT 1`

	var id uuid.UUID
	if err := r.db.QueryRow(ctx, query, organizationID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to look up client: %w", err)
	}

	return id, nil
}
