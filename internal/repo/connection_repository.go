package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type connectionRepository struct {
	db *pgxpool.Pool
}

// NewConnectionRepository creates a new Xero connection repository.
func NewConnectionRepository(db *pgxpool.Pool) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, organization_id, tenant_id, tenant_name, access_token_encrypted,
		refresh_token_encrypted, expires_at, sync_status, last_sync_at, connected_by, created_at, updated_at`

func (r *connectionRepository) Get(ctx context.Context, organizationID uuid.UUID) (Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM xero_connections
		WHERE organization_id = $1`

	conn, err := scanConnection(r.db.QueryRow(ctx, query, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("failed to get connection: %w", err)
	}

	return conn, nil
}

func (r *connectionRepository) Upsert(ctx context.Context, params UpsertConnectionParams) (Connection, error) {
	query := `
		INSERT INTO xero_connections (
			id, organization_id, tenant_id, tenant_name, access_token_encrypted,
			refresh_token_encrypted, expires_at, sync_status, connected_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		) ON CONFLICT (organization_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			tenant_name = EXCLUDED.tenant_name,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			expires_at = EXCLUDED.expires_at,
			sync_status = EXCLUDED.sync_status,
			connected_by = EXCLUDED.connected_by,
			updated_at = NOW()
		RETURNING ` + connectionColumns

	conn, err := scanConnection(r.db.QueryRow(ctx, query,
		uuid.New(),
		params.OrganizationID,
		params.TenantID,
		params.TenantName,
		params.AccessTokenEncrypted,
		params.RefreshTokenEncrypted,
		params.ExpiresAt,
		params.SyncStatus,
		params.ConnectedBy,
	))
	if err != nil {
		return Connection{}, fmt.Errorf("failed to upsert connection: %w", err)
	}

	return conn, nil
}

func (r *connectionRepository) UpdateTokens(ctx context.Context, params UpdateConnectionTokensParams) error {
	query := `
		UPDATE xero_connections
		SET access_token_encrypted = $2,
			refresh_token_encrypted = $3,
			expires_at = $4,
			sync_status = 'connected',
			updated_at = NOW()
		WHERE organization_id = $1`

	result, err := r.db.Exec(ctx, query,
		params.OrganizationID,
		params.AccessTokenEncrypted,
		params.RefreshTokenEncrypted,
		params.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *connectionRepository) UpdateSyncStatus(ctx context.Context, organizationID uuid.UUID, status string) error {
	query := `
		UPDATE xero_connections
		SET sync_status = $2, updated_at = NOW()
		WHERE organization_id = $1`

	result, err := r.db.Exec(ctx, query, organizationID, status)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *connectionRepository) TouchLastSync(ctx context.Context, organizationID uuid.UUID, syncedAt time.Time) error {
	query := `
		UPDATE xero_connections
		SET last_sync_at = $2, updated_at = NOW()
		WHERE organization_id = $1`

	result, err := r.db.Exec(ctx, query, organizationID, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanConnection(row pgx.Row) (Connection, error) {
	var conn Connection
	err := row.Scan(
		&conn.ID,
		&conn.OrganizationID,
		&conn.TenantID,
		&conn.TenantName,
		&conn.AccessTokenEncrypted,
		&conn.RefreshTokenEncrypted,
		&conn.ExpiresAt,
		&conn.SyncStatus,
		&conn.LastSyncAt,
		&conn.ConnectedBy,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	return conn, err
}
