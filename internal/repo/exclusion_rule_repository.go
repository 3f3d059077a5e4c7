package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type exclusionRuleRepository struct {
	db *pgxpool.Pool
}

// NewExclusionRuleRepository creates a new exclusion rule repository.
func NewExclusionRuleRepository(db *pgxpool.Pool) ExclusionRuleRepository {
	return &exclusionRuleRepository{db: db}
}

const exclusionRuleColumns = `id, organization_id, rule_type, pattern, match_type, enabled, reason,
		created_by, created_at, updated_at`

func (r *exclusionRuleRepository) ListEnabled(ctx context.Context, organizationID uuid.UUID) ([]ExclusionRule, error) {
	query := `
		SELECT ` + exclusionRuleColumns + `
		FROM exclusion_rules
		WHERE organization_id = $1 AND enabled = TRUE
		ORDER BY created_at ASC`

	return r.queryRules(ctx, query, organizationID)
}

func (r *exclusionRuleRepository) List(ctx context.Context, organizationID uuid.UUID) ([]ExclusionRule, error) {
	query := `
		SELECT ` + exclusionRuleColumns + `
		FROM exclusion_rules
		WHERE organization_id = $1
		ORDER BY created_at ASC`

	return r.queryRules(ctx, query, organizationID)
}

func (r *exclusionRuleRepository) Create(ctx context.Context, params CreateExclusionRuleParams) (ExclusionRule, error) {
	query := `
		INSERT INTO exclusion_rules (
			id, organization_id, rule_type, pattern, match_type, enabled, reason, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		) RETURNING ` + exclusionRuleColumns

	rule, err := scanExclusionRule(r.db.QueryRow(ctx, query,
		uuid.New(),
		params.OrganizationID,
		params.RuleType,
		params.Pattern,
		params.MatchType,
		params.Enabled,
		params.Reason,
		params.CreatedBy,
	))
	if err != nil {
		return ExclusionRule{}, fmt.Errorf("failed to create exclusion rule: %w", err)
	}

	return rule, nil
}

func (r *exclusionRuleRepository) queryRules(ctx context.Context, query string, organizationID uuid.UUID) ([]ExclusionRule, error) {
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusion rules: %w", err)
	}
	defer rows.Close()

	var rules []ExclusionRule
	for rows.Next() {
		rule, err := scanExclusionRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exclusion rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rules, nil
}

func scanExclusionRule(row pgx.Row) (ExclusionRule, error) {
	var rule ExclusionRule
	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.RuleType,
		&rule.Pattern,
		&rule.MatchType,
		&rule.Enabled,
		&rule.Reason,
		&rule.CreatedBy,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	return rule, err
}
