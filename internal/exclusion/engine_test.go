package exclusion

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Offlode-platform/back-end/internal/repo"
)

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func supplierRule(pattern, matchType, reason string) repo.ExclusionRule {
	return repo.ExclusionRule{
		RuleType:  repo.RuleTypeSupplierName,
		Pattern:   pattern,
		MatchType: matchType,
		Enabled:   true,
		Reason:    nullStr(reason),
	}
}

func TestApplySupplierContains(t *testing.T) {
	txn := repo.Transaction{
		SupplierName:     nullStr("AWS EMEA SARL"),
		DocumentRequired: true,
	}
	rules := []repo.ExclusionRule{supplierRule("AWS", repo.MatchContains, "Cloud infra")}

	require.True(t, Apply(&txn, rules))
	assert.True(t, txn.Excluded)
	assert.False(t, txn.DocumentRequired)
	assert.Equal(t, "Cloud infra", txn.ExclusionReason.String)
}

func TestApplyFirstMatchWins(t *testing.T) {
	txn := repo.Transaction{SupplierName: nullStr("Acme Hosting"), DocumentRequired: true}
	rules := []repo.ExclusionRule{
		supplierRule("acme", repo.MatchContains, "First rule"),
		supplierRule("hosting", repo.MatchContains, "Second rule"),
	}

	require.True(t, Apply(&txn, rules))
	assert.Equal(t, "First rule", txn.ExclusionReason.String)
}

func TestApplyDisabledRuleNeverMatches(t *testing.T) {
	rule := supplierRule("acme", repo.MatchContains, "Disabled")
	rule.Enabled = false

	txn := repo.Transaction{SupplierName: nullStr("Acme Ltd"), DocumentRequired: true}
	require.False(t, Apply(&txn, []repo.ExclusionRule{rule}))
	assert.False(t, txn.Excluded)
	assert.True(t, txn.DocumentRequired)
	assert.False(t, txn.ExclusionReason.Valid)
}

func TestApplyNoMatchLeavesTransactionUntouched(t *testing.T) {
	txn := repo.Transaction{SupplierName: nullStr("Stationery World"), DocumentRequired: true}
	rules := []repo.ExclusionRule{supplierRule("aws", repo.MatchContains, "Cloud infra")}

	require.False(t, Apply(&txn, rules))
	assert.False(t, txn.Excluded)
	assert.True(t, txn.DocumentRequired)
}

func TestApplyDefaultReason(t *testing.T) {
	rule := supplierRule("acme", repo.MatchContains, "")
	rule.Reason = sql.NullString{}

	txn := repo.Transaction{SupplierName: nullStr("Acme Ltd"), DocumentRequired: true}
	require.True(t, Apply(&txn, []repo.ExclusionRule{rule}))
	assert.Equal(t, DefaultReason, txn.ExclusionReason.String)
}

func TestApplyDescriptionRule(t *testing.T) {
	txn := repo.Transaction{Description: nullStr("Monthly bank fee"), DocumentRequired: true}
	rules := []repo.ExclusionRule{{
		RuleType:  repo.RuleTypeDescription,
		Pattern:   "bank fee",
		MatchType: repo.MatchContains,
		Enabled:   true,
		Reason:    nullStr("Bank charges"),
	}}

	require.True(t, Apply(&txn, rules))
	assert.Equal(t, "Bank charges", txn.ExclusionReason.String)
}

func TestApplyUnevaluatedRuleTypesHaveNoEffect(t *testing.T) {
	txn := repo.Transaction{
		SupplierName: nullStr("anything"),
		Description:  nullStr("anything"),
		Amount:       100,
	}

	for _, ruleType := range []string{repo.RuleTypeAmountRange, repo.RuleTypeCategory, "unknown"} {
		rules := []repo.ExclusionRule{{
			RuleType:  ruleType,
			Pattern:   "anything",
			MatchType: repo.MatchContains,
			Enabled:   true,
		}}
		assert.False(t, Apply(&txn, rules), "rule type %q must not be evaluated", ruleType)
	}
}

func TestMatchesPredicates(t *testing.T) {
	tests := []struct {
		name      string
		matchType string
		pattern   string
		value     string
		want      bool
	}{
		{"contains case insensitive", repo.MatchContains, "AWS", "payment to aws emea", true},
		{"contains miss", repo.MatchContains, "azure", "payment to aws", false},
		{"equals case insensitive", repo.MatchEquals, "Uber", "UBER", true},
		{"equals partial is not equal", repo.MatchEquals, "Uber", "Uber Eats", false},
		{"starts_with", repo.MatchStartsWith, "uber", "Uber Eats", true},
		{"starts_with miss", repo.MatchStartsWith, "eats", "Uber Eats", false},
		{"ends_with", repo.MatchEndsWith, "LTD", "Acme Ltd", true},
		{"ends_with miss", repo.MatchEndsWith, "plc", "Acme Ltd", false},
		{"regex search", repo.MatchRegex, "aws|gcp", "Invoice AWS Europe", true},
		{"regex case insensitive", repo.MatchRegex, "^uber", "UBER BV", true},
		{"regex malformed never matches", repo.MatchRegex, "([", "anything", false},
		{"unknown match type", "fuzzy", "acme", "acme", false},
		{"empty value never matches", repo.MatchContains, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := repo.ExclusionRule{Pattern: tt.pattern, MatchType: tt.matchType, Enabled: true}
			assert.Equal(t, tt.want, Matches(rule, tt.value))
		})
	}
}
