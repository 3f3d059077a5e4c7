// Package exclusion decides whether a synced transaction requires a
// supporting document, by evaluating an organization's rule set in order.
package exclusion

import (
	"database/sql"
	"regexp"
	"strings"

	"github.com/Offlode-platform/back-end/internal/repo"
)

// DefaultReason is recorded when a matching rule carries no reason of its own.
const DefaultReason = "Auto-excluded"

// Apply evaluates rules in list order against txn. The first enabled matching
// rule wins: txn is marked excluded, its document requirement is cleared and
// the rule's reason is recorded. Returns true if a rule matched. A
// non-matching pass leaves txn untouched.
func Apply(txn *repo.Transaction, rules []repo.ExclusionRule) bool {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		value, ok := fieldFor(txn, rule.RuleType)
		if !ok {
			continue
		}

		if !Matches(rule, value) {
			continue
		}

		reason := rule.Reason.String
		if reason == "" {
			reason = DefaultReason
		}

		txn.Excluded = true
		txn.DocumentRequired = false
		txn.ExclusionReason = sql.NullString{String: reason, Valid: true}
		return true
	}

	return false
}

// Matches reports whether value satisfies the rule's pattern. All predicates
// are case-insensitive. A malformed regex pattern never matches.
func Matches(rule repo.ExclusionRule, value string) bool {
	if value == "" {
		return false
	}

	v := strings.ToLower(value)
	p := strings.ToLower(rule.Pattern)

	switch rule.MatchType {
	case repo.MatchContains:
		return strings.Contains(v, p)
	case repo.MatchEquals:
		return v == p
	case repo.MatchStartsWith:
		return strings.HasPrefix(v, p)
	case repo.MatchEndsWith:
		return strings.HasSuffix(v, p)
	case repo.MatchRegex:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}

	return false
}

// fieldFor selects the transaction field a rule type tests. Rule types with
// no evaluated field (amount_range, category are defined in the data model
// but not evaluated yet) select nothing, so their rules have no effect.
func fieldFor(txn *repo.Transaction, ruleType string) (string, bool) {
	switch ruleType {
	case repo.RuleTypeSupplierName:
		return txn.SupplierName.String, txn.SupplierName.Valid
	case repo.RuleTypeDescription:
		return txn.Description.String, txn.Description.Valid
	case repo.RuleTypeAmountRange, repo.RuleTypeCategory:
		return "", false
	}
	return "", false
}
