package xero

import (
	"regexp"
	"strconv"
	"time"
)

// TokenSet is the response of the Xero token endpoint for both the
// authorization_code and refresh_token grants.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// ExpiresAt converts the relative expiry into an absolute UTC instant.
func (t TokenSet) ExpiresAt(now time.Time) time.Time {
	return now.UTC().Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Tenant is one entry of the Xero connections endpoint.
type Tenant struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	TenantType string `json:"tenantType"`
}

// Contact is the counterparty of a bank transaction.
type Contact struct {
	Name string `json:"Name"`
}

// BankTransaction is a record of the Xero BankTransactions endpoint. Records
// may arrive without an identifier; sync skips those.
type BankTransaction struct {
	BankTransactionID string  `json:"BankTransactionID"`
	Type              string  `json:"Type"`
	Date              string  `json:"Date"`
	DateString        string  `json:"DateString"`
	Total             float64 `json:"Total"`
	Reference         string  `json:"Reference"`
	LineAmountTypes   string  `json:"LineAmountTypes"`
	Contact           Contact `json:"Contact"`
	HasAttachments    bool    `json:"HasAttachments"`
}

var msDateRe = regexp.MustCompile(`^/Date\((-?\d+)`)

// TxnDate parses the transaction date. Xero serializes dates either as ISO
// strings or as legacy /Date(milliseconds+offset)/ values.
func (b BankTransaction) TxnDate() (time.Time, bool) {
	for _, raw := range []string{b.DateString, b.Date} {
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), true
			}
		}
		if m := msDateRe.FindStringSubmatch(raw); m != nil {
			ms, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil {
				return time.UnixMilli(ms).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

type bankTransactionsResponse struct {
	BankTransactions []BankTransaction `json:"BankTransactions"`
}
