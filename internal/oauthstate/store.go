// Package oauthstate stores the short-lived anti-replay state of the OAuth
// handshake. Entries are consumed exactly once and expire after TTL.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TTL is how long an authorization attempt stays valid.
const TTL = 15 * time.Minute

// ErrStateNotFound is returned when a state token is unknown, expired or was
// already consumed. A token is never accepted twice.
var ErrStateNotFound = errors.New("oauth state not found, expired or already consumed")

// State binds an authorization attempt to the actor who started it.
type State struct {
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Store persists handshake state between the authorize and callback steps.
type Store interface {
	Put(ctx context.Context, token string, state State) error
	// Consume atomically reads and invalidates the state. Racing consumers
	// get exactly one success; everyone else gets ErrStateNotFound.
	Consume(ctx context.Context, token string) (State, error)
}

// NewToken returns an unguessable 256-bit state token, base64url encoded.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
