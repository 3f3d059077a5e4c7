package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const bucketName = "oauth_state"

// NATSStore keeps handshake state in a JetStream key-value bucket with a
// bucket-level TTL, so expired attempts evict themselves.
type NATSStore struct {
	kv nats.KeyValue
}

// NewNATSStore binds to the oauth_state bucket, creating it if needed.
func NewNATSStore(nc *nats.Conn) (*NATSStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucketName)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucketName,
			TTL:    TTL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open oauth state bucket: %w", err)
	}

	return &NATSStore{kv: kv}, nil
}

func (s *NATSStore) Put(ctx context.Context, token string, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state: %w", err)
	}

	if _, err := s.kv.Put(token, data); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}

	return nil
}

func (s *NATSStore) Consume(ctx context.Context, token string) (State, error) {
	entry, err := s.kv.Get(token)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("failed to read oauth state: %w", err)
	}

	// Deleting at the observed revision makes consumption atomic: of two
	// racing callers exactly one delete succeeds.
	if err := s.kv.Delete(token, nats.LastRevision(entry.Revision())); err != nil {
		return State{}, ErrStateNotFound
	}

	var state State
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}

	// The bucket TTL evicts lazily; enforce expiry here as well.
	if time.Now().UTC().After(state.ExpiresAt) {
		return State{}, ErrStateNotFound
	}

	return state, nil
}
