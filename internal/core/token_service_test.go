package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Offlode-platform/back-end/internal/crypto"
	"github.com/Offlode-platform/back-end/internal/repo"
	"github.com/Offlode-platform/back-end/internal/xero"
	"github.com/Offlode-platform/back-end/pkg/events"
)

func testCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	cipher, err := crypto.NewCipher("test-app-secret")
	require.NoError(t, err)
	return cipher
}

func seedConnection(t *testing.T, repos *fakeConnectionRepo, cipher *crypto.Cipher, orgID uuid.UUID, access, refresh string, expiresAt time.Time) {
	t.Helper()
	encAccess, err := cipher.Encrypt(access)
	require.NoError(t, err)
	encRefresh, err := cipher.Encrypt(refresh)
	require.NoError(t, err)

	repos.connections[orgID] = repo.Connection{
		ID:                    uuid.New(),
		OrganizationID:        orgID,
		TenantID:              "tenant-1",
		AccessTokenEncrypted:  encAccess,
		RefreshTokenEncrypted: encRefresh,
		ExpiresAt:             expiresAt,
		SyncStatus:            events.SyncStatusConnected,
	}
}

func TestGetValidAccessTokenFresh(t *testing.T) {
	cipher := testCipher(t)
	connections := newFakeConnectionRepo()
	orgID := uuid.New()
	seedConnection(t, connections, cipher, orgID, "access-1", "refresh-1", time.Now().Add(time.Hour))

	client := &fakeXeroClient{
		refreshFn: func(string) (xero.TokenSet, error) {
			t.Fatal("fresh token must not trigger a refresh")
			return xero.TokenSet{}, nil
		},
	}
	svc := NewTokenService(connections, cipher, client, zap.NewNop())

	token, err := svc.GetValidAccessToken(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, 0, client.refreshCount())
}

func TestGetValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	cipher := testCipher(t)
	connections := newFakeConnectionRepo()
	orgID := uuid.New()
	seedConnection(t, connections, cipher, orgID, "access-1", "refresh-1", time.Now().Add(30*time.Second))

	client := &fakeXeroClient{
		refreshFn: func(refreshToken string) (xero.TokenSet, error) {
			assert.Equal(t, "refresh-1", refreshToken)
			return xero.TokenSet{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 1800}, nil
		},
	}
	svc := NewTokenService(connections, cipher, client, zap.NewNop())

	token, err := svc.GetValidAccessToken(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, client.refreshCount())
	assert.Equal(t, 1, connections.updateTokensCalls)

	// The rotated pair is what got persisted.
	conn := connections.connections[orgID]
	gotAccess, err := cipher.Decrypt(conn.AccessTokenEncrypted)
	require.NoError(t, err)
	gotRefresh, err := cipher.Decrypt(conn.RefreshTokenEncrypted)
	require.NoError(t, err)
	assert.Equal(t, "access-2", gotAccess)
	assert.Equal(t, "refresh-2", gotRefresh)
	assert.WithinDuration(t, time.Now().Add(1800*time.Second), conn.ExpiresAt, 5*time.Second)
}

func TestGetValidAccessTokenRejectedRefreshRevokes(t *testing.T) {
	cipher := testCipher(t)
	connections := newFakeConnectionRepo()
	orgID := uuid.New()
	seedConnection(t, connections, cipher, orgID, "access-1", "refresh-1", time.Now().Add(-time.Minute))

	client := &fakeXeroClient{
		refreshFn: func(string) (xero.TokenSet, error) {
			return xero.TokenSet{}, &xero.RejectedError{StatusCode: 400, Body: "invalid_grant"}
		},
	}
	svc := NewTokenService(connections, cipher, client, zap.NewNop())

	_, err := svc.GetValidAccessToken(context.Background(), orgID)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, []string{events.SyncStatusRevoked}, connections.statusUpdates)
	assert.Equal(t, events.SyncStatusRevoked, connections.connections[orgID].SyncStatus)
}

func TestGetValidAccessTokenProviderOutageLeavesStatus(t *testing.T) {
	cipher := testCipher(t)
	connections := newFakeConnectionRepo()
	orgID := uuid.New()
	seedConnection(t, connections, cipher, orgID, "access-1", "refresh-1", time.Now().Add(-time.Minute))

	client := &fakeXeroClient{
		refreshFn: func(string) (xero.TokenSet, error) {
			return xero.TokenSet{}, xero.ErrProviderUnavailable
		},
	}
	svc := NewTokenService(connections, cipher, client, zap.NewNop())

	_, err := svc.GetValidAccessToken(context.Background(), orgID)
	assert.ErrorIs(t, err, xero.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrRefreshFailed)
	assert.Empty(t, connections.statusUpdates)
	assert.Equal(t, events.SyncStatusConnected, connections.connections[orgID].SyncStatus)
}

func TestGetValidAccessTokenNotConnected(t *testing.T) {
	svc := NewTokenService(newFakeConnectionRepo(), testCipher(t), &fakeXeroClient{}, zap.NewNop())

	_, err := svc.GetValidAccessToken(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGetValidAccessTokenTamperedCiphertext(t *testing.T) {
	cipher := testCipher(t)
	connections := newFakeConnectionRepo()
	orgID := uuid.New()
	seedConnection(t, connections, cipher, orgID, "access-1", "refresh-1", time.Now().Add(time.Hour))

	conn := connections.connections[orgID]
	conn.AccessTokenEncrypted = "not-a-ciphertext"
	connections.connections[orgID] = conn

	svc := NewTokenService(connections, cipher, &fakeXeroClient{}, zap.NewNop())

	_, err := svc.GetValidAccessToken(context.Background(), orgID)
	assert.ErrorIs(t, err, crypto.ErrCiphertext)
}

func TestGetValidAccessTokenConcurrentCallersRefreshOnce(t *testing.T) {
	cipher := testCipher(t)
	connections := newFakeConnectionRepo()
	orgID := uuid.New()
	seedConnection(t, connections, cipher, orgID, "access-1", "refresh-1", time.Now().Add(-time.Minute))

	client := &fakeXeroClient{
		refreshFn: func(refreshToken string) (xero.TokenSet, error) {
			if refreshToken != "refresh-1" {
				return xero.TokenSet{}, errors.New("refresh token already rotated")
			}
			return xero.TokenSet{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 1800}, nil
		},
	}
	svc := NewTokenService(connections, cipher, client, zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = svc.GetValidAccessToken(context.Background(), orgID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}
	assert.Equal(t, 1, client.refreshCount(), "only one caller may spend the refresh token")
}
