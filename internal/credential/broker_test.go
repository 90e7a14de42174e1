package credential

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/lyzr/workflow-platform/internal/models"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("super-secret-token"))
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-token", string(ct))

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", string(pt))
}

func TestShortMasterSecretRejected(t *testing.T) {
	_, err := NewCipher("too-short")
	assert.Error(t, err)
}

type memStore struct {
	mu    sync.Mutex
	creds map[string]*models.Credential
}

func (s *memStore) GetCredential(ctx context.Context, userID, provider string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID+":"+provider]
	if !ok {
		return nil, assert.AnError
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UpdateCredential(ctx context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds[c.UserID+":"+c.Provider] = &cp
	return nil
}

type memLocker struct {
	mu    sync.Mutex
	held  map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]bool)} }

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type countingRefresher struct {
	calls int32
	delay time.Duration
}

func (r *countingRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	atomic.AddInt32(&r.calls, 1)
	time.Sleep(r.delay)
	return &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func setupBroker(t *testing.T, refresher *countingRefresher) (*Broker, *memStore) {
	t.Helper()
	cipher, err := NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	access, _ := cipher.Encrypt([]byte("old-access"))
	refresh, _ := cipher.Encrypt([]byte("old-refresh"))
	store := &memStore{creds: map[string]*models.Credential{
		"u1:slack": {
			UserID: "u1", Provider: "slack", IsValid: true,
			EncryptedAccessToken:  access,
			EncryptedRefreshToken: refresh,
			TokenExpiresAt:        time.Now().Add(10 * time.Second), // within refresh window
		},
	}}

	broker := NewBroker(store, cipher, newMemLocker())
	broker.RegisterProvider("slack", refresher)
	return broker, store
}

func TestAccessTokenRefreshesWhenNearExpiry(t *testing.T) {
	refresher := &countingRefresher{}
	broker, _ := setupBroker(t, refresher)

	tok, err := broker.AccessToken(context.Background(), "u1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
	assert.EqualValues(t, 1, refresher.calls)
}

func TestConcurrentRefreshesCoalesceToOneProviderCall(t *testing.T) {
	refresher := &countingRefresher{delay: 50 * time.Millisecond}
	broker, _ := setupBroker(t, refresher)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := broker.AccessToken(context.Background(), "u1", "slack")
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "new-access", r)
	}
	assert.EqualValues(t, 1, refresher.calls, "invariant 7: at most one refresh request reaches the provider")
}

func TestNoRefreshWhenFarFromExpiry(t *testing.T) {
	refresher := &countingRefresher{}
	broker, store := setupBroker(t, refresher)
	store.mu.Lock()
	store.creds["u1:slack"].TokenExpiresAt = time.Now().Add(time.Hour)
	store.mu.Unlock()

	tok, err := broker.AccessToken(context.Background(), "u1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "old-access", tok)
	assert.EqualValues(t, 0, refresher.calls)
}
