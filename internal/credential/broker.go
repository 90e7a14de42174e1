package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
)

// Store is the repository-layer surface the broker needs.
type Store interface {
	GetCredential(ctx context.Context, userID, provider string) (*models.Credential, error)
	UpdateCredential(ctx context.Context, c *models.Credential) error
}

// DistLocker is the distributed-lock primitive backing cross-replica
// refresh coalescing (§4.3: "a short-TTL distributed lock"). Implemented
// against common/redis's SetNX-with-expiry pattern.
type DistLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ProviderRefresher performs the provider-specific OAuth2 token refresh.
// Providers are registered by name; Slack/GitHub/Notion/Google/Discord
// each supply an *oauth2.Config via RegisterProvider.
type ProviderRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Broker resolves a valid access token for (userID, provider), refreshing
// opportunistically within a 60s expiry window and serializing concurrent
// refreshes per (user, provider) via a local mutex plus a short-TTL
// distributed lock, per §4.3.
//
// Grounded on the teacher's condition.Evaluator caching-map pattern for
// the local-lock half (a mutex-guarded map keyed by string), and on
// common/redis/client.go's SetNX for the distributed half.
type Broker struct {
	store     Store
	cipher    *Cipher
	locker    DistLocker
	providers map[string]ProviderRefresher

	mu          sync.Mutex
	localLocks  map[string]*sync.Mutex
	refreshWindow time.Duration
}

// NewBroker constructs a Broker.
func NewBroker(store Store, cipher *Cipher, locker DistLocker) *Broker {
	return &Broker{
		store:         store,
		cipher:        cipher,
		locker:        locker,
		providers:     make(map[string]ProviderRefresher),
		localLocks:    make(map[string]*sync.Mutex),
		refreshWindow: 60 * time.Second,
	}
}

// RegisterProvider wires a provider's refresh implementation.
func (b *Broker) RegisterProvider(name string, r ProviderRefresher) {
	b.providers[name] = r
}

func (b *Broker) localLock(key string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.localLocks[key]
	if !ok {
		l = &sync.Mutex{}
		b.localLocks[key] = l
	}
	return l
}

// AccessToken returns a valid plaintext access token for (userID,
// provider), refreshing if the stored token is within refreshWindow of
// expiry. A refresh failure marks the credential invalid and returns
// AUTH_ERROR.
func (b *Broker) AccessToken(ctx context.Context, userID, provider string) (string, error) {
	cred, err := b.store.GetCredential(ctx, userID, provider)
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, "credential not found", err)
	}
	if !cred.IsValid {
		return "", apperr.New(apperr.AuthError, "credential previously marked invalid")
	}

	if time.Until(cred.TokenExpiresAt) > b.refreshWindow {
		return b.decryptAccess(cred)
	}

	key := fmt.Sprintf("%s:%s", userID, provider)
	mu := b.localLock(key)
	mu.Lock()
	defer mu.Unlock()

	// Re-check after acquiring the local lock: another goroutine in this
	// replica may have already refreshed while we waited.
	cred, err = b.store.GetCredential(ctx, userID, provider)
	if err != nil {
		return "", apperr.Wrap(apperr.NotFound, "credential not found", err)
	}
	if time.Until(cred.TokenExpiresAt) > b.refreshWindow {
		return b.decryptAccess(cred)
	}

	lockKey := "cred-refresh:" + key
	acquired, err := b.locker.TryLock(ctx, lockKey, 10*time.Second)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "distributed lock error", err)
	}
	if !acquired {
		// Another replica is refreshing; poll the store briefly rather
		// than issuing a duplicate refresh request to the provider
		// (invariant 7: at most one refresh request reaches the
		// provider).
		return b.waitForRefresh(ctx, userID, provider)
	}
	defer b.locker.Unlock(ctx, lockKey)

	return b.doRefresh(ctx, cred)
}

func (b *Broker) waitForRefresh(ctx context.Context, userID, provider string) (string, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cred, err := b.store.GetCredential(ctx, userID, provider)
		if err == nil && time.Until(cred.TokenExpiresAt) > b.refreshWindow {
			return b.decryptAccess(cred)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return "", apperr.New(apperr.Timeout, "timed out waiting for concurrent credential refresh")
}

func (b *Broker) doRefresh(ctx context.Context, cred *models.Credential) (string, error) {
	refresher, ok := b.providers[cred.Provider]
	if !ok {
		return "", apperr.New(apperr.Internal, "no refresher registered for provider: "+cred.Provider)
	}
	refreshPlain, err := b.cipher.Decrypt(cred.EncryptedRefreshToken)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to decrypt refresh token", err)
	}

	tok, err := refresher.Refresh(ctx, string(refreshPlain))
	if err != nil {
		cred.IsValid = false
		_ = b.store.UpdateCredential(ctx, cred)
		return "", apperr.Wrap(apperr.AuthError, "credential refresh failed", err)
	}

	accessEnc, err := b.cipher.Encrypt([]byte(tok.AccessToken))
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to encrypt refreshed access token", err)
	}
	cred.EncryptedAccessToken = accessEnc
	if tok.RefreshToken != "" {
		refreshEnc, err := b.cipher.Encrypt([]byte(tok.RefreshToken))
		if err != nil {
			return "", apperr.Wrap(apperr.Internal, "failed to encrypt refreshed refresh token", err)
		}
		cred.EncryptedRefreshToken = refreshEnc
	}
	cred.TokenExpiresAt = tok.Expiry
	cred.IsValid = true

	if err := b.store.UpdateCredential(ctx, cred); err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to persist refreshed credential", err)
	}
	return tok.AccessToken, nil
}

func (b *Broker) decryptAccess(cred *models.Credential) (string, error) {
	plain, err := b.cipher.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to decrypt access token", err)
	}
	return string(plain), nil
}
