package sentinelhub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultRefreshLeeway is how long before expiry a cached token is replaced.
const DefaultRefreshLeeway = 60 * time.Second

// TokenFetcher acquires a fresh access token.
type TokenFetcher func(ctx context.Context) (*oauth2.Token, error)

// ClientCredentials returns a fetcher for the OAuth2 client-credentials grant.
func ClientCredentials(clientID, clientSecret, tokenURL string) TokenFetcher {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return cfg.Token
}

// TokenCache holds one access token and refreshes it shortly before expiry.
// It is safe for concurrent use.
type TokenCache struct {
	mu     sync.Mutex
	fetch  TokenFetcher
	token  *oauth2.Token
	leeway time.Duration
	now    func() time.Time
}

func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{
		fetch:  fetch,
		leeway: DefaultRefreshLeeway,
		now:    time.Now,
	}
}

// Token returns the cached access token, fetching a new one when the cached
// token is missing or within the refresh leeway of its expiry.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fresh() {
		return c.token.AccessToken, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("sentinel hub token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", fmt.Errorf("sentinel hub token: empty access token")
	}
	c.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// Must be called with lock held.
func (c *TokenCache) fresh() bool {
	if c.token == nil {
		return false
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	return c.now().Before(c.token.Expiry.Add(-c.leeway))
}
