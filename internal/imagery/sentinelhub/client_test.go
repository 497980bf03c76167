package sentinelhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func countingFetcher(expiresIn time.Duration, clock *fakeClock) (TokenFetcher, *int32) {
	var calls int32
	return func(context.Context) (*oauth2.Token, error) {
		n := atomic.AddInt32(&calls, 1)
		return &oauth2.Token{
			AccessToken: "token-" + string(rune('0'+n)),
			Expiry:      clock.now().Add(expiresIn),
		}, nil
	}, &calls
}

func TestTokenCacheReusesUntilLeeway(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	fetch, calls := countingFetcher(time.Hour, clock)
	cache := NewTokenCache(fetch)
	cache.now = clock.now

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	clock.t = clock.t.Add(58 * time.Minute)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	// Exactly 60s before expiry the token is no longer reused.
	clock.t = clock.t.Add(time.Minute)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestTokenCacheNoExpiry(t *testing.T) {
	var calls int32
	cache := NewTokenCache(func(context.Context) (*oauth2.Token, error) {
		atomic.AddInt32(&calls, 1)
		return &oauth2.Token{AccessToken: "forever"}, nil
	})
	for i := 0; i < 3; i++ {
		_, err := cache.Token(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, calls)
}

func TestTokenCacheErrors(t *testing.T) {
	cache := NewTokenCache(func(context.Context) (*oauth2.Token, error) {
		return nil, errors.New("unauthorized_client")
	})
	_, err := cache.Token(context.Background())
	assert.ErrorContains(t, err, "unauthorized_client")

	empty := NewTokenCache(func(context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{}, nil
	})
	_, err = empty.Token(context.Background())
	assert.Error(t, err)
}

func TestTokenCacheConcurrentCallersShareToken(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fetch, calls := countingFetcher(time.Hour, clock)
	cache := NewTokenCache(fetch)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestClientCredentialsFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	tok, err := ClientCredentials("id", "secret", srv.URL)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestProcess(t *testing.T) {
	png := []byte("\x89PNG sentinel")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/process", r.URL.Path)
		assert.Equal(t, "Bearer static", r.Header.Get("Authorization"))

		var body processPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []float64{36, -1, 37, 0}, body.Input.Bounds.BBox)
		require.Len(t, body.Input.Data, 1)
		assert.Equal(t, "sentinel-2-l2a", body.Input.Data[0].Type)
		assert.Equal(t, 20.0, body.Input.Data[0].DataFilter.MaxCloudCoverage)
		assert.Equal(t, "leastCC", body.Input.Data[0].DataFilter.MosaickingOrder)
		assert.Equal(t, "2024-01-01T00:00:00Z", body.Input.Data[0].DataFilter.TimeRange.From)
		assert.Equal(t, 1200, body.Output.Width)
		assert.Contains(t, body.Evalscript, "evaluatePixel")

		w.Write(png)
	}))
	defer srv.Close()

	tokens := NewTokenCache(func(context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "static"}, nil
	})
	c := New(srv.URL, tokens, 0)

	got, err := c.Process(context.Background(), ProcessRequest{
		Bounds:           model.Bounds{North: 0, South: -1, East: 37, West: 36},
		From:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:               time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		MaxCloudCoverage: 20,
		Width:            1200,
		Height:           1200,
		Evalscript:       TrueColor,
	})
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestProcessUnauthorizedInvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	var calls int32
	tokens := NewTokenCache(func(context.Context) (*oauth2.Token, error) {
		atomic.AddInt32(&calls, 1)
		return &oauth2.Token{AccessToken: "t"}, nil
	})
	c := New(srv.URL, tokens, 0)

	_, err := c.Process(context.Background(), ProcessRequest{Width: 1, Height: 1})
	assert.ErrorContains(t, err, "401")
	_, err = c.Process(context.Background(), ProcessRequest{Width: 1, Height: 1})
	assert.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestProcessHonoursCancelledContext(t *testing.T) {
	tokens := NewTokenCache(func(context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "t"}, nil
	})
	c := New("http://127.0.0.1:0", tokens, 0.001)
	// Drain the single burst token so the next Wait must block.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Process(ctx, ProcessRequest{})
	assert.ErrorContains(t, err, "rate limit")
}
