package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RefreshTimeout bounds the token exchange call. It is deliberately short:
// an in-flight refresh gates every other request.
const RefreshTimeout = 5 * time.Second

// ErrNoRefreshToken means a refresh was needed but no refresh token is
// stored. The session cannot be renewed.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ErrRefreshRejected means the server refused the refresh token.
var ErrRefreshRejected = errors.New("refresh token rejected")

// Refresher exchanges the stored refresh token for a new token pair with
// single-flight semantics: however many callers need a refresh concurrently,
// one network call is made and every caller receives that call's outcome.
//
// One Refresher serves one credential scope. Clients for different backend
// audiences that present the same bearer token must share a single instance,
// or concurrent expired-token requests can each trigger their own exchange.
type Refresher struct {
	endpoint   string
	store      CredentialStore
	httpClient *http.Client
	log        zerolog.Logger

	mu     sync.Mutex
	ticket *ticket // nil when idle
}

// ticket represents one in-flight refresh episode. Waiters block on done;
// access and err are written exactly once, before done is closed.
type ticket struct {
	done   chan struct{}
	access string
	err    error
}

// NewRefresher creates a refresher that posts to endpoint, the full URL of
// the token exchange route.
func NewRefresher(endpoint string, store CredentialStore, log zerolog.Logger) *Refresher {
	return &Refresher{
		endpoint:   endpoint,
		store:      store,
		httpClient: &http.Client{Timeout: RefreshTimeout},
		log:        log,
	}
}

// Refresh returns a fresh access token, performing the exchange if no
// episode is in flight or joining the current one otherwise. All callers of
// the same episode observe the same outcome; a caller can never observe a
// later episode's result instead.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	if t := r.ticket; t != nil {
		r.mu.Unlock()
		select {
		case <-t.done:
			return t.access, t.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t := &ticket{done: make(chan struct{})}
	r.ticket = t
	r.mu.Unlock()

	r.log.Debug().Msg("token refresh started")
	t.access, t.err = r.exchange()
	if t.err != nil {
		r.log.Debug().Err(t.err).Msg("token refresh failed")
	} else {
		r.log.Debug().Msg("token refresh succeeded")
	}

	// Settle: return to idle before releasing waiters so a caller arriving
	// after settlement starts a fresh episode instead of reading this one.
	r.mu.Lock()
	r.ticket = nil
	r.mu.Unlock()
	close(t.done)

	return t.access, t.err
}

// exchange performs the actual network call and persists the result. The
// episode outlives any single caller, so it runs on its own deadline rather
// than a caller's context.
func (r *Refresher) exchange() (string, error) {
	refreshToken, err := r.store.Get(TokenRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return "", ErrNoRefreshToken
		}
		// Storage trouble degrades to "no token": renewal is impossible
		// either way, and the caller path is identical.
		return "", fmt.Errorf("%w: %s", ErrNoRefreshToken, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), RefreshTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrRefreshRejected, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var tokenResp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: malformed response: %s", ErrRefreshRejected, err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access token", ErrRefreshRejected)
	}

	if err := r.store.Set(TokenAccess, tokenResp.AccessToken); err != nil {
		return "", fmt.Errorf("persist access token: %w", err)
	}
	// The server may choose not to rotate the refresh token; only write it
	// back when it actually changed.
	if tokenResp.RefreshToken != "" && tokenResp.RefreshToken != refreshToken {
		if err := r.store.Set(TokenRefresh, tokenResp.RefreshToken); err != nil {
			return "", fmt.Errorf("persist refresh token: %w", err)
		}
	}

	return tokenResp.AccessToken, nil
}

// SetHTTPClient overrides the HTTP client used for the exchange call.
func (r *Refresher) SetHTTPClient(c *http.Client) {
	r.httpClient = c
}
