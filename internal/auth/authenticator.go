package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/atlashq/atlas-cli/internal/output"
)

// EnvToken is an environment variable that short-circuits the whole flow:
// when set, its value is used as the bearer token directly. Useful for CI.
const EnvToken = "ATLAS_TOKEN"

// Authenticator ties the credential store, token inspector, refresher, and
// session guard into the two checks the request clients need: a pre-flight
// token read that renews proactively, and a reactive renewal after the
// server rejects a request as unauthorized.
type Authenticator struct {
	store     CredentialStore
	refresher *Refresher
	guard     *SessionGuard
	now       func() time.Time
}

// NewAuthenticator wires an authenticator. Both request clients must share
// one instance; independent instances would defeat the refresher's
// single-flight guarantee across backend audiences.
func NewAuthenticator(store CredentialStore, refresher *Refresher, guard *SessionGuard) *Authenticator {
	return &Authenticator{
		store:     store,
		refresher: refresher,
		guard:     guard,
		now:       time.Now,
	}
}

// Preflight returns the bearer token to attach to an outgoing request.
// An empty token with nil error means send unauthenticated: never having
// logged in is not an error by itself, some endpoints are public. A stored
// token that is expired (or within the margin) is renewed before the send;
// if renewal fails the session is torn down and the request must not go out
// with the known-stale token.
func (a *Authenticator) Preflight(ctx context.Context) (string, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return token, nil
	}

	token, err := a.store.Get(TokenAccess)
	if err != nil {
		// Storage I/O failure degrades to "no token available".
		return "", nil
	}

	if !Expired(token, a.now()) {
		return token, nil
	}

	return a.renew(ctx)
}

// Reactive returns a fresh token after the server rejected the previous one.
// Unlike Preflight it always refreshes, whatever the stored token's expiry
// claims: the server is the authority.
func (a *Authenticator) Reactive(ctx context.Context) (string, error) {
	return a.renew(ctx)
}

func (a *Authenticator) renew(ctx context.Context) (string, error) {
	fresh, err := a.refresher.Refresh(ctx)
	if err != nil {
		// A caller whose own context lapsed while waiting gets that error
		// back untouched; the episode may still settle fine for others.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return "", err
		}
		a.guard.Expire(err)
		return "", output.ErrSessionExpired(err)
	}
	return fresh, nil
}

// Invalidate tears the session down; used when the server keeps rejecting a
// token that was just renewed.
func (a *Authenticator) Invalidate(reason error) {
	a.guard.Expire(reason)
}

// SaveLogin persists a freshly issued token pair and re-arms the session
// guard. The access token is written first so a concurrent reader never
// sees a new refresh token paired with a stale access token.
func (a *Authenticator) SaveLogin(accessToken, refreshToken string) error {
	if err := a.store.Set(TokenAccess, accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := a.store.Set(TokenRefresh, refreshToken); err != nil {
			return err
		}
	}
	a.guard.Arm()
	return nil
}
