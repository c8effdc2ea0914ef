package auth

import (
	"sync"

	"github.com/rs/zerolog"
)

// SessionGuard runs the teardown path when the session can no longer be
// renewed: it clears both stored tokens and notifies the presentation layer
// once. Concurrent failing call chains may all call Expire; only the first
// one per session emits the signal.
type SessionGuard struct {
	store  CredentialStore
	notify func(reason error)
	log    zerolog.Logger

	mu      sync.Mutex
	expired bool
}

// NewSessionGuard creates a guard over store. notify is invoked at most once
// per session with the error that ended it; nil notify is allowed.
func NewSessionGuard(store CredentialStore, notify func(reason error), log zerolog.Logger) *SessionGuard {
	return &SessionGuard{store: store, notify: notify, log: log}
}

// Expire tears the session down. Idempotent: repeat calls after the first
// are no-ops until Arm re-arms the guard. Clearing already-absent tokens is
// itself a no-op, so racing callers cannot corrupt the store.
func (g *SessionGuard) Expire(reason error) {
	g.mu.Lock()
	if g.expired {
		g.mu.Unlock()
		return
	}
	g.expired = true
	g.mu.Unlock()

	g.log.Info().Err(reason).Msg("session expired, clearing credentials")
	if err := Clear(g.store); err != nil {
		g.log.Warn().Err(err).Msg("failed to clear credential store")
	}
	if g.notify != nil {
		g.notify(reason)
	}
}

// Arm re-arms the guard after a successful login stores a new token pair.
func (g *SessionGuard) Arm() {
	g.mu.Lock()
	g.expired = false
	g.mu.Unlock()
}

// Expired reports whether the guard has fired since it was last armed.
func (g *SessionGuard) Expired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expired
}
