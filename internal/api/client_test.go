package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlashq/atlas-cli/internal/auth"
	"github.com/atlashq/atlas-cli/internal/logging"
	"github.com/atlashq/atlas-cli/internal/output"
)

func makeJWT(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

// harness wires a fake backend together with a real credential store,
// refresher, and session guard, the way the app itself is assembled.
type harness struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server

	store *auth.Store
	authn *auth.Authenticator
	guard *auth.SessionGuard

	refreshCalls int32
	signals      int32

	// freshToken is what the fake refresh endpoint hands out.
	freshToken string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(auth.EnvToken, "")
	h := &harness{t: t, mux: http.NewServeMux()}
	h.srv = httptest.NewServer(h.mux)
	t.Cleanup(h.srv.Close)

	h.freshToken = makeJWT(t, time.Hour)
	h.mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&h.refreshCalls, 1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body["refreshToken"])
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": h.freshToken})
	})

	h.store = auth.NewFileStore(t.TempDir())
	h.guard = auth.NewSessionGuard(h.store, func(error) { atomic.AddInt32(&h.signals, 1) }, logging.Nop())
	refresher := auth.NewRefresher(h.srv.URL+"/auth/refresh", h.store, logging.Nop())
	h.authn = auth.NewAuthenticator(h.store, refresher, h.guard)
	return h
}

func (h *harness) client(opts ...Option) *Client {
	return NewClient(h.srv.URL, h.authn, logging.Nop(), opts...)
}

func (h *harness) seed(accessToken, refreshToken string) {
	h.t.Helper()
	if accessToken != "" {
		require.NoError(h.t, h.store.Set(auth.TokenAccess, accessToken))
	}
	if refreshToken != "" {
		require.NoError(h.t, h.store.Set(auth.TokenRefresh, refreshToken))
	}
}

func TestGetAttachesBearer(t *testing.T) {
	h := newHarness(t)
	valid := makeJWT(t, time.Hour)
	h.seed(valid, "")

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+valid, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"v1","name":"Blue Bottle"}]`))
	})

	resp, err := h.client().Get(context.Background(), "/venues")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var venues []map[string]any
	require.NoError(t, resp.UnmarshalData(&venues))
	require.Len(t, venues, 1)
	assert.Equal(t, "Blue Bottle", venues[0]["name"])
	assert.EqualValues(t, 0, atomic.LoadInt32(&h.refreshCalls), "valid token must not refresh")
}

func TestGetUnauthenticatedWhenNoToken(t *testing.T) {
	h := newHarness(t)

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "no stored token means no bearer header")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := h.client().Get(context.Background(), "/venues")
	require.NoError(t, err, "public endpoints work without a session")
	assert.EqualValues(t, 0, atomic.LoadInt32(&h.refreshCalls))
}

func TestExpiredTokenRefreshedBeforeSend(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, -time.Second), "refresh-1")

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+h.freshToken, r.Header.Get("Authorization"),
			"request must carry the renewed token, not the stale one")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := h.client().Get(context.Background(), "/venues")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.refreshCalls))

	stored, err := h.store.Get(auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, h.freshToken, stored)
}

func TestSingleFlightAcrossClients(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, -time.Second), "refresh-1")

	var hits int32
	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer "+h.freshToken, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})
	h.mux.HandleFunc("/donations", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer "+h.freshToken, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})

	// Two audiences, one authenticator: renewals must collapse.
	general := h.client()
	payments := NewPaymentsClient(h.srv.URL, h.authn, logging.Nop())

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, errs[2*i] = general.Get(context.Background(), "/venues")
		}(i)
		go func(i int) {
			defer wg.Done()
			_, errs[2*i+1] = payments.Get(context.Background(), "/donations")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "call %d", i)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.refreshCalls),
		"concurrent expired-token sends across both audiences share one refresh")
	assert.EqualValues(t, 2*n, atomic.LoadInt32(&hits))
}

func TestUnauthorizedRefreshAndResendOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "refresh-1")

	var hits int32
	h.mux.HandleFunc("/venues/v1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			// Token revoked server-side even though its expiry looks fine.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer "+h.freshToken, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"v1"}`))
	})

	resp, err := h.client().Get(context.Background(), "/venues/v1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "exactly one resend")
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.refreshCalls))
	assert.EqualValues(t, 0, atomic.LoadInt32(&h.signals))
}

func TestPersistentUnauthorizedBoundsRetries(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "refresh-1")

	var hits int32
	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := h.client().Get(context.Background(), "/venues")
	require.Error(t, err)
	e := output.AsError(err)
	assert.Equal(t, output.CodeAuth, e.Code)

	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "one original send plus one resend, never a loop")
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.refreshCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.signals), "a token that fails right after renewal ends the session")
}

func TestUnauthorizedWithFailingRefreshTearsDown(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "") // no refresh token stored

	var hits int32
	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := h.client().Get(context.Background(), "/venues")
	require.Error(t, err)
	assert.True(t, output.IsSessionExpired(err), "err = %v", err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "no resend without a renewed token")
	assert.EqualValues(t, 0, atomic.LoadInt32(&h.refreshCalls), "missing refresh token skips the network call")
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.signals))
}

func TestExpiredTokenNoRefreshTokenShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, -time.Second), "")

	var hits int32
	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})

	_, err := h.client().Get(context.Background(), "/venues")
	require.Error(t, err)
	assert.True(t, output.IsSessionExpired(err), "err = %v", err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits), "the stale token must never go out")
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.signals))
}

func TestStatusPassThrough(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"not found", http.StatusNotFound, "", output.CodeNotFound},
		{"forbidden", http.StatusForbidden, "", output.CodeForbidden},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, output.CodeAPI},
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"name taken"}`, output.CodeAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(makeJWT(t, time.Hour), "")

			h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := h.client().Get(context.Background(), "/venues")
			require.Error(t, err)
			e := output.AsError(err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.EqualValues(t, 0, atomic.LoadInt32(&h.refreshCalls), "only 401 may trigger the reactive path")
		})
	}
}

func TestErrorBodyMessageSurfaced(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "")

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"name already taken"}`))
	})

	_, err := h.client().Get(context.Background(), "/venues")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name already taken")
}

func TestTransientStatusRetried(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "")

	var hits int32
	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	c := h.client(WithRetryPolicy(3, time.Millisecond))
	_, err := c.Get(context.Background(), "/venues")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestRateLimitExhaustion(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "")

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := h.client(WithRetryPolicy(2, time.Millisecond))
	_, err := c.Get(context.Background(), "/venues")
	require.Error(t, err)

	var e *output.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, output.CodeRateLimit, e.Code)
}

func TestPostSendsJSONBody(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "")

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Blue Bottle", body["name"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"v1","name":"Blue Bottle"}`))
	})

	resp, err := h.client().Post(context.Background(), "/venues", map[string]string{"name": "Blue Bottle"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestPostMultipart(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "")

	h.mux.HandleFunc("/venues", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Blue Bottle", r.FormValue("name"))

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "front.jpg", header.Filename)

		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake-jpeg-bytes", string(content))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"v1"}`))
	})

	resp, err := h.client().PostMultipart(context.Background(), "/venues",
		map[string]string{"name": "Blue Bottle"},
		"photo", "front.jpg", strings.NewReader("fake-jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestIdempotencyKeyOnPaymentsPost(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "refresh-1")

	var mu sync.Mutex
	var keys []string
	var hits int
	h.mux.HandleFunc("/donations", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		hits++
		first := hits == 1
		mu.Unlock()

		if first {
			// Force the renewal path to prove the resend reuses the key.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"d1"}`))
	})

	payments := NewPaymentsClient(h.srv.URL, h.authn, logging.Nop())
	_, err := payments.Post(context.Background(), "/donations", map[string]any{"amount": 500})
	require.NoError(t, err)

	require.Len(t, keys, 2)
	_, parseErr := uuid.Parse(keys[0])
	assert.NoError(t, parseErr, "idempotency key must be a UUID")
	assert.Equal(t, keys[0], keys[1], "the resend after renewal must reuse the original key")
}

func TestGetHasNoIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.seed(makeJWT(t, time.Hour), "")

	h.mux.HandleFunc("/donations", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`[]`))
	})

	payments := NewPaymentsClient(h.srv.URL, h.authn, logging.Nop())
	_, err := payments.Get(context.Background(), "/donations")
	require.NoError(t, err)
}

func TestBuildURL(t *testing.T) {
	c := NewClient("https://api.example.com/", nil, logging.Nop())

	assert.Equal(t, "https://api.example.com/venues", c.buildURL("/venues"))
	assert.Equal(t, "https://api.example.com/venues", c.buildURL("venues"))
}
