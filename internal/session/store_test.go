package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campwars/client-go/internal/api"
	"github.com/campwars/client-go/internal/fetch"
	"github.com/campwars/client-go/pkg/types"
)

type fakeBackend struct {
	loginHits        int32
	sessionOK        atomic.Bool
	logoutFails      atomic.Bool
	inventoryRejects atomic.Bool
	ts               *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}

	r := chi.NewRouter()
	r.Post("/api/auth/login", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&fb.loginHits, 1)
		var args api.LoginArgs
		_ = json.NewDecoder(req.Body).Decode(&args)
		if args.Password != "hunter2" {
			http.Error(w, `{"message":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		fb.sessionOK.Store(true)
		json.NewEncoder(w).Encode(types.Session{
			UserID: "user-1", Name: "Sasha", Role: types.RoleMember, Token: "tok-1",
		})
	})
	r.Get("/api/session", func(w http.ResponseWriter, req *http.Request) {
		if !fb.sessionOK.Load() {
			http.Error(w, `{"message":"no session"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(types.Session{UserID: "user-1", Name: "Sasha", Role: types.RoleMember})
	})
	r.Get("/api/inventory", func(w http.ResponseWriter, req *http.Request) {
		if fb.inventoryRejects.Load() {
			http.Error(w, `{"message":"session expired"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]types.Card{})
	})
	r.Post("/api/auth/logout", func(w http.ResponseWriter, req *http.Request) {
		if fb.logoutFails.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	fb.ts = httptest.NewServer(r)
	t.Cleanup(fb.ts.Close)
	return fb
}

func newTestStore(t *testing.T, url string, settings Settings) *Store {
	t.Helper()
	settings.CacheDir = t.TempDir()
	apiClient := api.New(fetch.New(url, fetch.Options{}))
	return NewStore(apiClient, nil, settings)
}

func TestLogin_SuccessAuthenticates(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())

	require.Equal(t, StateUnauthenticated, s.State())
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))
	assert.Equal(t, StateAuthenticated, s.State())

	identity, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "tok-1", s.Token())

	cached := s.CachedIdentity()
	require.NotNil(t, cached)
	assert.Equal(t, "Sasha", cached.Name)
}

func TestLogin_LockoutAfterThreeFailures(t *testing.T) {
	fb := newFakeBackend(t)
	settings := DefaultSettings()
	settings.Cooldown = 150 * time.Millisecond
	s := newTestStore(t, fb.ts.URL, settings)

	for i := 0; i < 3; i++ {
		err := s.Login(context.Background(), "sasha", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	require.EqualValues(t, 3, atomic.LoadInt32(&fb.loginHits))

	// 4th attempt during cool-down is rejected locally, no network call
	err := s.Login(context.Background(), "sasha", "hunter2")
	require.ErrorIs(t, err, ErrLocked)
	assert.EqualValues(t, 3, atomic.LoadInt32(&fb.loginHits))

	// after the cool-down the counter has reset and login works again
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestLogin_DefaultPolicy(t *testing.T) {
	settings := DefaultSettings()
	assert.Equal(t, 3, settings.MaxFailures)
	assert.Equal(t, 30*time.Second, settings.Cooldown)
}

func TestLogout_AlwaysClearsLocalState(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))

	fb.logoutFails.Store(true)
	s.Logout(context.Background())

	assert.Equal(t, StateUnauthenticated, s.State())
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Empty(t, s.Token())
	assert.Nil(t, s.CachedIdentity())
}

func TestCheckSession_NetworkFailureKeepsState(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))

	// backend goes away: the check fails with a network classification
	fb.ts.Close()
	err := s.CheckSession(context.Background())
	require.Error(t, err)
	require.Equal(t, fetch.KindNetwork, fetch.KindOf(err))

	assert.Equal(t, StateAuthenticated, s.State(), "network failure must not invalidate")
}

func TestCheckSession_AuthFailureInvalidates(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))

	// server-side session evaporates
	fb.sessionOK.Store(false)
	err := s.CheckSession(context.Background())
	require.Error(t, err)
	require.Equal(t, fetch.KindAuth, fetch.KindOf(err))

	assert.Equal(t, StateUnauthenticated, s.State())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestOnRequestError_AuthOnProtectedEndpointInvalidates(t *testing.T) {
	fb := newFakeBackend(t)
	settings := DefaultSettings()
	settings.CacheDir = t.TempDir()
	apiClient := api.New(fetch.New(fb.ts.URL, fetch.Options{}))
	s := NewStore(apiClient, nil, settings)
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))

	// the session dies server-side; a protected call comes back rejected
	fb.inventoryRejects.Store(true)
	_, err := apiClient.Inventory(context.Background())
	require.Error(t, err)
	require.Equal(t, fetch.KindAuth, fetch.KindOf(err))

	s.OnRequestError(err)
	assert.Equal(t, StateUnauthenticated, s.State())
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Empty(t, s.Token())
	assert.Nil(t, s.CachedIdentity())
}

func TestOnRequestError_TransientKindsKeepState(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))

	s.OnRequestError(&fetch.Error{Kind: fetch.KindServer, Status: 500, Message: "boom"})
	s.OnRequestError(&fetch.Error{Kind: fetch.KindNetwork, Message: "down"})

	assert.Equal(t, StateAuthenticated, s.State(), "transient failures must not invalidate")
	assert.Equal(t, "tok-1", s.Token())
}

func TestOnRequestError_PermissionInvalidates(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())
	require.NoError(t, s.Login(context.Background(), "sasha", "hunter2"))

	s.OnRequestError(&fetch.Error{Kind: fetch.KindPermission, Status: 403, Message: "forbidden"})

	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestCheckSession_SuccessRefreshesIdentity(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestStore(t, fb.ts.URL, DefaultSettings())
	fb.sessionOK.Store(true)

	require.NoError(t, s.CheckSession(context.Background()))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "user-1", s.UserID())
}
