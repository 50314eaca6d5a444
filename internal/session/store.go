// Package session owns the authenticated identity for the client process.
// The identity is the only cross-component shared mutable state; every other
// component reads it through the store and never mutates it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campwars/client-go/internal/api"
	"github.com/campwars/client-go/internal/fetch"
	"github.com/campwars/client-go/pkg/types"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
)

var (
	// ErrLocked is returned while the login cool-down is active. The server
	// is not contacted.
	ErrLocked             = errors.New("login temporarily locked")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Settings struct {
	// MaxFailures consecutive invalid-credential failures trigger the
	// cool-down.
	MaxFailures int
	Cooldown    time.Duration
	CacheDir    string
	Now         func() time.Time
}

func DefaultSettings() Settings {
	return Settings{
		MaxFailures: 3,
		Cooldown:    30 * time.Second,
		Now:         time.Now,
	}
}

type Store struct {
	api      *api.Client
	log      *zap.Logger
	cache    *identityCache
	settings Settings

	mu          sync.Mutex
	state       State
	identity    *types.Session
	fallback    string // bearer token kept when the cookie session is unusable
	failures    int
	lockedUntil time.Time
}

func NewStore(apiClient *api.Client, log *zap.Logger, settings Settings) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Store{
		api:      apiClient,
		log:      log,
		cache:    newIdentityCache(settings.CacheDir, log),
		settings: settings,
		state:    StateUnauthenticated,
	}
}

// Login authenticates against the backend. During an active cool-down the
// call is rejected locally. Only invalid-credential failures count toward
// the lockout; network and server failures are transient.
func (s *Store) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	now := s.settings.Now()
	if !s.lockedUntil.IsZero() {
		if now.Before(s.lockedUntil) {
			s.mu.Unlock()
			return fmt.Errorf("%w until %s", ErrLocked, s.lockedUntil.Format(time.Kitchen))
		}
		// cool-down elapsed, counter resets
		s.lockedUntil = time.Time{}
		s.failures = 0
	}
	s.state = StateAuthenticating
	s.mu.Unlock()

	identity, err := s.api.Login(ctx, username, password)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateUnauthenticated
		if fetch.KindOf(err) == fetch.KindAuth {
			s.failures++
			if s.failures >= s.settings.MaxFailures {
				s.lockedUntil = s.settings.Now().Add(s.settings.Cooldown)
				s.failures = 0
				s.log.Warn("login locked after repeated failures",
					zap.Time("until", s.lockedUntil))
			}
			return ErrInvalidCredentials
		}
		return err
	}

	s.state = StateAuthenticated
	s.identity = identity
	s.fallback = identity.Token
	s.failures = 0
	s.lockedUntil = time.Time{}
	s.cache.save(identity)
	return nil
}

// Logout clears local state unconditionally. The server call is best-effort;
// local teardown is the only universally reliable path.
func (s *Store) Logout(ctx context.Context) {
	if err := s.api.Logout(ctx); err != nil {
		s.log.Warn("server logout failed, clearing local state anyway", zap.Error(err))
	}
	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()
}

// CheckSession is called eagerly on startup. A network failure never
// invalidates an existing authenticated state; an auth (or permission)
// failure on the session endpoint does.
func (s *Store) CheckSession(ctx context.Context) error {
	identity, err := s.api.SessionCheck(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		switch fetch.KindOf(err) {
		case fetch.KindAuth, fetch.KindPermission:
			s.invalidateLocked()
		default:
			// transient; keep whatever state we had
		}
		return err
	}

	s.state = StateAuthenticated
	s.identity = identity
	if identity.Token != "" {
		s.fallback = identity.Token
	}
	s.cache.save(identity)
	return nil
}

// OnRequestError applies the invalidation policy to a failed call made with
// the session's credentials. Auth and permission rejections mean the session
// is dead server-side, so the local session is dropped; transient kinds keep
// it. Login failures have their own policy and are never routed here.
func (s *Store) OnRequestError(err error) {
	switch fetch.KindOf(err) {
	case fetch.KindAuth, fetch.KindPermission:
	default:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return
	}
	s.log.Warn("authenticated call rejected, dropping session", zap.Error(err))
	s.invalidateLocked()
}

// invalidateLocked drops the local session and its cache. Callers hold s.mu.
func (s *Store) invalidateLocked() {
	s.state = StateUnauthenticated
	s.identity = nil
	s.fallback = ""
	s.cache.clear()
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the live identity, or false when unauthenticated.
func (s *Store) Current() (*types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.identity == nil {
		return nil, false
	}
	cp := *s.identity
	return &cp, true
}

func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID
}

// Token returns the bearer fallback credential for request attachment.
// Empty when the cookie session is the only credential.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// SetFallbackToken installs a bearer credential out of band (e.g. restored
// by the caller on startup). Claims are read unverified purely for display;
// the identity stays provisional until the next session check confirms it.
func (s *Store) SetFallbackToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = token
	if s.identity == nil {
		if identity, err := IdentityFromToken(token); err == nil {
			s.identity = identity
		}
	}
}

// CachedIdentity returns the last locally cached identity for display
// continuity before the startup session check completes. Advisory only.
func (s *Store) CachedIdentity() *types.Session {
	return s.cache.load()
}
