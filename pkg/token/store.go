package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/nrfcloud/token-store/pkg/storage"
)

const (
	// DefaultCookie is the cookie read when Options.Cookie is empty
	DefaultCookie = "XSRF-TOKEN"

	// DefaultRefreshInterval is the period between refresh checks
	DefaultRefreshInterval = 60 * time.Second
)

var (
	// ErrAlreadyInitialized is returned by Init on a store that is already running
	ErrAlreadyInitialized = errors.New("token store already initialized")

	// ErrNoRefreshFunc is returned by RefreshToken when no refresh callback is configured
	ErrNoRefreshFunc = errors.New("no refresh function configured")

	// ErrEmptyToken is reported when a refresh callback resolves to an empty token
	ErrEmptyToken = errors.New("refresh returned an empty token")

	// ErrTerminated is returned by RefreshToken after Terminate and before the next Init
	ErrTerminated = errors.New("token store terminated")
)

// RefreshFunc exchanges the current token, possibly empty, for a new one.
type RefreshFunc func(ctx context.Context, current string) (string, error)

// CookieReader reads a named cookie.
type CookieReader interface {
	Get(name string) (string, bool)
}

// Storage reads a token from a persistent key-value backend. A missing key
// is reported as storage.ErrNotFound.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
}

// StorageWriter is implemented by backends that can persist installed tokens.
type StorageWriter interface {
	Set(ctx context.Context, key, value string) error
}

// Options configures a Store. Every field is optional.
type Options struct {
	// Cookie names the cookie holding the token
	Cookie  string
	Cookies CookieReader

	// LocalStorageKey selects Storage over Cookies when set
	LocalStorageKey string
	Storage         Storage

	// Persist writes installed tokens back to Storage under LocalStorageKey
	Persist bool

	Refresh         RefreshFunc
	RefreshInterval time.Duration

	Decoder Decoder
	Logger  logr.Logger
	Clock   clock.WithTicker
	Metrics *Metrics
}

// Store caches a token and its decoded user and keeps the token fresh.
type Store struct {
	// Events notifies listeners about every installed token, in install
	// order. Listeners must not call SetToken.
	Events *Emitter

	cookie          string
	cookies         CookieReader
	localStorageKey string
	storage         Storage
	persist         bool
	refresh         RefreshFunc
	refreshInterval time.Duration
	decoder         Decoder
	logger          logr.Logger
	clock           clock.WithTicker
	metrics         *Metrics

	// emitMu keeps events in the same order as the state swaps
	emitMu sync.Mutex

	mu          sync.RWMutex
	token       string
	user        *User
	initialized bool
	terminated  bool
	generation  uint64
	ticker      clock.Ticker
	runCtx      context.Context
	cancel      context.CancelFunc
}

// NewStore creates a token store. Call Init to load the initial token and
// start the refresh loop.
func NewStore(opts Options) *Store {
	s := &Store{
		Events:          NewEmitter(),
		cookie:          opts.Cookie,
		cookies:         opts.Cookies,
		localStorageKey: opts.LocalStorageKey,
		storage:         opts.Storage,
		persist:         opts.Persist,
		refresh:         opts.Refresh,
		refreshInterval: opts.RefreshInterval,
		decoder:         opts.Decoder,
		logger:          opts.Logger,
		clock:           opts.Clock,
		metrics:         opts.Metrics,
	}
	if s.cookie == "" {
		s.cookie = DefaultCookie
	}
	if s.refreshInterval <= 0 {
		s.refreshInterval = DefaultRefreshInterval
	}
	if s.decoder == nil {
		s.decoder = DecodeJWT
	}
	if s.logger.GetSink() == nil {
		s.logger = logr.Discard()
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	return s
}

// Token returns the current token, or "" when none is held
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the decoded claims of the current token, or nil
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserID returns the id claim of the current user
func (s *Store) UserID() (string, bool) {
	return s.User().ID()
}

// SetToken installs a token, decodes it and emits EventTokenReceived.
// Tokens that cannot be decoded leave the user empty. Refreshes dispatched
// before the call are discarded when they resolve.
func (s *Store) SetToken(raw string) {
	s.install(raw, nil, s.persist)
}

// install decodes raw and swaps it in. accept runs under the state lock and
// may veto the swap; without accept the install supersedes every refresh in
// flight. install reports whether the token was installed.
func (s *Store) install(raw string, accept func() bool, writeBack bool) bool {
	user := s.decode(raw)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if accept == nil {
		s.generation++
	} else if !accept() {
		s.mu.Unlock()
		return false
	}
	s.token = raw
	s.user = user
	s.mu.Unlock()

	s.metrics.tokenInstalled()
	if writeBack {
		s.writeBack(raw)
	}
	s.Events.Emit(TokenReceived{Token: raw, User: user})
	return true
}

func (s *Store) decode(raw string) *User {
	if raw == "" {
		return nil
	}
	user, err := s.decoder(raw)
	if err != nil {
		s.metrics.decodeFailed()
		s.logger.Error(err, "Invalid JWT", "length", len(raw))
		return nil
	}
	return user
}

// acquire reads the initial token from storage when a storage key is
// configured and from the cookie otherwise.
func (s *Store) acquire(ctx context.Context) (string, bool) {
	if s.localStorageKey != "" {
		if s.storage == nil {
			s.logger.Info("Local storage key configured without a storage backend", "key", s.localStorageKey)
			return "", false
		}
		raw, err := s.storage.Get(ctx, s.localStorageKey)
		if errors.Is(err, storage.ErrNotFound) {
			return "", false
		}
		if err != nil {
			s.logger.Error(err, "Failed to read token from storage", "key", s.localStorageKey)
			return "", false
		}
		return raw, raw != ""
	}

	if s.cookies == nil {
		return "", false
	}
	raw, ok := s.cookies.Get(s.cookie)
	return raw, ok && raw != ""
}

func (s *Store) writeBack(raw string) {
	if s.localStorageKey == "" {
		return
	}
	writer, ok := s.storage.(StorageWriter)
	if !ok {
		return
	}
	if err := writer.Set(s.context(), s.localStorageKey, raw); err != nil {
		s.logger.Error(err, "Failed to persist token", "key", s.localStorageKey)
	}
}

func (s *Store) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
