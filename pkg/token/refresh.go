package token

import (
	"context"

	"k8s.io/utils/clock"
)

// Init loads the initial token, runs one refresh check and starts the
// periodic check. A store can be initialized again only after Terminate.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.initialized = true
	s.terminated = false
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	if raw, ok := s.acquire(ctx); ok {
		s.install(raw, func() bool {
			if s.runCtx != runCtx {
				// terminated while reading
				return false
			}
			s.generation++
			return true
		}, false)
	}

	s.checkRefresh()

	ticker := s.clock.NewTicker(s.refreshInterval)
	s.mu.Lock()
	if runCtx.Err() != nil {
		// terminated while loading
		s.mu.Unlock()
		ticker.Stop()
		return nil
	}
	s.ticker = ticker
	s.mu.Unlock()

	go s.run(runCtx, ticker)

	s.logger.Info("Started token store",
		"source", s.sourceName(),
		"refreshInterval", s.refreshInterval)

	return nil
}

func (s *Store) run(ctx context.Context, ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			s.checkRefresh()
		}
	}
}

// Terminate stops the periodic check and clears the token and user. Refresh
// results that arrive afterwards are discarded.
func (s *Store) Terminate() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	wasRunning := s.initialized
	s.initialized = false
	s.terminated = true
	s.ticker = nil
	s.runCtx = nil
	s.cancel = nil
	s.generation++
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if wasRunning {
		s.logger.Info("Stopped token store")
	}
}

// RefreshToken asks the refresh callback for a new token and returns without
// waiting for it. Only the most recently dispatched refresh is installed, and
// only if no token was set after it was dispatched. It works before Init but
// not between Terminate and the next Init.
func (s *Store) RefreshToken() error {
	if s.refresh == nil {
		return ErrNoRefreshFunc
	}
	if !s.dispatch(false) {
		return ErrTerminated
	}
	return nil
}

// checkRefresh is one pass of the expiry check. It dispatches at most one
// refresh.
func (s *Store) checkRefresh() {
	s.mu.RLock()
	initialized := s.initialized
	raw, user := s.token, s.user
	s.mu.RUnlock()

	if !initialized {
		return
	}

	if raw == "" {
		if s.refresh != nil {
			s.logger.V(1).Info("No token held, refreshing")
			s.dispatch(true)
		}
		return
	}

	if user == nil {
		user = s.decode(raw)
		if user != nil {
			s.mu.Lock()
			if s.token == raw {
				s.user = user
			}
			s.mu.Unlock()
		}
	}

	if expiry, ok := user.ExpiresAt(); ok {
		refreshAt := expiry.Add(-2 * s.refreshInterval)
		if s.clock.Now().Before(refreshAt) {
			s.logger.V(1).Info("Token still valid", "expiresAt", expiry, "refreshAt", refreshAt)
			return
		}
	}

	if s.refresh != nil {
		s.logger.V(1).Info("Token expired or expiring, refreshing")
		s.dispatch(true)
	}
}

// dispatch calls the refresh callback on its own goroutine. The result is
// installed only if no later dispatch, SetToken or Terminate happened in
// between. Scheduled dispatches need a running store; manual ones are only
// refused after Terminate.
func (s *Store) dispatch(scheduled bool) bool {
	s.mu.Lock()
	if s.terminated || (scheduled && !s.initialized) {
		s.mu.Unlock()
		return false
	}
	s.generation++
	generation := s.generation
	current := s.token
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	s.metrics.refreshDispatched()

	go func() {
		newToken, err := s.refresh(ctx, current)
		if err == nil && newToken == "" {
			err = ErrEmptyToken
		}
		if err != nil {
			s.metrics.refreshFailed()
			s.logger.Error(err, "Failed to refresh token")
			return
		}

		installed := s.install(newToken, func() bool {
			return s.generation == generation
		}, s.persist)
		if !installed {
			s.metrics.refreshDiscarded()
			s.logger.V(1).Info("Discarded superseded token refresh")
			return
		}
		s.logger.V(1).Info("Token refreshed")
	}()
	return true
}

func (s *Store) sourceName() string {
	if s.localStorageKey != "" {
		return "storage"
	}
	return "cookie"
}
