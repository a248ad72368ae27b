package token

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

// makeToken signs claims the way an auth server would. The store never
// verifies the signature.
func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func mikeToken(t *testing.T, expiresAt time.Time) string {
	return makeToken(t, jwt.MapClaims{
		"id":         2751055,
		"first_name": "Mike",
		"last_name":  "Atkins",
		"exp":        expiresAt.Unix(),
	})
}

// fakeCookies is an in-memory CookieReader
type fakeCookies map[string]string

func (f fakeCookies) Get(name string) (string, bool) {
	value, ok := f[name]
	return value, ok
}

// MockStorage is a mock implementation of Storage
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// capturedLogs collects log lines written through a funcr logger
type capturedLogs struct {
	mu    sync.Mutex
	lines []string
}

func (c *capturedLogs) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, args)
	}, funcr.Options{Verbosity: 1})
}

func (c *capturedLogs) count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, line := range c.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

type refreshReply struct {
	token string
	err   error
}

type refreshCall struct {
	current string
	reply   chan refreshReply
}

// controlledRefresher hands every refresh call to the test, which decides
// when and how it resolves.
type controlledRefresher struct {
	calls chan refreshCall
}

func newControlledRefresher() *controlledRefresher {
	return &controlledRefresher{calls: make(chan refreshCall, 16)}
}

func (c *controlledRefresher) Refresh(_ context.Context, current string) (string, error) {
	call := refreshCall{current: current, reply: make(chan refreshReply, 1)}
	c.calls <- call
	r := <-call.reply
	return r.token, r.err
}

func (c *controlledRefresher) next(t *testing.T) refreshCall {
	t.Helper()

	select {
	case call := <-c.calls:
		return call
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for refresh call")
		return refreshCall{}
	}
}

func (c *controlledRefresher) pending() int {
	return len(c.calls)
}

// subscribe returns a channel receiving every TokenReceived event
func subscribe(s *Store) <-chan TokenReceived {
	events := make(chan TokenReceived, 16)
	s.Events.Subscribe(func(event TokenReceived) {
		events <- event
	})
	return events
}

func nextEvent(t *testing.T, events <-chan TokenReceived) TokenReceived {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for token received event")
		return TokenReceived{}
	}
}
