package session_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/habitate-session/identity"
	"github.com/jrsteele09/habitate-session/identity/identityfake"
	"github.com/jrsteele09/habitate-session/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeStore is a session.CredentialStore with settable answers.
type fakeStore struct {
	mu           sync.Mutex
	userID       string
	onboarded    bool
	tokenValid   bool
	expiringSoon bool
}

func (s *fakeStore) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *fakeStore) IsOnboarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarded
}

func (s *fakeStore) IsTokenValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenValid
}

func (s *fakeStore) IsTokenExpiringSoon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiringSoon
}

func (s *fakeStore) setExpiringSoon(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiringSoon = v
}

// fakeRefresher reports every call on calls and answers with err.
type fakeRefresher struct {
	calls chan struct{}
	err   error
	block bool
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{calls: make(chan struct{}, 16)}
}

func (r *fakeRefresher) RefreshToken(ctx context.Context) (string, error) {
	r.calls <- struct{}{}
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if r.err != nil {
		return "", r.err
	}
	return "fresh-token", nil
}

func (r *fakeRefresher) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-r.calls:
	case <-time.After(waitTimeout):
		t.Fatal("refresh was not called")
	}
}

func (r *fakeRefresher) requireNoCall(t *testing.T) {
	t.Helper()
	select {
	case <-r.calls:
		t.Fatal("unexpected refresh call")
	default:
	}
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.ch }

func (ft *fakeTicker) Stop() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.stopped = true
}

func (ft *fakeTicker) isStopped() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.stopped
}

// tick blocks until the loop receives the tick.
func (ft *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case ft.ch <- time.Now():
	case <-time.After(waitTimeout):
		t.Fatal("refresh loop did not receive tick")
	}
}

// tickers hands out fakeTickers and remembers them.
type tickers struct {
	mu        sync.Mutex
	created   []*fakeTicker
	intervals []time.Duration
}

func (tk *tickers) New(d time.Duration) session.Ticker {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	ft := &fakeTicker{ch: make(chan time.Time)}
	tk.created = append(tk.created, ft)
	tk.intervals = append(tk.intervals, d)
	return ft
}

func (tk *tickers) count() int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return len(tk.created)
}

func (tk *tickers) latest(t *testing.T) *fakeTicker {
	t.Helper()
	tk.mu.Lock()
	defer tk.mu.Unlock()
	require.NotEmpty(t, tk.created)
	return tk.created[len(tk.created)-1]
}

func (tk *tickers) live() int {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	n := 0
	for _, ft := range tk.created {
		if !ft.isStopped() {
			n++
		}
	}
	return n
}

// syncBuffer lets the loop goroutine log while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testFixture struct {
	provider  *identityfake.FakeProvider
	store     *fakeStore
	refresher *fakeRefresher
	tickers   *tickers
	logs      *syncBuffer
	manager   *session.Manager
}

func setupTestFixture(t *testing.T, principal *identity.Principal, store *fakeStore) *testFixture {
	t.Helper()
	if store == nil {
		store = &fakeStore{}
	}
	f := &testFixture{
		provider:  identityfake.NewFakeProvider(principal),
		store:     store,
		refresher: newFakeRefresher(),
		tickers:   &tickers{},
		logs:      &syncBuffer{},
	}
	f.manager = session.New(f.provider, f.store, session.StaticRefresher(f.refresher),
		session.WithTickerFunc(f.tickers.New),
		session.WithLogger(zerolog.New(f.logs)),
	)
	t.Cleanup(f.manager.StopObserving)
	return f
}
