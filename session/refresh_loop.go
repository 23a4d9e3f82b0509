package session

import (
	"context"
	"errors"
	"time"
)

// Ticker is the subset of *time.Ticker the refresh loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (tt timeTicker) C() <-chan time.Time { return tt.t.C }
func (tt timeTicker) Stop()               { tt.t.Stop() }

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type refreshLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RefreshLoopActive reports whether a refresh loop is currently running.
func (m *Manager) RefreshLoopActive() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.loop != nil
}

// restartRefreshLoop cancels the current loop, waits for it to exit and starts a new
// one, so at most one loop is ever alive.
func (m *Manager) restartRefreshLoop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	m.stopLoopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	loop := &refreshLoop{cancel: cancel, done: make(chan struct{})}
	ticker := m.newTicker(m.interval)
	go m.runRefreshLoop(ctx, ticker, loop.done)
	m.loop = loop
}

func (m *Manager) stopRefreshLoop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	m.stopLoopLocked()
}

func (m *Manager) stopLoopLocked() {
	if m.loop == nil {
		return
	}
	m.loop.cancel()
	<-m.loop.done
	m.loop = nil
}

func (m *Manager) runRefreshLoop(ctx context.Context, ticker Ticker, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		if ctx.Err() != nil {
			return
		}
		m.refreshIfDue(ctx)
	}
}

// refreshIfDue runs one wake cycle. It never changes State; a failed refresh is
// retried on the next wake.
func (m *Manager) refreshIfDue(ctx context.Context) {
	if !m.State().IsAuthenticated() {
		return
	}
	if !m.store.IsTokenExpiringSoon() {
		return
	}

	var refresher Refresher
	if m.refresher != nil {
		refresher = m.refresher()
	}
	if refresher == nil {
		m.logger.Warn().Msg("Token near expiry but no refresher is available")
		return
	}

	m.logger.Debug().Msg("Token near expiry, refreshing proactively")
	callCtx := ctx
	if m.refreshTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.refreshTimeout)
		defer cancel()
	}

	if _, err := refresher.RefreshToken(callCtx); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Warn().Err(err).Msg("Proactive token refresh failed")
	}
}
