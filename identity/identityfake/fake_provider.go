package identityfake

import (
	"sync"

	"github.com/jrsteele09/habitate-session/identity"
)

var _ identity.Provider = (*FakeProvider)(nil)

// FakeProvider is an in-memory identity.Provider driven directly by tests.
type FakeProvider struct {
	listeners identity.Listeners
	lock      sync.RWMutex
	principal *identity.Principal
}

func NewFakeProvider(principal *identity.Principal) *FakeProvider {
	return &FakeProvider{principal: principal.Clone()}
}

func (fp *FakeProvider) AddStateListener(listener identity.StateListener) {
	fp.listeners.Add(listener)
}

func (fp *FakeProvider) RemoveStateListener(listener identity.StateListener) {
	fp.listeners.Remove(listener)
}

func (fp *FakeProvider) CurrentPrincipal() *identity.Principal {
	fp.lock.RLock()
	defer fp.lock.RUnlock()
	return fp.principal.Clone()
}

// SetPrincipal replaces the signed-in principal and notifies listeners.
func (fp *FakeProvider) SetPrincipal(principal *identity.Principal) {
	fp.lock.Lock()
	fp.principal = principal.Clone()
	fp.lock.Unlock()
	fp.listeners.Notify(principal)
}

func (fp *FakeProvider) ListenerCount() int {
	return fp.listeners.Len()
}
