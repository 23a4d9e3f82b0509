package identity

import "sync"

// Listeners is a deduplicating listener registry shared by Provider implementations.
// The zero value is ready to use.
type Listeners struct {
	mu        sync.RWMutex
	listeners []StateListener
}

func (l *Listeners) Add(listener StateListener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.listeners {
		if existing == listener {
			return
		}
	}
	l.listeners = append(l.listeners, listener)
}

func (l *Listeners) Remove(listener StateListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.listeners {
		if existing == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

// Notify calls every registered listener in registration order. The registry lock
// is not held during callbacks so a listener may add or remove listeners.
func (l *Listeners) Notify(principal *Principal) {
	l.mu.RLock()
	snapshot := make([]StateListener, len(l.listeners))
	copy(snapshot, l.listeners)
	l.mu.RUnlock()

	for _, listener := range snapshot {
		listener.OnAuthStateChanged(principal.Clone())
	}
}
