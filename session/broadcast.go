package session

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription delivers the current State on creation and every later transition.
// C has a buffer of one; a slow reader only sees the latest value.
type Subscription struct {
	ID string
	C  <-chan State

	close func()
	once  sync.Once
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// broadcaster is not safe for concurrent use; the Manager calls it with its state
// lock held so publishes and subscribes are serialised with transitions.
type broadcaster struct {
	subscribers map[string]chan State
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[string]chan State)}
}

func (b *broadcaster) subscribe(current State, unsubscribe func(id string)) *Subscription {
	id := uuid.NewString()
	ch := make(chan State, 1)
	ch <- current
	b.subscribers[id] = ch

	return &Subscription{
		ID:    id,
		C:     ch,
		close: func() { unsubscribe(id) },
	}
}

func (b *broadcaster) unsubscribe(id string) {
	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
}

// publish replaces any undelivered value with s. Only publish sends on these
// channels, so draining then sending never blocks.
func (b *broadcaster) publish(s State) {
	for _, ch := range b.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
