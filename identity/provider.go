package identity

// Principal is the externally authenticated identity supplied by a Provider.
type Principal struct {
	ID            string // Stable subject identifier
	Email         string
	EmailVerified bool
}

// StateListener is notified on every sign-in, sign-out and credential invalidation.
// A nil principal means nobody is signed in.
type StateListener interface {
	OnAuthStateChanged(principal *Principal)
}

// Provider is an external authentication backend.
// Adding a listener that is already registered is a no-op.
type Provider interface {
	AddStateListener(listener StateListener)
	RemoveStateListener(listener StateListener)
	CurrentPrincipal() *Principal
}

// Clone returns a copy of p so callers cannot mutate provider state.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
