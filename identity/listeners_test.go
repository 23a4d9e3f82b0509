package identity_test

import (
	"testing"

	"github.com/jrsteele09/habitate-session/identity"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	seen []*identity.Principal
}

func (r *recordingListener) OnAuthStateChanged(p *identity.Principal) {
	r.seen = append(r.seen, p)
}

func TestListeners_AddIsDeduplicated(t *testing.T) {
	var l identity.Listeners
	rec := &recordingListener{}

	l.Add(rec)
	l.Add(rec)
	l.Add(nil)
	require.Equal(t, 1, l.Len())

	l.Notify(&identity.Principal{ID: "u1"})
	require.Len(t, rec.seen, 1)
	require.Equal(t, "u1", rec.seen[0].ID)
}

func TestListeners_Remove(t *testing.T) {
	var l identity.Listeners
	a, b := &recordingListener{}, &recordingListener{}
	l.Add(a)
	l.Add(b)

	l.Remove(a)
	l.Remove(&recordingListener{})
	require.Equal(t, 1, l.Len())

	l.Notify(nil)
	require.Empty(t, a.seen)
	require.Len(t, b.seen, 1)
	require.Nil(t, b.seen[0])
}

func TestListeners_NotifyClonesPrincipal(t *testing.T) {
	var l identity.Listeners
	rec := &recordingListener{}
	l.Add(rec)

	p := &identity.Principal{ID: "u1"}
	l.Notify(p)
	rec.seen[0].ID = "changed"
	require.Equal(t, "u1", p.ID)
}
