package credentialsrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/habitate-session/credentials"
)

var _ credentials.Repo = (*FakeCredentialsRepo)(nil)

type FakeCredentialsRepo struct {
	creds   credentials.Credentials
	saves   int
	failErr error
	lock    sync.RWMutex
}

func NewFakeCredentialsRepo(initial credentials.Credentials) *FakeCredentialsRepo {
	return &FakeCredentialsRepo{creds: initial}
}

// FailWith makes every subsequent call return err until cleared with nil.
func (fr *FakeCredentialsRepo) FailWith(err error) {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	fr.failErr = err
}

func (fr *FakeCredentialsRepo) Load(_ context.Context) (credentials.Credentials, error) {
	fr.lock.RLock()
	defer fr.lock.RUnlock()
	if fr.failErr != nil {
		return credentials.Credentials{}, fr.failErr
	}
	return fr.creds, nil
}

func (fr *FakeCredentialsRepo) Save(_ context.Context, creds credentials.Credentials) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	if fr.failErr != nil {
		return fr.failErr
	}
	fr.creds = creds
	fr.saves++
	return nil
}

func (fr *FakeCredentialsRepo) Clear(_ context.Context) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()
	if fr.failErr != nil {
		return fr.failErr
	}
	fr.creds = credentials.Credentials{}
	return nil
}

func (fr *FakeCredentialsRepo) Saves() int {
	fr.lock.RLock()
	defer fr.lock.RUnlock()
	return fr.saves
}
