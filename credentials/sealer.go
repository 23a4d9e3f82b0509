package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	autherrors "github.com/jrsteele09/habitate-session/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer protects token values at rest. Empty values are stored as empty.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// NopSealer stores values as given.
type NopSealer struct{}

func (NopSealer) Seal(plaintext string) (string, error) { return plaintext, nil }
func (NopSealer) Open(sealed string) (string, error)    { return sealed, nil }

type aeadSealer struct {
	key []byte
}

// NewSealer returns an XChaCha20-Poly1305 sealer for a 32 byte key.
func NewSealer(key []byte) (Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidKey, "key must be %d bytes", chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &aeadSealer{key: k}, nil
}

// NewSealerFromHex decodes a hex key; an empty key yields a NopSealer.
func NewSealerFromHex(hexKey string) (Sealer, error) {
	if hexKey == "" {
		return NopSealer{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidKey, "decode hex: %v", err)
	}
	return NewSealer(key)
}

func (s *aeadSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", autherrors.Wrapf(err, "chacha20poly1305.NewX")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", autherrors.Wrapf(err, "rand.Read")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *aeadSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", autherrors.Wrapf(autherrors.ErrSealed, "decode: %v", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", autherrors.Wrapf(err, "chacha20poly1305.NewX")
	}
	if len(raw) < aead.NonceSize() {
		return "", autherrors.Wrapf(autherrors.ErrSealed, "value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", autherrors.Wrapf(autherrors.ErrSealed, "open: %v", err)
	}
	return string(plaintext), nil
}

// SealTokens seals the token fields of creds. SealTokens and OpenTokens are shared by
// the persistent repos.
func SealTokens(s Sealer, creds Credentials) (Credentials, error) {
	access, err := s.Seal(creds.AccessToken)
	if err != nil {
		return Credentials{}, err
	}
	refresh, err := s.Seal(creds.RefreshToken)
	if err != nil {
		return Credentials{}, err
	}
	creds.AccessToken, creds.RefreshToken = access, refresh
	return creds, nil
}

func OpenTokens(s Sealer, creds Credentials) (Credentials, error) {
	access, err := s.Open(creds.AccessToken)
	if err != nil {
		return Credentials{}, err
	}
	refresh, err := s.Open(creds.RefreshToken)
	if err != nil {
		return Credentials{}, err
	}
	creds.AccessToken, creds.RefreshToken = access, refresh
	return creds, nil
}
