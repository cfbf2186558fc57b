package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

// argon2id parameters for deriving the sealing key from a passphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
)

// Sealer encrypts values with AES-256-GCM. Output layout is
// [nonce][ciphertext][tag].
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key from passphrase and salt with argon2id.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("sealer passphrase is empty")
	}

	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "create GCM")
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.Wrap(ErrCorrupt, "sealed value too short")
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "open sealed value: %v", err)
	}
	return plaintext, nil
}

type sealedStore struct {
	inner  Store
	sealer *Sealer
}

// Sealed wraps inner so that every value is encrypted before it reaches it.
func Sealed(inner Store, sealer *Sealer) Store {
	return &sealedStore{inner: inner, sealer: sealer}
}

func (s *sealedStore) Put(key string, value []byte) error {
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return err
	}
	return s.inner.Put(key, sealed)
}

func (s *sealedStore) Get(key string) ([]byte, error) {
	sealed, err := s.inner.Get(key)
	if err != nil {
		return nil, err
	}
	return s.sealer.Open(sealed)
}

func (s *sealedStore) Delete(key string) error {
	return s.inner.Delete(key)
}
