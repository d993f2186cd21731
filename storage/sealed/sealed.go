// Package sealed encrypts values with XChaCha20-Poly1305 before handing them to another store.
// The key is generated per process and held in a memguard enclave, so sealed values cannot be
// read back after a restart.
package sealed

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// Backend is the store that receives ciphertext.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Store struct {
	backend Backend
	key     *memguard.Enclave
}

func New(backend Backend) *Store {
	return &Store{backend: backend, key: memguard.NewEnclaveRandom(chacha20poly1305.KeySize)}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	sealed, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return "", false, fmt.Errorf("decoding sealed value for %s: %w", key, err)
	}
	plain, err := s.open(sealed, []byte(key))
	if err != nil {
		return "", false, err
	}
	return string(plain), true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal([]byte(value), []byte(key))
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// seal binds the ciphertext to its storage key through the additional data.
func (s *Store) seal(plain, aad []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening sealing key: %w", err)
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, aad), nil
}

func (s *Store) open(sealed, aad []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening sealing key: %w", err)
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce size")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting value: %w", err)
	}
	return plain, nil
}
