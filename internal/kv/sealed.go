package kv

import (
	"context"
	"fmt"
)

// Cipher encrypts values at rest
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Sealed encrypts every value before it reaches the underlying store.
// Keys are stored in the clear so prefix listing keeps working.
type Sealed struct {
	inner  Store
	cipher Cipher
}

// NewSealed wraps inner with cipher
func NewSealed(inner Store, cipher Cipher) *Sealed {
	return &Sealed{inner: inner, cipher: cipher}
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := s.cipher.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return plain, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	data, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, data)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Sealed) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}
