package fhe

import (
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

func init() {
	Register("simulated", simulated{})
	Register("sealed", sealed{})
}

// simulated is base64 of the plaintext. It is NOT secure.
type simulated struct{}

func (simulated) Seal(_ io.Reader, plaintext []byte, _ KeyPair) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (simulated) Open(payload string, _ KeyPair) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64: %w", ErrDecoding, err)
	}

	return data, nil
}

// sealed is XChaCha20-Poly1305 keyed by the private token with the public
// token as associated data. The payload is base64(nonce || ciphertext).
type sealed struct{}

func (sealed) aead(keys KeyPair) (cipher.AEAD, error) {
	key, err := hex.DecodeString(keys.Private)
	if err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	return aead, nil
}

func (s sealed) Seal(rand io.Reader, plaintext []byte, keys KeyPair) (string, error) {
	aead, err := s.aead(keys)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return "", fmt.Errorf("%w: can't read nonce: %w", ErrEncoding, err)
	}

	out := aead.Seal(nonce, nonce, plaintext, []byte(keys.Public))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s sealed) Open(payload string, keys KeyPair) ([]byte, error) {
	aead, err := s.aead(keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64: %w", ErrDecoding, err)
	}

	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: payload is %d bytes, too short", ErrDecoding, len(data))
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(keys.Public))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	return plaintext, nil
}
