// Package fhe holds the progress codec that stands in for fully homomorphic
// encryption.
//
// Nothing in this package is homomorphic. The default "simulated" scheme is a
// reversible base64 encoding that offers no confidentiality or integrity and
// must be treated as a placeholder. The "sealed" scheme encrypts payloads with
// XChaCha20-Poly1305 under the private key token, which hides and
// authenticates the record but still does not let the ledger compute on it.
package fhe

import (
	"errors"
	"io"

	"github.com/fancybear42/secure-loot-pass/internal/registry"
)

var (
	// ErrInitialization is returned when a key pair can't be generated.
	ErrInitialization = errors.New("fhe: initialization failed")

	// ErrNotInitialized is returned when the service is used before Initialize.
	ErrNotInitialized = errors.New("fhe: service not initialized")

	// ErrEncoding is returned when a record can't be turned into a payload.
	ErrEncoding = errors.New("fhe: encoding failed")

	// ErrDecoding is returned when a payload is malformed.
	ErrDecoding = errors.New("fhe: decoding failed")

	// ErrUnknownScheme is returned when a scheme name is not registered.
	ErrUnknownScheme = errors.New("fhe: unknown scheme")
)

// DefaultScheme is used when no scheme is configured.
const DefaultScheme = "simulated"

// separator joins the serialized record and the public key token inside a
// payload.
const separator = '|'

// Record is a single progress observation for a challenge.
type Record struct {
	ChallengeID string `json:"challengeId"`
	Progress    int64  `json:"progress"`
	MaxProgress int64  `json:"maxProgress"`
	Experience  int64  `json:"experience"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
	UserID      string `json:"userId"`
}

// Encoded is the form of a Record that is sent to the ledger.
type Encoded struct {
	Payload     string `json:"encryptedData"`
	KeyToken    string `json:"publicKey"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
	ChallengeID string `json:"challengeId"`
}

// KeyPair is a pair of hex encoded 32 byte tokens.
type KeyPair struct {
	Public  string `json:"publicKey"`
	Private string `json:"privateKey"`
}

// Scheme turns plaintext into a payload string and back.
type Scheme interface {
	// Seal encodes plaintext. rand is available for schemes that need nonces.
	Seal(rand io.Reader, plaintext []byte, keys KeyPair) (string, error)

	// Open reverses Seal. Malformed payloads must return an error wrapping
	// ErrDecoding.
	Open(payload string, keys KeyPair) ([]byte, error)
}

var backends registry.Set[Scheme]

func Register(name string, impl Scheme) {
	backends.Register(name, impl)
}

func Get(name string) (Scheme, bool) {
	return backends.Get(name)
}

// Methods lists the registered names in sorted order.
func Methods() []string {
	return backends.Names()
}

// Verify is a shallow structural check: it reports whether the payload and key
// token are present and the timestamp is positive. It proves nothing about the
// payload contents.
func Verify(e Encoded) bool {
	return len(e.Payload) > 0 && len(e.KeyToken) > 0 && e.Timestamp > 0
}
