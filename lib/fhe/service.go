package fhe

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lootpass_fhe_operations_total",
	Help: "The total number of codec operations",
}, []string{"scheme", "op", "result"})

// keySize is the length of each generated token in bytes.
const keySize = 32

type Options struct {
	// Scheme names a registered Scheme. Defaults to DefaultScheme.
	Scheme string

	// Keys, if set, is used instead of generating a new pair in Initialize.
	// The sealed scheme needs a stable pair to read back old ledger records.
	Keys *KeyPair

	// Rand is the randomness source. Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Service encodes progress records. It is safe for concurrent use.
type Service struct {
	schemeName string
	scheme     Scheme
	fixedKeys  *KeyPair
	rand       io.Reader
	now        func() time.Time
	lg         *slog.Logger

	lock sync.RWMutex
	keys *KeyPair
}

// New builds an uninitialized Service.
func New(opts Options) (*Service, error) {
	if opts.Scheme == "" {
		opts.Scheme = DefaultScheme
	}

	scheme, ok := Get(opts.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q, known schemes: %v", ErrUnknownScheme, opts.Scheme, Methods())
	}

	if opts.Keys != nil {
		if err := validKey(opts.Keys.Public); err != nil {
			return nil, fmt.Errorf("%w: public key: %w", ErrInitialization, err)
		}
		if err := validKey(opts.Keys.Private); err != nil {
			return nil, fmt.Errorf("%w: private key: %w", ErrInitialization, err)
		}
	}

	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Scheme == DefaultScheme {
		opts.Logger.Warn("progress codec is the simulated scheme, payloads are only base64 encoded and are readable by anyone", "scheme", opts.Scheme)
	}

	return &Service{
		schemeName: opts.Scheme,
		scheme:     scheme,
		fixedKeys:  opts.Keys,
		rand:       opts.Rand,
		now:        opts.Now,
		lg:         opts.Logger.With("component", "fhe", "scheme", opts.Scheme),
	}, nil
}

func validKey(token string) error {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return fmt.Errorf("not hex: %w", err)
	}

	if len(raw) != keySize {
		return fmt.Errorf("wanted %d bytes, got %d", keySize, len(raw))
	}

	return nil
}

func (s *Service) randomToken() (string, error) {
	buf := make([]byte, keySize)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// Initialize generates the key pair. Calling it again rotates the keys.
func (s *Service) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var keys KeyPair
	if s.fixedKeys != nil {
		keys = *s.fixedKeys
	} else {
		pub, err := s.randomToken()
		if err != nil {
			return fmt.Errorf("%w: can't generate public key: %w", ErrInitialization, err)
		}

		priv, err := s.randomToken()
		if err != nil {
			return fmt.Errorf("%w: can't generate private key: %w", ErrInitialization, err)
		}

		keys = KeyPair{Public: pub, Private: priv}
	}

	s.lock.Lock()
	s.keys = &keys
	s.lock.Unlock()

	s.lg.Info("codec initialized", "generated", s.fixedKeys == nil)
	return nil
}

func (s *Service) currentKeys() (KeyPair, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.keys == nil {
		return KeyPair{}, ErrNotInitialized
	}

	return *s.keys, nil
}

// Encode turns r into an Encoded record stamped with the current time.
func (s *Service) Encode(r Record) (*Encoded, error) {
	keys, err := s.currentKeys()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		operations.WithLabelValues(s.schemeName, "encode", "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	data = append(data, separator)
	data = append(data, keys.Public...)

	payload, err := s.scheme.Seal(s.rand, data, keys)
	if err != nil {
		operations.WithLabelValues(s.schemeName, "encode", "error").Inc()
		return nil, err
	}

	operations.WithLabelValues(s.schemeName, "encode", "ok").Inc()

	return &Encoded{
		Payload:     payload,
		KeyToken:    keys.Public,
		Timestamp:   s.now().UnixMilli(),
		ChallengeID: r.ChallengeID,
	}, nil
}

// Decode reverses Encode.
func (s *Service) Decode(e Encoded) (*Record, error) {
	keys, err := s.currentKeys()
	if err != nil {
		return nil, err
	}

	record, err := s.decode(e, keys)
	if err != nil {
		operations.WithLabelValues(s.schemeName, "decode", "error").Inc()
		return nil, err
	}

	operations.WithLabelValues(s.schemeName, "decode", "ok").Inc()
	return record, nil
}

func (s *Service) decode(e Encoded, keys KeyPair) (*Record, error) {
	plaintext, err := s.scheme.Open(e.Payload, keys)
	if err != nil {
		return nil, err
	}

	// The key token is hex, so the last separator always ends the record.
	idx := bytes.LastIndexByte(plaintext, separator)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing separator", ErrDecoding)
	}

	var result Record
	if err := json.Unmarshal(plaintext[:idx], &result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	return &result, nil
}

// Verify is Verify as a method, for callers that hold a Service.
func (s *Service) Verify(e Encoded) bool {
	return Verify(e)
}

// PublicKey returns the public token, or "" before Initialize.
func (s *Service) PublicKey() string {
	keys, err := s.currentKeys()
	if err != nil {
		return ""
	}

	return keys.Public
}

func (s *Service) Ready() bool {
	_, err := s.currentKeys()
	return err == nil
}

// Reset forgets the key pair. The service must be initialized again before use.
func (s *Service) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.keys = nil
}

// Scheme returns the name of the active scheme.
func (s *Service) Scheme() string {
	return s.schemeName
}
