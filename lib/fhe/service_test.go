package fhe

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("entropy pool is dry") }

func newService(t *testing.T, scheme string) *Service {
	t.Helper()

	s, err := New(Options{
		Scheme: scheme,
		Now:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Initialize(t.Context()); err != nil {
		t.Fatal(err)
	}

	return s
}

func genRecord() *rapid.Generator[Record] {
	return rapid.Custom(func(t *rapid.T) Record {
		return Record{
			ChallengeID: rapid.StringMatching(`[a-z0-9_|-]{1,31}`).Draw(t, "challengeId"),
			Progress:    rapid.Int64Range(0, 1<<40).Draw(t, "progress"),
			MaxProgress: rapid.Int64Range(1, 1<<40).Draw(t, "maxProgress"),
			Experience:  rapid.Int64Range(0, 1<<40).Draw(t, "experience"),
			Timestamp:   rapid.Int64Range(1, 1<<50).Draw(t, "timestamp"),
			UserID:      rapid.String().Draw(t, "userId"),
		}
	})
}

func TestRoundTrip(t *testing.T) {
	for _, scheme := range Methods() {
		t.Run(scheme, func(t *testing.T) {
			s := newService(t, scheme)

			rapid.Check(t, func(rt *rapid.T) {
				r := genRecord().Draw(rt, "record")

				enc, err := s.Encode(r)
				if err != nil {
					rt.Fatal(err)
				}

				if !s.Verify(*enc) {
					rt.Fatalf("encoded record with challenge id %q failed verification", r.ChallengeID)
				}

				if enc.ChallengeID != r.ChallengeID {
					rt.Fatalf("encoded challenge id %q, want %q", enc.ChallengeID, r.ChallengeID)
				}

				got, err := s.Decode(*enc)
				if err != nil {
					rt.Fatal(err)
				}

				if diff := cmp.Diff(r, *got); diff != "" {
					rt.Fatalf("round trip mismatch (-want +got):\n%s", diff)
				}
			})
		})
	}
}

func TestNotInitialized(t *testing.T) {
	s, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}

	if s.Ready() {
		t.Error("service reports ready before Initialize")
	}

	if _, err := s.Encode(Record{ChallengeID: "c1"}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Encode: wanted %v, got %v", ErrNotInitialized, err)
	}

	if _, err := s.Decode(Encoded{Payload: "e30="}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Decode: wanted %v, got %v", ErrNotInitialized, err)
	}

	if s.PublicKey() != "" {
		t.Error("public key present before Initialize")
	}
}

func TestInitializeRandomnessFailure(t *testing.T) {
	s, err := New(Options{Rand: brokenReader{}})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Initialize(t.Context()); !errors.Is(err, ErrInitialization) {
		t.Fatalf("wanted %v, got %v", ErrInitialization, err)
	}

	if s.Ready() {
		t.Error("service is ready after failed Initialize")
	}
}

func TestKeyPairShape(t *testing.T) {
	s := newService(t, DefaultScheme)

	pub := s.PublicKey()
	if len(pub) != keySize*2 {
		t.Errorf("public key is %d hex chars, want %d", len(pub), keySize*2)
	}

	other := newService(t, DefaultScheme)
	if other.PublicKey() == pub {
		t.Error("two services generated the same public key")
	}
}

func TestReset(t *testing.T) {
	s := newService(t, DefaultScheme)
	s.Reset()

	if s.Ready() {
		t.Fatal("service ready after Reset")
	}

	if _, err := s.Encode(Record{ChallengeID: "c1"}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("wanted %v, got %v", ErrNotInitialized, err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, tt := range []struct {
		name    string
		scheme  string
		payload string
	}{
		{
			name:    "not base64",
			scheme:  "simulated",
			payload: "%%%not-base64%%%",
		},
		{
			name:    "missing separator",
			scheme:  "simulated",
			payload: base64.StdEncoding.EncodeToString([]byte(`{"challengeId":"c1"}`)),
		},
		{
			name:    "bad json",
			scheme:  "simulated",
			payload: base64.StdEncoding.EncodeToString([]byte(`{"challengeId":|deadbeef`)),
		},
		{
			name:    "sealed too short",
			scheme:  "sealed",
			payload: base64.StdEncoding.EncodeToString([]byte("short")),
		},
		{
			name:    "sealed garbage",
			scheme:  "sealed",
			payload: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64))),
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(t, tt.scheme)

			if _, err := s.Decode(Encoded{Payload: tt.payload, KeyToken: s.PublicKey(), Timestamp: 1}); !errors.Is(err, ErrDecoding) {
				t.Errorf("wanted %v, got %v", ErrDecoding, err)
			}
		})
	}
}

func TestSealedHidesPlaintext(t *testing.T) {
	s := newService(t, "sealed")

	enc, err := s.Encode(Record{ChallengeID: "daily-login", Progress: 3, MaxProgress: 7, UserID: "0xabc"})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(enc.Payload)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(string(raw), "daily-login") {
		t.Error("sealed payload contains the plaintext challenge id")
	}

	// A different key pair must not be able to open the payload.
	other := newService(t, "sealed")
	if _, err := other.Decode(*enc); !errors.Is(err, ErrDecoding) {
		t.Errorf("wanted %v decoding with foreign keys, got %v", ErrDecoding, err)
	}
}

func TestSimulatedIsReadable(t *testing.T) {
	s := newService(t, "simulated")

	enc, err := s.Encode(Record{ChallengeID: "c1", Progress: 3, MaxProgress: 5})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(enc.Payload)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasSuffix(string(raw), "|"+s.PublicKey()) {
		t.Errorf("payload %q does not end with the public key", raw)
	}

	if enc.Timestamp != 1_700_000_000_000 {
		t.Errorf("wrong timestamp %d", enc.Timestamp)
	}
}

func TestFixedKeys(t *testing.T) {
	keys := &KeyPair{
		Public:  strings.Repeat("ab", keySize),
		Private: strings.Repeat("cd", keySize),
	}

	a, err := New(Options{Scheme: "sealed", Keys: keys})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Options{Scheme: "sealed", Keys: keys})
	if err != nil {
		t.Fatal(err)
	}

	for _, s := range []*Service{a, b} {
		if err := s.Initialize(t.Context()); err != nil {
			t.Fatal(err)
		}
	}

	enc, err := a.Encode(Record{ChallengeID: "c1", Progress: 1, MaxProgress: 2})
	if err != nil {
		t.Fatal(err)
	}

	got, err := b.Decode(*enc)
	if err != nil {
		t.Fatalf("service with the same keys can't decode: %v", err)
	}

	if got.Progress != 1 {
		t.Errorf("wanted progress 1, got %d", got.Progress)
	}

	if _, err := New(Options{Keys: &KeyPair{Public: "zz", Private: "zz"}}); !errors.Is(err, ErrInitialization) {
		t.Errorf("wanted %v for malformed keys, got %v", ErrInitialization, err)
	}
}

func TestUnknownScheme(t *testing.T) {
	if _, err := New(Options{Scheme: "rot13"}); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("wanted %v, got %v", ErrUnknownScheme, err)
	}
}

func TestVerify(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   Encoded
		want bool
	}{
		{name: "complete", in: Encoded{Payload: "x", KeyToken: "k", Timestamp: 1}, want: true},
		{name: "no payload", in: Encoded{KeyToken: "k", Timestamp: 1}},
		{name: "no key", in: Encoded{Payload: "x", Timestamp: 1}},
		{name: "zero timestamp", in: Encoded{Payload: "x", KeyToken: "k"}},
		{name: "negative timestamp", in: Encoded{Payload: "x", KeyToken: "k", Timestamp: -5}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.in); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}
