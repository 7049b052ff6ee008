package ledger

import (
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestEncodeBytes32(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   string
		err  error
	}{
		{name: "short", in: "c1"},
		{name: "empty", in: ""},
		{name: "31 bytes", in: strings.Repeat("a", 31)},
		{name: "32 bytes", in: strings.Repeat("a", 32), err: ErrBadChallengeID},
		{name: "multibyte", in: "défi-quotidien"},
		{name: "invalid utf8", in: "\xff\xfe", err: ErrBadChallengeID},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeBytes32(tt.in)
			if !errors.Is(err, tt.err) {
				t.Fatalf("wanted %v, got %v", tt.err, err)
			}

			if err != nil {
				return
			}

			if got[31] != 0 {
				t.Error("value is not null terminated")
			}

			back, err := DecodeBytes32(got)
			if err != nil {
				t.Fatal(err)
			}

			if back != tt.in {
				t.Errorf("round trip: want %q, got %q", tt.in, back)
			}
		})
	}
}

func TestEncodeBytes32Layout(t *testing.T) {
	got, err := EncodeBytes32("c1")
	if err != nil {
		t.Fatal(err)
	}

	want := [32]byte{'c', '1'}
	if got != want {
		t.Errorf("want %x, got %x", want, got)
	}
}

func TestDecodeBytes32Unterminated(t *testing.T) {
	var b [32]byte
	for i := range b {
		b[i] = 'x'
	}

	if _, err := DecodeBytes32(b); !errors.Is(err, ErrBadChallengeID) {
		t.Errorf("wanted %v, got %v", ErrBadChallengeID, err)
	}
}

func TestBytes32RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[a-zA-Z0-9_-]{0,31}`).Draw(t, "id")

		enc, err := EncodeBytes32(id)
		if err != nil {
			t.Fatal(err)
		}

		got, err := DecodeBytes32(enc)
		if err != nil {
			t.Fatal(err)
		}

		if got != id {
			t.Fatalf("want %q, got %q", id, got)
		}
	})
}
