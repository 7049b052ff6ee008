package ledger

import (
	"errors"
	"testing"
)

func TestParseEther(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
		err  error
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "0.01", want: "10000000000000000"},
		{in: ".5", want: "500000000000000000"},
		{in: "2.", want: "2000000000000000000"},
		{in: " 0.000000000000000001 ", want: "1"},
		{in: "9.99", want: "9990000000000000000"},
		{in: "", err: ErrBadAmount},
		{in: "-1", err: ErrBadAmount},
		{in: "+1", err: ErrBadAmount},
		{in: "1.2.3", err: ErrBadAmount},
		{in: "one", err: ErrBadAmount},
		{in: "0.0000000000000000001", err: ErrBadAmount},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEther(tt.in)
			if !errors.Is(err, tt.err) {
				t.Fatalf("wanted %v, got %v", tt.err, err)
			}

			if err != nil {
				return
			}

			if got.String() != tt.want {
				t.Errorf("want %s wei, got %s", tt.want, got)
			}
		})
	}
}

func TestBufferedGas(t *testing.T) {
	for estimate, want := range map[uint64]uint64{
		0:      0,
		21000:  25200,
		50_001: 60_001,
	} {
		if got := BufferedGas(estimate); got != want {
			t.Errorf("BufferedGas(%d) = %d, want %d", estimate, got, want)
		}
	}
}
