package internal

import "testing"

func TestSHA256sum(t *testing.T) {
	// sha256("") is a well known constant.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256sum(""); got != empty {
		t.Errorf("wanted %s, got %s", empty, got)
	}
}

func TestFastHashStable(t *testing.T) {
	for _, input := range []string{"", "c1", "experience_1", "progress:daily-login"} {
		t.Run(input, func(t *testing.T) {
			if FastHash(input) != FastHash(input) {
				t.Error("hash is not deterministic")
			}
		})
	}

	if FastHash("a") == FastHash("b") {
		t.Error("distinct inputs collided")
	}
}

func BenchmarkFastHash(b *testing.B) {
	input := "challenge=daily-login,progress=3,max=7,tx=0xabc"
	for b.Loop() {
		_ = FastHash(input)
	}
}

func BenchmarkSHA256sum(b *testing.B) {
	input := "challenge=daily-login,progress=3,max=7,tx=0xabc"
	for b.Loop() {
		_ = SHA256sum(input)
	}
}
