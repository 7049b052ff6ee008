package season

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/fancybear42/secure-loot-pass/lib/ledger/all"
	_ "github.com/fancybear42/secure-loot-pass/lib/store/all"
	"github.com/google/go-cmp/cmp"
)

func TestDefaultSeason(t *testing.T) {
	s, err := LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}

	if len(s.Challenges) != 4 {
		t.Errorf("wanted 4 challenges, got %d", len(s.Challenges))
	}

	if len(s.Rewards) != 6 {
		t.Errorf("wanted 6 rewards, got %d", len(s.Rewards))
	}

	if s.Store.Backend != "memory" || s.Ledger.Backend != "memory" || s.Codec != "simulated" {
		t.Errorf("unexpected backends: store %q, ledger %q, codec %q", s.Store.Backend, s.Ledger.Backend, s.Codec)
	}

	c, ok := s.Challenge("unlock-undetected")
	if !ok {
		t.Fatal("unlock-undetected missing")
	}
	if c.MaxProgress != 3 || c.Difficulty.Experience() != 25 {
		t.Errorf("wrong challenge: %+v", c)
	}

	if _, ok := s.Pass(1); !ok {
		t.Error("pass 1 missing")
	}

	if _, ok := s.Pass(99); ok {
		t.Error("pass 99 found")
	}
}

func TestGoodSeasons(t *testing.T) {
	finfos, err := os.ReadDir("testdata/good")
	if err != nil {
		t.Fatal(err)
	}

	for _, st := range finfos {
		t.Run(st.Name(), func(t *testing.T) {
			if _, err := LoadOrDefault(filepath.Join("testdata", "good", st.Name())); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestBadSeasons(t *testing.T) {
	finfos, err := os.ReadDir("testdata/bad")
	if err != nil {
		t.Fatal(err)
	}

	for _, st := range finfos {
		t.Run(st.Name(), func(t *testing.T) {
			if _, err := LoadOrDefault(filepath.Join("testdata", "bad", st.Name())); err == nil {
				t.Fatal("season loaded but should have failed")
			} else {
				t.Log(err)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("wanted %v, got %v", os.ErrNotExist, err)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		yaml string
		err  error
	}{
		{
			name: "duplicate challenge",
			yaml: `
name: Dupes
passes: [{id: 1, name: P, totalLevels: 1, priceEther: "1"}]
challenges:
  - {id: c1, title: A, maxProgress: 1, difficulty: Easy}
  - {id: c1, title: B, maxProgress: 1, difficulty: Easy}
`,
			err: ErrDuplicateID,
		},
		{
			name: "reward tier past levels",
			yaml: `
name: Tiers
passes: [{id: 1, name: P, totalLevels: 2, priceEther: "1"}]
rewards: [{tier: 3, name: Far, type: item, value: x}]
challenges: [{id: c1, title: A, maxProgress: 1, difficulty: Easy}]
`,
			err: ErrBadTier,
		},
		{
			name: "bad price",
			yaml: `
name: Price
passes: [{id: 1, name: P, totalLevels: 1, priceEther: "ten"}]
challenges: [{id: c1, title: A, maxProgress: 1, difficulty: Easy}]
`,
			err: ErrBadPrice,
		},
		{
			name: "unknown codec",
			yaml: `
name: Codec
passes: [{id: 1, name: P, totalLevels: 1, priceEther: "1"}]
challenges: [{id: c1, title: A, maxProgress: 1, difficulty: Easy}]
codec: rot13
`,
			err: ErrUnknownCodec,
		},
		{
			name: "zero max progress",
			yaml: `
name: Zero
passes: [{id: 1, name: P, totalLevels: 1, priceEther: "1"}]
challenges: [{id: c1, title: A, maxProgress: 0, difficulty: Easy}]
`,
			err: ErrBadMaxProgress,
		},
		{
			name: "many problems",
			yaml: `
passes: []
challenges: []
`,
			err: ErrNoName,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml), tt.name)
			if !errors.Is(err, tt.err) {
				t.Fatalf("wanted %v, got %v", tt.err, err)
			}
		})
	}
}

func TestDifficultyExperience(t *testing.T) {
	for d, want := range map[Difficulty]int64{Easy: 10, Medium: 25, Hard: 50, "Nightmare": 0} {
		if got := d.Experience(); got != want {
			t.Errorf("%s: want %d, got %d", d, want, got)
		}
	}
}

func TestRewardStates(t *testing.T) {
	s, err := LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}

	unlocked := func(states []RewardState) []string {
		var result []string
		for _, st := range states {
			if st.Unlocked {
				result = append(result, st.Name)
			}
		}
		return result
	}

	for _, tt := range []struct {
		name    string
		level   uint64
		premium bool
		want    []string
	}{
		{name: "level 1", level: 1, want: []string{"Starter Pack"}},
		{name: "level 3 free", level: 3, want: []string{"Starter Pack", "Silver Badge"}},
		{name: "level 3 premium", level: 3, premium: true, want: []string{"Starter Pack", "Silver Badge", "Premium Boost"}},
		{name: "level 6 free", level: 6, want: []string{"Starter Pack", "Silver Badge", "Golden Crown", "Elite Status"}},
		{name: "level 6 premium", level: 6, premium: true, want: []string{"Starter Pack", "Silver Badge", "Premium Boost", "Golden Crown", "Master Chest", "Elite Status"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			states := s.RewardStates(tt.level, tt.premium)
			if len(states) != len(s.Rewards) {
				t.Fatalf("wanted %d states, got %d", len(s.Rewards), len(states))
			}

			if diff := cmp.Diff(tt.want, unlocked(states)); diff != "" {
				t.Errorf("unlocked rewards mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
