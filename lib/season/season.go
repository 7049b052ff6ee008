// Package season loads the battle pass season: its passes, reward ladder,
// challenges and the backends progress is kept in.
package season

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/fancybear42/secure-loot-pass/data"
	"github.com/fancybear42/secure-loot-pass/lib/fhe"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/fancybear42/secure-loot-pass/lib/store"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrNoName           = errors.New("season: name must be set")
	ErrNoPasses         = errors.New("season: at least one pass must be defined")
	ErrNoChallenges     = errors.New("season: at least one challenge must be defined")
	ErrDuplicateID      = errors.New("season: duplicate id")
	ErrBadDifficulty    = errors.New("season: difficulty must be Easy, Medium or Hard")
	ErrBadMaxProgress   = errors.New("season: maxProgress must be positive")
	ErrBadPrice         = errors.New("season: price is invalid")
	ErrBadTier          = errors.New("season: reward tier is out of range")
	ErrBadChallengeID   = errors.New("season: challenge id is invalid")
	ErrUnknownCodec     = errors.New("season: unknown codec")
	ErrNoPassName       = errors.New("season: pass name must be set")
	ErrNoRewardName     = errors.New("season: reward name must be set")
	ErrNoChallengeTitle = errors.New("season: challenge title must be set")
	ErrPassHasNoLevels  = errors.New("season: pass totalLevels must be positive")
	ErrNoPremiumPrice   = errors.New("season: premiumPriceEther must be set when premium rewards exist")
)

type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Experience is the experience awarded for one step of a challenge.
func (d Difficulty) Experience() int64 {
	switch d {
	case Easy:
		return 10
	case Medium:
		return 25
	case Hard:
		return 50
	default:
		return 0
	}
}

func (d Difficulty) Valid() error {
	switch d {
	case Easy, Medium, Hard:
		return nil
	default:
		return fmt.Errorf("%w, got %q", ErrBadDifficulty, d)
	}
}

type Pass struct {
	ID                uint64 `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	TotalLevels       uint64 `json:"totalLevels"`
	PriceEther        string `json:"priceEther"`
	PremiumPriceEther string `json:"premiumPriceEther,omitempty"`
}

func (p Pass) Valid() error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrNoPassName)
	}

	if p.TotalLevels == 0 {
		errs = append(errs, ErrPassHasNoLevels)
	}

	if _, err := ledger.ParseEther(p.PriceEther); err != nil {
		errs = append(errs, fmt.Errorf("%w: priceEther: %w", ErrBadPrice, err))
	}

	if p.PremiumPriceEther != "" {
		if _, err := ledger.ParseEther(p.PremiumPriceEther); err != nil {
			errs = append(errs, fmt.Errorf("%w: premiumPriceEther: %w", ErrBadPrice, err))
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("pass %d: %w", p.ID, errors.Join(errs...))
	}

	return nil
}

type Reward struct {
	Tier    uint64 `json:"tier"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Premium bool   `json:"premium,omitempty"`
}

// RewardState is a reward and whether a player has unlocked it.
type RewardState struct {
	Reward
	Unlocked bool `json:"unlocked"`
}

type Challenge struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	MaxProgress int64      `json:"maxProgress"`
	Difficulty  Difficulty `json:"difficulty"`
	Reward      string     `json:"reward,omitempty"`
}

func (c Challenge) Valid() error {
	var errs []error

	if c.ID == "" {
		errs = append(errs, fmt.Errorf("%w: id must be set", ErrBadChallengeID))
	} else if _, err := ledger.EncodeBytes32(c.ID); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrBadChallengeID, err))
	}

	if c.Title == "" {
		errs = append(errs, ErrNoChallengeTitle)
	}

	if c.MaxProgress <= 0 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrBadMaxProgress, c.MaxProgress))
	}

	if err := c.Difficulty.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return fmt.Errorf("challenge %q: %w", c.ID, errors.Join(errs...))
	}

	return nil
}

// Season is a loaded and validated season file.
type Season struct {
	Name       string        `json:"name"`
	Passes     []Pass        `json:"passes"`
	Rewards    []Reward      `json:"rewards"`
	Challenges []Challenge   `json:"challenges"`
	Store      store.Config  `json:"store"`
	Ledger     ledger.Config `json:"ledger"`
	Codec      string        `json:"codec"`
}

func (s *Season) Valid() error {
	var errs []error

	if s.Name == "" {
		errs = append(errs, ErrNoName)
	}

	if len(s.Passes) == 0 {
		errs = append(errs, ErrNoPasses)
	}

	var maxLevels uint64
	passIDs := map[uint64]struct{}{}
	for _, p := range s.Passes {
		if _, ok := passIDs[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%w: pass %d", ErrDuplicateID, p.ID))
		}
		passIDs[p.ID] = struct{}{}

		if err := p.Valid(); err != nil {
			errs = append(errs, err)
		}

		maxLevels = max(maxLevels, p.TotalLevels)
	}

	var premiumRewards bool
	for _, r := range s.Rewards {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("reward tier %d: %w", r.Tier, ErrNoRewardName))
		}

		if r.Tier == 0 || (maxLevels != 0 && r.Tier > maxLevels) {
			errs = append(errs, fmt.Errorf("%w: %q is tier %d, passes have %d levels", ErrBadTier, r.Name, r.Tier, maxLevels))
		}

		premiumRewards = premiumRewards || r.Premium
	}

	if premiumRewards {
		for _, p := range s.Passes {
			if p.PremiumPriceEther == "" {
				errs = append(errs, fmt.Errorf("pass %d: %w", p.ID, ErrNoPremiumPrice))
			}
		}
	}

	if len(s.Challenges) == 0 {
		errs = append(errs, ErrNoChallenges)
	}

	challengeIDs := map[string]struct{}{}
	for _, c := range s.Challenges {
		if _, ok := challengeIDs[c.ID]; ok {
			errs = append(errs, fmt.Errorf("%w: challenge %q", ErrDuplicateID, c.ID))
		}
		challengeIDs[c.ID] = struct{}{}

		if err := c.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.Store.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := s.Ledger.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}

	if _, ok := fhe.Get(s.Codec); !ok {
		errs = append(errs, fmt.Errorf("%w: %q, known codecs: %v", ErrUnknownCodec, s.Codec, fhe.Methods()))
	}

	if len(errs) != 0 {
		return fmt.Errorf("season is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Pass returns the pass with the given id.
func (s *Season) Pass(id uint64) (*Pass, bool) {
	idx := slices.IndexFunc(s.Passes, func(p Pass) bool { return p.ID == id })
	if idx < 0 {
		return nil, false
	}
	return &s.Passes[idx], true
}

// Challenge returns the challenge with the given id.
func (s *Season) Challenge(id string) (*Challenge, bool) {
	idx := slices.IndexFunc(s.Challenges, func(c Challenge) bool { return c.ID == id })
	if idx < 0 {
		return nil, false
	}
	return &s.Challenges[idx], true
}

// RewardStates reports every reward in tier order with its unlock state for
// a player at level. Premium rewards also need a premium pass.
func (s *Season) RewardStates(level uint64, premium bool) []RewardState {
	result := make([]RewardState, 0, len(s.Rewards))
	for _, r := range s.Rewards {
		result = append(result, RewardState{
			Reward:   r,
			Unlocked: level >= r.Tier && (!r.Premium || premium),
		})
	}

	slices.SortStableFunc(result, func(a, b RewardState) int {
		switch {
		case a.Tier < b.Tier:
			return -1
		case a.Tier > b.Tier:
			return 1
		default:
			return 0
		}
	})

	return result
}

// Load parses and validates a season file. Omitted backends default to the
// in-process memory store and ledger with the simulated codec.
func Load(fin io.Reader, fname string) (*Season, error) {
	s := &Season{
		Store:  store.Config{Backend: "memory"},
		Ledger: ledger.Config{Backend: "memory"},
		Codec:  fhe.DefaultScheme,
	}

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(s); err != nil {
		return nil, fmt.Errorf("can't parse season YAML %s: %w", fname, err)
	}

	if err := s.Valid(); err != nil {
		return nil, fmt.Errorf("can't load season %s: %w", fname, err)
	}

	return s, nil
}

// LoadOrDefault loads fname, or the built in season when fname is empty.
func LoadOrDefault(fname string) (*Season, error) {
	var fin io.ReadCloser
	var err error

	if fname != "" {
		fin, err = os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("can't open season file %s: %w", fname, err)
		}
	} else {
		fname = "(data)/season.yaml"
		fin, err = data.Season.Open("season.yaml")
		if err != nil {
			return nil, fmt.Errorf("[unexpected] can't open builtin season file %s: %w", fname, err)
		}
	}

	defer func(fin io.ReadCloser) {
		if err := fin.Close(); err != nil {
			slog.Error("failed to close season file", "file", fname, "err", err)
		}
	}(fin)

	return Load(fin, fname)
}
