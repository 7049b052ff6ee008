// Package progress sequences encoding, ledger submission and caching of
// challenge progress.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/fhe"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
)

var (
	// ErrNotReady is returned when the service is used before Initialize.
	ErrNotReady = errors.New("progress: service not initialized")

	// ErrNoProgress is returned when neither the cache nor the ledger hold
	// progress for a challenge.
	ErrNoProgress = errors.New("progress: no progress recorded")

	// ErrInvalidRequest is returned when a tracking request is malformed.
	ErrInvalidRequest = errors.New("progress: invalid request")
)

// Codec turns progress records into the encoded form sent to the ledger.
type Codec interface {
	Initialize(ctx context.Context) error
	Encode(r fhe.Record) (*fhe.Encoded, error)
	Decode(e fhe.Encoded) (*fhe.Record, error)
	Verify(e fhe.Encoded) bool
	Ready() bool
	PublicKey() string
}

// Ledger is the part of the chain adapter the service uses.
type Ledger interface {
	Submit(ctx context.Context, challengeID string, enc fhe.Encoded) (ledger.SubmissionResult, error)
	GainExperience(ctx context.Context, passID uint64, enc fhe.Encoded) (ledger.SubmissionResult, error)
	ChallengeProgress(ctx context.Context, challengeID string) (*ledger.Progress, error)
	Stats(ctx context.Context, passID uint64) (*ledger.Stats, error)
	Ready() bool
}

// Request asks for the progress of one challenge to be recorded.
type Request struct {
	ChallengeID string `json:"challengeId"`
	Progress    int64  `json:"progress"`
	MaxProgress int64  `json:"maxProgress"`
	Experience  int64  `json:"experience"`
	UserID      string `json:"userId"`
}

// Valid checks r. Progress past MaxProgress is only rejected when strict is
// set.
func (r Request) Valid(strict bool) error {
	var errs []error

	if r.ChallengeID == "" {
		errs = append(errs, fmt.Errorf("%w: challengeId must be set", ErrInvalidRequest))
	} else if _, err := ledger.EncodeBytes32(r.ChallengeID); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if r.Progress < 0 {
		errs = append(errs, fmt.Errorf("%w: progress must not be negative, got %d", ErrInvalidRequest, r.Progress))
	}

	if r.MaxProgress <= 0 {
		errs = append(errs, fmt.Errorf("%w: maxProgress must be positive, got %d", ErrInvalidRequest, r.MaxProgress))
	}

	if r.Experience < 0 {
		errs = append(errs, fmt.Errorf("%w: experience must not be negative, got %d", ErrInvalidRequest, r.Experience))
	}

	if r.UserID == "" {
		errs = append(errs, fmt.Errorf("%w: userId must be set", ErrInvalidRequest))
	}

	if strict && r.MaxProgress > 0 && r.Progress > r.MaxProgress {
		errs = append(errs, fmt.Errorf("%w: progress %d is past maxProgress %d", ErrInvalidRequest, r.Progress, r.MaxProgress))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidExperience checks an experience grant.
func ValidExperience(amount int64, userID string) error {
	var errs []error
	if amount < 0 {
		errs = append(errs, fmt.Errorf("%w: amount must not be negative, got %d", ErrInvalidRequest, amount))
	}
	if userID == "" {
		errs = append(errs, fmt.Errorf("%w: userId must be set", ErrInvalidRequest))
	}

	return errors.Join(errs...)
}

// Snapshot is the last known progress of a challenge.
type Snapshot struct {
	ChallengeID     string `json:"challengeId"`
	CurrentProgress int64  `json:"currentProgress"`
	MaxProgress     int64  `json:"maxProgress"`
	Experience      int64  `json:"experience"`
	Completed       bool   `json:"completed"`
	LastUpdated     int64  `json:"lastUpdated"` // unix milliseconds
	TransactionHash string `json:"transactionHash,omitempty"`
}

// NewSnapshot builds a Snapshot with Completed derived from the progress.
func NewSnapshot(challengeID string, current, maxProgress, experience int64, lastUpdated time.Time, txHash string) Snapshot {
	return Snapshot{
		ChallengeID:     challengeID,
		CurrentProgress: current,
		MaxProgress:     maxProgress,
		Experience:      experience,
		Completed:       current >= maxProgress,
		LastUpdated:     lastUpdated.UnixMilli(),
		TransactionHash: txHash,
	}
}

// TrackResult is the outcome of TrackProgress. When Success is false, Error
// holds the first failure and the cache is unchanged.
type TrackResult struct {
	Success         bool         `json:"success"`
	TransactionHash string       `json:"transactionHash,omitempty"`
	Encoded         *fhe.Encoded `json:"encryptedProgress,omitempty"`
	Snapshot        *Snapshot    `json:"snapshot,omitempty"`

	// CacheStale is set when the ledger accepted the record but the cache
	// could not be updated.
	CacheStale bool `json:"cacheStale,omitempty"`

	Error string `json:"error,omitempty"`
}
