package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/fhe"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/fancybear42/secure-loot-pass/lib/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootpass_progress_tracked_total",
		Help: "The total number of tracking requests by outcome",
	}, []string{"result"})

	cacheStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lootpass_progress_cache_stale_total",
		Help: "The total number of accepted records that could not be cached",
	})

	cacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootpass_progress_cache_reads_total",
		Help: "The total number of progress lookups by source",
	}, []string{"source"})
)

// CachePrefix is prepended to challenge ids in the cache store.
const CachePrefix = "progress:"

type Options struct {
	Codec  Codec
	Ledger Ledger

	// Cache holds snapshots. It is owned by the caller.
	Cache store.Interface

	// CacheTTL bounds how long a snapshot is served before the ledger is
	// read again. Zero keeps snapshots until ClearCache.
	CacheTTL time.Duration

	// StrictBounds rejects requests whose progress is past maxProgress.
	StrictBounds bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Service is the progress orchestrator. It is safe for concurrent use.
type Service struct {
	codec    Codec
	ledger   Ledger
	cache    *store.JSON[Snapshot]
	cacheTTL time.Duration
	strict   bool
	lg       *slog.Logger
	now      func() time.Time

	locks       *keyedMutex
	initialized atomic.Bool
}

// New builds an uninitialized Service.
func New(opts Options) (*Service, error) {
	var errs []error
	if opts.Codec == nil {
		errs = append(errs, errors.New("progress: Options.Codec must be set"))
	}
	if opts.Ledger == nil {
		errs = append(errs, errors.New("progress: Options.Ledger must be set"))
	}
	if opts.Cache == nil {
		errs = append(errs, errors.New("progress: Options.Cache must be set"))
	}
	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		codec:    opts.Codec,
		ledger:   opts.Ledger,
		cache:    &store.JSON[Snapshot]{Underlying: opts.Cache, Prefix: CachePrefix},
		cacheTTL: opts.CacheTTL,
		strict:   opts.StrictBounds,
		lg:       opts.Logger.With("component", "progress"),
		now:      opts.Now,
		locks:    newKeyedMutex(),
	}, nil
}

// Initialize prepares the codec. It must succeed before progress can be
// tracked.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.codec.Initialize(ctx); err != nil {
		return fmt.Errorf("progress: initialization failed: %w", err)
	}

	s.initialized.Store(true)
	s.lg.Info("progress service initialized", "strict_bounds", s.strict)
	return nil
}

// Ready reports whether the service, the codec and the ledger are all usable.
func (s *Service) Ready() bool {
	return s.initialized.Load() && s.codec.Ready() && s.ledger.Ready()
}

// PublicKey returns the codec's public key token, or "" before Initialize.
func (s *Service) PublicKey() string {
	return s.codec.PublicKey()
}

// Validate checks req the way TrackProgress will.
func (s *Service) Validate(req Request) error {
	return req.Valid(s.strict)
}

func (s *Service) fail(req Request, stage string, err error) *TrackResult {
	tracked.WithLabelValues(stage + "_failed").Inc()
	s.lg.Error("can't track progress", "challenge", req.ChallengeID, "stage", stage, "err", err)
	return &TrackResult{Success: false, Error: err.Error()}
}

// TrackProgress encodes req, submits it to the ledger and caches the result.
// Only ErrNotReady is returned as an error; every other failure is reported
// in the result. Calls for the same challenge run one at a time.
func (s *Service) TrackProgress(ctx context.Context, req Request) (*TrackResult, error) {
	if !s.initialized.Load() {
		return nil, ErrNotReady
	}

	unlock := s.locks.Lock(req.ChallengeID)
	defer unlock()

	return s.track(ctx, req), nil
}

// track does the work of TrackProgress. The caller holds the challenge lock.
func (s *Service) track(ctx context.Context, req Request) *TrackResult {
	if err := req.Valid(s.strict); err != nil {
		return s.fail(req, "validate", err)
	}

	enc, err := s.codec.Encode(recordFrom(req, s.now().UnixMilli()))
	if err != nil {
		return s.fail(req, "encode", err)
	}

	res, err := s.ledger.Submit(ctx, req.ChallengeID, *enc)
	if err != nil {
		return s.fail(req, "submit", err)
	}

	if !res.Accepted {
		msg := res.Error
		if msg == "" {
			msg = "ledger transaction failed"
		}
		return s.fail(req, "submit", errors.New(msg))
	}

	snap := NewSnapshot(req.ChallengeID, req.Progress, req.MaxProgress, req.Experience, s.now(), res.TransactionID)
	result := &TrackResult{
		Success:         true,
		TransactionHash: res.TransactionID,
		Encoded:         enc,
		Snapshot:        &snap,
	}

	if err := s.cache.Set(ctx, req.ChallengeID, snap, s.cacheTTL); err != nil {
		cacheStale.Inc()
		s.lg.Error("ledger accepted progress but the cache is stale", "challenge", req.ChallengeID, "tx", res.TransactionID, "err", err)
		result.CacheStale = true
	}

	tracked.WithLabelValues("accepted").Inc()
	s.lg.Info("progress tracked", "challenge", req.ChallengeID, "progress", req.Progress, "max_progress", req.MaxProgress, "completed", snap.Completed, "tx", res.TransactionID)
	return result
}

// AdvanceChallenge moves a challenge one step towards maxProgress and tracks
// it. The current step comes from GetProgress, starting at zero for
// challenges with no progress.
func (s *Service) AdvanceChallenge(ctx context.Context, challengeID string, maxProgress, experience int64, userID string) (*TrackResult, error) {
	if !s.initialized.Load() {
		return nil, ErrNotReady
	}

	unlock := s.locks.Lock(challengeID)
	defer unlock()

	req := Request{
		ChallengeID: challengeID,
		MaxProgress: maxProgress,
		Experience:  experience,
		UserID:      userID,
	}

	snap, err := s.getProgress(ctx, challengeID)
	switch {
	case errors.Is(err, ErrNoProgress):
	case err != nil:
		return s.fail(req, "read", err), nil
	default:
		req.Progress = snap.CurrentProgress
	}

	req.Progress = min(req.Progress+1, maxProgress)
	return s.track(ctx, req), nil
}

// GainExperience encodes amount as a progress record for the pass and submits
// it to the ledger. Only ErrNotReady is returned as an error.
func (s *Service) GainExperience(ctx context.Context, passID uint64, amount int64, userID string) (ledger.SubmissionResult, error) {
	if !s.initialized.Load() {
		return ledger.SubmissionResult{}, ErrNotReady
	}

	challengeID := fmt.Sprintf("experience_%d", passID)

	if err := ValidExperience(amount, userID); err != nil {
		s.lg.Error("can't gain experience", "pass", passID, "err", err)
		return ledger.SubmissionResult{Error: err.Error()}, nil
	}

	enc, err := s.codec.Encode(recordFrom(Request{
		ChallengeID: challengeID,
		Progress:    amount,
		MaxProgress: amount,
		Experience:  amount,
		UserID:      userID,
	}, s.now().UnixMilli()))
	if err != nil {
		s.lg.Error("can't encode experience", "pass", passID, "err", err)
		return ledger.SubmissionResult{Error: err.Error()}, nil
	}

	res, err := s.ledger.GainExperience(ctx, passID, *enc)
	if err != nil {
		return ledger.SubmissionResult{Error: err.Error()}, nil
	}

	if res.Accepted {
		s.lg.Info("experience gained", "pass", passID, "amount", amount, "tx", res.TransactionID)
	}

	return res, nil
}

// GetProgress returns the snapshot for challengeID from the cache, or from
// the ledger when it is not cached. Ledger records are decoded and cached.
func (s *Service) GetProgress(ctx context.Context, challengeID string) (*Snapshot, error) {
	if !s.initialized.Load() {
		return nil, ErrNotReady
	}

	return s.getProgress(ctx, challengeID)
}

func (s *Service) getProgress(ctx context.Context, challengeID string) (*Snapshot, error) {
	snap, err := s.cache.Get(ctx, challengeID)
	switch {
	case err == nil:
		cacheReads.WithLabelValues("cache").Inc()
		return &snap, nil
	case !errors.Is(err, store.ErrNotFound):
		s.lg.Warn("can't read progress cache, asking the ledger", "challenge", challengeID, "err", err)
	}

	rec, err := s.ledger.ChallengeProgress(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		cacheReads.WithLabelValues("none").Inc()
		return nil, fmt.Errorf("%w: %q", ErrNoProgress, challengeID)
	}

	record, err := s.codec.Decode(encodedFrom(rec))
	if err != nil {
		return nil, fmt.Errorf("can't decode ledger record for %q: %w", challengeID, err)
	}

	snap = NewSnapshot(record.ChallengeID, record.Progress, record.MaxProgress, record.Experience, time.UnixMilli(record.Timestamp), rec.TxHash)
	cacheReads.WithLabelValues("ledger").Inc()

	if err := s.cache.Set(ctx, challengeID, snap, s.cacheTTL); err != nil {
		s.lg.Warn("can't cache ledger progress", "challenge", challengeID, "err", err)
	}

	return &snap, nil
}

func recordFrom(req Request, timestamp int64) fhe.Record {
	return fhe.Record{
		ChallengeID: req.ChallengeID,
		Progress:    req.Progress,
		MaxProgress: req.MaxProgress,
		Experience:  req.Experience,
		Timestamp:   timestamp,
		UserID:      req.UserID,
	}
}

func encodedFrom(rec *ledger.Progress) fhe.Encoded {
	return fhe.Encoded{
		Payload:     rec.EncryptedData,
		KeyToken:    rec.PublicKey,
		Timestamp:   rec.Timestamp,
		ChallengeID: rec.ChallengeID,
	}
}

// AllProgress returns every cached snapshot ordered by challenge id.
func (s *Service) AllProgress(ctx context.Context) ([]Snapshot, error) {
	keys, err := s.cache.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't list progress cache: %w", err)
	}

	result := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		snap, err := s.cache.Get(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// expired or cleared since Keys
			continue
		case err != nil:
			return nil, fmt.Errorf("can't read cached progress for %q: %w", key, err)
		}

		result = append(result, snap)
	}

	slices.SortFunc(result, func(a, b Snapshot) int {
		return strings.Compare(a.ChallengeID, b.ChallengeID)
	})

	return result, nil
}

// ClearCache drops every cached snapshot and returns how many were removed.
// The ledger is untouched.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	keys, err := s.cache.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("can't list progress cache: %w", err)
	}

	var (
		count int
		errs  []error
	)
	for _, key := range keys {
		err := s.cache.Delete(ctx, key)
		switch {
		case err == nil:
			count++
		case errors.Is(err, store.ErrNotFound):
		default:
			errs = append(errs, err)
		}
	}

	s.lg.Info("progress cache cleared", "removed", count)
	return count, errors.Join(errs...)
}

// VerifyProgress reports whether the ledger holds a structurally valid record
// for challengeID. Any failure reports false.
func (s *Service) VerifyProgress(ctx context.Context, challengeID string) bool {
	rec, err := s.ledger.ChallengeProgress(ctx, challengeID)
	if err != nil {
		s.lg.Warn("can't verify progress", "challenge", challengeID, "err", err)
		return false
	}

	if rec == nil {
		return false
	}

	return s.codec.Verify(encodedFrom(rec))
}

// PlayerStats returns the player's standing in passID. Individual reads fall
// back to defaults.
func (s *Service) PlayerStats(ctx context.Context, passID uint64) (*ledger.Stats, error) {
	result, err := s.ledger.Stats(ctx, passID)
	if errors.Is(err, ledger.ErrNotInitialized) {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	return result, err
}
