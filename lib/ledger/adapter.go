package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	lootpass "github.com/fancybear42/secure-loot-pass"
	"github.com/fancybear42/secure-loot-pass/lib/fhe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootpass_ledger_writes_total",
		Help: "The total number of ledger writes by outcome",
	}, []string{"op", "result"})

	writeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lootpass_ledger_write_duration_seconds",
		Help:    "Time from submitting a ledger write to its receipt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"op"})

	readFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootpass_ledger_read_fallbacks_total",
		Help: "The total number of ledger reads that failed and returned a default",
	}, []string{"read"})
)

// DefaultCallTimeout is long enough for a Sepolia transaction to be mined.
const DefaultCallTimeout = 2 * time.Minute

type Options struct {
	// CallTimeout bounds every backend call. Zero means no timeout beyond the
	// caller's context.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Adapter is the chain adapter. It is safe for concurrent use.
type Adapter struct {
	callTimeout time.Duration
	lg          *slog.Logger

	lock    sync.RWMutex
	backend Backend
	cfg     Config
}

// New builds an uninitialized Adapter.
func New(opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Adapter{
		callTimeout: opts.CallTimeout,
		lg:          opts.Logger.With("component", "ledger"),
	}
}

// Initialize builds the backend named by cfg. Initializing again replaces and
// closes the previous backend.
func (a *Adapter) Initialize(ctx context.Context, cfg Config) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	backend, err := cfg.Build(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	a.lock.Lock()
	old := a.backend
	a.backend = backend
	a.cfg = cfg
	a.lock.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			a.lg.Warn("can't close previous ledger backend", "err", err)
		}
	}

	a.lg.Info("ledger initialized", "backend", cfg.Backend, "contract", backend.ContractAddress())
	return nil
}

func (a *Adapter) current() (Backend, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if a.backend == nil {
		return nil, ErrNotInitialized
	}

	return a.backend, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, a.callTimeout)
}

// transact runs a write and folds every failure into the result. Writes are
// never retried.
func (a *Adapter) transact(ctx context.Context, op string, fn func(ctx context.Context) (*Receipt, error)) SubmissionResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rcpt, err := fn(ctx)
	writeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		writes.WithLabelValues(op, "error").Inc()
		a.lg.Error("ledger write failed", "op", op, "err", err)
		return SubmissionResult{Accepted: false, Error: err.Error()}
	case rcpt.Status != StatusSuccessful:
		writes.WithLabelValues(op, "reverted").Inc()
		a.lg.Error("ledger write reverted", "op", op, "tx", rcpt.TxHash, "block", rcpt.BlockNumber)
		return SubmissionResult{TransactionID: rcpt.TxHash, Accepted: false, Error: TransactionFailed}
	}

	writes.WithLabelValues(op, "accepted").Inc()
	a.lg.Debug("ledger write accepted", "op", op, "tx", rcpt.TxHash, "block", rcpt.BlockNumber)
	return SubmissionResult{TransactionID: rcpt.TxHash, Accepted: true}
}

// Submit records an encoded progress record for challengeID.
func (a *Adapter) Submit(ctx context.Context, challengeID string, enc fhe.Encoded) (SubmissionResult, error) {
	backend, err := a.current()
	if err != nil {
		return SubmissionResult{}, err
	}

	return a.transact(ctx, "updateChallengeProgress", func(ctx context.Context) (*Receipt, error) {
		id, err := EncodeBytes32(challengeID)
		if err != nil {
			return nil, err
		}

		return backend.UpdateChallengeProgress(ctx, id, enc.Payload, enc.KeyToken)
	}), nil
}

// GainExperience submits an encoded experience amount for passID.
func (a *Adapter) GainExperience(ctx context.Context, passID uint64, enc fhe.Encoded) (SubmissionResult, error) {
	backend, err := a.current()
	if err != nil {
		return SubmissionResult{}, err
	}

	return a.transact(ctx, "gainExperience", func(ctx context.Context) (*Receipt, error) {
		return backend.GainExperience(ctx, passID, enc.Payload, enc.KeyToken)
	}), nil
}

// PurchaseBattlePass buys passID, paying priceEther.
func (a *Adapter) PurchaseBattlePass(ctx context.Context, passID uint64, priceEther string) (SubmissionResult, error) {
	return a.pay(ctx, "purchaseBattlePass", priceEther, func(ctx context.Context, b Backend, value *big.Int) (*Receipt, error) {
		return b.PurchaseBattlePass(ctx, passID, value)
	})
}

// UpgradeToPremium upgrades an owned passID, paying priceEther.
func (a *Adapter) UpgradeToPremium(ctx context.Context, passID uint64, priceEther string) (SubmissionResult, error) {
	return a.pay(ctx, "upgradeToPremium", priceEther, func(ctx context.Context, b Backend, value *big.Int) (*Receipt, error) {
		return b.UpgradeToPremium(ctx, passID, value)
	})
}

func (a *Adapter) pay(ctx context.Context, op, priceEther string, fn func(context.Context, Backend, *big.Int) (*Receipt, error)) (SubmissionResult, error) {
	backend, err := a.current()
	if err != nil {
		return SubmissionResult{}, err
	}

	return a.transact(ctx, op, func(ctx context.Context) (*Receipt, error) {
		value, err := ParseEther(priceEther)
		if err != nil {
			return nil, err
		}

		return fn(ctx, backend, value)
	}), nil
}

// read runs a single read, returning def and counting a fallback if it fails.
func read[T any](ctx context.Context, a *Adapter, name string, def T, fn func(ctx context.Context) (T, error)) T {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	result, err := fn(ctx)
	if err != nil {
		readFallbacks.WithLabelValues(name).Inc()
		a.lg.Warn("ledger read failed, using default", "read", name, "default", def, "err", err)
		return def
	}

	return result
}

// Stats reads the player's standing in passID. The reads run in parallel and
// each one falls back to its default on failure independently of the others.
// Cancelling ctx stops the remaining reads and returns its error.
func (a *Adapter) Stats(ctx context.Context, passID uint64) (*Stats, error) {
	backend, err := a.current()
	if err != nil {
		return nil, err
	}

	result := &Stats{PassID: passID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Level = read(gctx, a, "getPlayerLevel", uint64(lootpass.DefaultLevel), func(ctx context.Context) (uint64, error) {
			return backend.PlayerLevel(ctx, passID)
		})
		return ctx.Err()
	})
	g.Go(func() error {
		result.Experience = read(gctx, a, "getPlayerExperience", uint64(lootpass.DefaultExperience), func(ctx context.Context) (uint64, error) {
			return backend.PlayerExperience(ctx, passID)
		})
		return ctx.Err()
	})
	g.Go(func() error {
		result.RequiredExperience = read(gctx, a, "getRequiredExperience", uint64(lootpass.DefaultRequiredExperience), func(ctx context.Context) (uint64, error) {
			return backend.RequiredExperience(ctx, passID)
		})
		return ctx.Err()
	})
	g.Go(func() error {
		result.Premium = read(gctx, a, "isPremium", false, func(ctx context.Context) (bool, error) {
			return backend.IsPremium(ctx, passID)
		})
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reading stats for pass %d: %w", passID, err)
	}

	return result, nil
}

// ChallengeCompleted reports whether the ledger considers challengeID done.
// Read failures report false.
func (a *Adapter) ChallengeCompleted(ctx context.Context, challengeID string) (bool, error) {
	backend, err := a.current()
	if err != nil {
		return false, err
	}

	return read(ctx, a, "isChallengeCompleted", false, func(ctx context.Context) (bool, error) {
		id, err := EncodeBytes32(challengeID)
		if err != nil {
			return false, err
		}

		return backend.ChallengeCompleted(ctx, id)
	}), nil
}

// ChallengeProgress returns the ledger record for challengeID, or nil if
// there is none.
func (a *Adapter) ChallengeProgress(ctx context.Context, challengeID string) (*Progress, error) {
	backend, err := a.current()
	if err != nil {
		return nil, err
	}

	id, err := EncodeBytes32(challengeID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	result, err := backend.ChallengeProgress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("can't read progress for %q: %w", challengeID, err)
	}

	if result != nil {
		result.ChallengeID = challengeID
	}

	return result, nil
}

func (a *Adapter) Network(ctx context.Context) (*Network, error) {
	backend, err := a.current()
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	result, err := backend.Network(ctx)
	if err != nil {
		if errors.Is(err, ErrNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return result, nil
}

func (a *Adapter) Ready() bool {
	_, err := a.current()
	return err == nil
}

// ContractAddress returns the address of the contract, or "" before
// Initialize.
func (a *Adapter) ContractAddress() string {
	backend, err := a.current()
	if err != nil {
		return ""
	}

	return backend.ContractAddress()
}

// Close releases the backend. The adapter must be initialized again before
// use.
func (a *Adapter) Close() error {
	a.lock.Lock()
	backend := a.backend
	a.backend = nil
	a.lock.Unlock()

	if backend == nil {
		return nil
	}

	return backend.Close()
}
