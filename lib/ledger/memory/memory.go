// Package memory is an in-process ledger that behaves like the progress
// contract without a chain. Transactions are mined instantly.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fancybear42/secure-loot-pass/decaymap"
	"github.com/fancybear42/secure-loot-pass/internal"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/google/uuid"
)

// Gas costs used to estimate a write.
const (
	baseGas    = 21000
	gasPerByte = 16
)

type pass struct {
	owned   bool
	premium bool
	gains   uint64
}

// Backend is safe for concurrent use.
type Backend struct {
	cfg Config
	now func() time.Time

	block    atomic.Uint64
	records  *decaymap.Impl[[32]byte, ledger.Progress]
	reverts  map[[32]byte]struct{}
	complete map[[32]byte]struct{}

	lock   sync.Mutex
	passes map[uint64]*pass
	closed bool
}

// New builds a Backend from an already validated config.
func New(cfg Config) *Backend {
	cfg.defaults()

	b := &Backend{
		cfg:      cfg,
		now:      time.Now,
		records:  decaymap.New[[32]byte, ledger.Progress](),
		reverts:  map[[32]byte]struct{}{},
		complete: map[[32]byte]struct{}{},
		passes:   map[uint64]*pass{},
	}

	for _, id := range cfg.RevertChallenges {
		key, _ := ledger.EncodeBytes32(id)
		b.reverts[key] = struct{}{}
	}

	for _, id := range cfg.CompletedChallenges {
		key, _ := ledger.EncodeBytes32(id)
		b.complete[key] = struct{}{}
	}

	return b
}

func (b *Backend) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return fmt.Errorf("%w: backend is closed", ledger.ErrTransaction)
	}

	return nil
}

// estimate fails like an RPC gas estimate would when the buffered cost of
// the call data exceeds the configured gas limit.
func (b *Backend) estimate(data ...string) error {
	gas := uint64(baseGas)
	for _, d := range data {
		gas += uint64(len(d)) * gasPerByte
	}

	if b.cfg.GasLimit != 0 && ledger.BufferedGas(gas) > b.cfg.GasLimit {
		return fmt.Errorf("%w: gas estimate %d exceeds the limit of %d", ledger.ErrTransaction, ledger.BufferedGas(gas), b.cfg.GasLimit)
	}

	return nil
}

func (b *Backend) mine(ok bool) *ledger.Receipt {
	status := ledger.StatusSuccessful
	if !ok {
		status = ledger.StatusFailed
	}

	return &ledger.Receipt{
		TxHash:      "0x" + internal.SHA256sum(uuid.NewString()),
		Status:      status,
		BlockNumber: b.block.Add(1),
	}
}

func (b *Backend) passFor(passID uint64) *pass {
	p, ok := b.passes[passID]
	if !ok {
		p = &pass{}
		b.passes[passID] = p
	}
	return p
}

func (b *Backend) UpdateChallengeProgress(ctx context.Context, challengeID [32]byte, encryptedData, publicKey string) (*ledger.Receipt, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	if err := b.estimate(encryptedData, publicKey); err != nil {
		return nil, err
	}

	if _, ok := b.reverts[challengeID]; ok {
		return b.mine(false), nil
	}

	rcpt := b.mine(true)
	b.records.Set(challengeID, ledger.Progress{
		EncryptedData: encryptedData,
		PublicKey:     publicKey,
		Timestamp:     b.now().Unix(),
		BlockNumber:   rcpt.BlockNumber,
		TxHash:        rcpt.TxHash,
	}, 0)

	return rcpt, nil
}

// GainExperience credits ExperiencePerGain. The encrypted amount is opaque to
// this backend.
func (b *Backend) GainExperience(ctx context.Context, passID uint64, encryptedAmount, publicKey string) (*ledger.Receipt, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	if err := b.estimate(encryptedAmount, publicKey); err != nil {
		return nil, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	b.passFor(passID).gains++
	return b.mine(true), nil
}

func (b *Backend) PurchaseBattlePass(ctx context.Context, passID uint64, value *big.Int) (*ledger.Receipt, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	p := b.passFor(passID)
	if p.owned || value == nil || value.Sign() <= 0 {
		return b.mine(false), nil
	}

	p.owned = true
	return b.mine(true), nil
}

func (b *Backend) UpgradeToPremium(ctx context.Context, passID uint64, value *big.Int) (*ledger.Receipt, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	p := b.passFor(passID)
	if !p.owned || p.premium || value == nil || value.Sign() <= 0 {
		return b.mine(false), nil
	}

	p.premium = true
	return b.mine(true), nil
}

func (b *Backend) experience(passID uint64) uint64 {
	p, ok := b.passes[passID]
	if !ok {
		return 0
	}

	return p.gains * b.cfg.ExperiencePerGain
}

func (b *Backend) PlayerLevel(ctx context.Context, passID uint64) (uint64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	return 1 + b.experience(passID)/b.cfg.RequiredExperience, nil
}

func (b *Backend) PlayerExperience(ctx context.Context, passID uint64) (uint64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	return b.experience(passID), nil
}

func (b *Backend) RequiredExperience(ctx context.Context, _ uint64) (uint64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	return b.cfg.RequiredExperience, nil
}

func (b *Backend) IsPremium(ctx context.Context, passID uint64) (bool, error) {
	if err := b.check(ctx); err != nil {
		return false, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	p, ok := b.passes[passID]
	return ok && p.premium, nil
}

func (b *Backend) ChallengeCompleted(ctx context.Context, challengeID [32]byte) (bool, error) {
	if err := b.check(ctx); err != nil {
		return false, err
	}

	_, ok := b.complete[challengeID]
	return ok, nil
}

func (b *Backend) ChallengeProgress(ctx context.Context, challengeID [32]byte) (*ledger.Progress, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	result, ok := b.records.Get(challengeID)
	if !ok {
		return nil, nil
	}

	return &result, nil
}

func (b *Backend) Network(ctx context.Context) (*ledger.Network, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	return &ledger.Network{ChainID: b.cfg.ChainID, Name: b.cfg.NetworkName}, nil
}

func (b *Backend) ContractAddress() string {
	return b.cfg.ContractAddress
}

func (b *Backend) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.closed = true
	return nil
}
