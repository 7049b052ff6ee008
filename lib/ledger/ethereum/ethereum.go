// Package ethereum is a ledger backend for the loot pass contract on an
// EVM chain, reached over JSON-RPC.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
)

var (
	ErrReadOnly    = errors.New("ethereum: no private key configured, writes are disabled")
	ErrWrongChain  = errors.New("ethereum: node is on the wrong chain")
	ErrEstimateGas = errors.New("ethereum: gas estimation failed")
	ErrBadResult   = errors.New("ethereum: unexpected contract result")
)

// client is the subset of *ethclient.Client the backend uses.
type client interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Backend is safe for concurrent use.
type Backend struct {
	client   client
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
	chainID  *big.Int

	// auth is nil for read only backends.
	auth *bind.TransactOpts

	// sendLock orders nonce assignment and broadcast for auth.From. nonce is
	// the next nonce to use, zero when it has to be read from the node.
	sendLock sync.Mutex
	nonce    uint64
}

func newBackend(ctx context.Context, cfg Config, c client, key *ecdsa.PrivateKey) (*Backend, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("can't parse contract ABI: %w", err)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrNetwork, err)
	}

	if want := cfg.chainID(); chainID.Uint64() != want {
		return nil, fmt.Errorf("%w: want chain %d (%s), node is on %d (%s)", ErrWrongChain, want, chainName(want), chainID.Uint64(), chainName(chainID.Uint64()))
	}

	address := common.HexToAddress(cfg.ContractAddress)

	result := &Backend{
		client:   c,
		abi:      parsed,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, c, c, c),
		chainID:  chainID,
	}

	if key != nil {
		result.auth, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
		}
	}

	return result, nil
}

// chainName names the well known chains.
func chainName(id uint64) string {
	switch {
	case id == params.MainnetChainConfig.ChainID.Uint64():
		return "mainnet"
	case id == params.SepoliaChainConfig.ChainID.Uint64():
		return "sepolia"
	case id == params.HoleskyChainConfig.ChainID.Uint64():
		return "holesky"
	default:
		return "unknown"
	}
}

// transact estimates gas, sends the call with the buffered gas limit and
// waits for it to be mined.
func (b *Backend) transact(ctx context.Context, value *big.Int, method string, args ...any) (*ledger.Receipt, error) {
	if b.auth == nil {
		return nil, ErrReadOnly
	}

	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: can't pack %s: %w", ledger.ErrTransaction, method, err)
	}

	gas, err := b.client.EstimateGas(ctx, geth.CallMsg{
		From:  b.auth.From,
		To:    &b.address,
		Value: value,
		Data:  input,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEstimateGas, method, err)
	}

	opts := *b.auth
	opts.Context = ctx
	opts.Value = value
	opts.GasLimit = ledger.BufferedGas(gas)

	tx, err := b.send(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ledger.ErrTransaction, method, err)
	}

	rcpt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %w", ledger.ErrTransaction, tx.Hash().Hex(), err)
	}

	var block uint64
	if rcpt.BlockNumber != nil {
		block = rcpt.BlockNumber.Uint64()
	}

	return &ledger.Receipt{
		TxHash:      tx.Hash().Hex(),
		Status:      rcpt.Status,
		BlockNumber: block,
	}, nil
}

// send assigns the next nonce for the signer and broadcasts the transaction.
// Nonces are only handed out under sendLock.
func (b *Backend) send(opts *bind.TransactOpts, method string, args ...any) (*types.Transaction, error) {
	b.sendLock.Lock()
	defer b.sendLock.Unlock()

	pending, err := b.client.PendingNonceAt(opts.Context, opts.From)
	if err != nil {
		return nil, fmt.Errorf("can't read pending nonce: %w", err)
	}

	nonce := max(pending, b.nonce)
	opts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := b.contract.Transact(opts, method, args...)
	if err != nil {
		// resync from the node on the next write
		b.nonce = 0
		return nil, err
	}

	b.nonce = nonce + 1
	return tx, nil
}

func (b *Backend) call(ctx context.Context, method string, args ...any) ([]any, error) {
	opts := &bind.CallOpts{Context: ctx}
	if b.auth != nil {
		opts.From = b.auth.From
	}

	var out []any
	if err := b.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	return out, nil
}

func (b *Backend) callUint32(ctx context.Context, method string, passID uint64) (uint64, error) {
	out, err := b.call(ctx, method, new(big.Int).SetUint64(passID))
	if err != nil {
		return 0, err
	}

	if len(out) != 1 {
		return 0, fmt.Errorf("%w: %s returned %d values", ErrBadResult, method, len(out))
	}

	result, ok := out[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("%w: %s returned %T", ErrBadResult, method, out[0])
	}

	return uint64(result), nil
}

func (b *Backend) callBool(ctx context.Context, method string, arg any) (bool, error) {
	out, err := b.call(ctx, method, arg)
	if err != nil {
		return false, err
	}

	if len(out) != 1 {
		return false, fmt.Errorf("%w: %s returned %d values", ErrBadResult, method, len(out))
	}

	result, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s returned %T", ErrBadResult, method, out[0])
	}

	return result, nil
}

func (b *Backend) UpdateChallengeProgress(ctx context.Context, challengeID [32]byte, encryptedData, publicKey string) (*ledger.Receipt, error) {
	return b.transact(ctx, nil, "updateChallengeProgress", challengeID, encryptedData, publicKey)
}

func (b *Backend) GainExperience(ctx context.Context, passID uint64, encryptedAmount, publicKey string) (*ledger.Receipt, error) {
	return b.transact(ctx, nil, "gainExperience", new(big.Int).SetUint64(passID), encryptedAmount, publicKey)
}

func (b *Backend) PurchaseBattlePass(ctx context.Context, passID uint64, value *big.Int) (*ledger.Receipt, error) {
	return b.transact(ctx, value, "purchaseBattlePass", new(big.Int).SetUint64(passID))
}

func (b *Backend) UpgradeToPremium(ctx context.Context, passID uint64, value *big.Int) (*ledger.Receipt, error) {
	return b.transact(ctx, value, "upgradeToPremium", new(big.Int).SetUint64(passID))
}

func (b *Backend) PlayerLevel(ctx context.Context, passID uint64) (uint64, error) {
	return b.callUint32(ctx, "getPlayerLevel", passID)
}

func (b *Backend) PlayerExperience(ctx context.Context, passID uint64) (uint64, error) {
	return b.callUint32(ctx, "getPlayerExperience", passID)
}

func (b *Backend) RequiredExperience(ctx context.Context, passID uint64) (uint64, error) {
	return b.callUint32(ctx, "getRequiredExperience", passID)
}

func (b *Backend) IsPremium(ctx context.Context, passID uint64) (bool, error) {
	return b.callBool(ctx, "isPremium", new(big.Int).SetUint64(passID))
}

func (b *Backend) ChallengeCompleted(ctx context.Context, challengeID [32]byte) (bool, error) {
	return b.callBool(ctx, "isChallengeCompleted", challengeID)
}

func (b *Backend) ChallengeProgress(ctx context.Context, challengeID [32]byte) (*ledger.Progress, error) {
	out, err := b.call(ctx, "getChallengeProgress", challengeID)
	if err != nil {
		return nil, err
	}

	if len(out) != 3 {
		return nil, fmt.Errorf("%w: getChallengeProgress returned %d values", ErrBadResult, len(out))
	}

	data, ok1 := out[0].(string)
	pub, ok2 := out[1].(string)
	ts, ok3 := out[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: getChallengeProgress returned (%T, %T, %T)", ErrBadResult, out[0], out[1], out[2])
	}

	// Unset mappings read back as zero values.
	if data == "" && ts.Sign() == 0 {
		return nil, nil
	}

	return &ledger.Progress{
		EncryptedData: data,
		PublicKey:     pub,
		Timestamp:     ts.Int64(),
	}, nil
}

func (b *Backend) Network(ctx context.Context) (*ledger.Network, error) {
	id, err := b.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrNetwork, err)
	}

	return &ledger.Network{ChainID: id.Uint64(), Name: chainName(id.Uint64())}, nil
}

func (b *Backend) ContractAddress() string {
	return b.address.Hex()
}

func (b *Backend) Close() error {
	b.client.Close()
	return nil
}
