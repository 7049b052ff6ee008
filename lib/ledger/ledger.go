// Package ledger talks to the contract that records encrypted challenge
// progress and battle pass state.
//
// A Backend is the raw contract surface. The Adapter wraps a Backend selected
// by configuration and turns its failures into the results callers expect:
// writes never fail loudly and reads fall back to defaults.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNotInitialized is returned when the adapter is used before Initialize.
	ErrNotInitialized = errors.New("ledger: adapter not initialized")

	// ErrInitialization is returned when the configured backend can't be built
	// or reached.
	ErrInitialization = errors.New("ledger: initialization failed")

	// ErrTransaction is returned by backends when a write can't be submitted.
	ErrTransaction = errors.New("ledger: transaction failed")

	// ErrBadChallengeID is returned when a challenge id can't be encoded as a
	// bytes32 value.
	ErrBadChallengeID = errors.New("ledger: challenge id can't be encoded as bytes32")

	// ErrBadAmount is returned when an ether amount can't be parsed.
	ErrBadAmount = errors.New("ledger: invalid ether amount")

	// ErrNetwork is returned when the backend can't report its network.
	ErrNetwork = errors.New("ledger: network detection failed")

	ErrNoBackend      = errors.New("ledger.Config: no backend defined")
	ErrUnknownBackend = errors.New("ledger.Config: unknown backend")
	ErrBadConfig      = errors.New("ledger: configuration is invalid")
)

// TransactionFailed is the error text of a write that was mined but reverted.
const TransactionFailed = "Transaction failed"

// Receipt status values, as in Ethereum transaction receipts.
const (
	StatusFailed     uint64 = 0
	StatusSuccessful uint64 = 1
)

// Receipt describes a mined write.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
}

// SubmissionResult is the outcome of a write as seen by callers. When Accepted
// is false, Error says why and TransactionID may be empty.
type SubmissionResult struct {
	TransactionID string `json:"transactionHash"`
	Accepted      bool   `json:"accepted"`
	Error         string `json:"error,omitempty"`
}

// Progress is the encrypted progress record the ledger holds for a challenge.
type Progress struct {
	ChallengeID   string `json:"challengeId"`
	EncryptedData string `json:"encryptedData"`
	PublicKey     string `json:"publicKey"`
	Timestamp     int64  `json:"timestamp"`
	BlockNumber   uint64 `json:"blockNumber,omitempty"`
	TxHash        string `json:"transactionHash,omitempty"`
}

// Stats is a player's standing in a battle pass.
type Stats struct {
	PassID             uint64 `json:"passId"`
	Level              uint64 `json:"level"`
	Experience         uint64 `json:"experience"`
	RequiredExperience uint64 `json:"requiredExperience"`
	Premium            bool   `json:"premium"`
}

type Network struct {
	ChainID uint64 `json:"chainId"`
	Name    string `json:"name"`
}

// Backend is the contract surface. Player scoped reads and writes act for the
// account the backend was configured with.
//
// Writes return a Receipt once the transaction is mined. A reverted write is
// a Receipt with StatusFailed, not an error. ChallengeProgress returns nil
// and no error when the ledger holds no record for the challenge.
type Backend interface {
	UpdateChallengeProgress(ctx context.Context, challengeID [32]byte, encryptedData, publicKey string) (*Receipt, error)
	GainExperience(ctx context.Context, passID uint64, encryptedAmount, publicKey string) (*Receipt, error)
	PurchaseBattlePass(ctx context.Context, passID uint64, value *big.Int) (*Receipt, error)
	UpgradeToPremium(ctx context.Context, passID uint64, value *big.Int) (*Receipt, error)

	PlayerLevel(ctx context.Context, passID uint64) (uint64, error)
	PlayerExperience(ctx context.Context, passID uint64) (uint64, error)
	RequiredExperience(ctx context.Context, passID uint64) (uint64, error)
	IsPremium(ctx context.Context, passID uint64) (bool, error)
	ChallengeCompleted(ctx context.Context, challengeID [32]byte) (bool, error)
	ChallengeProgress(ctx context.Context, challengeID [32]byte) (*Progress, error)

	Network(ctx context.Context) (*Network, error)
	ContractAddress() string
	Close() error
}
