package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lootpass "github.com/fancybear42/secure-loot-pass"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
)

// ZeroAddress is reported as the contract address unless one is configured.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

var ErrBadContractAddress = errors.New("memory: contractAddress must be a 20 byte hex address")

func init() {
	ledger.Register("memory", Factory{})
}

// Factory builds in-process ledgers.
type Factory struct{}

func (Factory) Build(_ context.Context, data json.RawMessage) (ledger.Backend, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	return New(*cfg), nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func parse(data json.RawMessage) (*Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) != 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
		}
	}

	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	return &cfg, nil
}

// Config tunes the simulated chain. Every field is optional.
type Config struct {
	ChainID         uint64 `json:"chainId"`
	NetworkName     string `json:"networkName"`
	ContractAddress string `json:"contractAddress"`

	// GasLimit rejects writes whose buffered gas estimate exceeds it. Zero
	// means no limit.
	GasLimit uint64 `json:"gasLimit"`

	ExperiencePerGain  uint64 `json:"experiencePerGain"`
	RequiredExperience uint64 `json:"requiredExperience"`

	// RevertChallenges are challenge ids whose progress writes are mined but
	// revert.
	RevertChallenges []string `json:"revertChallenges"`

	// CompletedChallenges are challenge ids the ledger reports as completed.
	CompletedChallenges []string `json:"completedChallenges"`
}

func (c *Config) defaults() {
	if c.ChainID == 0 {
		c.ChainID = lootpass.SepoliaChainID
	}

	if c.NetworkName == "" {
		c.NetworkName = "sepolia"
	}

	if c.ContractAddress == "" {
		c.ContractAddress = ZeroAddress
	}

	if c.ExperiencePerGain == 0 {
		c.ExperiencePerGain = 100
	}

	if c.RequiredExperience == 0 {
		c.RequiredExperience = lootpass.DefaultRequiredExperience
	}
}

func (c Config) Valid() error {
	var errs []error

	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadContractAddress, c.ContractAddress))
	}

	for _, list := range [][]string{c.RevertChallenges, c.CompletedChallenges} {
		for _, id := range list {
			if _, err := ledger.EncodeBytes32(id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
