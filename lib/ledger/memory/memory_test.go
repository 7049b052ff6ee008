package memory

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/fancybear42/secure-loot-pass/lib/ledger/ledgertest"
)

func TestImpl(t *testing.T) {
	ledgertest.Common(t, Factory{}, nil)
}

func TestImplWithConfig(t *testing.T) {
	ledgertest.Common(t, Factory{}, json.RawMessage(`{"chainId": 31337, "networkName": "anvil", "requiredExperience": 500}`))
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  string
		err  error
	}{
		{name: "empty", cfg: `{}`},
		{name: "address", cfg: `{"contractAddress": "0x5FbDB2315678afecb367f032d93F642f64180aa3"}`},
		{name: "bad address", cfg: `{"contractAddress": "0xnope"}`, err: ErrBadContractAddress},
		{name: "long revert id", cfg: `{"revertChallenges": ["this-challenge-id-is-far-too-long-for-bytes32"]}`, err: ledger.ErrBadChallengeID},
		{name: "bad json", cfg: `{"gasLimit": "lots"}`, err: ledger.ErrBadConfig},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := (Factory{}).Valid(json.RawMessage(tt.cfg)); !errors.Is(err, tt.err) {
				t.Errorf("wanted %v, got %v", tt.err, err)
			}
		})
	}
}

func TestRevertChallenges(t *testing.T) {
	b := New(Config{RevertChallenges: []string{"cursed"}})

	id, _ := ledger.EncodeBytes32("cursed")
	rcpt, err := b.UpdateChallengeProgress(t.Context(), id, "data", "key")
	if err != nil {
		t.Fatal(err)
	}

	if rcpt.Status != ledger.StatusFailed {
		t.Error("write to a reverting challenge succeeded")
	}

	got, err := b.ChallengeProgress(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("reverted write was recorded: %+v", got)
	}
}

func TestGasLimit(t *testing.T) {
	b := New(Config{GasLimit: 30_000})

	id, _ := ledger.EncodeBytes32("c1")
	if _, err := b.UpdateChallengeProgress(t.Context(), id, "small", "key"); err != nil {
		t.Fatalf("small write rejected: %v", err)
	}

	huge := make([]byte, 1024)
	if _, err := b.UpdateChallengeProgress(t.Context(), id, string(huge), "key"); !errors.Is(err, ledger.ErrTransaction) {
		t.Fatalf("wanted %v, got %v", ledger.ErrTransaction, err)
	}
}

func TestLevelsFromExperience(t *testing.T) {
	b := New(Config{ExperiencePerGain: 250, RequiredExperience: 1000})

	for range 5 {
		if _, err := b.GainExperience(t.Context(), 1, "amount", "key"); err != nil {
			t.Fatal(err)
		}
	}

	exp, _ := b.PlayerExperience(t.Context(), 1)
	if exp != 1250 {
		t.Errorf("experience: want 1250, got %d", exp)
	}

	level, _ := b.PlayerLevel(t.Context(), 1)
	if level != 2 {
		t.Errorf("level: want 2, got %d", level)
	}
}

func TestCompletedChallenges(t *testing.T) {
	b := New(Config{CompletedChallenges: []string{"done"}})

	for id, want := range map[string]bool{"done": true, "not-done": false} {
		key, _ := ledger.EncodeBytes32(id)
		got, err := b.ChallengeCompleted(t.Context(), key)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%s: want %v, got %v", id, want, got)
		}
	}
}

func TestClosed(t *testing.T) {
	b := New(Config{})
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := b.PurchaseBattlePass(t.Context(), 1, big.NewInt(1)); !errors.Is(err, ledger.ErrTransaction) {
		t.Errorf("wanted %v, got %v", ledger.ErrTransaction, err)
	}
}

func TestCanceledContext(t *testing.T) {
	b := New(Config{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := b.PlayerLevel(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("wanted %v, got %v", context.Canceled, err)
	}
}
