// Package ledgertest holds the behaviour every ledger.Backend must have.
package ledgertest

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/fancybear42/secure-loot-pass/lib/ledger"
)

// Common runs the shared backend checks against a backend built by f. The
// backend must start empty and accept writes.
func Common(t *testing.T, f ledger.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	b, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, b ledger.Backend)
	}{
		{
			name: "missing progress is nil",
			doer: func(t *testing.T, b ledger.Backend) {
				id := mustID(t, "missing")

				got, err := b.ChallengeProgress(t.Context(), id)
				if err != nil {
					t.Fatal(err)
				}

				if got != nil {
					t.Errorf("wanted no record, got %+v", got)
				}
			},
		},
		{
			name: "progress round trip",
			doer: func(t *testing.T, b ledger.Backend) {
				id := mustID(t, "round-trip")

				rcpt, err := b.UpdateChallengeProgress(t.Context(), id, "first", "key-1")
				if err != nil {
					t.Fatal(err)
				}
				checkReceipt(t, rcpt)

				rcpt, err = b.UpdateChallengeProgress(t.Context(), id, "second", "key-2")
				if err != nil {
					t.Fatal(err)
				}
				checkReceipt(t, rcpt)

				got, err := b.ChallengeProgress(t.Context(), id)
				if err != nil {
					t.Fatal(err)
				}

				if got == nil {
					t.Fatal("record missing after write")
				}

				if got.EncryptedData != "second" || got.PublicKey != "key-2" {
					t.Errorf("wanted the latest write, got %+v", got)
				}

				if got.Timestamp <= 0 {
					t.Errorf("timestamp not set: %d", got.Timestamp)
				}
			},
		},
		{
			name: "purchase once",
			doer: func(t *testing.T, b ledger.Backend) {
				rcpt, err := b.PurchaseBattlePass(t.Context(), 7, big.NewInt(1))
				if err != nil {
					t.Fatal(err)
				}
				checkReceipt(t, rcpt)

				rcpt, err = b.PurchaseBattlePass(t.Context(), 7, big.NewInt(1))
				if err != nil {
					t.Fatal(err)
				}

				if rcpt.Status != ledger.StatusFailed {
					t.Error("buying the same pass twice did not revert")
				}
			},
		},
		{
			name: "premium needs the pass",
			doer: func(t *testing.T, b ledger.Backend) {
				rcpt, err := b.UpgradeToPremium(t.Context(), 8, big.NewInt(1))
				if err != nil {
					t.Fatal(err)
				}

				if rcpt.Status != ledger.StatusFailed {
					t.Error("upgrading a pass that is not owned did not revert")
				}

				if _, err := b.PurchaseBattlePass(t.Context(), 8, big.NewInt(1)); err != nil {
					t.Fatal(err)
				}

				rcpt, err = b.UpgradeToPremium(t.Context(), 8, big.NewInt(1))
				if err != nil {
					t.Fatal(err)
				}
				checkReceipt(t, rcpt)

				premium, err := b.IsPremium(t.Context(), 8)
				if err != nil {
					t.Fatal(err)
				}

				if !premium {
					t.Error("pass is not premium after upgrade")
				}
			},
		},
		{
			name: "stats are readable",
			doer: func(t *testing.T, b ledger.Backend) {
				if _, err := b.GainExperience(t.Context(), 9, "amount", "key"); err != nil {
					t.Fatal(err)
				}

				level, err := b.PlayerLevel(t.Context(), 9)
				if err != nil {
					t.Fatal(err)
				}
				if level < 1 {
					t.Errorf("level must be at least 1, got %d", level)
				}

				required, err := b.RequiredExperience(t.Context(), 9)
				if err != nil {
					t.Fatal(err)
				}
				if required == 0 {
					t.Error("required experience is zero")
				}

				if _, err := b.PlayerExperience(t.Context(), 9); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "network",
			doer: func(t *testing.T, b ledger.Backend) {
				network, err := b.Network(t.Context())
				if err != nil {
					t.Fatal(err)
				}

				if network.ChainID == 0 {
					t.Error("chain id is zero")
				}

				if b.ContractAddress() == "" {
					t.Error("no contract address")
				}
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tt.doer(t, b)
		})
	}
}

func mustID(t *testing.T, id string) [32]byte {
	t.Helper()

	result, err := ledger.EncodeBytes32(id)
	if err != nil {
		t.Fatal(err)
	}

	return result
}

func checkReceipt(t *testing.T, rcpt *ledger.Receipt) {
	t.Helper()

	if rcpt.Status != ledger.StatusSuccessful {
		t.Errorf("write reverted: %+v", rcpt)
	}

	if rcpt.TxHash == "" {
		t.Error("receipt has no transaction hash")
	}
}
