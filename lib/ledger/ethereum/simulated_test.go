package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
)

// simClient adapts a simulated chain to the client the backend expects. The
// chain is closed by the test, not the backend.
type simClient struct {
	simulated.Client
}

func (simClient) Close() {}

// spawnChain starts a simulated chain funding one signer and mines a block
// every few milliseconds until the test ends.
func spawnChain(t *testing.T) (*Backend, *simulated.Backend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	sim := simulated.NewBackend(types.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))},
	})
	t.Cleanup(func() { sim.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				sim.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg := Config{
		RPCURL:          "http://localhost:8545",
		ContractAddress: testContract,
		ChainID:         params.AllDevChainProtocolChanges.ChainID.Uint64(),
	}

	b, err := newBackend(t.Context(), cfg, simClient{sim.Client()}, key)
	if err != nil {
		t.Fatal(err)
	}

	return b, sim
}

func TestConcurrentWrites(t *testing.T) {
	b, _ := spawnChain(t)

	const writers = 8

	var (
		wg       sync.WaitGroup
		receipts = make([]*ledger.Receipt, writers)
		errs     = make([]error, writers)
	)

	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id, err := ledger.EncodeBytes32(fmt.Sprintf("challenge_%d", i))
			if err != nil {
				errs[i] = err
				return
			}

			receipts[i], errs[i] = b.UpdateChallengeProgress(t.Context(), id, "payload", "key")
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, err := range errs {
		if err != nil {
			t.Errorf("write %d failed: %v", i, err)
			continue
		}

		rcpt := receipts[i]
		if rcpt.Status != types.ReceiptStatusSuccessful {
			t.Errorf("write %d: wanted a successful receipt, got status %d", i, rcpt.Status)
		}

		if seen[rcpt.TxHash] {
			t.Errorf("write %d reused transaction %s", i, rcpt.TxHash)
		}
		seen[rcpt.TxHash] = true
	}
}

func TestNonceResync(t *testing.T) {
	b, sim := spawnChain(t)

	id, err := ledger.EncodeBytes32("resync")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.UpdateChallengeProgress(t.Context(), id, "payload", "key"); err != nil {
		t.Fatal(err)
	}

	want, err := sim.Client().PendingNonceAt(t.Context(), b.auth.From)
	if err != nil {
		t.Fatal(err)
	}

	b.sendLock.Lock()
	got := b.nonce
	b.sendLock.Unlock()

	if got != want {
		t.Errorf("local nonce %d, chain expects %d", got, want)
	}

	// a stale local nonce is corrected by the next successful send
	b.sendLock.Lock()
	b.nonce = 0
	b.sendLock.Unlock()

	if _, err := b.UpdateChallengeProgress(t.Context(), id, "payload2", "key"); err != nil {
		t.Fatalf("write after resync failed: %v", err)
	}
}
