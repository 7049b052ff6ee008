package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	lootpass "github.com/fancybear42/secure-loot-pass"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
)

var (
	ErrNoRPCURL           = errors.New("ethereum: rpcUrl must be set")
	ErrBadRPCURL          = errors.New("ethereum: rpcUrl must be an http, https, ws or wss URL")
	ErrBadContractAddress = errors.New("ethereum: contractAddress must be a 20 byte hex address")
	ErrBadPrivateKey      = errors.New("ethereum: private key is invalid")
	ErrTooManyKeys        = errors.New("ethereum: set at most one of privateKeyHex and privateKeyEnv")
)

func init() {
	ledger.Register("ethereum", Factory{})
}

// Factory dials JSON-RPC ledgers.
type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (ledger.Backend, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	key, err := cfg.privateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("can't dial %s: %w", redact(cfg.RPCURL), err)
	}

	result, err := newBackend(ctx, cfg, client, key)
	if err != nil {
		client.Close()
		return nil, err
	}

	return result, nil
}

func (Factory) Valid(data json.RawMessage) error {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	if err := cfg.Valid(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	return nil
}

// Config is the JSON-RPC ledger configuration.
type Config struct {
	RPCURL          string `json:"rpcUrl"`
	ContractAddress string `json:"contractAddress"`

	// ChainID is checked against the node on startup. Defaults to Sepolia.
	ChainID uint64 `json:"chainId"`

	// The signing key, as hex or the name of an environment variable that
	// holds it. Without a key the backend can only read.
	PrivateKeyHex string `json:"privateKeyHex"`
	PrivateKeyEnv string `json:"privateKeyEnv"`
}

func (c Config) chainID() uint64 {
	if c.ChainID == 0 {
		return lootpass.SepoliaChainID
	}
	return c.ChainID
}

func (c Config) Valid() error {
	var errs []error

	if c.RPCURL == "" {
		errs = append(errs, ErrNoRPCURL)
	} else {
		u, err := url.Parse(c.RPCURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: %w", ErrBadRPCURL, err))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("%w: no host in %s", ErrBadRPCURL, redact(c.RPCURL)))
		default:
			switch u.Scheme {
			case "http", "https", "ws", "wss":
			default:
				errs = append(errs, fmt.Errorf("%w: scheme is %q", ErrBadRPCURL, u.Scheme))
			}
		}
	}

	if !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadContractAddress, c.ContractAddress))
	}

	if c.PrivateKeyHex != "" && c.PrivateKeyEnv != "" {
		errs = append(errs, ErrTooManyKeys)
	}

	if c.PrivateKeyHex != "" {
		if _, err := parseKey(c.PrivateKeyHex); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

// privateKey returns the configured signing key, or nil for a read only
// backend.
func (c Config) privateKey() (*ecdsa.PrivateKey, error) {
	keyHex := c.PrivateKeyHex
	if c.PrivateKeyEnv != "" {
		keyHex = os.Getenv(c.PrivateKeyEnv)
		if keyHex == "" {
			return nil, fmt.Errorf("%w: environment variable %s is empty", ErrBadPrivateKey, c.PrivateKeyEnv)
		}
	}

	if keyHex == "" {
		return nil, nil
	}

	return parseKey(keyHex)
}

func parseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPrivateKey, err)
	}
	return key, nil
}

// redact strips credentials and API key paths from RPC URLs before they are
// logged.
func redact(rpcURL string) string {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "<invalid url>"
	}

	return u.Scheme + "://" + u.Host
}
