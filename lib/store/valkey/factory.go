package valkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL          = errors.New("valkey.Config: no URL defined")
	ErrBadURL         = errors.New("valkey.Config: URL is invalid")
	ErrBadNamespace   = errors.New("valkey.Config: namespace must not contain glob characters")
	ErrBadDialTimeout = errors.New("valkey.Config: dialTimeout must be a positive duration")
)

func init() {
	store.Register("valkey", Factory{})
}

type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	opts, err := valkey.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if config.DialTimeout != "" {
		opts.DialTimeout, _ = time.ParseDuration(config.DialTimeout)
	}

	rdb := valkey.NewClient(opts)

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	go func() {
		<-ctx.Done()
		rdb.Close()
	}()

	return &Store{
		rdb: rdb,
		ns:  config.Namespace,
	}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func parse(data json.RawMessage) (*Config, error) {
	var config Config
	if len(bytes.TrimSpace(data)) != 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
		}
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return &config, nil
}

type Config struct {
	URL string `json:"url"`

	// Namespace is prepended to every key so that several seasons or
	// deployments can share one instance, e.g. "lootpass:season-1:".
	Namespace string `json:"namespace,omitempty"`

	// DialTimeout overrides the client's dial timeout, e.g. "2s".
	DialTimeout string `json:"dialTimeout,omitempty"`
}

func (c Config) Valid() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrNoURL)
	} else if _, err := valkey.ParseURL(c.URL); err != nil {
		errs = append(errs, ErrBadURL)
	}

	if strings.ContainsAny(c.Namespace, `*?[]\`) {
		errs = append(errs, ErrBadNamespace)
	}

	if c.DialTimeout != "" {
		if d, err := time.ParseDuration(c.DialTimeout); err != nil || d <= 0 {
			errs = append(errs, ErrBadDialTimeout)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
