package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fancybear42/secure-loot-pass/decaymap"
	"github.com/fancybear42/secure-loot-pass/lib/store"
)

var ErrBadCleanupInterval = errors.New("memory: cleanupInterval must be a duration of at least one second")

// DefaultCleanupInterval is how often expired snapshots are dropped.
const DefaultCleanupInterval = 5 * time.Minute

type factory struct{}

func (factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	interval, err := parse(data)
	if err != nil {
		return nil, err
	}

	return newImpl(ctx, interval), nil
}

func (factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

// parse reads the optional {"cleanupInterval": "1m"} parameters.
func parse(data json.RawMessage) (time.Duration, error) {
	var config struct {
		CleanupInterval string `json:"cleanupInterval"`
	}

	if len(bytes.TrimSpace(data)) != 0 {
		if err := json.Unmarshal(data, &config); err != nil {
			return 0, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
		}
	}

	if config.CleanupInterval == "" {
		return DefaultCleanupInterval, nil
	}

	d, err := time.ParseDuration(config.CleanupInterval)
	if err != nil || d < time.Second {
		return 0, fmt.Errorf("%w: %w, got %q", store.ErrBadConfig, ErrBadCleanupInterval, config.CleanupInterval)
	}

	return d, nil
}

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	store *decaymap.Impl[string, []byte]
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	// copy so callers can reuse their buffer
	i.store.Set(key, append([]byte(nil), value...), expiry)
	return nil
}

func (i *impl) Keys(_ context.Context, prefix string) ([]string, error) {
	var result []string
	i.store.Range(func(key string, _ []byte) bool {
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
		return true
	})

	return result, nil
}

func (i *impl) cleanupThread(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.store.Cleanup()
		}
	}
}

// New creates a simple in-memory store. Its contents live as long as the
// process and are not shared between instances. The cleanup goroutine stops
// when ctx is done.
func New(ctx context.Context) store.Interface {
	return newImpl(ctx, DefaultCleanupInterval)
}

func newImpl(ctx context.Context, interval time.Duration) *impl {
	result := &impl{
		store: decaymap.New[string, []byte](),
	}

	go result.cleanupThread(ctx, interval)

	return result
}
