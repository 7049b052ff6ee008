package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath        = errors.New("bbolt: path is missing from config")
	ErrCantWriteToPath    = errors.New("bbolt: can't write to path")
	ErrDatabaseLocked     = errors.New("bbolt: database is locked by another process")
	ErrBadCleanupInterval = errors.New("bbolt: cleanupInterval must be a duration of at least one second")
)

// DefaultCleanupInterval is how often expired snapshots are swept.
const DefaultCleanupInterval = 5 * time.Minute

func init() {
	store.Register("bbolt", Factory{})
}

// Factory builds new instances of the bbolt storage backend according to
// configuration passed via a json.RawMessage.
type Factory struct{}

// Build parses and validates the bbolt storage backend Config and creates
// a new instance of it. The database is closed when ctx is done.
func (Factory) Build(ctx context.Context, data json.RawMessage) (store.Interface, error) {
	config, err := parse(data)
	if err != nil {
		return nil, err
	}

	bdb, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, config.Path)
		}
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	result := &Store{
		bdb: bdb,
	}

	go result.cleanupThread(ctx, config.interval())

	return result, nil
}

// Valid parses and validates the bbolt store Config or returns
// an error.
func (Factory) Valid(data json.RawMessage) error {
	_, err := parse(data)
	return err
}

func parse(data json.RawMessage) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return &config, nil
}

// Config is the bbolt storage backend configuration.
type Config struct {
	// Path is the filesystem path of the database. The folder must be writable by the service.
	Path string `json:"path"`

	// CleanupInterval is how often expired snapshots are removed, e.g. "1m".
	// Defaults to DefaultCleanupInterval.
	CleanupInterval string `json:"cleanupInterval,omitempty"`
}

func (c Config) interval() time.Duration {
	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return DefaultCleanupInterval
	}

	return d
}

// Valid validates the configuration including checking if its containing folder is writable.
func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else {
		dir := filepath.Dir(c.Path)
		if err := os.WriteFile(filepath.Join(dir, ".test-file"), []byte(""), 0600); err != nil {
			errs = append(errs, ErrCantWriteToPath)
		}
		os.Remove(filepath.Join(dir, ".test-file"))
	}

	if c.CleanupInterval != "" {
		if d, err := time.ParseDuration(c.CleanupInterval); err != nil || d < time.Second {
			errs = append(errs, ErrBadCleanupInterval)
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
