package bbolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrBucketDoesNotExist = errors.New("bbolt: bucket does not exist")
	ErrNotExists          = errors.New("bbolt: value does not exist in store")
)

// neverExpires marks values stored with a non-positive expiry.
const neverExpires = "never"

// Store implements store.Interface backed by bbolt[1].
//
// Every value lives in its own top-level bucket named after its key, holding
// two keys:
//
// 1. data - The raw data, usually in JSON
// 2. expiry - The expiry time formatted as a time.RFC3339Nano timestamp string, or "never"
//
// Keeping the expiry next to the data lets the cleanup phase scan expiry
// times without decoding the record, and lets Keys skip expired values.
//
// bbolt keeps an exclusive lock on its file, so only one service instance can
// use a given database. For shared caches, use the valkey storage backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
}

// Delete a key from the datastore. If the key does not exist, return an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(key)) == nil {
			return fmt.Errorf("%w: %w: %q", store.ErrNotFound, ErrNotExists, key)
		}

		return tx.DeleteBucket([]byte(key))
	})
}

func expired(itemBucket *bbolt.Bucket, now time.Time) (bool, error) {
	expiryStr := itemBucket.Get([]byte("expiry"))
	if expiryStr == nil {
		return false, fmt.Errorf("[unexpected] %w (expiry is nil)", store.ErrNotFound)
	}

	if string(expiryStr) == neverExpires {
		return false, nil
	}

	expiry, err := time.Parse(time.RFC3339Nano, string(expiryStr))
	if err != nil {
		return false, fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
	}

	return now.After(expiry), nil
}

// Get a value from the datastore.
//
// Because each value is stored in its own bucket with data and expiry keys,
// two get operations are required:
//
// 1. Get the expiry key. If the key has expired, run deletion in the background and return a "key not found" error.
// 2. Get the data key, copy into the result byteslice, return it.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		itemBucket := tx.Bucket([]byte(key))
		if itemBucket == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		gone, err := expired(itemBucket, time.Now())
		if err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}

		if gone {
			go s.Delete(context.Background(), key)
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}

		dataStr := itemBucket.Get([]byte("data"))
		if dataStr == nil {
			return fmt.Errorf("[unexpected] %w: %q (data is nil)", store.ErrNotFound, key)
		}

		result = make([]byte, len(dataStr))
		if n := copy(result, dataStr); n != len(dataStr) {
			return fmt.Errorf("[unexpected] %w: %d bytes copied of %d", store.ErrCantDecode, n, len(dataStr))
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Set a value into the store with a given expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	expires := neverExpires
	if expiry > 0 {
		expires = time.Now().Add(expiry).Format(time.RFC3339Nano)
	}

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		valueBkt, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("%w: %w: %q (create bucket)", store.ErrCantEncode, err, key)
		}

		if err := valueBkt.Put([]byte("expiry"), []byte(expires)); err != nil {
			return fmt.Errorf("%w: %q (expiry)", store.ErrCantEncode, key)
		}

		if err := valueBkt.Put([]byte("data"), value); err != nil {
			return fmt.Errorf("%w: %q (data)", store.ErrCantEncode, key)
		}

		return nil
	})
}

// Keys lists every unexpired key starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	now := time.Now()

	err := s.bdb.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, valueBkt *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), prefix) {
				return nil
			}

			gone, err := expired(valueBkt, now)
			if err != nil {
				slog.Warn("skipping unreadable bucket while listing keys", "key", string(name), "err", err)
				return nil
			}

			if !gone {
				result = append(result, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) cleanup(ctx context.Context) error {
	now := time.Now()

	return s.bdb.Update(func(tx *bbolt.Tx) error {
		var doomed [][]byte

		if err := tx.ForEach(func(key []byte, valueBkt *bbolt.Bucket) error {
			gone, err := expired(valueBkt, now)
			if err != nil {
				slog.Warn("while running cleanup, expiry is unreadable, file a bug?", "key", string(key), "err", err)
				return nil
			}

			if gone {
				doomed = append(doomed, append([]byte(nil), key...))
			}

			return nil
		}); err != nil {
			return err
		}

		for _, key := range doomed {
			if err := tx.DeleteBucket(key); err != nil {
				return fmt.Errorf("can't delete expired bucket %q: %w", string(key), err)
			}
		}

		return nil
	})
}

func (s *Store) cleanupThread(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.bdb.Close(); err != nil {
				slog.Error("error closing bbolt database", "err", err)
			}
			return
		case <-t.C:
			if err := s.cleanup(ctx); err != nil {
				slog.Error("error during bbolt cleanup", "err", err)
			}
		}
	}
}
