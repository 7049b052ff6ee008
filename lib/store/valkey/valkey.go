package valkey

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// Store keeps values in valkey under an optional key namespace.
type Store struct {
	rdb *valkey.Client
	ns  string
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.ns+key).Result()
	if err != nil {
		return fmt.Errorf("can't delete from valkey: %w", err)
	}

	switch n {
	case 0:
		return fmt.Errorf("%w: %d key(s) deleted", store.ErrNotFound, n)
	default:
		return nil
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.rdb.Get(ctx, s.ns+key).Result()
	if err != nil {
		if valkey.HasErrorPrefix(err, "redis: nil") {
			return nil, fmt.Errorf("%w: %w", store.ErrNotFound, err)
		}

		return nil, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	return []byte(result), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if expiry < 0 {
		expiry = 0
	}

	if _, err := s.rdb.Set(ctx, s.ns+key, string(value), expiry).Result(); err != nil {
		return fmt.Errorf("can't set %q in valkey: %w", key, err)
	}

	return nil
}

// globEscaper escapes the characters SCAN MATCH treats as patterns.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// uniqueKeys sorts keys and drops repeats, since SCAN may return a key more
// than once while the keyspace is rehashed.
func uniqueKeys(keys []string) []string {
	slices.Sort(keys)
	return slices.Compact(keys)
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var result []string

	iter := s.rdb.Scan(ctx, 0, globEscaper.Replace(s.ns+prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		result = append(result, strings.TrimPrefix(iter.Val(), s.ns))
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("can't scan valkey for %q: %w", prefix, err)
	}

	return uniqueKeys(result), nil
}
