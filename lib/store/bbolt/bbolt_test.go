package bbolt

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fancybear42/secure-loot-pass/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	t.Log(path)
	data, err := json.Marshal(Config{
		Path: path,
	})
	if err != nil {
		t.Fatal(err)
	}

	storetest.Common(t, Factory{}, json.RawMessage(data))
}

func TestDatabaseLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	data, err := json.Marshal(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := (Factory{}).Build(t.Context(), data); err != nil {
		t.Fatal(err)
	}

	if _, err := (Factory{}).Build(t.Context(), data); !errors.Is(err, ErrDatabaseLocked) {
		t.Fatalf("wanted %v when opening the database twice, got: %v", ErrDatabaseLocked, err)
	}
}
