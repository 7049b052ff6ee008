package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/fancybear42/secure-loot-pass/lib/store"
)

// Common runs the behaviour every store.Interface implementation must have
// against a backend built by f.
func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				} else if err != nil {
					t.Error(err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Logf("want: %q", t.Name())
					t.Logf("got:  %q", string(val))
					t.Error("wrong value returned")
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted test to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), t.Name()); err == nil {
					t.Errorf("key %q does not exist and Delete did not return non-nil", t.Name())
				}

				return nil
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				//nosleep:bypass XXX: switch to testing/synctest once it is stable.
				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				return nil
			},
		},
		{
			name: "zero expiry keeps value",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte("forever"), 0); err != nil {
					return err
				}

				//nosleep:bypass XXX: switch to testing/synctest once it is stable.
				time.Sleep(10 * time.Millisecond)

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if string(val) != "forever" {
					t.Errorf("wanted %q, got %q", "forever", string(val))
				}

				return nil
			},
		},
		{
			name: "keys by prefix",
			doer: func(t *testing.T, s store.Interface) error {
				prefix := t.Name() + ":"
				want := []string{prefix + "a", prefix + "b", prefix + "c"}
				for _, k := range want {
					if err := s.Set(t.Context(), k, []byte(k), time.Minute); err != nil {
						return err
					}
				}

				if err := s.Set(t.Context(), t.Name()+"-other", []byte("x"), time.Minute); err != nil {
					return err
				}

				got, err := s.Keys(t.Context(), prefix)
				if err != nil {
					return err
				}
				slices.Sort(got)

				if !slices.Equal(got, want) {
					t.Logf("want: %q", want)
					t.Logf("got:  %q", got)
					t.Error("wrong keys returned")
				}

				if err := s.Delete(t.Context(), prefix+"b"); err != nil {
					return err
				}

				got, err = s.Keys(t.Context(), prefix)
				if err != nil {
					return err
				}

				if len(got) != 2 {
					t.Errorf("wanted 2 keys after delete, got %q", got)
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
