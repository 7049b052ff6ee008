package valkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/fancybear42/secure-loot-pass/internal"
	"github.com/fancybear42/secure-loot-pass/lib/store"
	"github.com/fancybear42/secure-loot-pass/lib/store/storetest"
	"github.com/google/go-cmp/cmp"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func init() {
	internal.UnbreakDocker()
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		data string
		err  error
	}{
		{name: "ok", data: `{"url":"redis://localhost:6379/0"}`},
		{name: "with namespace", data: `{"url":"redis://localhost:6379/0","namespace":"lootpass:s1:","dialTimeout":"2s"}`},
		{name: "not json", data: `}`, err: store.ErrBadConfig},
		{name: "empty", data: ``, err: ErrNoURL},
		{name: "bad url", data: `{"url":"http://localhost"}`, err: ErrBadURL},
		{name: "glob namespace", data: `{"url":"redis://localhost:6379/0","namespace":"season*"}`, err: ErrBadNamespace},
		{name: "bad dial timeout", data: `{"url":"redis://localhost:6379/0","dialTimeout":"soon"}`, err: ErrBadDialTimeout},
		{name: "negative dial timeout", data: `{"url":"redis://localhost:6379/0","dialTimeout":"-1s"}`, err: ErrBadDialTimeout},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := Factory{}.Valid(json.RawMessage(tt.data))
			switch {
			case tt.err == nil && err != nil:
				t.Fatalf("wanted a valid config, got: %v", err)
			case tt.err != nil && !errors.Is(err, tt.err):
				t.Fatalf("wanted %v, got: %v", tt.err, err)
			}
		})
	}
}

func TestUniqueKeys(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   []string
		want []string
	}{
		{name: "empty"},
		{name: "no repeats", in: []string{"progress:b", "progress:a"}, want: []string{"progress:a", "progress:b"}},
		{name: "repeats", in: []string{"progress:c", "progress:a", "progress:c", "progress:a", "progress:b"}, want: []string{"progress:a", "progress:b", "progress:c"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, uniqueKeys(tt.in)); diff != "" {
				t.Errorf("unexpected keys (-want +got):\n%s", diff)
			}
		})
	}
}

func TestImpl(t *testing.T) {
	if os.Getenv("DONT_USE_NETWORK") != "" {
		t.Skip("test requires network egress")
		return
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	req := testcontainers.ContainerRequest{
		Image:      "valkey/valkey:8",
		WaitingFor: wait.ForLog("Ready to accept connections"),
	}
	valkeyC, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, valkeyC)
	if err != nil {
		t.Fatal(err)
	}

	containerIP, err := valkeyC.ContainerIP(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("redis://%s:6379/0", containerIP)

	for _, ns := range []string{"", "lootpass:season-1:"} {
		t.Run("namespace="+ns, func(t *testing.T) {
			data, err := json.Marshal(Config{URL: url, Namespace: ns})
			if err != nil {
				t.Fatal(err)
			}

			storetest.Common(t, Factory{}, json.RawMessage(data))
		})
	}

	t.Run("namespaces are isolated", func(t *testing.T) {
		build := func(ns string) store.Interface {
			data, err := json.Marshal(Config{URL: url, Namespace: ns})
			if err != nil {
				t.Fatal(err)
			}

			s, err := Factory{}.Build(t.Context(), data)
			if err != nil {
				t.Fatal(err)
			}
			return s
		}

		s1, s2 := build("s1:"), build("s2:")

		if err := s1.Set(t.Context(), "progress:a", []byte("1"), 0); err != nil {
			t.Fatal(err)
		}

		if _, err := s2.Get(t.Context(), "progress:a"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("wanted the other namespace to miss, got: %v", err)
		}

		keys, err := s1.Keys(t.Context(), "progress:")
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]string{"progress:a"}, keys); diff != "" {
			t.Errorf("keys should come back without the namespace (-want +got):\n%s", diff)
		}
	})
}
