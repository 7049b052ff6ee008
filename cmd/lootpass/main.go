package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	lootpass "github.com/fancybear42/secure-loot-pass"
	"github.com/fancybear42/secure-loot-pass/internal"
	liblootpass "github.com/fancybear42/secure-loot-pass/lib"
	"github.com/fancybear42/secure-loot-pass/lib/fhe"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	_ "github.com/fancybear42/secure-loot-pass/lib/ledger/all"
	"github.com/fancybear42/secure-loot-pass/lib/progress"
	"github.com/fancybear42/secure-loot-pass/lib/season"
	_ "github.com/fancybear42/secure-loot-pass/lib/store/all"
	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	basePrefix               = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /loot")
	bind                     = flag.String("bind", ":8923", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	cacheTTL                 = flag.Duration("cache-ttl", 0, "how long progress snapshots are served from the cache before the ledger is read again, zero keeps them until cleared")
	callTimeout              = flag.Duration("call-timeout", ledger.DefaultCallTimeout, "deadline for every ledger call, including waiting for a transaction to be mined")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign receipts, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	fhePublicKey             = flag.String("fhe-public-key", "", "hex encoded codec public key, generated at startup when not set")
	fhePrivateKey            = flag.String("fhe-private-key", "", "hex encoded codec private key, generated at startup when not set")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against the progress service")
	hs512Secret              = flag.String("hs512-secret", "", "secret used to sign receipts, uses ed25519 if not set")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	receiptExpiration        = flag.Duration("receipt-expiration", liblootpass.DefaultReceiptExpiration, "the amount of time a tracking receipt is valid for")
	seasonFname              = flag.String("season-fname", "", "full path to the season document (defaults to the built-in season)")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	strictBounds             = flag.Bool("strict-bounds", false, "if true, reject progress past maxProgress instead of recording it")
	versionFlag              = flag.Bool("version", false, "print the version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + lootpass.BasePrefix + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to fetch health status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :4259
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			if err := listener.Close(); err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func signingKey() (ed25519.PrivateKey, error) {
	switch {
	case *hs512Secret != "" && (*ed25519PrivateKeyHex != "" || *ed25519PrivateKeyHexFile != ""):
		return nil, errors.New("do not specify both HS512 and ED25519 secrets")
	case *hs512Secret != "":
		return nil, nil
	case *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "":
		return nil, errors.New("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	case *ed25519PrivateKeyHex != "":
		priv, err := keyFromHex(*ed25519PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse and validate ED25519_PRIVATE_KEY_HEX: %w", err)
		}
		return priv, nil
	case *ed25519PrivateKeyHexFile != "":
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %w", *ed25519PrivateKeyHexFile, err)
		}

		priv, err := keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse and validate content of ED25519_PRIVATE_KEY_HEX_FILE: %w", err)
		}
		return priv, nil
	default:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}

		slog.Warn("generating random receipt key, receipts will not verify across restarts or between replicas")
		return priv, nil
	}
}

func codecKeys() (*fhe.KeyPair, error) {
	switch {
	case *fhePublicKey == "" && *fhePrivateKey == "":
		return nil, nil
	case *fhePublicKey == "" || *fhePrivateKey == "":
		return nil, errors.New("FHE_PUBLIC_KEY and FHE_PRIVATE_KEY must be set together")
	default:
		return &fhe.KeyPair{Public: *fhePublicKey, Private: *fhePrivateKey}, nil
	}
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("lootpass", lootpass.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *basePrefix != "" && !strings.HasPrefix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must start with a slash, eg: /%s", *basePrefix)
	} else if strings.HasSuffix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must not end with a slash")
	}
	lootpass.BasePrefix = *basePrefix

	// install signal handler
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *healthcheck {
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	sea, err := season.LoadOrDefault(*seasonFname)
	if err != nil {
		log.Fatalf("can't parse season file: %v", err)
	}

	cache, err := sea.Store.Build(ctx)
	if err != nil {
		log.Fatalf("can't build %s store: %v", sea.Store.Backend, err)
	}

	keys, err := codecKeys()
	if err != nil {
		log.Fatalf("[misconfiguration] %v", err)
	}

	codec, err := fhe.New(fhe.Options{Scheme: sea.Codec, Keys: keys})
	if err != nil {
		log.Fatalf("can't build codec: %v", err)
	}

	adapter := ledger.New(ledger.Options{CallTimeout: *callTimeout})
	if err := adapter.Initialize(ctx, sea.Ledger); err != nil {
		log.Fatalf("can't connect to the %s ledger: %v", sea.Ledger.Backend, err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			slog.Error("failed to close ledger", "err", err)
		}
	}()

	svc, err := progress.New(progress.Options{
		Codec:        codec,
		Ledger:       adapter,
		Cache:        cache,
		CacheTTL:     *cacheTTL,
		StrictBounds: *strictBounds,
	})
	if err != nil {
		log.Fatalf("can't construct progress service: %v", err)
	}

	if err := svc.Initialize(ctx); err != nil {
		log.Fatalf("can't initialize progress service: %v", err)
	}

	priv, err := signingKey()
	if err != nil {
		log.Fatal(err)
	}

	s, err := liblootpass.New(liblootpass.Options{
		Progress:          svc,
		Ledger:            adapter,
		Season:            sea,
		ED25519PrivateKey: priv,
		HS512Secret:       []byte(*hs512Secret),
		ReceiptExpiration: *receiptExpiration,
		BasePrefix:        *basePrefix,
	})
	if err != nil {
		log.Fatalf("can't construct lib.Server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, s, wg.Done)
	}

	srv := http.Server{Handler: s, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", lootpass.Version,
		"season", sea.Name,
		"store", sea.Store.Backend,
		"ledger", sea.Ledger.Backend,
		"contract", adapter.ContractAddress(),
		"codec", codec.Scheme(),
		"strict-bounds", *strictBounds,
		"cache-ttl", *cacheTTL,
		"base-prefix", *basePrefix,
		"receipt-expiration", *receiptExpiration,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, health http.Handler, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle(lootpass.BasePrefix+"/metrics", promhttp.Handler())
	mux.Handle(lootpass.BasePrefix+"/healthz", health)

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
