package lib

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lootpass "github.com/fancybear42/secure-loot-pass"
	"github.com/fancybear42/secure-loot-pass/internal"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/fancybear42/secure-loot-pass/lib/progress"
	"github.com/fancybear42/secure-loot-pass/lib/season"
)

// DefaultReceiptExpiration is how long a tracking receipt stays valid when
// Options.ReceiptExpiration is not set.
const DefaultReceiptExpiration = 7 * 24 * time.Hour

type Options struct {
	Progress *progress.Service
	Ledger   *ledger.Adapter
	Season   *season.Season

	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte
	ReceiptExpiration time.Duration

	BasePrefix string
}

func New(opts Options) (*Server, error) {
	var errs []error
	if opts.Progress == nil {
		errs = append(errs, errors.New("lib: Options.Progress must be set"))
	}
	if opts.Ledger == nil {
		errs = append(errs, errors.New("lib: Options.Ledger must be set"))
	}
	if opts.Season == nil {
		errs = append(errs, errors.New("lib: Options.Season must be set"))
	}
	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	if opts.ED25519PrivateKey == nil && len(opts.HS512Secret) == 0 {
		slog.Debug("opts.ED25519PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	if opts.ReceiptExpiration == 0 {
		opts.ReceiptExpiration = DefaultReceiptExpiration
	}

	result := &Server{
		progress:    opts.Progress,
		ledger:      opts.Ledger,
		season:      opts.Season,
		ed25519Priv: opts.ED25519PrivateKey,
		hs512Secret: opts.HS512Secret,
		opts:        opts,
	}

	if opts.ED25519PrivateKey != nil {
		result.ed25519Pub = opts.ED25519PrivateKey.Public().(ed25519.PublicKey)
	}

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		// Ensure there's no double slash when concatenating BasePrefix and pattern
		basePrefix := strings.TrimSuffix(opts.BasePrefix, "/")
		prefix := method + basePrefix

		// If pattern doesn't start with a slash, add one
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(prefix+pattern, handler)
	}

	api := lootpass.APIPrefix

	registerWithPrefix(api+"progress", internal.GzipMiddleware(1, http.HandlerFunc(result.ListProgress)), "GET")
	registerWithPrefix(api+"progress", http.HandlerFunc(result.TrackProgress), "POST")
	registerWithPrefix(api+"progress", http.HandlerFunc(result.ClearProgress), "DELETE")
	registerWithPrefix(api+"progress/{id}", http.HandlerFunc(result.GetProgress), "GET")
	registerWithPrefix(api+"progress/{id}/verify", http.HandlerFunc(result.VerifyProgress), "GET")

	registerWithPrefix(api+"challenges", internal.GzipMiddleware(1, http.HandlerFunc(result.ListChallenges)), "GET")
	registerWithPrefix(api+"challenges/{id}/advance", http.HandlerFunc(result.AdvanceChallenge), "POST")

	registerWithPrefix(api+"passes/{id}/experience", http.HandlerFunc(result.GainExperience), "POST")
	registerWithPrefix(api+"passes/{id}/purchase", http.HandlerFunc(result.PurchasePass), "POST")
	registerWithPrefix(api+"passes/{id}/upgrade", http.HandlerFunc(result.UpgradePass), "POST")
	registerWithPrefix(api+"passes/{id}/stats", http.HandlerFunc(result.PassStats), "GET")
	registerWithPrefix(api+"passes/{id}/rewards", http.HandlerFunc(result.PassRewards), "GET")

	registerWithPrefix(api+"receipts/verify", http.HandlerFunc(result.VerifyReceipt), "POST")
	registerWithPrefix(api+"public-key", http.HandlerFunc(result.PublicKey), "GET")
	registerWithPrefix(api+"network", http.HandlerFunc(result.Network), "GET")
	registerWithPrefix(api+"selftest", http.HandlerFunc(result.SelfTest), "GET")
	registerWithPrefix("/healthz", http.HandlerFunc(result.Healthz), "GET")

	result.mux = mux
	result.handler = internal.WithRequestID(mux)

	return result, nil
}
