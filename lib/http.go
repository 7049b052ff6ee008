package lib

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fancybear42/secure-loot-pass/internal"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/fancybear42/secure-loot-pass/lib/progress"
	"github.com/golang-jwt/jwt/v5"
)

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

var (
	ErrBadBody          = errors.New("lib: can't decode request body")
	ErrBadPassID        = errors.New("lib: pass id must be a positive integer")
	ErrBadReceipt       = errors.New("lib: invalid receipt")
	ErrNoPremiumTier    = errors.New("lib: pass has no premium tier")
	ErrUnknownChallenge = errors.New("lib: unknown challenge")
	ErrUnknownPass      = errors.New("lib: unknown pass")
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to the status code it is reported with.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadBody), errors.Is(err, ErrBadPassID), errors.Is(err, ErrBadReceipt),
		errors.Is(err, ErrNoPremiumTier), errors.Is(err, progress.ErrInvalidRequest),
		errors.Is(err, ledger.ErrBadChallengeID), errors.Is(err, ledger.ErrBadAmount):
		return http.StatusBadRequest
	case errors.Is(err, progress.ErrNoProgress), errors.Is(err, ErrUnknownChallenge), errors.Is(err, ErrUnknownPass):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrNotReady), errors.Is(err, ledger.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		internal.GetRequestLogger(r).Error("can't write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	apiErrors.WithLabelValues(strconv.Itoa(status)).Inc()

	lg := internal.GetRequestLogger(r)
	if status >= http.StatusInternalServerError {
		lg.Error("request failed", "status", status, "err", err)
	} else {
		lg.Debug("request rejected", "status", status, "err", err)
	}

	s.writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// writeListing writes v with an ETag and answers conditional requests with
// 304.
func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.writeError(w, r, err)
		return
	}

	etag := `"` + internal.FastHash(buf.String()) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// decodeBody reads a JSON body into dst. An empty body leaves dst unchanged.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrBadBody, err)
	}

	return nil
}

func passID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w, got %q", ErrBadPassID, r.PathValue("id"))
	}

	return id, nil
}

func (s *Server) signJWT(claims jwt.MapClaims) (string, error) {
	claims["iat"] = time.Now().Unix()
	claims["nbf"] = time.Now().Add(-1 * time.Minute).Unix()
	claims["exp"] = time.Now().Add(s.opts.ReceiptExpiration).Unix()

	if len(s.hs512Secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.ed25519Priv)
	} else {
		return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.hs512Secret)
	}
}

// ParseReceipt checks a receipt issued by this server and returns its claims.
func (s *Server) ParseReceipt(tokenString string) (jwt.MapClaims, error) {
	method := jwt.SigningMethodEdDSA.Alg()
	if len(s.hs512Secret) != 0 {
		method = jwt.SigningMethodHS512.Alg()
	}

	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if len(s.hs512Secret) != 0 {
			return s.hs512Secret, nil
		}
		return s.ed25519Pub, nil
	}, jwt.WithExpirationRequired(), jwt.WithStrictDecoding(), jwt.WithValidMethods([]string{method}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadReceipt, err)
	}

	if !token.Valid {
		return nil, ErrBadReceipt
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrBadReceipt, token.Claims)
	}

	return claims, nil
}
