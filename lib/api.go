package lib

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fancybear42/secure-loot-pass/internal"
	"github.com/fancybear42/secure-loot-pass/lib/ledger"
	"github.com/fancybear42/secure-loot-pass/lib/progress"
	"github.com/fancybear42/secure-loot-pass/lib/season"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootpass_api_errors_total",
		Help: "The total number of API requests answered with an error, by status code",
	}, []string{"code"})

	receiptsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lootpass_receipts_issued_total",
		Help: "The total number of tracking receipts signed",
	})

	ledgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lootpass_api_ledger_rejections_total",
		Help: "The total number of API writes the ledger did not accept",
	}, []string{"operation"})
)

// DefaultSelfTestUser is the user id self tests are recorded under.
const DefaultSelfTestUser = "selftest"

type Server struct {
	mux         *http.ServeMux
	handler     http.Handler
	progress    *progress.Service
	ledger      *ledger.Adapter
	season      *season.Season
	ed25519Priv ed25519.PrivateKey
	ed25519Pub  ed25519.PublicKey
	hs512Secret []byte
	opts        Options
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type trackResponse struct {
	*progress.TrackResult
	Receipt string `json:"receipt,omitempty"`
}

// writeTrack answers a tracking request. Accepted results carry a signed
// receipt, rejected ones are reported with 502.
func (s *Server) writeTrack(w http.ResponseWriter, r *http.Request, res *progress.TrackResult, userID string) {
	if !res.Success {
		ledgerRejections.WithLabelValues("track").Inc()
		apiErrors.WithLabelValues(strconv.Itoa(http.StatusBadGateway)).Inc()
		s.writeJSON(w, r, http.StatusBadGateway, trackResponse{TrackResult: res})
		return
	}

	resp := trackResponse{TrackResult: res}

	receipt, err := s.signJWT(jwt.MapClaims{
		"challengeId": res.Snapshot.ChallengeID,
		"progress":    res.Snapshot.CurrentProgress,
		"maxProgress": res.Snapshot.MaxProgress,
		"completed":   res.Snapshot.Completed,
		"tx":          res.TransactionHash,
		"sub":         userID,
	})
	if err != nil {
		// the ledger already holds the record, so the write still succeeded
		internal.GetRequestLogger(r).Error("failed to sign receipt", "tx", res.TransactionHash, "err", err)
	} else {
		receiptsIssued.Inc()
		resp.Receipt = receipt
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// writeSubmission answers a plain ledger write.
func (s *Server) writeSubmission(w http.ResponseWriter, r *http.Request, op string, res ledger.SubmissionResult) {
	if !res.Accepted {
		ledgerRejections.WithLabelValues(op).Inc()
		apiErrors.WithLabelValues(strconv.Itoa(http.StatusBadGateway)).Inc()
		internal.GetRequestLogger(r).Warn("ledger rejected write", "operation", op, "tx", res.TransactionID, "err", res.Error)
		s.writeJSON(w, r, http.StatusBadGateway, res)
		return
	}

	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) TrackProgress(w http.ResponseWriter, r *http.Request) {
	var req progress.Request
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.progress.Validate(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.progress.TrackProgress(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeTrack(w, r, res, req.UserID)
}

func (s *Server) ListProgress(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.progress.AllProgress(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if snaps == nil {
		snaps = []progress.Snapshot{}
	}

	s.writeListing(w, r, snaps)
}

func (s *Server) ClearProgress(w http.ResponseWriter, r *http.Request) {
	n, err := s.progress.ClearCache(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	internal.GetRequestLogger(r).Info("progress cache cleared", "entries", n)
	s.writeJSON(w, r, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) GetProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.progress.GetProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) VerifyProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.writeJSON(w, r, http.StatusOK, struct {
		ChallengeID string `json:"challengeId"`
		Valid       bool   `json:"valid"`
	}{
		ChallengeID: id,
		Valid:       s.progress.VerifyProgress(r.Context(), id),
	})
}

type challengeView struct {
	season.Challenge
	Experience int64              `json:"experience"`
	Progress   *progress.Snapshot `json:"progress,omitempty"`
}

func (s *Server) ListChallenges(w http.ResponseWriter, r *http.Request) {
	result := make([]challengeView, 0, len(s.season.Challenges))

	for _, c := range s.season.Challenges {
		view := challengeView{Challenge: c, Experience: c.Difficulty.Experience()}

		if s.progress.Ready() {
			snap, err := s.progress.GetProgress(r.Context(), c.ID)
			switch {
			case err == nil:
				view.Progress = snap
			case !errors.Is(err, progress.ErrNoProgress):
				internal.GetRequestLogger(r).Warn("can't read challenge progress", "challenge", c.ID, "err", err)
			}
		}

		result = append(result, view)
	}

	s.writeListing(w, r, result)
}

type userRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) AdvanceChallenge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	c, ok := s.season.Challenge(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %q", ErrUnknownChallenge, id))
		return
	}

	var body userRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	experience := c.Difficulty.Experience()

	if err := s.progress.Validate(progress.Request{
		ChallengeID: c.ID,
		MaxProgress: c.MaxProgress,
		Experience:  experience,
		UserID:      body.UserID,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.progress.AdvanceChallenge(r.Context(), c.ID, c.MaxProgress, experience, body.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeTrack(w, r, res, body.UserID)
}

func (s *Server) GainExperience(w http.ResponseWriter, r *http.Request) {
	id, err := passID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var body struct {
		Amount int64  `json:"amount"`
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := progress.ValidExperience(body.Amount, body.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.progress.GainExperience(r.Context(), id, body.Amount, body.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSubmission(w, r, "experience", res)
}

func (s *Server) pass(w http.ResponseWriter, r *http.Request) (*season.Pass, bool) {
	id, err := passID(r)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}

	p, ok := s.season.Pass(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %d", ErrUnknownPass, id))
		return nil, false
	}

	return p, true
}

func (s *Server) PurchasePass(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pass(w, r)
	if !ok {
		return
	}

	res, err := s.ledger.PurchaseBattlePass(r.Context(), p.ID, p.PriceEther)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSubmission(w, r, "purchase", res)
}

func (s *Server) UpgradePass(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pass(w, r)
	if !ok {
		return
	}

	if p.PremiumPriceEther == "" {
		s.writeError(w, r, fmt.Errorf("%w: pass %d", ErrNoPremiumTier, p.ID))
		return
	}

	res, err := s.ledger.UpgradeToPremium(r.Context(), p.ID, p.PremiumPriceEther)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSubmission(w, r, "upgrade", res)
}

func (s *Server) PassStats(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pass(w, r)
	if !ok {
		return
	}

	stats, err := s.progress.PlayerStats(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) PassRewards(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pass(w, r)
	if !ok {
		return
	}

	stats, err := s.progress.PlayerStats(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, struct {
		PassID  uint64               `json:"passId"`
		Level   uint64               `json:"level"`
		Premium bool                 `json:"premium"`
		Rewards []season.RewardState `json:"rewards"`
	}{
		PassID:  p.ID,
		Level:   stats.Level,
		Premium: stats.Premium,
		Rewards: s.season.RewardStates(stats.Level, stats.Premium),
	})
}

func (s *Server) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Receipt string `json:"receipt"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	claims, err := s.ParseReceipt(body.Receipt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, struct {
		Valid  bool          `json:"valid"`
		Claims jwt.MapClaims `json:"claims"`
	}{
		Valid:  true,
		Claims: claims,
	})
}

func (s *Server) PublicKey(w http.ResponseWriter, r *http.Request) {
	key := s.progress.PublicKey()
	if key == "" {
		s.writeError(w, r, progress.ErrNotReady)
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"publicKey": key})
}

func (s *Server) Network(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.Network(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, struct {
		*ledger.Network
		ContractAddress string `json:"contractAddress"`
	}{
		Network:         n,
		ContractAddress: s.ledger.ContractAddress(),
	})
}

func (s *Server) SelfTest(w http.ResponseWriter, r *http.Request) {
	submit, _ := strconv.ParseBool(r.URL.Query().Get("submit"))

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = DefaultSelfTestUser
	}

	res, err := s.progress.SelfTest(r.Context(), userID, submit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.Passed() {
		status = http.StatusInternalServerError
		internal.GetRequestLogger(r).Error("self test failed", "errors", res.Errors)
	}

	s.writeJSON(w, r, status, struct {
		*progress.SelfTestResult
		Passed bool `json:"passed"`
	}{
		SelfTestResult: res,
		Passed:         res.Passed(),
	})
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if !s.progress.Ready() {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
