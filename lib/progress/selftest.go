package progress

import (
	"context"
	"fmt"
)

// SelfTestResult reports each step of SelfTest.
type SelfTestResult struct {
	CodecReady   bool `json:"codecReady"`
	LedgerReady  bool `json:"ledgerReady"`
	Encryption   bool `json:"encryption"`
	Decryption   bool `json:"decryption"`
	Verification bool `json:"verification"`

	// Ledger is only attempted when SelfTest is asked to submit.
	Ledger        bool   `json:"ledger"`
	LedgerSkipped bool   `json:"ledgerSkipped"`
	TransactionID string `json:"transactionHash,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// Passed reports whether every attempted step succeeded.
func (r SelfTestResult) Passed() bool {
	return r.CodecReady && r.LedgerReady && r.Encryption && r.Decryption && r.Verification && (r.Ledger || r.LedgerSkipped)
}

// SelfTest runs the codec through an encode, decode and verify round trip.
// With submit set it also tracks a throwaway challenge on the ledger.
func (s *Service) SelfTest(ctx context.Context, userID string, submit bool) (*SelfTestResult, error) {
	if !s.initialized.Load() {
		return nil, ErrNotReady
	}

	result := &SelfTestResult{
		CodecReady:    s.codec.Ready(),
		LedgerReady:   s.ledger.Ready(),
		LedgerSkipped: !submit,
	}

	now := s.now()
	req := Request{
		ChallengeID: "test_challenge",
		Progress:    3,
		MaxProgress: 5,
		Experience:  25,
		UserID:      userID,
	}

	enc, err := s.codec.Encode(recordFrom(req, now.UnixMilli()))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("encryption: %v", err))
	} else {
		result.Encryption = enc.Payload != ""
		result.Verification = s.codec.Verify(*enc)

		dec, err := s.codec.Decode(*enc)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("decryption: %v", err))
		} else {
			result.Decryption = dec.Progress == req.Progress && dec.ChallengeID == req.ChallengeID
		}
	}

	if submit {
		req.ChallengeID = fmt.Sprintf("test_challenge_%d", now.UnixMilli())

		res, err := s.TrackProgress(ctx, req)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("ledger: %v", err))
		case !res.Success:
			result.Errors = append(result.Errors, fmt.Sprintf("ledger: %s", res.Error))
		default:
			result.Ledger = true
			result.TransactionID = res.TransactionHash
		}
	}

	s.lg.Info("self test finished", "passed", result.Passed(), "errors", result.Errors)
	return result, nil
}
