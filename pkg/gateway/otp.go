package gateway

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
)

// OTPSender delivers one-time passcodes to shoppers.
type OTPSender interface {
	Send(ctx context.Context, email, code string) error
}

// logOTPSender writes codes to the log instead of sending mail. Development
// only.
type logOTPSender struct {
	logger *logrus.Logger
}

func (s *logOTPSender) Send(_ context.Context, email, code string) error {
	s.logger.WithFields(logrus.Fields{"email": email, "code": code}).Info("otp code (log sender)")
	return nil
}

// otpRecord is the pending passcode for one email within one store.
type otpRecord struct {
	StoreID string `json:"store_id"`
	Code    string `json:"code"`
}

type otpSendRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// generateOTPCode returns a 6-digit numeric code.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// handleOTPSend handles POST /auth/sso/{store}/otp/send. A resend replaces
// the pending code and restarts its TTL.
func (g *Gateway) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store"]
	log := g.requestLog(r).WithField("store_id", storeID)

	if !g.allowLogin(r, storeID) {
		log.Warn("otp send rate limit exceeded")
		http.Error(w, "too many requests, try again later", http.StatusTooManyRequests)
		return
	}

	var req otpSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		http.Error(w, "a valid email is required", http.StatusBadRequest)
		return
	}

	storeRec, err := g.configs.GetStore(r.Context(), storeID)
	if err != nil || !storeRec.Enabled {
		http.NotFound(w, r)
		return
	}

	code, err := generateOTPCode()
	if err != nil {
		log.WithError(err).Error("otp generation failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	rec := otpRecord{StoreID: storeID, Code: code}
	if err := g.states.Set(r.Context(), statestore.OTPKey(email), rec, statestore.OTPTTL); err != nil {
		log.WithError(err).Error("otp persistence failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := g.otpSender.Send(r.Context(), email, code); err != nil {
		log.WithError(err).Error("otp delivery failed")
		// Drop the undeliverable code so it cannot be guessed at leisure.
		g.states.Delete(r.Context(), statestore.OTPKey(email))
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	log.WithField("email", email).Info("otp sent")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}

// handleOTPVerify handles POST /auth/sso/{store}/otp/verify. The code is
// consumed on success; a wrong guess leaves it pending until its TTL.
func (g *Gateway) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store"]
	log := g.requestLog(r).WithField("store_id", storeID)

	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Code == "" {
		http.Error(w, "email and code are required", http.StatusBadRequest)
		return
	}

	storeRec, err := g.configs.GetStore(r.Context(), storeID)
	if err != nil || !storeRec.Enabled {
		http.NotFound(w, r)
		return
	}

	var rec otpRecord
	ok, err := g.states.Get(r.Context(), statestore.OTPKey(email), &rec)
	if err != nil {
		log.WithError(err).Error("otp lookup failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok || rec.StoreID != storeID ||
		subtle.ConstantTimeCompare([]byte(rec.Code), []byte(req.Code)) != 1 {
		log.WithField("email", email).Warn("otp verification rejected")
		http.Error(w, "invalid or expired code", http.StatusUnauthorized)
		return
	}

	// Value matched; consume so the code can never be replayed. Only the
	// request that wins the consume gets credentials.
	consumed, err := g.states.Consume(r.Context(), statestore.OTPKey(email), &rec)
	if err != nil {
		log.WithError(err).Error("otp consume failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if !consumed {
		log.WithField("email", email).Warn("otp verification rejected")
		http.Error(w, "invalid or expired code", http.StatusUnauthorized)
		return
	}

	profile := &provider.UserProfile{ID: email, Email: email, EmailVerified: true}
	token, err := g.issueCredentials(r, storeRec, profile)
	if err != nil {
		log.WithError(err).Error("otp credential handoff failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	log.WithField("email", email).Info("otp verified")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "verified", "sso_token": token})
}
