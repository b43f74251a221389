package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/store"
)

// credentialHandoff is the one-time payload stashed after a validated
// callback and redeemed once by the storefront.
type credentialHandoff struct {
	StoreID  string                `json:"store_id"`
	Email    string                `json:"email"`
	Password string                `json:"password"`
	Profile  *provider.UserProfile `json:"profile"`
}

// handleLogin handles GET /auth/sso/{store}/{provider}/login
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	storeID, providerID := vars["store"], vars["provider"]
	log := g.requestLog(r).WithFields(logrus.Fields{"store_id": storeID, "provider_id": providerID})

	if !g.allowLogin(r, storeID) {
		log.Warn("login rate limit exceeded")
		http.Error(w, "too many login attempts, try again later", http.StatusTooManyRequests)
		return
	}

	_, rec, err := g.resolve(r.Context(), storeID, providerID)
	if err != nil {
		g.failFlow(w, r, log, err, "resolve failed")
		return
	}

	eng, err := g.engineFor(r.Context(), rec)
	if err != nil {
		g.failFlow(w, r, log, err, "engine construction failed")
		return
	}

	returnTo := r.URL.Query().Get("return_to")
	res, err := eng.Initiate(r.Context(), returnTo)
	if err != nil {
		g.failFlow(w, r, log, err, "initiate failed")
		return
	}

	g.metrics.InitiateTotal.WithLabelValues(string(rec.Config.Protocol), rec.Config.Kind).Inc()
	log.WithField("provider", rec.Config.Kind).Info("login initiated")
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// handleCallback handles GET|POST /auth/sso/{store}/{provider}/callback
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	storeID, providerID := vars["store"], vars["provider"]
	log := g.requestLog(r).WithFields(logrus.Fields{"store_id": storeID, "provider_id": providerID})

	storeRec, rec, err := g.resolve(r.Context(), storeID, providerID)
	if err != nil {
		g.failFlow(w, r, log, err, "resolve failed")
		return
	}
	protocol, kind := string(rec.Config.Protocol), rec.Config.Kind

	params, err := callbackParams(r)
	if err != nil {
		g.metrics.ObserveCallback(protocol, kind, "error", time.Since(start))
		g.failFlow(w, r, log, err, "malformed callback request")
		return
	}

	// Consume the flow state here so ReturnTo survives; the engine gets
	// the already-consumed record and skips its own lookup.
	var flow *provider.FlowState
	if token := params.StateToken(); token != "" {
		var stored provider.FlowState
		ok, err := g.states.Consume(r.Context(), statestore.StateKey(token), &stored)
		if err != nil {
			g.metrics.ObserveCallback(protocol, kind, "error", time.Since(start))
			g.failFlow(w, r, log, err, "state store unavailable")
			return
		}
		if !ok {
			g.metrics.ObserveCallback(protocol, kind, "rejected", time.Since(start))
			g.failFlow(w, r, log, errors.New("state not found"), "unknown or reused state token")
			return
		}
		flow = &stored
	}

	res, err := g.runCallback(r, rec, params, flow)
	if err != nil {
		g.metrics.ObserveCallback(protocol, kind, "rejected", time.Since(start))
		g.failFlow(w, r, log, err, "callback validation failed")
		return
	}

	handoffToken, err := g.issueCredentials(r, storeRec, res.User)
	if err != nil {
		g.metrics.ObserveCallback(protocol, kind, "error", time.Since(start))
		g.failFlow(w, r, log, err, "credential handoff failed")
		return
	}

	g.metrics.ObserveCallback(protocol, kind, "success", time.Since(start))
	log.WithFields(logrus.Fields{"provider": kind, "subject": res.User.ID}).Info("callback succeeded")

	http.Redirect(w, r, g.successURL(storeRec, flow, handoffToken), http.StatusFound)
}

func (g *Gateway) runCallback(r *http.Request, rec *store.ProviderRecord, params provider.CallbackParams, flow *provider.FlowState) (*provider.AuthResult, error) {
	eng, err := g.engineFor(r.Context(), rec)
	if err != nil {
		return nil, err
	}
	return eng.HandleCallback(r.Context(), params, flow)
}

// issueCredentials derives the deterministic platform password and stashes
// the one-time handoff payload.
func (g *Gateway) issueCredentials(r *http.Request, storeRec *store.StoreRecord, user *provider.UserProfile) (string, error) {
	handoff := &credentialHandoff{
		StoreID:  storeRec.ID,
		Email:    user.Email,
		Password: g.passwords.Generate(storeRec.Domain, user.ID),
		Profile:  user,
	}
	token := uuid.NewString()
	if err := g.states.Set(r.Context(), statestore.CredentialKey(token), handoff, statestore.CredentialTTL); err != nil {
		return "", fmt.Errorf("failed to stash credentials: %w", err)
	}
	return token, nil
}

// successURL appends the handoff token to the flow's return target, falling
// back to the store's account page.
func (g *Gateway) successURL(storeRec *store.StoreRecord, flow *provider.FlowState, token string) string {
	target := ""
	if flow != nil {
		target = flow.ReturnTo
	}
	if target == "" {
		target = fmt.Sprintf("https://%s/account", storeRec.Domain)
	}
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Scheme: "https", Host: storeRec.Domain, Path: "/account"}
	}
	q := u.Query()
	q.Set("sso_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// handleRedeemCredentials handles GET /auth/sso/creds/{token}. The payload
// is deleted on first read; a second redemption finds nothing.
func (g *Gateway) handleRedeemCredentials(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	log := g.requestLog(r)

	var handoff credentialHandoff
	ok, err := g.states.Consume(r.Context(), statestore.CredentialKey(token), &handoff)
	if err != nil {
		log.WithError(err).Error("credential redemption failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "token not found or already redeemed", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(handoff)
}

// handleMetadata handles GET /auth/sso/{store}/{provider}/metadata. Only
// SAML engines publish metadata.
func (g *Gateway) handleMetadata(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	storeID, providerID := vars["store"], vars["provider"]
	log := g.requestLog(r).WithFields(logrus.Fields{"store_id": storeID, "provider_id": providerID})

	_, rec, err := g.resolve(r.Context(), storeID, providerID)
	if err != nil {
		g.failFlow(w, r, log, err, "resolve failed")
		return
	}

	eng, err := g.engineFor(r.Context(), rec)
	if err != nil {
		g.failFlow(w, r, log, err, "engine construction failed")
		return
	}

	publisher, ok := eng.(interface{ Metadata() ([]byte, error) })
	if !ok {
		http.NotFound(w, r)
		return
	}

	doc, err := publisher.Metadata()
	if err != nil {
		g.failFlow(w, r, log, err, "metadata generation failed")
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(doc)
}

// providerSummary is the public shape of one configured provider.
type providerSummary struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Protocol string `json:"protocol"`
	LoginURL string `json:"login_url"`
	IconURL  string `json:"icon_url,omitempty"`
}

// handleListProviders handles GET /auth/sso/{store}/providers. The response
// carries no configuration detail, only what a login page needs to render
// buttons.
func (g *Gateway) handleListProviders(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store"]
	log := g.requestLog(r).WithField("store_id", storeID)

	storeRec, err := g.configs.GetStore(r.Context(), storeID)
	if err != nil || !storeRec.Enabled {
		http.NotFound(w, r)
		return
	}

	records, err := g.configs.ListProviders(r.Context(), storeID)
	if err != nil {
		log.WithError(err).Error("provider listing failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	summaries := make([]providerSummary, 0, len(records))
	for _, rec := range records {
		s := providerSummary{
			ID:       rec.ProviderID,
			Kind:     rec.Config.Kind,
			Protocol: string(rec.Config.Protocol),
			LoginURL: fmt.Sprintf("%s/auth/sso/%s/%s/login", g.baseURL, storeID, rec.ProviderID),
		}
		if eng, err := g.engineFor(r.Context(), rec); err == nil {
			s.IconURL = eng.IconURL()
		}
		summaries = append(summaries, s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// callbackParams normalizes the IdP's redirect into protocol-agnostic params.
func callbackParams(r *http.Request) (provider.CallbackParams, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return provider.CallbackParams{}, fmt.Errorf("malformed form body: %w", err)
		}
	}
	get := func(key string) string {
		if v := r.PostFormValue(key); v != "" {
			return v
		}
		return r.URL.Query().Get(key)
	}

	raw := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}
	for key, vals := range r.PostForm {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}

	return provider.CallbackParams{
		Code:             get("code"),
		State:            get("state"),
		Error:            get("error"),
		ErrorDescription: get("error_description"),
		SAMLResponse:     get("SAMLResponse"),
		RelayState:       get("RelayState"),
		Raw:              raw,
	}, nil
}

// failFlow logs the full failure server-side and renders a generic page. The
// browser only ever sees the request ID.
func (g *Gateway) failFlow(w http.ResponseWriter, r *http.Request, log *logrus.Entry, err error, detail string) {
	requestID := observability.GetRequestID(r.Context())
	log.WithError(err).WithField("detail", detail).Warn("sso flow failed")

	status := http.StatusBadRequest
	if errors.Is(err, errFlowUnavailable) {
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body>
<h1>Sign-in failed</h1>
<p>We couldn't complete your sign-in. Please try again, or contact the store owner if the problem persists.</p>
<p><small>Reference: %s</small></p>
</body>
</html>`, requestID)
}

// requestLog builds the handler-level log entry with the request ID.
func (g *Gateway) requestLog(r *http.Request) *logrus.Entry {
	return g.hlog.WithFields(logrus.Fields{
		"request_id": observability.GetRequestID(r.Context()),
		"path":       r.URL.Path,
	})
}

// allowLogin applies the per-store rate limit, failing open when no limiter
// is configured or Redis is down.
func (g *Gateway) allowLogin(r *http.Request, storeID string) bool {
	if g.limiter == nil {
		return true
	}
	allowed, err := g.limiter.Allow(r.Context(), storeID)
	if err != nil {
		g.requestLog(r).WithError(err).Warn("rate limiter unavailable, failing open")
		return true
	}
	return allowed
}
