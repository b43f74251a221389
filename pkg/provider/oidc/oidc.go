package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
)

// Engine implements provider.Provider for the OIDC family. All protocol
// behavior lives here; variants only contribute issuer defaults and claim
// mapping.
type Engine struct {
	deps    provider.Deps
	cfg     *provider.Config
	variant variant

	// Issuer discovery is fetched once and reused. The pointer is published
	// atomically and the singleflight group collapses concurrent first calls.
	discovered atomic.Pointer[discovery]
	group      singleflight.Group
}

type discovery struct {
	provider *gooidc.Provider
	verifier *gooidc.IDTokenVerifier
}

func newEngine(deps provider.Deps, cfg *provider.Config, v variant) (*Engine, error) {
	e := &Engine{deps: deps, cfg: cfg, variant: v}
	if err := e.ValidateConfig(); err != nil {
		return nil, err
	}
	return e, nil
}

// DefaultScopes returns the scopes requested when the store config leaves
// them unset.
func (e *Engine) DefaultScopes() []string {
	if len(e.variant.scopes) > 0 {
		return e.variant.scopes
	}
	return []string{"openid", "email", "profile"}
}

// RequiredConfigFields names the config fields this provider needs.
func (e *Engine) RequiredConfigFields() []string {
	fields := []string{"client_id", "client_secret"}
	if e.variant.issuer == "" {
		fields = append(fields, "issuer_url")
	}
	return fields
}

// IconURL returns the static asset path for the provider's login button.
func (e *Engine) IconURL() string {
	return fmt.Sprintf("/static/providers/%s.svg", e.variant.kind)
}

// ValidateConfig checks the configuration before any flow is attempted.
func (e *Engine) ValidateConfig() error {
	var missing []string
	if e.cfg.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if e.cfg.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if e.issuerURL() == "" {
		missing = append(missing, "issuer_url")
	}
	if len(missing) > 0 {
		return &provider.ConfigError{Kind: e.variant.kind, MissingFields: missing}
	}
	return nil
}

func (e *Engine) issuerURL() string {
	if e.cfg.IssuerURL != "" {
		return e.cfg.IssuerURL
	}
	return e.variant.issuer
}

func (e *Engine) scopes() []string {
	scopes := e.cfg.Scopes
	if len(scopes) == 0 {
		scopes = e.DefaultScopes()
	}
	for _, s := range scopes {
		if s == gooidc.ScopeOpenID {
			return scopes
		}
	}
	return append([]string{gooidc.ScopeOpenID}, scopes...)
}

// discover fetches and caches the issuer's discovery document. Safe for
// concurrent first access; losers of the race reuse the published result.
func (e *Engine) discover(ctx context.Context) (*discovery, error) {
	if d := e.discovered.Load(); d != nil {
		return d, nil
	}

	v, err, _ := e.group.Do("discover", func() (any, error) {
		if d := e.discovered.Load(); d != nil {
			return d, nil
		}
		ctx := gooidc.ClientContext(ctx, e.deps.Client())
		p, err := gooidc.NewProvider(ctx, e.issuerURL())
		if err != nil {
			return nil, fmt.Errorf("issuer discovery failed for %s: %w", e.issuerURL(), err)
		}
		d := &discovery{
			provider: p,
			verifier: p.Verifier(&gooidc.Config{ClientID: e.cfg.ClientID}),
		}
		e.discovered.Store(d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*discovery), nil
}

// oauthConfig is rebuilt per call so the redirect URI always reflects the
// current base URL. The redirect URI must byte-match the value registered
// with the external provider.
func (e *Engine) oauthConfig(d *discovery) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.cfg.ClientID,
		ClientSecret: e.cfg.ClientSecret,
		Endpoint:     d.provider.Endpoint(),
		RedirectURL:  e.deps.RedirectURI(),
		Scopes:       e.scopes(),
	}
}

// Initiate starts the authorization-code flow: random state, nonce and PKCE
// verifier, flow state persisted for 10 minutes, and the composed
// authorization URL returned for the caller to redirect to.
func (e *Engine) Initiate(ctx context.Context, returnTo string) (*provider.InitiateResult, error) {
	d, err := e.discover(ctx)
	if err != nil {
		return nil, err
	}

	state, err := provider.RandomToken(32)
	if err != nil {
		return nil, err
	}
	nonce, err := provider.RandomToken(32)
	if err != nil {
		return nil, err
	}
	codeVerifier, err := provider.RandomToken(32)
	if err != nil {
		return nil, err
	}

	flow := provider.FlowState{
		StoreID:      e.deps.StoreID,
		ProviderID:   e.deps.ProviderID,
		ReturnTo:     returnTo,
		CreatedAt:    time.Now().UTC(),
		Nonce:        nonce,
		CodeVerifier: codeVerifier,
	}
	if err := e.deps.States.Set(ctx, statestore.StateKey(state), flow, statestore.StateTTL); err != nil {
		// Fail closed: no stored state means no flow.
		return nil, fmt.Errorf("failed to persist flow state: %w", err)
	}

	challenge := pkceChallenge(codeVerifier)
	authURL := e.oauthConfig(d).AuthCodeURL(state,
		gooidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	return &provider.InitiateResult{
		RedirectURL: authURL,
		State:       state,
		Nonce:       nonce,
	}, nil
}

// HandleCallback validates the authorization-code callback against the
// stored flow state, exchanges the code and returns the normalized profile.
func (e *Engine) HandleCallback(ctx context.Context, params provider.CallbackParams, preConsumed *provider.FlowState) (*provider.AuthResult, error) {
	log := e.deps.Log().WithFlow(e.deps.StoreID, e.deps.ProviderID).WithField("provider", e.variant.kind)

	if params.Error != "" {
		log.WithField("idp_error", params.Error).
			WithField("idp_error_description", params.ErrorDescription).
			Warn("identity provider returned an error")
		desc := params.ErrorDescription
		if desc == "" {
			desc = params.Error
		}
		return nil, &provider.ProviderAuthError{Provider: e.variant.kind, Description: desc}
	}

	if params.Code == "" || params.StateToken() == "" {
		return nil, &provider.InvalidOIDCTokenError{Reason: "missing code or state parameter"}
	}

	flow := preConsumed
	if flow == nil {
		var stored provider.FlowState
		ok, err := e.deps.States.Consume(ctx, statestore.StateKey(params.StateToken()), &stored)
		if err != nil {
			// Fail closed on a state-store outage; never downgrade to valid.
			return nil, fmt.Errorf("state lookup failed: %w", err)
		}
		if !ok {
			return nil, &provider.InvalidOIDCTokenError{Reason: "state not found or expired"}
		}
		flow = &stored
	}

	if flow.StoreID != e.deps.StoreID || flow.ProviderID != e.deps.ProviderID {
		return nil, &provider.InvalidOIDCTokenError{Reason: "state mismatch"}
	}

	d, err := e.discover(ctx)
	if err != nil {
		return nil, err
	}

	exchangeCtx := gooidc.ClientContext(ctx, e.deps.Client())
	token, err := e.oauthConfig(d).Exchange(exchangeCtx, params.Code,
		oauth2.SetAuthURLParam("code_verifier", flow.CodeVerifier),
	)
	if err != nil {
		log.WithError(err).Error("authorization code exchange failed")
		return nil, &provider.ProviderAuthError{Provider: e.variant.kind, Err: err}
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, &provider.InvalidOIDCTokenError{Reason: "missing id_token in token response"}
	}

	idToken, err := d.verifier.Verify(exchangeCtx, rawIDToken)
	if err != nil {
		log.WithError(err).Error("ID token verification failed")
		return nil, &provider.ProviderAuthError{Provider: e.variant.kind, Err: err}
	}
	if idToken.Nonce != flow.Nonce {
		return nil, &provider.InvalidOIDCTokenError{Reason: "nonce mismatch"}
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		log.WithError(err).Error("failed to parse ID token claims")
		return nil, &provider.ProviderAuthError{Provider: e.variant.kind, Err: err}
	}

	// Some issuers omit email from the ID token; fall back to userinfo.
	if getString(claims, e.claim("email")) == "" {
		if userinfo, err := e.fetchUserInfo(exchangeCtx, d, token); err == nil {
			for k, v := range userinfo {
				if _, exists := claims[k]; !exists {
					claims[k] = v
				}
			}
		} else {
			log.WithError(err).Warn("userinfo fetch failed")
		}
	}

	result := &provider.AuthResult{
		User:   e.mapProfile(claims, idToken.Subject),
		Tokens: mapTokens(token, rawIDToken),
	}
	log.WithField("subject", result.User.ID).Info("OIDC callback validated")
	return result, nil
}

func (e *Engine) fetchUserInfo(ctx context.Context, d *discovery, token *oauth2.Token) (map[string]any, error) {
	userInfo, err := d.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := userInfo.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// claim resolves a logical profile field to the claim name this variant uses.
func (e *Engine) claim(field string) string {
	if e.cfg.AttributeMapping != nil {
		if name, ok := e.cfg.AttributeMapping[field]; ok && name != "" {
			return name
		}
	}
	if name, ok := e.variant.claimMap[field]; ok {
		return name
	}
	return defaultClaimMap[field]
}

func (e *Engine) mapProfile(claims map[string]any, subject string) *provider.UserProfile {
	profile := &provider.UserProfile{
		ID:            getString(claims, e.claim("id")),
		Email:         getString(claims, e.claim("email")),
		FirstName:     getString(claims, e.claim("firstName")),
		LastName:      getString(claims, e.claim("lastName")),
		Name:          getString(claims, e.claim("name")),
		Picture:       getString(claims, e.claim("picture")),
		EmailVerified: getBool(claims, e.claim("emailVerified")),
		Locale:        getString(claims, e.claim("locale")),
		Raw:           claims,
	}
	if profile.ID == "" {
		profile.ID = subject
	}
	return profile
}

var defaultClaimMap = map[string]string{
	"id":            "sub",
	"email":         "email",
	"firstName":     "given_name",
	"lastName":      "family_name",
	"name":          "name",
	"picture":       "picture",
	"emailVerified": "email_verified",
	"locale":        "locale",
}

func mapTokens(token *oauth2.Token, rawIDToken string) *provider.Tokens {
	t := &provider.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
	}
	if !token.Expiry.IsZero() {
		t.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return t
}

// pkceChallenge computes the S256 code challenge for a verifier.
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func getString(data map[string]any, key string) string {
	if key == "" {
		return ""
	}
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]any, key string) bool {
	if key == "" {
		return false
	}
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
