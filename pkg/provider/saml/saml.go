package saml

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
)

// Engine implements provider.Provider for the SAML family.
type Engine struct {
	deps    provider.Deps
	cfg     *provider.Config
	variant variant
	sp      *saml2.SAMLServiceProvider
}

func newEngine(deps provider.Deps, cfg *provider.Config, v variant) (*Engine, error) {
	e := &Engine{deps: deps, cfg: cfg, variant: v}
	if err := e.ValidateConfig(); err != nil {
		return nil, err
	}

	sp, err := e.buildServiceProvider()
	if err != nil {
		return nil, err
	}
	e.sp = sp
	return e, nil
}

// buildServiceProvider parses the IdP certificate and optional SP signing key
// into a configured gosaml2 service provider.
func (e *Engine) buildServiceProvider() (*saml2.SAMLServiceProvider, error) {
	certBlock, _ := pem.Decode([]byte(e.cfg.Certificate))
	if certBlock == nil {
		return nil, &provider.ConfigError{Kind: e.variant.kind, Reason: "certificate is not valid PEM"}
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, &provider.ConfigError{Kind: e.variant.kind, Reason: fmt.Sprintf("invalid certificate: %v", err)}
	}

	certStore := &dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	var keyStore dsig.X509KeyStore
	if e.cfg.PrivateKey != "" {
		keyBlock, _ := pem.Decode([]byte(e.cfg.PrivateKey))
		if keyBlock == nil {
			return nil, &provider.ConfigError{Kind: e.variant.kind, Reason: "private key is not valid PEM"}
		}
		privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
			if err != nil {
				return nil, &provider.ConfigError{Kind: e.variant.kind, Reason: fmt.Sprintf("invalid private key: %v", err)}
			}
			rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
			if !ok {
				return nil, &provider.ConfigError{Kind: e.variant.kind, Reason: "private key is not RSA"}
			}
			privateKey = rsaKey
		}
		keyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{certBlock.Bytes},
		}
	} else {
		// gosaml2 requires a key store even when requests are unsigned; this
		// throwaway key never signs anything and Metadata omits it.
		keyStore = dsig.RandomKeyStoreForTest()
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      e.cfg.EntryPoint,
		IdentityProviderIssuer:      e.cfg.Issuer,
		ServiceProviderIssuer:       e.entityID(),
		AssertionConsumerServiceURL: e.deps.RedirectURI(),
		AudienceURI:                 e.entityID(),
		SignAuthnRequests:           e.cfg.SignRequests,
		IDPCertificateStore:         certStore,
		SPKeyStore:                  keyStore,
	}, nil
}

// entityID is the SP's own identifier, a pure function of the base URL.
func (e *Engine) entityID() string {
	return fmt.Sprintf("%s/auth/sso/%s/%s/metadata",
		strings.TrimRight(e.deps.BaseURL, "/"), e.deps.StoreID, e.deps.ProviderID)
}

// DefaultScopes returns nil; SAML has no scope concept.
func (e *Engine) DefaultScopes() []string { return nil }

// RequiredConfigFields names the config fields this provider needs.
func (e *Engine) RequiredConfigFields() []string {
	return []string{"entry_point", "issuer", "certificate"}
}

// IconURL returns the static asset path for the provider's login button.
func (e *Engine) IconURL() string {
	return fmt.Sprintf("/static/providers/%s.svg", e.variant.kind)
}

// ValidateConfig checks the configuration before any flow is attempted.
func (e *Engine) ValidateConfig() error {
	var missing []string
	if e.cfg.EntryPoint == "" {
		missing = append(missing, "entry_point")
	}
	if e.cfg.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if e.cfg.Certificate == "" {
		missing = append(missing, "certificate")
	}
	if len(missing) > 0 {
		return &provider.ConfigError{Kind: e.variant.kind, MissingFields: missing}
	}
	if e.cfg.SignRequests && e.cfg.PrivateKey == "" {
		return &provider.ConfigError{Kind: e.variant.kind, Reason: "sign_requests requires a private_key"}
	}
	return nil
}

// Initiate builds the AuthnRequest redirect. The request ID is tracked
// separately from the RelayState so InResponseTo replay can be detected
// even when an attacker presents a fresh RelayState.
func (e *Engine) Initiate(ctx context.Context, returnTo string) (*provider.InitiateResult, error) {
	doc, err := e.sp.BuildAuthRequestDocument()
	if err != nil {
		return nil, fmt.Errorf("failed to build AuthnRequest: %w", err)
	}
	requestID := doc.Root().SelectAttrValue("ID", "")
	if requestID == "" {
		return nil, fmt.Errorf("AuthnRequest has no ID attribute")
	}

	state, err := provider.RandomToken(32)
	if err != nil {
		return nil, err
	}

	flow := provider.FlowState{
		StoreID:    e.deps.StoreID,
		ProviderID: e.deps.ProviderID,
		ReturnTo:   returnTo,
		CreatedAt:  time.Now().UTC(),
		RequestID:  requestID,
	}
	if err := e.deps.States.Set(ctx, statestore.StateKey(state), flow, statestore.StateTTL); err != nil {
		return nil, fmt.Errorf("failed to persist flow state: %w", err)
	}
	if err := e.deps.States.Set(ctx, statestore.SAMLRequestKey(requestID), e.deps.StoreID, statestore.SAMLRequestTTL); err != nil {
		return nil, fmt.Errorf("failed to persist request tracking: %w", err)
	}

	authURL, err := e.sp.BuildAuthURLFromDocument(state, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth URL: %w", err)
	}

	return &provider.InitiateResult{RedirectURL: authURL, State: state}, nil
}

// HandleCallback validates a POST-bound SAML response against the stored
// flow state and the tracked AuthnRequest ID.
func (e *Engine) HandleCallback(ctx context.Context, params provider.CallbackParams, preConsumed *provider.FlowState) (*provider.AuthResult, error) {
	log := e.deps.Log().WithFlow(e.deps.StoreID, e.deps.ProviderID).WithField("provider", e.variant.kind)

	if params.Error != "" {
		log.WithField("idp_error", params.Error).Warn("identity provider returned an error")
		desc := params.ErrorDescription
		if desc == "" {
			desc = params.Error
		}
		return nil, &provider.ProviderAuthError{Provider: e.variant.kind, Description: desc}
	}

	if params.SAMLResponse == "" {
		return nil, &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "missing SAMLResponse"}
	}
	if params.StateToken() == "" {
		return nil, &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "missing RelayState"}
	}

	flow := preConsumed
	if flow == nil {
		var stored provider.FlowState
		ok, err := e.deps.States.Consume(ctx, statestore.StateKey(params.StateToken()), &stored)
		if err != nil {
			return nil, fmt.Errorf("state lookup failed: %w", err)
		}
		if !ok {
			return nil, &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "state not found or expired"}
		}
		flow = &stored
	}

	if flow.StoreID != e.deps.StoreID || flow.ProviderID != e.deps.ProviderID {
		return nil, &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "state mismatch"}
	}

	assertionInfo, err := e.sp.RetrieveAssertionInfo(params.SAMLResponse)
	if err != nil {
		log.WithError(err).Error("SAML response validation failed")
		return nil, classifyValidationError(err)
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureExpired, Reason: "assertion is expired or not yet valid"}
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "assertion audience mismatch"}
		}
	}

	if err := e.checkAssertionSignatures(assertionInfo); err != nil {
		return nil, err
	}

	if err := e.checkInResponseTo(ctx, assertionInfo, flow); err != nil {
		return nil, err
	}

	profile := e.mapProfile(assertionInfo)
	log.WithField("subject", profile.ID).Info("SAML callback validated")

	// No token exchange in SP-initiated SAML.
	return &provider.AuthResult{User: profile}, nil
}

// checkAssertionSignatures enforces want_assertions_signed. Envelope
// signatures cover the response as a whole; when the config demands signed
// assertions, each one must have verified individually.
func (e *Engine) checkAssertionSignatures(info *saml2.AssertionInfo) error {
	if !e.cfg.WantAssertionsSigned {
		return nil
	}
	for _, assertion := range info.Assertions {
		if !assertion.SignatureValidated {
			return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureSignature, Reason: "assertion is not individually signed"}
		}
	}
	return nil
}

// checkInResponseTo consumes the tracked AuthnRequest ID. A second response
// for the same request finds the key already gone and is rejected as replay.
func (e *Engine) checkInResponseTo(ctx context.Context, info *saml2.AssertionInfo, flow *provider.FlowState) error {
	inResponseTo := responseInResponseTo(info)
	if inResponseTo == "" {
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "assertion has no InResponseTo"}
	}
	if flow.RequestID != "" && inResponseTo != flow.RequestID {
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "InResponseTo does not match this flow"}
	}

	var trackedStoreID string
	ok, err := e.deps.States.Consume(ctx, statestore.SAMLRequestKey(inResponseTo), &trackedStoreID)
	if err != nil {
		return fmt.Errorf("request tracking lookup failed: %w", err)
	}
	if !ok {
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureReplay, Reason: "response was already validated or request expired"}
	}
	if trackedStoreID != e.deps.StoreID {
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "request does not belong to this store"}
	}
	return nil
}

// responseInResponseTo digs the InResponseTo out of the first assertion's
// subject confirmation.
func responseInResponseTo(info *saml2.AssertionInfo) string {
	for _, assertion := range info.Assertions {
		if assertion.Subject == nil || assertion.Subject.SubjectConfirmation == nil {
			continue
		}
		data := assertion.Subject.SubjectConfirmation.SubjectConfirmationData
		if data != nil && data.InResponseTo != "" {
			return data.InResponseTo
		}
	}
	return ""
}

func classifyValidationError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "signature"):
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureSignature, Reason: "signature verification failed"}
	case strings.Contains(msg, "expired"), strings.Contains(msg, "notonorafter"):
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureExpired, Reason: "assertion is expired"}
	default:
		return &provider.InvalidSAMLResponseError{Kind: provider.SAMLFailureGeneric, Reason: "response validation failed"}
	}
}

// mapProfile extracts the profile via the attribute mapping, defaulting the
// id and email to the assertion's NameID when unmapped.
func (e *Engine) mapProfile(info *saml2.AssertionInfo) *provider.UserProfile {
	raw := make(map[string]any, len(info.Values))
	for name, attr := range info.Values {
		if len(attr.Values) == 1 {
			raw[name] = attr.Values[0].Value
			continue
		}
		vals := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			vals = append(vals, v.Value)
		}
		raw[name] = vals
	}
	raw["nameID"] = info.NameID

	attr := func(field string) string {
		name := ""
		if e.cfg.AttributeMapping != nil {
			name = e.cfg.AttributeMapping[field]
		}
		if name == "" {
			name = e.variant.attributeMap[field]
		}
		if name == "" {
			return ""
		}
		return info.Values.Get(name)
	}

	profile := &provider.UserProfile{
		ID:        attr("id"),
		Email:     attr("email"),
		FirstName: attr("firstName"),
		LastName:  attr("lastName"),
		Name:      attr("name"),
		Raw:       raw,
	}
	if profile.ID == "" {
		profile.ID = info.NameID
	}
	if profile.Email == "" {
		profile.Email = info.NameID
	}
	return profile
}

// Metadata emits the SP metadata document for IdP-side configuration. Pure
// function of the engine's entity ID and certificate; no state involved.
func (e *Engine) Metadata() ([]byte, error) {
	descriptor, err := e.sp.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata: %w", err)
	}
	if descriptor.SPSSODescriptor != nil {
		descriptor.SPSSODescriptor.WantAssertionsSigned = e.cfg.WantAssertionsSigned
		if e.cfg.PrivateKey == "" {
			// The placeholder key store holds a throwaway key, so its
			// certificate has no business in published metadata.
			descriptor.SPSSODescriptor.KeyDescriptors = nil
		}
	}
	out, err := xml.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
