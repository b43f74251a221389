package oidc

import (
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
)

// variant captures everything that differs between OIDC-family providers:
// the issuer (when the provider has a fixed one), default scopes and claim
// name overrides. Protocol behavior is shared by the engine.
type variant struct {
	kind     string
	issuer   string // empty means issuer_url must come from config
	scopes   []string
	claimMap map[string]string
}

var variants = []variant{
	{
		kind:   "google",
		issuer: "https://accounts.google.com",
		scopes: []string{"openid", "email", "profile"},
	},
	{
		kind:   "microsoft",
		issuer: "https://login.microsoftonline.com/common/v2.0",
		scopes: []string{"openid", "email", "profile"},
		claimMap: map[string]string{
			"id": "oid",
		},
	},
	{
		kind:   "facebook",
		issuer: "https://www.facebook.com",
		scopes: []string{"openid", "email", "public_profile"},
		claimMap: map[string]string{
			"firstName": "first_name",
			"lastName":  "last_name",
		},
	},
	{
		// Auth0 tenants each have their own issuer; it must be configured.
		kind:   "auth0",
		scopes: []string{"openid", "email", "profile"},
	},
	{
		kind: "custom_oauth",
	},
}

func init() {
	for _, v := range variants {
		v := v
		provider.Register(v.kind, func(deps provider.Deps, cfg *provider.Config) (provider.Provider, error) {
			return newEngine(deps, cfg, v)
		})
	}
}
