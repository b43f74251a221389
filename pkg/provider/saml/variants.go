package saml

import (
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
)

// variant captures the per-IdP defaults layered under the store's own
// attribute mapping.
type variant struct {
	kind         string
	attributeMap map[string]string
}

var (
	oktaVariant = variant{
		kind: "okta",
		attributeMap: map[string]string{
			"email":     "email",
			"firstName": "firstName",
			"lastName":  "lastName",
		},
	}

	// Azure AD emits claim-URI attribute names.
	azureVariant = variant{
		kind: "azure_saml",
		attributeMap: map[string]string{
			"id":        "http://schemas.microsoft.com/identity/claims/objectidentifier",
			"email":     "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
			"firstName": "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname",
			"lastName":  "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname",
			"name":      "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
		},
	}

	salesforceVariant = variant{
		kind: "salesforce",
		attributeMap: map[string]string{
			"id":        "userId",
			"email":     "email",
			"firstName": "first_name",
			"lastName":  "last_name",
		},
	}

	customVariant = variant{
		kind:         "custom_saml",
		attributeMap: map[string]string{},
	}
)

func constructor(v variant) provider.Constructor {
	return func(deps provider.Deps, cfg *provider.Config) (provider.Provider, error) {
		return newEngine(deps, cfg, v)
	}
}

func init() {
	provider.Register(oktaVariant.kind, constructor(oktaVariant))
	provider.Register(azureVariant.kind, constructor(azureVariant))
	provider.Register(salesforceVariant.kind, constructor(salesforceVariant))
	provider.Register(customVariant.kind, constructor(customVariant))
}
