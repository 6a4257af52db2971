package config

import (
	"strings"
	"time"
)

const (
	providerURLEnvVar           = "OIDC_PROVIDER_URL"
	realmEnvVar                 = "OIDC_REALM"
	clientIDEnvVar              = "OIDC_CLIENT_ID"
	clientSecretEnvVar          = "OIDC_CLIENT_SECRET"
	redirectURLEnvVar           = "OIDC_REDIRECT_URL"
	postLogoutRedirectURLEnvVar = "OIDC_POST_LOGOUT_REDIRECT_URL"
	scopesEnvVar                = "OIDC_SCOPES"
	refreshThresholdEnvVar      = "TOKEN_REFRESH_THRESHOLD"
	requestTimeoutEnvVar        = "REQUEST_TIMEOUT"
)

type OIDCConfig interface {
	GetProviderURL() string
	GetRealm() string
	GetIssuerURL() string
	GetAccountURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetPostLogoutRedirectURL() string
	GetScopes() []string
	GetRefreshThreshold() time.Duration
	GetRequestTimeout() time.Duration
}

type OIDC struct {
	file *File
}

var _ OIDCConfig = OIDC{}

func (o OIDC) GetProviderURL() string {
	return strings.TrimSuffix(lookup(providerURLEnvVar, o.file.OIDC.ProviderURL, "http://localhost:8080"), "/")
}

func (o OIDC) GetRealm() string {
	return lookup(realmEnvVar, o.file.OIDC.Realm, "haiintel")
}

// GetIssuerURL returns the discovery base of the realm, e.g. "http://localhost:8080/realms/haiintel".
// Without a realm the provider URL is the issuer.
func (o OIDC) GetIssuerURL() string {
	if o.GetRealm() == "" {
		return o.GetProviderURL()
	}
	return o.GetProviderURL() + "/realms/" + o.GetRealm()
}

// GetAccountURL returns the provider's self-service account console.
func (o OIDC) GetAccountURL() string {
	return o.GetIssuerURL() + "/account"
}

func (o OIDC) GetClientID() string {
	return lookup(clientIDEnvVar, o.file.OIDC.ClientID, "haiintel-web")
}

func (o OIDC) GetClientSecret() string {
	return lookup(clientSecretEnvVar, o.file.OIDC.ClientSecret, "")
}

func (o OIDC) GetRedirectURL() string {
	return lookup(redirectURLEnvVar, o.file.OIDC.RedirectURL, o.baseURL()+"/callback")
}

func (o OIDC) GetPostLogoutRedirectURL() string {
	return lookup(postLogoutRedirectURLEnvVar, o.file.OIDC.PostLogoutRedirectURL, o.baseURL())
}

func (o OIDC) GetScopes() []string {
	if value := GetEnv(scopesEnvVar, ""); value != "" {
		return strings.Fields(strings.ReplaceAll(value, ",", " "))
	}
	if len(o.file.OIDC.Scopes) > 0 {
		return o.file.OIDC.Scopes
	}
	return []string{"openid", "email", "profile"}
}

// GetRefreshThreshold is how close to expiry an access token may get before it is refreshed.
func (o OIDC) GetRefreshThreshold() time.Duration {
	return lookupDuration(refreshThresholdEnvVar, o.file.OIDC.RefreshThreshold, 30*time.Second)
}

func (o OIDC) GetRequestTimeout() time.Duration {
	return lookupDuration(requestTimeoutEnvVar, o.file.OIDC.RequestTimeout, 10*time.Second)
}

func (o OIDC) baseURL() string {
	return EnvVars{file: o.file}.GetBaseURL()
}
