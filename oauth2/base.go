// Package oauth2 has authkit.OAuthProvider presets for common providers.
// Credentials left empty in Options are read from AUTH_<PROVIDER>_ID and
// AUTH_<PROVIDER>_SECRET.
package oauth2

import (
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"

	"github.com/panyam/authkit"
)

// Options overrides preset defaults. Zero fields keep the preset value.
type Options struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	// APIURL replaces the provider's API origin for the profile fetch.
	// Tests point it at a local server.
	APIURL string

	AllowDangerousEmailAccountLinking bool
	HTTPClient                        *http.Client
}

func envOr(v, key string) string {
	if v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(key))
}

func newProvider(id, name string, endpoint oauth2.Endpoint, scopes []string, opts Options) *authkit.OAuthProvider {
	env := "AUTH_" + strings.ToUpper(id)
	p := &authkit.OAuthProvider{
		ID:                                id,
		Name:                              name,
		ClientID:                          envOr(opts.ClientID, env+"_ID"),
		ClientSecret:                      envOr(opts.ClientSecret, env+"_SECRET"),
		AuthURL:                           endpoint.AuthURL,
		TokenURL:                          endpoint.TokenURL,
		AuthStyle:                         endpoint.AuthStyle,
		Scopes:                            scopes,
		AllowDangerousEmailAccountLinking: opts.AllowDangerousEmailAccountLinking,
		HTTPClient:                        opts.HTTPClient,
	}
	if len(opts.Scopes) > 0 {
		p.Scopes = opts.Scopes
	}
	return p
}

func apiURL(opts Options, def string) string {
	if opts.APIURL != "" {
		return strings.TrimRight(opts.APIURL, "/")
	}
	return def
}
