package oauth2

import (
	"golang.org/x/oauth2/google"

	"github.com/panyam/authkit"
)

// Google returns a Google provider using the OpenID Connect userinfo endpoint.
func Google(opts Options) *authkit.OAuthProvider {
	p := newProvider("google", "Google", google.Endpoint, []string{"openid", "email", "profile"}, opts)
	p.UserInfoURL = apiURL(opts, "https://openidconnect.googleapis.com") + "/v1/userinfo"
	p.PKCE = true
	p.AuthParams = map[string]string{"prompt": "select_account"}
	return p
}
