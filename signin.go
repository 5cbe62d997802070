package authkit

import (
	"html/template"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/panyam/authkit/secure"
)

var signInTemplate = template.Must(template.New("signin").Parse(`<!DOCTYPE html>
<html><head><title>Sign in</title></head>
<body>
{{if .Error}}<p class="error">Sign in failed: {{.Error}}</p>{{end}}
{{range .Providers}}
<section>
{{if eq .Kind "oauth"}}
  <a href="{{.SignInURL}}{{if $.CallbackURL}}?callbackUrl={{$.CallbackURL}}{{end}}">Sign in with {{.Name}}</a>
{{else}}
  <form method="post" action="{{.SignInURL}}">
    <input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
    {{if $.CSRFToken}}<input type="hidden" name="csrfToken" value="{{$.CSRFToken}}">{{end}}
    {{range .Fields}}<label>{{.}} <input name="{{.}}" {{if eq . "password"}}type="password"{{end}}></label>{{end}}
    <button type="submit">Sign in with {{.Name}}</button>
  </form>
{{end}}
</section>
{{end}}
</body></html>
`))

var verifyRequestTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html><head><title>Check your email</title></head>
<body><p>A sign in link has been sent to your email address.</p></body></html>
`))

type signInPageProvider struct {
	Name      string
	Kind      ProviderKind
	SignInURL string
	Fields    []string
}

// handleSignInPage is GET /signin: the configured page, or a minimal list.
func (a *Auth) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Pages.SignIn != "" {
		target := a.cfg.Pages.SignIn
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	data := struct {
		Providers   []signInPageProvider
		CallbackURL string
		CSRFToken   string
		Error       string
	}{
		CallbackURL: r.URL.Query().Get("callbackUrl"),
		Error:       r.URL.Query().Get("error"),
	}
	if a.cfg.RequireCSRF {
		tok, err := a.ensureCSRF(w, r)
		if err != nil {
			a.internalError(w, "failed to issue csrf token", err)
			return
		}
		data.CSRFToken = tok
	}
	for _, p := range a.cfg.Providers {
		info := p.Info()
		item := signInPageProvider{Name: info.Name, Kind: info.Kind, SignInURL: a.cfg.BasePath + "/signin/" + info.ID}
		switch p := p.(type) {
		case *OAuthProvider:
		case *CredentialsProvider:
			item.Fields = p.Fields
		case *EmailProvider:
			item.Fields = []string{"email"}
		}
		data.Providers = append(data.Providers, item)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := signInTemplate.Execute(w, data); err != nil {
		a.log.Error("failed to render sign-in page", "error", err)
	}
}

// handleSignInStart is GET /signin/{provider}: begins the OAuth handshake.
func (a *Auth) handleSignInStart(w http.ResponseWriter, r *http.Request) {
	p, ok := a.provider(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider", "PROVIDER_NOT_FOUND")
		return
	}
	switch p := p.(type) {
	case *OAuthProvider:
		a.startOAuth(w, r, p)
	case *CredentialsProvider, *EmailProvider:
		writeError(w, http.StatusBadRequest, "provider requires POST", "UNSUPPORTED_METHOD")
	}
}

func (a *Auth) startOAuth(w http.ResponseWriter, r *http.Request, p *OAuthProvider) {
	names := a.cookieNames(r)

	state, err := a.random(32)
	if err != nil {
		a.internalError(w, "failed to generate state", err)
		return
	}
	a.setCookie(w, r, names.state, state, stateMaxAge, http.SameSiteLaxMode)

	callbackURL := r.URL.Query().Get("callbackUrl")
	if callbackURL == "" {
		callbackURL = r.Referer()
	}
	if callbackURL != "" {
		callbackURL = a.cfg.Callbacks.Redirect(callbackURL, a.baseURL(r))
		a.setCookie(w, r, names.callbackURL, callbackURL, stateMaxAge, http.SameSiteLaxMode)
	}

	var opts []oauth2.AuthCodeOption
	for k, v := range p.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if p.PKCE {
		verifier, err := a.random(32)
		if err != nil {
			a.internalError(w, "failed to generate code verifier", err)
			return
		}
		sealed, err := secure.Encrypt([]byte(verifier), a.cfg.Secret)
		if err != nil {
			a.internalError(w, "failed to seal code verifier", err)
			return
		}
		a.setCookie(w, r, names.pkce, sealed, stateMaxAge, http.SameSiteLaxMode)
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", secure.GenerateCodeChallenge(verifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	http.Redirect(w, r, a.oauthConfig(r, p).AuthCodeURL(state, opts...), http.StatusFound)
}

// handleVerifyRequest is GET /verify-request, shown after a magic link is sent.
func (a *Auth) handleVerifyRequest(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Pages.VerifyRequest != "" {
		http.Redirect(w, r, a.cfg.Pages.VerifyRequest, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	verifyRequestTemplate.Execute(w, nil)
}
