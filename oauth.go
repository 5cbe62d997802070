package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// oauthConfig builds the x/oauth2 config for p with the callback URL of r.
func (a *Auth) oauthConfig(r *http.Request, p *OAuthProvider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: p.AuthStyle,
		},
		RedirectURL: a.routeURL(r, "callback", p.ID),
		Scopes:      p.Scopes,
	}
}

func (a *Auth) httpClient(p *OAuthProvider) *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return a.cfg.HTTPClient
}

// exchange trades code for tokens with a single request to the token
// endpoint. There is no retry; the user restarts sign-in on failure.
func (a *Auth) exchange(ctx context.Context, r *http.Request, p *OAuthProvider, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient(p))
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	return a.oauthConfig(r, p).Exchange(ctx, code, opts...)
}

// fetchProfile loads the profile with the access token. Failures return an
// empty profile so a degenerate user can still be built from the mapper.
func (a *Auth) fetchProfile(ctx context.Context, r *http.Request, p *OAuthProvider, tok *oauth2.Token) map[string]any {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient(p))
	client := a.oauthConfig(r, p).Client(ctx, tok)

	var (
		profile map[string]any
		err     error
	)
	switch {
	case p.FetchProfile != nil:
		profile, err = p.FetchProfile(ctx, client, tok)
	case p.UserInfoURL != "":
		profile, err = GetJSON(ctx, client, p.UserInfoURL)
	}
	if err != nil {
		a.log.Warn("profile fetch failed", "provider", p.ID, "error", err)
		return map[string]any{}
	}
	if profile == nil {
		profile = map[string]any{}
	}
	return profile
}

// GetJSON fetches url and decodes a JSON object. Non-2xx responses are errors.
func GetJSON(ctx context.Context, client *http.Client, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	return out, nil
}

// accountFromToken builds the OAuth account record for a sign-in.
func accountFromToken(p *OAuthProvider, providerAccountID string, tok *oauth2.Token) *Account {
	acct := &Account{
		Provider:          p.ID,
		ProviderAccountID: providerAccountID,
		Type:              AccountTypeOAuth,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenType:         tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.Truncate(time.Second)
		acct.ExpiresAt = &exp
	}
	if s, ok := tok.Extra("scope").(string); ok {
		acct.Scope = s
	}
	if s, ok := tok.Extra("id_token").(string); ok {
		acct.IDToken = s
	}
	return acct
}
