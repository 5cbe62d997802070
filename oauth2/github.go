package oauth2

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/panyam/authkit"
)

// GitHub returns a GitHub provider. Users who keep their email private get
// their primary verified address from /user/emails.
func GitHub(opts Options) *authkit.OAuthProvider {
	api := apiURL(opts, "https://api.github.com")
	p := newProvider("github", "GitHub", github.Endpoint, []string{"read:user", "user:email"}, opts)
	p.UserInfoURL = api + "/user"
	p.FetchProfile = func(ctx context.Context, client *http.Client, tok *oauth2.Token) (map[string]any, error) {
		profile, err := authkit.GetJSON(ctx, client, api+"/user")
		if err != nil {
			return nil, err
		}
		if email, _ := profile["email"].(string); email == "" {
			if email := primaryEmail(ctx, client, api+"/user/emails"); email != "" {
				profile["email"] = email
			}
		}
		return profile, nil
	}
	p.Profile = githubProfile
	return p
}

// primaryEmail returns "" when the emails scope was not granted.
func primaryEmail(ctx context.Context, client *http.Client, url string) string {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSONInto(ctx, client, url, &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

func githubProfile(profile map[string]any, tok *oauth2.Token) (*authkit.User, error) {
	u, err := authkit.DefaultProfile(profile, tok)
	if err != nil {
		return nil, err
	}
	if u.Name == "" {
		u.Name, _ = profile["login"].(string)
	}
	return u, nil
}
