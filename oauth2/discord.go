package oauth2

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/panyam/authkit"
)

// Discord returns a Discord provider.
func Discord(opts Options) *authkit.OAuthProvider {
	p := newProvider("discord", "Discord", endpoints.Discord, []string{"identify", "email"}, opts)
	p.UserInfoURL = apiURL(opts, "https://discord.com/api") + "/users/@me"
	p.PKCE = true
	p.Profile = discordProfile
	return p
}

func discordProfile(profile map[string]any, tok *oauth2.Token) (*authkit.User, error) {
	u, err := authkit.DefaultProfile(profile, tok)
	if err != nil {
		return nil, err
	}
	if u.Name, _ = profile["global_name"].(string); u.Name == "" {
		u.Name, _ = profile["username"].(string)
	}
	if avatar, _ := profile["avatar"].(string); avatar != "" {
		u.Image = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, avatar)
	}
	return u, nil
}
