package authkit

import (
	"strings"
)

// LoginType classifies a login identifier.
type LoginType string

const (
	LoginEmail    LoginType = "email"
	LoginPhone    LoginType = "phone"
	LoginUsername LoginType = "username"
)

// DetectLoginType guesses what kind of identifier login is.
func DetectLoginType(login string) LoginType {
	if strings.Contains(login, "@") {
		return LoginEmail
	}
	// Check if it looks like a phone number (starts with + or digit)
	if len(login) > 0 && (login[0] == '+' || (login[0] >= '0' && login[0] <= '9')) {
		return LoginPhone
	}
	return LoginUsername
}

// NormalizeLogin trims login and lowercases emails and usernames. Phone
// numbers lose their separators.
func NormalizeLogin(login string) string {
	login = strings.TrimSpace(login)
	switch DetectLoginType(login) {
	case LoginPhone:
		return strings.NewReplacer("-", "", " ", "", "(", "", ")", "").Replace(login)
	default:
		return strings.ToLower(login)
	}
}
