package authkit

import (
	"maps"
	"time"

	"github.com/panyam/authkit/token"
)

// reserved claims; everything else in a session token is Session.Extra
var sessionClaims = map[string]bool{
	"sub": true, "user": true, "accessToken": true, "refreshToken": true, "iat": true, "exp": true,
}

// SessionCodec turns Sessions into signed tokens and back.
type SessionCodec struct {
	secret string
	now    func() time.Time
}

// NewSessionCodec returns a codec signing with secret. now defaults to time.Now.
func NewSessionCodec(secret string, now func() time.Time) *SessionCodec {
	if now == nil {
		now = time.Now
	}
	return &SessionCodec{secret: secret, now: now}
}

// NewSession starts a session for user that expires after maxAge.
func (c *SessionCodec) NewSession(user *User, maxAge time.Duration) *Session {
	now := c.now().Truncate(time.Second)
	return &Session{User: user, IssuedAt: now, Expires: now.Add(maxAge)}
}

// Encode signs s. The token's exp is IssuedAt + maxAge.
func (c *SessionCodec) Encode(s *Session, maxAge time.Duration) (string, error) {
	payload := maps.Clone(s.Extra)
	if payload == nil {
		payload = map[string]any{}
	}
	for k := range sessionClaims {
		delete(payload, k)
	}
	if s.User != nil {
		payload["sub"] = s.User.ID
		payload["user"] = s.User
	}
	if s.AccessToken != "" {
		payload["accessToken"] = s.AccessToken
	}
	if s.RefreshToken != "" {
		payload["refreshToken"] = s.RefreshToken
	}
	issued := s.IssuedAt
	if issued.IsZero() {
		issued = c.now()
	}
	payload["iat"] = issued.Unix()
	return token.Create(payload, c.secret, token.Options{ExpiresIn: maxAge, Now: c.now})
}

// Decode verifies tok and rebuilds the session. It returns nil for any bad,
// expired or user-less token.
func (c *SessionCodec) Decode(tok string) *Session {
	if tok == "" {
		return nil
	}
	payload := token.Verify(tok, c.secret, token.WithNow(c.now))
	if payload == nil {
		return nil
	}
	um, ok := payload["user"].(map[string]any)
	if !ok {
		return nil
	}
	s := &Session{User: UserFromMap(um)}
	if exp, ok := token.Seconds(payload["exp"]); ok {
		s.Expires = time.Unix(exp, 0)
	}
	if iat, ok := token.Seconds(payload["iat"]); ok {
		s.IssuedAt = time.Unix(iat, 0)
	} else {
		s.IssuedAt = c.now().Truncate(time.Second)
	}
	s.AccessToken, _ = payload["accessToken"].(string)
	s.RefreshToken, _ = payload["refreshToken"].(string)
	for k, v := range payload {
		if sessionClaims[k] {
			continue
		}
		if s.Extra == nil {
			s.Extra = map[string]any{}
		}
		s.Extra[k] = v
	}
	return s
}

// ShouldUpdate reports whether s was issued at least updateAge ago and
// should be reissued on this request.
func (c *SessionCodec) ShouldUpdate(s *Session, updateAge time.Duration) bool {
	return c.now().Sub(s.IssuedAt) >= updateAge
}

// Refresh returns a copy of s issued now and expiring after maxAge.
func (c *SessionCodec) Refresh(s *Session, maxAge time.Duration) *Session {
	out := *s
	out.Extra = maps.Clone(s.Extra)
	now := c.now().Truncate(time.Second)
	out.IssuedAt = now
	out.Expires = now.Add(maxAge)
	return &out
}
