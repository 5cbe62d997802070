// Package token implements the three-part signed token used for session
// cookies: base64url(header).base64url(payload).base64url(HMAC-SHA256).
//
// Tokens are HS256 JWTs. Verification returns nil rather than an error for
// every failure, since a bad token from a client simply means "no session".
package token

import (
	"encoding/json"
	"maps"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Options controls token creation.
type Options struct {
	// ExpiresIn sets exp = iat + ExpiresIn when non-zero. Negative values
	// produce tokens that are already expired.
	ExpiresIn time.Duration

	// Now overrides the clock used for the default iat.
	Now func() time.Time
}

// VerifyOption customizes Verify.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	now func() time.Time
}

// WithNow sets the clock used to check exp.
func WithNow(now func() time.Time) VerifyOption {
	return func(c *verifyConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Decoded is the unverified content of a token.
type Decoded struct {
	Header  map[string]any
	Payload map[string]any
}

// Create signs payload with secret. The caller's map is not modified.
// iat defaults to now when the payload does not carry one.
func Create(payload map[string]any, secret string, opts Options) (string, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	claims := jwt.MapClaims{}
	maps.Copy(claims, payload)

	iat, ok := Seconds(claims["iat"])
	if !ok {
		iat = now().Unix()
		claims["iat"] = iat
	}
	if opts.ExpiresIn != 0 {
		claims["exp"] = iat + int64(opts.ExpiresIn/time.Second)
		if opts.ExpiresIn < 0 && opts.ExpiresIn > -time.Second {
			claims["exp"] = iat - 1
		}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify checks the signature and expiry of tok and returns its payload.
// It returns nil for a wrong part count, a signature mismatch, undecodable
// JSON or an exp in the past.
func Verify(tok, secret string, opts ...VerifyOption) map[string]any {
	cfg := verifyConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(cfg.now),
	)
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}
	return map[string]any(claims)
}

// Decode splits and parses tok without checking its signature. Use it for
// diagnostics only.
func Decode(tok string) (*Decoded, bool) {
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, claims)
	if err != nil {
		return nil, false
	}
	return &Decoded{Header: parsed.Header, Payload: map[string]any(claims)}, true
}

// Seconds reads a NumericDate claim (iat, exp) as whole seconds. Claims
// decoded from JSON arrive as float64.
func Seconds(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}
