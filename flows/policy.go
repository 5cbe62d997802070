package flows

import (
	"fmt"
	"unicode"
)

// PasswordPolicy holds composition rules for new passwords.
type PasswordPolicy struct {
	MinLength      int // defaults to 8
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// StrongPasswordPolicy requires 12 characters from every class.
func StrongPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      12,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

func (p PasswordPolicy) minLength() int {
	if p.MinLength <= 0 {
		return 8
	}
	return p.MinLength
}

// ValidatePassword returns every rule pw violates, in a stable order. An
// empty result means pw is acceptable.
func ValidatePassword(pw string, p PasswordPolicy) []string {
	var upper, lower, digit, special bool
	n := 0
	for _, c := range pw {
		n++
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c) || unicode.IsSpace(c):
			special = true
		}
	}

	var violations []string
	if n < p.minLength() {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", p.minLength()))
	}
	if p.RequireUpper && !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if p.RequireLower && !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		violations = append(violations, "must contain a digit")
	}
	if p.RequireSpecial && !special {
		violations = append(violations, "must contain a special character")
	}
	return violations
}

func (f *Flows) checkPolicy(pw string) error {
	if v := ValidatePassword(pw, f.cfg.Policy); len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}
