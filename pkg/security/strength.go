// Package security scores the passwords stored in a vault.
//
// Strength is rated on length alone, following NIST SP 800-63B, which
// discourages composition rules. Reuse is detected by comparing keyed hashes
// so plaintext passwords are never compared or kept outside the session.
package security

import (
	"unicode/utf8"
)

// PasswordStrength represents the strength level of a stored password.
type PasswordStrength int

const (
	// PasswordWeak is shorter than 8 characters.
	PasswordWeak PasswordStrength = iota
	// PasswordFair is 8 to 13 characters.
	PasswordFair
	// PasswordGood is 14 to 19 characters.
	PasswordGood
	// PasswordStrong is 20 characters or more.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Points returns the contribution of one password to the strength component
// of the score, out of MaxComponentScore.
func (s PasswordStrength) Points() int {
	switch s {
	case PasswordFair:
		return 16
	case PasswordGood:
		return 34
	case PasswordStrong:
		return 50
	default:
		return 0
	}
}

// Strength rates a password by its length in characters.
func Strength(password string) PasswordStrength {
	switch n := utf8.RuneCountInString(password); {
	case n >= 20:
		return PasswordStrong
	case n >= 14:
		return PasswordGood
	case n >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}
