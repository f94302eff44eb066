package relay

import (
	"strings"
	"unicode/utf8"
)

// Nickname length bounds, in characters.
const (
	MinNicknameLen = 2
	MaxNicknameLen = 20
)

// Validation failure reasons.
const (
	ReasonLength  = "length"
	ReasonCharset = "charset"
)

// ValidationError reports a nickname that failed format checks. It is
// handled inside the conversation and never surfaces as a system error.
type ValidationError struct {
	Reason string
	Value  string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonLength:
		return "relay: nickname must be 2 to 20 characters"
	case ReasonCharset:
		return "relay: nickname may only contain Latin letters, digits and _"
	default:
		return "relay: invalid nickname"
	}
}

// NormalizeNickname trims surrounding whitespace from user input.
func NormalizeNickname(s string) string {
	return strings.TrimSpace(s)
}

// ValidateNickname checks an already normalized nickname. Length is checked
// before the character set so a short string with bad characters reports
// the length problem.
func ValidateNickname(s string) error {
	n := utf8.RuneCountInString(s)
	if n < MinNicknameLen || n > MaxNicknameLen {
		return &ValidationError{Reason: ReasonLength, Value: s}
	}
	for _, r := range s {
		if !isNicknameRune(r) {
			return &ValidationError{Reason: ReasonCharset, Value: s}
		}
	}
	return nil
}

func isNicknameRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
