package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string // empty means valid
	}{
		{"min length", "ab", ""},
		{"max length", strings.Repeat("x", 20), ""},
		{"digits and underscore", "bob_42", ""},
		{"mixed case", "AbC_d", ""},
		{"too short", "a", ReasonLength},
		{"empty", "", ReasonLength},
		{"too long", strings.Repeat("x", 21), ReasonLength},
		{"space inside", "bo b", ReasonCharset},
		{"dash", "bo-b", ReasonCharset},
		{"html", "<b>x", ReasonCharset},
		{"cyrillic", "Вася", ReasonCharset},
		{"short and invalid reports length", "!", ReasonLength},
		{"long and invalid reports length", strings.Repeat("!", 25), ReasonLength},
		{"two cyrillic runes is charset not length", "Яя", ReasonCharset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNickname(tt.input)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("ValidateNickname(%q) = %v, want nil", tt.input, err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateNickname(%q) = %v, want *ValidationError", tt.input, err)
			}
			if verr.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", verr.Reason, tt.reason)
			}
		})
	}
}

func TestNormalizeNickname(t *testing.T) {
	if got := NormalizeNickname("  bob \n"); got != "bob" {
		t.Errorf("NormalizeNickname = %q, want %q", got, "bob")
	}
}

func TestValidationError_Messages(t *testing.T) {
	if !strings.Contains((&ValidationError{Reason: ReasonLength}).Error(), "2 to 20") {
		t.Error("length error should mention the bounds")
	}
	if !strings.Contains((&ValidationError{Reason: ReasonCharset}).Error(), "digits") {
		t.Error("charset error should mention allowed characters")
	}
}
