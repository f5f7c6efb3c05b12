package utils

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsValidE164 reports whether phone is in E.164 format
func IsValidE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// NormalizePhone strips whitespace and common separators, keeping a leading +
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
