package observability

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	redactedValue  = "***"
	maxLoggedValue = 20
)

// IsSensitiveSelector reports whether a selector names a password-like field.
func IsSensitiveSelector(selector string) bool {
	return strings.Contains(strings.ToLower(selector), "password")
}

// SafeValue renders a fill value for logs. Password-like fields are masked;
// everything else is cut to 20 runes.
func SafeValue(selector, value string) string {
	if IsSensitiveSelector(selector) {
		return redactedValue
	}
	if utf8.RuneCountInString(value) <= maxLoggedValue {
		return value
	}
	r := []rune(value)
	return string(r[:maxLoggedValue]) + "..."
}

// ValueField is the zap field every component uses for fill values.
func ValueField(selector, value string) zap.Field {
	return zap.String("value", SafeValue(selector, value))
}
