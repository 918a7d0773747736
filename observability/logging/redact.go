package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys that must never appear in log output with their real value. The
// custodial signing key and directory API key are the two credentials this
// service handles.
var sensitiveKeys = map[string]struct{}{
	"signer_key": {},
	"signerkey":  {},
	"api_key":    {},
	"apikey":     {},
	"secret":     {},
	"token":      {},
}

// IsSensitive reports whether the provided log key carries credential material.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values.
// Empty values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr whose value is redacted when the key names
// credential material.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}
