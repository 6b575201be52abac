package app

import "strings"

// MaskSentinel prefixes every masked secret returned by the settings
// endpoint. A PUT that sends a value still carrying the sentinel is treated
// as "unchanged" so a read-modify-write round trip cannot clobber a real key.
const MaskSentinel = "****"

// secretKeyFragments mark settings whose values must never be echoed back in
// full. Matching is case-insensitive on the key name.
var secretKeyFragments = []string{"apikey", "api_key", "token", "secret", "password"}

// IsSecretKey reports whether a settings key holds credential material.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// MaskSecret hides a secret value, preserving at most the last four
// characters so a user can still recognise which key is configured.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return MaskSentinel
	}
	return MaskSentinel + value[len(value)-4:]
}

// IsMaskedValue reports whether a submitted value is a masked echo of a
// previous read rather than a new secret.
func IsMaskedValue(value string) bool {
	return strings.HasPrefix(value, MaskSentinel)
}

// MaskSettings returns a copy of s with every secret-bearing value masked.
func MaskSettings(s Settings) Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		if IsSecretKey(k) {
			out[k] = MaskSecret(v)
			continue
		}
		out[k] = v
	}
	return out
}
