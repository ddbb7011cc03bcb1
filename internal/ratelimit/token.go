package ratelimit

import "strings"

// UnknownToken is the identity used when a caller has no usable token.
// All such callers share one counter per action.
const UnknownToken = "unknown"

// NormalizeToken trims and lowercases a raw identity (IP address, email or
// user ID) so that trivially different spellings share a counter.
func NormalizeToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return UnknownToken
	}
	return token
}
