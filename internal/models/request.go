package models

// CheckRequest is the body of POST /api/v1/limits/{action}/check.
//
// Token is the caller's identity for the action: client IP for login and
// signup, email address for password reset, user ID for draft updates. An
// empty token is counted under the shared "unknown" identity.
type CheckRequest struct {
	Token string `json:"token"`
}

// ResetRequest is the body of DELETE /api/v1/limits/{action}/counters.
type ResetRequest struct {
	Token string `json:"token"`
}
