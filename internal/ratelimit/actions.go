package ratelimit

import "context"

// CheckUserLogin counts a login attempt from the client IP.
func (l *Limiter) CheckUserLogin(ctx context.Context, ip string) error {
	return l.Check(ctx, ActionUserLogin, ip)
}

// CheckSignup counts a signup attempt from the client IP.
func (l *Limiter) CheckSignup(ctx context.Context, ip string) error {
	return l.Check(ctx, ActionSignup, ip)
}

// CheckPasswordReset counts a password reset request for an email address.
func (l *Limiter) CheckPasswordReset(ctx context.Context, email string) error {
	return l.Check(ctx, ActionPasswordReset, email)
}

// CheckDraftUpdate counts a draft save by a user.
func (l *Limiter) CheckDraftUpdate(ctx context.Context, userID string) error {
	return l.Check(ctx, ActionDraftUpdate, userID)
}
