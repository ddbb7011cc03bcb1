package ratelimit

import (
	"fmt"
	"sort"
	"time"
)

// Action names a rate-limited operation.
type Action string

const (
	ActionUserLogin     Action = "user_login"
	ActionSignup        Action = "signup"
	ActionPasswordReset Action = "password_reset"
	ActionDraftUpdate   Action = "draft_update"
)

// Policy is the fixed-window limit for one action: at most Limit attempts per
// Window for each token.
type Policy struct {
	Action Action
	Limit  int
	Window time.Duration
}

// Key returns the counter key for token under this policy.
func (p Policy) Key(token string) string {
	return string(p.Action) + ":" + NormalizeToken(token)
}

var defaultPolicies = map[Action]Policy{
	ActionUserLogin:     {Action: ActionUserLogin, Limit: 5, Window: time.Hour},
	ActionSignup:        {Action: ActionSignup, Limit: 3, Window: time.Hour},
	ActionPasswordReset: {Action: ActionPasswordReset, Limit: 3, Window: time.Hour},
	ActionDraftUpdate:   {Action: ActionDraftUpdate, Limit: 60, Window: time.Minute},
}

// PolicyFor returns the compiled-in policy for action. It panics for an
// action without a policy; use LookupPolicy for untrusted input.
func PolicyFor(action Action) Policy {
	p, ok := LookupPolicy(action)
	if !ok {
		panic(fmt.Sprintf("ratelimit: no policy for action %q", action))
	}
	return p
}

// LookupPolicy returns the compiled-in policy for action, if any.
func LookupPolicy(action Action) (Policy, bool) {
	p, ok := defaultPolicies[action]
	return p, ok
}

// Policies returns the compiled-in policies sorted by action name.
func Policies() []Policy {
	return sortedPolicies(defaultPolicies)
}

func sortedPolicies(m map[Action]Policy) []Policy {
	out := make([]Policy, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
