// Package authz implements the channel authorizer (spec.md §4.C): a table
// of (pattern, callback) rules matched in registration order, first match
// wins, yielding allow/deny or a presence-member value.
package authz

import (
	"errors"
	"fmt"

	"pulsehub/internal/pattern"
)

// Verdict is the result.Kind of authorizing a subscription (REDESIGN FLAGS
// §9: represent the source's bool-or-object union as a result type).
type Verdict int

const (
	Deny Verdict = iota
	Allow
	AllowAsPresence
)

// Result is what a Callback or Authorize call returns.
type Result struct {
	Verdict Verdict
	Member  any // populated iff Verdict == AllowAsPresence
}

func Denied() Result                { return Result{Verdict: Deny} }
func Allowed() Result                { return Result{Verdict: Allow} }
func AllowedWithMember(m any) Result { return Result{Verdict: AllowAsPresence, Member: m} }

// Callback authorizes one (socket, channel) subscription attempt given the
// named parameters the pattern extracted.
type Callback func(socketID string, userID string, params map[string]string) (Result, error)

// Sentinel errors matching spec.md §7's error taxonomy.
var (
	ErrAuthDenied  = errors.New("authz: subscription denied")
	ErrNoRule      = errors.New("authz: no matching rule for non-public channel")
	ErrServerError = errors.New("authz: authorizer callback failed")
)

type rule struct {
	matcher *pattern.Matcher
	cb      Callback
}

// Authorizer holds the rule table. Registration order is the first-match
// order (spec.md §3's Authorization rule). Registration is idempotent:
// re-registering the same template replaces the existing rule in place
// rather than appending a duplicate, so repeated calls (e.g. from
// re-running setup code) do not change match order.
type Authorizer struct {
	rules []rule
}

// New constructs an empty Authorizer.
func New() *Authorizer { return &Authorizer{} }

// Register adds a rule for pattern. Returns an error if the template does
// not compile.
func (a *Authorizer) Register(template string, cb Callback) error {
	m, err := pattern.Compile(template)
	if err != nil {
		return fmt.Errorf("authz: compile pattern %q: %w", template, err)
	}
	for i := range a.rules {
		if a.rules[i].matcher.String() == template {
			a.rules[i].cb = cb
			return nil
		}
	}
	a.rules = append(a.rules, rule{matcher: m, cb: cb})
	return nil
}

// Authorize runs the first rule whose pattern matches channel. A public
// channel (no rule needed, per spec.md §4.C) should never reach here — the
// channel registry only consults the Authorizer for non-public channels.
func (a *Authorizer) Authorize(socketID, userID, channel string) (result Result, err error) {
	for _, r := range a.rules {
		params, ok := r.matcher.Match(channel)
		if !ok {
			continue
		}
		return a.invoke(r.cb, socketID, userID, params)
	}
	return Denied(), ErrNoRule
}

func (a *Authorizer) invoke(cb Callback, socketID, userID string, params map[string]string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Denied()
			err = fmt.Errorf("%w: %v", ErrServerError, r)
		}
	}()

	res, cbErr := cb(socketID, userID, params)
	if cbErr != nil {
		return Denied(), fmt.Errorf("%w: %v", ErrServerError, cbErr)
	}
	if res.Verdict == Deny {
		return res, ErrAuthDenied
	}
	return res, nil
}
