package authz

import (
	"errors"
	"testing"
)

func TestAuthorizeAllowsMatchingUser(t *testing.T) {
	a := New()
	if err := a.Register("private-user.{userId}", func(socketID, userID string, params map[string]string) (Result, error) {
		if params["userId"] == "123" {
			return Allowed(), nil
		}
		return Denied(), nil
	}); err != nil {
		t.Fatal(err)
	}

	res, err := a.Authorize("sock1", "123", "private-user.123")
	if err != nil || res.Verdict != Allow {
		t.Fatalf("res=%v err=%v", res, err)
	}

	res, err = a.Authorize("sock1", "123", "private-user.999")
	if res.Verdict != Deny || !errors.Is(err, ErrAuthDenied) {
		t.Fatalf("res=%v err=%v", res, err)
	}
}

func TestAuthorizeNoRuleIsAuthError(t *testing.T) {
	a := New()
	_, err := a.Authorize("sock1", "", "private-unmatched.1")
	if !errors.Is(err, ErrNoRule) {
		t.Fatalf("err=%v", err)
	}
}

func TestAuthorizePresenceReturnsMember(t *testing.T) {
	a := New()
	type member struct{ ID string }
	err := a.Register("presence-chat.{roomId}", func(socketID, userID string, params map[string]string) (Result, error) {
		return AllowedWithMember(member{ID: socketID}), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Authorize("sockA", "", "presence-chat.lobby")
	if err != nil || res.Verdict != AllowAsPresence {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if res.Member.(member).ID != "sockA" {
		t.Fatalf("member=%v", res.Member)
	}
}

func TestAuthorizeCallbackPanicIsServerError(t *testing.T) {
	a := New()
	_ = a.Register("private-x.{id}", func(socketID, userID string, params map[string]string) (Result, error) {
		panic("boom")
	})

	res, err := a.Authorize("s", "", "private-x.1")
	if res.Verdict != Deny || !errors.Is(err, ErrServerError) {
		t.Fatalf("res=%v err=%v", res, err)
	}
}

func TestRegisterIsIdempotentAndPreservesOrder(t *testing.T) {
	a := New()
	calls := 0
	_ = a.Register("private-a.{id}", func(string, string, map[string]string) (Result, error) {
		calls++
		return Allowed(), nil
	})
	_ = a.Register("private-b.{id}", func(string, string, map[string]string) (Result, error) {
		return Denied(), nil
	})
	// Re-register the first pattern with a new callback; order must not change.
	_ = a.Register("private-a.{id}", func(string, string, map[string]string) (Result, error) {
		calls++
		return Allowed(), nil
	})

	if len(a.rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(a.rules))
	}
	if a.rules[0].matcher.String() != "private-a.{id}" {
		t.Fatalf("order changed: %v", a.rules)
	}
}
