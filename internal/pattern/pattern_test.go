package pattern

import (
	"fmt"
	"testing"
)

func TestMatchExtractsNamedSegments(t *testing.T) {
	m := MustCompile("private-user.{userId}")

	params, ok := m.Match("private-user.123")
	if !ok {
		t.Fatal("expected match")
	}
	if params["userId"] != "123" {
		t.Fatalf("got %v", params)
	}

	if _, ok := m.Match("private-user.123.extra"); ok {
		t.Fatal("dot-free segment constraint should reject extra path component")
	}
}

func TestMatchRejectsNonMatchingPrefix(t *testing.T) {
	m := MustCompile("presence-chat.{roomId}")
	if _, ok := m.Match("private-chat.42"); ok {
		t.Fatal("expected no match across differing literal prefixes")
	}
}

func TestMatchEscapesLiteralMetacharacters(t *testing.T) {
	m := MustCompile("private-order.{orderId}.v1")
	if _, ok := m.Match("private-orderXid.v1"); ok {
		t.Fatal("literal dot must not behave as regex wildcard")
	}
	params, ok := m.Match("private-order.7.v1")
	if !ok || params["orderId"] != "7" {
		t.Fatalf("got %v ok=%v", params, ok)
	}
}

// Property 9: for any literal template T and conforming substitution sigma,
// the matcher compiled from T applied to sigma(T) returns sigma.
func TestPatternRoundTripProperty(t *testing.T) {
	templates := []string{
		"private-user.{userId}",
		"presence-room.{roomId}",
		"private-org.{orgId}.team.{teamId}",
	}
	substitutions := []map[string]string{
		{"userId": "42"},
		{"roomId": "lobby"},
		{"orgId": "acme", "teamId": "eng"},
	}

	for i, tmpl := range templates {
		m := MustCompile(tmpl)
		sigma := substitutions[i]

		subject := tmpl
		for name, val := range sigma {
			subject = replaceAll(subject, fmt.Sprintf("{%s}", name), val)
		}

		got, ok := m.Match(subject)
		if !ok {
			t.Fatalf("template %q: expected match on %q", tmpl, subject)
		}
		for name, val := range sigma {
			if got[name] != val {
				t.Fatalf("template %q: got[%s]=%q want %q", tmpl, name, got[name], val)
			}
		}
	}
}

func replaceAll(s, old, new string) string {
	for {
		idx := indexOf(s, old)
		if idx < 0 {
			return s
		}
		s = s[:idx] + new + s[idx+len(old):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
