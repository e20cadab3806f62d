package relay

import "testing"

func TestBuildKeyJoinsPartsWithColon(t *testing.T) {
	got := buildKey("broadcasting:", "channel", "news", "members")
	want := "broadcasting:channel:news:members"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsLoopbackMatchesOwnServerID(t *testing.T) {
	env := Envelope{ServerID: "node-1"}
	if !isLoopback(env, "node-1") {
		t.Fatal("expected envelope from node-1 to be a loopback for node-1")
	}
	if isLoopback(env, "node-2") {
		t.Fatal("expected envelope from node-1 to not be a loopback for node-2")
	}
}

func TestNewRedisAdapterDefaultsPrefix(t *testing.T) {
	a := NewRedisAdapter(nil, "", "node-1")
	if a.prefix != "broadcasting:" {
		t.Fatalf("prefix = %q, want default", a.prefix)
	}
}
