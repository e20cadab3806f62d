package frame

import "testing"

func TestDecodeClassifiesKnownEvents(t *testing.T) {
	cases := map[string]Kind{
		`{"event":"subscribe","channel":"news"}`:             KindSubscribe,
		`{"event":"unsubscribe","channel":"news"}`:            KindUnsubscribe,
		`{"event":"batch_subscribe","channels":["a","b"]}`:    KindBatchSubscribe,
		`{"event":"batch_unsubscribe","channels":["a","b"]}`:  KindBatchUnsubscribe,
		`{"event":"ping"}`:                                    KindPing,
		`{"event":"heartbeat"}`:                                KindHeartbeat,
		`{"event":"presence_heartbeat","channel":"presence-x"}`: KindPresenceHeartbeat,
		`{"event":"ack","messageId":"m1"}`:                    KindAck,
		`{"event":"client-typing","channel":"private-x"}`:     KindClientEvent,
		`{"event":"literally-anything-else"}`:                 KindUnknown,
	}
	for raw, want := range cases {
		in, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", raw, err)
		}
		if in.Kind != want {
			t.Errorf("Decode(%q).Kind = %v, want %v", raw, in.Kind, want)
		}
	}
}

func TestDecodeEmptyPayloadIsError(t *testing.T) {
	if _, err := Decode(nil); err != ErrEmptyFrame {
		t.Fatalf("err = %v, want ErrEmptyFrame", err)
	}
}

func TestDecodeMalformedJSONIsError(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDecodePreservesChannelAndMessageID(t *testing.T) {
	in, err := Decode([]byte(`{"event":"subscribe","channel":"private-x","messageId":"m-1","ack":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if in.Channel != "private-x" || in.MessageID != "m-1" || !in.AckRequested {
		t.Fatalf("unexpected fields: %+v", in)
	}
}

func TestEncodeRoundTripsEventAndChannel(t *testing.T) {
	out := Outbound{Event: "subscription_succeeded", Channel: "news", Data: map[string]string{"k": "v"}}
	b, err := Encode(out)
	if err != nil {
		t.Fatal(err)
	}
	in, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if in.Event != "subscription_succeeded" || in.Channel != "news" {
		t.Fatalf("round trip mismatch: %+v", in)
	}
}

func TestByteSizeReflectsActualEncodedBytes(t *testing.T) {
	small := Outbound{Event: "e", Data: "x"}
	large := Outbound{Event: "e", Data: "xxxxxxxxxxxxxxxxxxxx"}

	smallSize, err := ByteSize(small)
	if err != nil {
		t.Fatal(err)
	}
	largeSize, err := ByteSize(large)
	if err != nil {
		t.Fatal(err)
	}
	if largeSize <= smallSize {
		t.Fatalf("expected largeSize > smallSize, got %d <= %d", largeSize, smallSize)
	}

	encoded, _ := Encode(large)
	if largeSize != len(encoded) {
		t.Fatalf("ByteSize = %d, want exact encoded length %d", largeSize, len(encoded))
	}
}
