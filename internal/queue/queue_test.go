package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRecordRoundTripsThroughJSON(t *testing.T) {
	rec := Record{
		At:      time.Now().Truncate(time.Second),
		Channel: "news",
		Event:   "update",
		Payload: json.RawMessage(`{"a":1}`),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var got Record
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !got.At.Equal(rec.At) || got.Channel != rec.Channel || got.Event != rec.Event {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestNewProducerConfigSetsClientID(t *testing.T) {
	cfg := NewProducerConfig("pulsehub-test")
	if cfg.ClientID != "pulsehub-test" {
		t.Fatalf("ClientID = %q", cfg.ClientID)
	}
}
