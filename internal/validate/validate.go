// Package validate implements the validator & sanitizer (spec.md §4.F):
// structural validation of decoded frames, plus HTML-escaping sanitization
// of user-controlled string fields before they are broadcast. Grounded on
// the teacher's struct-tag `binding:"required,..."` validation style
// (e.g. internal/models/user.go), generalized from gin's request-binding
// use of go-playground/validator to direct frame-field validation.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"pulsehub/internal/frame"
)

var instance = validator.New()

// eventName is the character set a client event name may use.
var eventName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// subscribeFields mirrors the structural shape a subscribe frame's fields
// must satisfy; decoded separately from frame.Inbound so validator tags
// stay in one place independent of the wire envelope.
type subscribeFields struct {
	Channel string `validate:"required,max=200"`
}

type clientEventFields struct {
	Channel string `validate:"required,max=200"`
	Event   string `validate:"required,max=100"`
}

// Error wraps a validation failure with the frame field that caused it.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("validate: %s: %v", e.Field, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Frame validates the structural shape of in according to its Kind,
// rejecting oversized or missing fields before the frame reaches
// authorization or dispatch.
func Frame(in frame.Inbound) error {
	switch in.Kind {
	case frame.KindSubscribe, frame.KindUnsubscribe:
		if err := instance.Struct(subscribeFields{Channel: in.Channel}); err != nil {
			return &Error{Field: "channel", Err: err}
		}
	case frame.KindClientEvent:
		if err := instance.Struct(clientEventFields{Channel: in.Channel, Event: in.Event}); err != nil {
			return &Error{Field: "channel/event", Err: err}
		}
		if !eventName.MatchString(in.Event) {
			return &Error{Field: "event", Err: fmt.Errorf("must contain only letters, digits, '.', '_' or '-'")}
		}
	case frame.KindBatchSubscribe, frame.KindBatchUnsubscribe:
		if len(in.Channels) == 0 {
			return &Error{Field: "channels", Err: fmt.Errorf("must be non-empty")}
		}
		for _, ch := range in.Channels {
			if err := instance.Struct(subscribeFields{Channel: ch}); err != nil {
				return &Error{Field: "channels", Err: err}
			}
		}
	}
	return nil
}

// sanitizeReplacer escapes exactly the set spec.md §4.F names:
// '<', '>', '"', '\'', '/'. '&' is not escaped and no replacement entity
// contains a character from the set, so applying it twice is a no-op the
// second time (invariant 8).
var sanitizeReplacer = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// SanitizeString escapes s per spec.md §4.F.
func SanitizeString(s string) string {
	return sanitizeReplacer.Replace(s)
}

// SanitizeMap walks a decoded JSON object (map[string]any, as produced by
// unmarshaling into any) and escapes every string value it finds,
// recursing into nested maps and slices. Numbers, bools, and nil pass
// through unchanged.
func SanitizeMap(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = SanitizeMap(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = SanitizeMap(v)
		}
		return out
	default:
		return v
	}
}
