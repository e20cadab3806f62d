package hub

import (
	"pulsehub/internal/conn"
	"pulsehub/internal/frame"
)

// WireErrorType is the error taxonomy surfaced to clients over the wire
// (spec.md §7).
type WireErrorType string

const (
	WireAuthError          WireErrorType = "AuthError"
	WireCapacityError      WireErrorType = "CapacityError"
	WireValidationError    WireErrorType = "ValidationError"
	WirePayloadTooLarge    WireErrorType = "PayloadTooLarge"
	WireRateLimitExceeded  WireErrorType = "RateLimitExceeded"
	WireNotSupported       WireErrorType = "NotSupported"
	WireServerError        WireErrorType = "ServerError"
	WireBatchError         WireErrorType = "BatchError"
)

// sendSubscriptionError renders a subscription_error frame (spec.md §6).
func (s *Server) sendSubscriptionError(c *conn.Connection, typ WireErrorType, msg string, status int) {
	s.sendOutbound(c, frame.Outbound{
		Event: "subscription_error",
		Data: frame.SubscriptionErrorData{
			Type:   string(typ),
			Error:  msg,
			Status: status,
		},
	})
}

// sendError renders a generic error frame; retryAfter is only meaningful
// for RateLimitExceeded.
func (s *Server) sendError(c *conn.Connection, typ WireErrorType, msg string, retryAfter *int64) {
	s.sendOutbound(c, frame.Outbound{
		Event: "error",
		Data: frame.ErrorData{
			Type:       string(typ),
			Error:      msg,
			RetryAfter: retryAfter,
		},
	})
}

// sendAck confirms receipt of a frame that carried ack:true (spec.md
// §4.R's dispatch table catch-all row), distinct from resolving a
// pending outbound acknowledgment (see the frame.KindAck case of
// handleFrame in dispatch.go).
func (s *Server) sendAck(c *conn.Connection, messageID string) {
	s.sendOutbound(c, frame.Outbound{Event: "ack", MessageID: messageID})
}

func (s *Server) sendOutbound(c *conn.Connection, out frame.Outbound) {
	b, err := frame.Encode(out)
	if err != nil {
		s.log.Error("hub: encode outbound frame failed", "event", out.Event, "error", err)
		return
	}
	if err := c.Sender.Send(b); err != nil {
		s.log.Debug("hub: send failed", "socket_id", c.ID, "event", out.Event, "error", err)
	}
}
