package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTransition   = "transition"
	KeyTransitionID = "transition_id"
	KeyAnchor       = "anchor"
	KeyFrameType    = "frame_type"
	KeyQueueLen     = "queue_len"
	KeyCount        = "count"
	KeyReason       = "reason"
	KeyDurationMS   = "duration_ms"
	KeyOutcome      = "outcome"
	KeySubject      = "subject"
	KeyURL          = "url"
	KeyMethod       = "method"
	KeyPath         = "path"
	KeyStatus       = "status"
	KeyUserAgent    = "user_agent"
	KeyRemoteAddr   = "remote_addr"
	KeyRequestID    = "request_id"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Transition(name string) slog.Attr   { return slog.String(KeyTransition, name) }
func TransitionID(id string) slog.Attr   { return slog.String(KeyTransitionID, id) }
func Anchor(name string) slog.Attr       { return slog.String(KeyAnchor, name) }
func FrameType(t string) slog.Attr       { return slog.String(KeyFrameType, t) }
func QueueLen(n int) slog.Attr           { return slog.Int(KeyQueueLen, n) }
func Count(n int) slog.Attr              { return slog.Int(KeyCount, n) }
func Reason(r string) slog.Attr          { return slog.String(KeyReason, r) }
func DurationMS(ms float64) slog.Attr    { return slog.Float64(KeyDurationMS, ms) }
func Outcome(o string) slog.Attr         { return slog.String(KeyOutcome, o) }
func Subject(s string) slog.Attr         { return slog.String(KeySubject, s) }
func URL(u string) slog.Attr             { return slog.String(KeyURL, u) }
func Method(m string) slog.Attr          { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr          { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr      { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr   { return slog.String(KeyRemoteAddr, addr) }
func RequestID(id string) slog.Attr      { return slog.String(KeyRequestID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
