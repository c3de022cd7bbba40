package classify

import (
	"fmt"
	"time"
)

// SignalKind tags which variant a Signal holds.
type SignalKind int

const (
	KindHTTPStatus SignalKind = iota + 1
	KindAnchorCode
	KindNetwork
	KindLocal
)

func (k SignalKind) String() string {
	switch k {
	case KindHTTPStatus:
		return "http_status"
	case KindAnchorCode:
		return "anchor_code"
	case KindNetwork:
		return "network"
	case KindLocal:
		return "local"
	default:
		return "invalid"
	}
}

// RateLimitInfo carries the throttling hints an anchor sent with a response.
// Limit and Remaining are nil when the anchor did not report them.
type RateLimitInfo struct {
	RetryAfter time.Duration
	Limit      *int
	Remaining  *int
	ResetAt    time.Time
	Window     time.Duration
}

// Signal is a raw failure observed while calling an anchor. Kind selects
// which field drives classification; the others may carry context, such as
// the HTTP status an anchor code arrived with.
type Signal struct {
	Kind SignalKind

	// Status is the HTTP status for KindHTTPStatus.
	Status int
	// Code is the anchor error code for KindAnchorCode or the
	// error message for KindNetwork.
	Code string
	// Local is the business error for KindLocal.
	Local Code

	RateLimit *RateLimitInfo
	cause     error
}

// HTTPStatus builds a signal for a non-success HTTP status.
func HTTPStatus(status int) *Signal {
	return &Signal{Kind: KindHTTPStatus, Status: status}
}

// AnchorError builds a signal for an error code returned in an anchor body.
func AnchorError(code string) *Signal {
	return &Signal{Kind: KindAnchorCode, Code: code}
}

// NetworkError builds a signal for a failure below HTTP (dial, reset, timeout).
func NetworkError(msg string) *Signal {
	return &Signal{Kind: KindNetwork, Code: msg}
}

// LocalError builds a signal for a business rule violation raised locally.
func LocalError(code Code) *Signal {
	return &Signal{Kind: KindLocal, Local: code}
}

// WithRateLimit returns a copy of s carrying the given hints.
func (s *Signal) WithRateLimit(info *RateLimitInfo) *Signal {
	cp := *s
	cp.RateLimit = info
	return &cp
}

// Wrap returns a copy of s with cause attached for errors.Unwrap.
func (s *Signal) Wrap(cause error) *Signal {
	cp := *s
	cp.cause = cause
	return &cp
}

func (s *Signal) Error() string {
	var msg string
	switch s.Kind {
	case KindHTTPStatus:
		msg = fmt.Sprintf("http status %d", s.Status)
	case KindAnchorCode:
		msg = fmt.Sprintf("anchor error %q", s.Code)
	case KindNetwork:
		msg = "network error: " + s.Code
	case KindLocal:
		msg = "local error: " + s.Local.String()
	default:
		msg = "invalid failure signal"
	}
	if s.cause != nil {
		return msg + ": " + s.cause.Error()
	}
	return msg
}

func (s *Signal) Unwrap() error {
	return s.cause
}
