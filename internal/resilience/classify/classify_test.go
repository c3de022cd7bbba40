package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      Code
		category  Category
		severity  Severity
		retryable bool
	}{
		{401, CodeTransportUnauthorized, CategoryTransport, SeverityHigh, false},
		{403, CodeTransportUnauthorized, CategoryTransport, SeverityHigh, false},
		{408, CodeTransportTimeout, CategoryTransport, SeverityLow, true},
		{504, CodeTransportTimeout, CategoryTransport, SeverityLow, true},
		{429, CodeProtocolRateLimitExceeded, CategoryProtocol, SeverityLow, true},
		{400, CodeTransportError, CategoryTransport, SeverityMedium, false},
		{404, CodeTransportError, CategoryTransport, SeverityMedium, false},
		{500, CodeTransportError, CategoryTransport, SeverityMedium, true},
		{502, CodeTransportError, CategoryTransport, SeverityMedium, true},
		{503, CodeTransportError, CategoryTransport, SeverityMedium, true},
		{200, CodeTransportError, CategoryTransport, SeverityMedium, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			got := ClassifySignal(HTTPStatus(tt.status))
			want := ClassifiedError{tt.code, tt.category, tt.severity, tt.retryable}
			if got != want {
				t.Errorf("ClassifySignal(%d) = %+v, want %+v", tt.status, got, want)
			}
		})
	}
}

func TestClassifyAnchorCode(t *testing.T) {
	tests := []struct {
		code      string
		want      Code
		severity  Severity
		retryable bool
	}{
		{"invalid_payload", CodeProtocolInvalidPayload, SeverityMedium, false},
		{"MALFORMED_REQUEST", CodeProtocolInvalidPayload, SeverityMedium, false},
		{"error: required_field_missing amount", CodeProtocolInvalidPayload, SeverityMedium, false},
		{"rate_limit_exceeded", CodeProtocolRateLimitExceeded, SeverityLow, true},
		{"too_many_requests", CodeProtocolRateLimitExceeded, SeverityLow, true},
		{"kyc_required", CodeProtocolComplianceViolation, SeverityCritical, false},
		{"sanctions_check_failed", CodeProtocolComplianceViolation, SeverityCritical, false},
		{"something_else", CodeProtocolError, SeverityMedium, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := ClassifySignal(AnchorError(tt.code))
			if got.Code != tt.want || got.Category != CategoryProtocol ||
				got.Severity != tt.severity || got.Retryable != tt.retryable {
				t.Errorf("ClassifySignal(%q) = %+v", tt.code, got)
			}
		})
	}
}

func TestClassifyNetwork(t *testing.T) {
	timeout := ClassifySignal(NetworkError("read tcp: i/o Timeout"))
	if timeout.Code != CodeTransportTimeout || !timeout.Retryable || timeout.Severity != SeverityLow {
		t.Errorf("unexpected timeout classification: %+v", timeout)
	}

	reset := ClassifySignal(NetworkError("connection reset by peer"))
	if reset.Code != CodeTransportError || !reset.Retryable || reset.Severity != SeverityMedium {
		t.Errorf("unexpected network classification: %+v", reset)
	}
}

func TestClassifyLocal(t *testing.T) {
	tests := []struct {
		code      Code
		severity  Severity
		retryable bool
	}{
		{CodeReplayAttack, SeverityCritical, false},
		{CodeComplianceNotMet, SeverityCritical, false},
		{CodeUnauthorizedAttestor, SeverityHigh, false},
		{CodeInvalidConfig, SeverityMedium, false},
		{CodeAttestorAlreadyRegistered, SeverityMedium, false},
		{CodeCredentialExpired, SeverityMedium, false},
		{CodeStaleQuote, SeverityLow, true},
		{CodeNoQuotesAvailable, SeverityLow, true},
		{CodeSessionNotFound, SeverityMedium, true},
		{CodeCacheExpired, SeverityMedium, true},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			got := ClassifySignal(LocalError(tt.code))
			want := ClassifiedError{tt.code, CategoryApplication, tt.severity, tt.retryable}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestClassifyWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("calling anchor: %w", HTTPStatus(503))
	if got := Classify(wrapped); got.Code != CodeTransportError || !got.Retryable {
		t.Errorf("wrapped signal not classified: %+v", got)
	}

	if got := Classify(fmt.Errorf("op: %w", context.DeadlineExceeded)); got.Code != CodeTransportTimeout {
		t.Errorf("deadline exceeded should be a timeout, got %+v", got)
	}

	for _, err := range []error{errors.New("boom"), context.Canceled, nil} {
		got := Classify(err)
		if got.Code != CodeUnknown || got.Retryable || got.Category != CategoryApplication {
			t.Errorf("Classify(%v) = %+v, want unknown", err, got)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	signals := []*Signal{
		HTTPStatus(429),
		AnchorError("kyc_required"),
		NetworkError("timeout"),
		LocalError(CodeStaleQuote),
	}
	for _, s := range signals {
		first := ClassifySignal(s)
		for i := 0; i < 10; i++ {
			if got := ClassifySignal(s); got != first {
				t.Fatalf("classification of %v changed: %+v != %+v", s, got, first)
			}
		}
	}
}

func TestRateLimitInfoOf(t *testing.T) {
	info := &RateLimitInfo{RetryAfter: 2 * time.Second}
	err := fmt.Errorf("call: %w", HTTPStatus(429).WithRateLimit(info))

	if got := RateLimitInfoOf(err); got == nil || got.RetryAfter != 2*time.Second {
		t.Errorf("expected retry-after hint, got %+v", got)
	}
	if got := RateLimitInfoOf(errors.New("plain")); got != nil {
		t.Errorf("expected no hint, got %+v", got)
	}
}

func TestSignalUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	sig := NetworkError("connection refused").Wrap(cause)

	if !errors.Is(sig, cause) {
		t.Error("signal should unwrap to its cause")
	}
	if sig.Error() != "network error: connection refused: dial tcp: connection refused" {
		t.Errorf("unexpected message: %s", sig.Error())
	}
}

func TestGateRateLimited(t *testing.T) {
	c := GateRateLimited()
	if !c.IsRateLimit() || c.Code != CodeRateLimitExceeded {
		t.Errorf("unexpected gate classification: %+v", c)
	}
}
