// Package classify maps raw anchor call failures onto a fixed taxonomy.
//
// Classification is pure: the same input always yields the same
// ClassifiedError, and every input yields one.
package classify

import (
	"context"
	"errors"
	"strings"
)

// ClassifiedError is the normalized description of a failure.
type ClassifiedError struct {
	Code      Code
	Category  Category
	Severity  Severity
	Retryable bool
}

// IsRateLimit reports whether the failure was a throttling response,
// either from the anchor or from the local gate.
func (c ClassifiedError) IsRateLimit() bool {
	return c.Code == CodeProtocolRateLimitExceeded || c.Code == CodeRateLimitExceeded
}

func (c ClassifiedError) String() string {
	return c.Category.String() + "/" + c.Code.String()
}

var unknown = ClassifiedError{
	Code:     CodeUnknown,
	Category: CategoryApplication,
	Severity: SeverityMedium,
}

// GateRateLimited is the classification reported when the local gate
// denies a call before any attempt is made.
func GateRateLimited() ClassifiedError {
	return ClassifiedError{
		Code:      CodeRateLimitExceeded,
		Category:  CategoryApplication,
		Severity:  SeverityLow,
		Retryable: true,
	}
}

// Classify maps any error to a ClassifiedError. Errors wrapping a *Signal
// are classified precisely; context deadlines count as timeouts and
// everything else is unknown and not retryable.
func Classify(err error) ClassifiedError {
	if err == nil {
		return unknown
	}

	var sig *Signal
	if errors.As(err, &sig) {
		return ClassifySignal(sig)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{
			Code:      CodeTransportTimeout,
			Category:  CategoryTransport,
			Severity:  SeverityLow,
			Retryable: true,
		}
	}

	return unknown
}

// ClassifySignal maps a single failure signal.
func ClassifySignal(sig *Signal) ClassifiedError {
	if sig == nil {
		return unknown
	}
	switch sig.Kind {
	case KindHTTPStatus:
		return classifyStatus(sig.Status)
	case KindAnchorCode:
		return classifyAnchorCode(sig.Code)
	case KindNetwork:
		return classifyNetwork(sig.Code)
	case KindLocal:
		return classifyLocal(sig.Local)
	default:
		return unknown
	}
}

// RateLimitInfoOf returns the rate-limit hints carried by err, if any.
func RateLimitInfoOf(err error) *RateLimitInfo {
	var sig *Signal
	if errors.As(err, &sig) {
		return sig.RateLimit
	}
	return nil
}

func classifyStatus(status int) ClassifiedError {
	switch {
	case status == 401 || status == 403:
		return ClassifiedError{
			Code:     CodeTransportUnauthorized,
			Category: CategoryTransport,
			Severity: SeverityHigh,
		}
	case status == 408 || status == 504:
		return ClassifiedError{
			Code:      CodeTransportTimeout,
			Category:  CategoryTransport,
			Severity:  SeverityLow,
			Retryable: true,
		}
	case status == 429:
		return ClassifiedError{
			Code:      CodeProtocolRateLimitExceeded,
			Category:  CategoryProtocol,
			Severity:  SeverityLow,
			Retryable: true,
		}
	case status >= 500:
		return ClassifiedError{
			Code:      CodeTransportError,
			Category:  CategoryTransport,
			Severity:  SeverityMedium,
			Retryable: true,
		}
	default:
		// Other 4xx, and non-error statuses reported as failures.
		return ClassifiedError{
			Code:     CodeTransportError,
			Category: CategoryTransport,
			Severity: SeverityMedium,
		}
	}
}

var (
	invalidPayloadCodes = []string{"invalid_payload", "malformed_request", "missing_field", "required_field_missing"}
	rateLimitCodes      = []string{"rate_limit_exceeded", "too_many_requests"}
	complianceCodes     = []string{"kyc_required", "kyc_not_verified", "compliance_violation", "sanctions_check_failed"}
)

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func classifyAnchorCode(code string) ClassifiedError {
	lower := strings.ToLower(code)
	switch {
	case containsAny(lower, invalidPayloadCodes):
		return ClassifiedError{
			Code:     CodeProtocolInvalidPayload,
			Category: CategoryProtocol,
			Severity: SeverityMedium,
		}
	case containsAny(lower, rateLimitCodes):
		return ClassifiedError{
			Code:      CodeProtocolRateLimitExceeded,
			Category:  CategoryProtocol,
			Severity:  SeverityLow,
			Retryable: true,
		}
	case containsAny(lower, complianceCodes):
		return ClassifiedError{
			Code:     CodeProtocolComplianceViolation,
			Category: CategoryProtocol,
			Severity: SeverityCritical,
		}
	default:
		return ClassifiedError{
			Code:     CodeProtocolError,
			Category: CategoryProtocol,
			Severity: SeverityMedium,
		}
	}
}

func classifyNetwork(msg string) ClassifiedError {
	if strings.Contains(strings.ToLower(msg), "timeout") {
		return ClassifiedError{
			Code:      CodeTransportTimeout,
			Category:  CategoryTransport,
			Severity:  SeverityLow,
			Retryable: true,
		}
	}
	return ClassifiedError{
		Code:      CodeTransportError,
		Category:  CategoryTransport,
		Severity:  SeverityMedium,
		Retryable: true,
	}
}

// transient local conditions that may clear on their own.
var retryableLocal = map[Code]Severity{
	CodeStaleQuote:            SeverityLow,
	CodeNoQuotesAvailable:     SeverityLow,
	CodeQuoteNotFound:         SeverityMedium,
	CodeSessionNotFound:       SeverityMedium,
	CodeAttestationNotFound:   SeverityMedium,
	CodeCacheExpired:          SeverityMedium,
	CodeEndpointNotFound:      SeverityMedium,
	CodeServicesNotConfigured: SeverityMedium,
}

func classifyLocal(code Code) ClassifiedError {
	if sev, ok := retryableLocal[code]; ok {
		return ClassifiedError{
			Code:      code,
			Category:  CategoryApplication,
			Severity:  sev,
			Retryable: true,
		}
	}

	sev := SeverityMedium
	switch code {
	case CodeReplayAttack, CodeSessionReplayAttack, CodeComplianceNotMet:
		sev = SeverityCritical
	case CodeUnauthorizedAttestor:
		sev = SeverityHigh
	}
	return ClassifiedError{
		Code:     code,
		Category: CategoryApplication,
		Severity: sev,
	}
}
