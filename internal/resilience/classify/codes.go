package classify

import "fmt"

// Code is the stable numeric identifier of a classified failure.
type Code int

const (
	CodeUnknown Code = 0

	CodeAlreadyInitialized Code = 1001
	CodeNotInitialized     Code = 1002

	CodeUnauthorizedAttestor      Code = 1101
	CodeAttestorAlreadyRegistered Code = 1102
	CodeAttestorNotRegistered     Code = 1103

	CodeReplayAttack     Code = 1201
	CodeInvalidTimestamp Code = 1202

	CodeAttestationNotFound Code = 1301

	CodeInvalidEndpointFormat Code = 1401
	CodeEndpointNotFound      Code = 1402

	CodeServicesNotConfigured Code = 1501

	CodeSessionNotFound     Code = 1601
	CodeInvalidSessionID    Code = 1602
	CodeSessionReplayAttack Code = 1603

	CodeInvalidQuote      Code = 1701
	CodeStaleQuote        Code = 1702
	CodeNoQuotesAvailable Code = 1703
	CodeQuoteNotFound     Code = 1704

	CodeInvalidTransactionIntent Code = 1801
	CodeComplianceNotMet         Code = 1802

	CodeInvalidConfig Code = 1901

	CodeInvalidCredentialFormat Code = 2001
	CodeCredentialNotFound      Code = 2002
	CodeCredentialExpired       Code = 2003

	CodeTransportError        Code = 2201
	CodeTransportTimeout      Code = 2202
	CodeTransportUnauthorized Code = 2203

	CodeProtocolError               Code = 2301
	CodeProtocolInvalidPayload      Code = 2302
	CodeProtocolRateLimitExceeded   Code = 2303
	CodeProtocolComplianceViolation Code = 2304

	CodeCacheExpired  Code = 2401
	CodeCacheNotFound Code = 2402

	// CodeRateLimitExceeded is reported when the local gate denies a call.
	CodeRateLimitExceeded Code = 2501
)

var codeNames = map[Code]string{
	CodeUnknown:                     "unknown",
	CodeAlreadyInitialized:          "already_initialized",
	CodeNotInitialized:              "not_initialized",
	CodeUnauthorizedAttestor:        "unauthorized_attestor",
	CodeAttestorAlreadyRegistered:   "attestor_already_registered",
	CodeAttestorNotRegistered:       "attestor_not_registered",
	CodeReplayAttack:                "replay_attack",
	CodeInvalidTimestamp:            "invalid_timestamp",
	CodeAttestationNotFound:         "attestation_not_found",
	CodeInvalidEndpointFormat:       "invalid_endpoint_format",
	CodeEndpointNotFound:            "endpoint_not_found",
	CodeServicesNotConfigured:       "services_not_configured",
	CodeSessionNotFound:             "session_not_found",
	CodeInvalidSessionID:            "invalid_session_id",
	CodeSessionReplayAttack:         "session_replay_attack",
	CodeInvalidQuote:                "invalid_quote",
	CodeStaleQuote:                  "stale_quote",
	CodeNoQuotesAvailable:           "no_quotes_available",
	CodeQuoteNotFound:               "quote_not_found",
	CodeInvalidTransactionIntent:    "invalid_transaction_intent",
	CodeComplianceNotMet:            "compliance_not_met",
	CodeInvalidConfig:               "invalid_config",
	CodeInvalidCredentialFormat:     "invalid_credential_format",
	CodeCredentialNotFound:          "credential_not_found",
	CodeCredentialExpired:           "credential_expired",
	CodeTransportError:              "transport_error",
	CodeTransportTimeout:            "transport_timeout",
	CodeTransportUnauthorized:       "transport_unauthorized",
	CodeProtocolError:               "protocol_error",
	CodeProtocolInvalidPayload:      "protocol_invalid_payload",
	CodeProtocolRateLimitExceeded:   "protocol_rate_limit_exceeded",
	CodeProtocolComplianceViolation: "protocol_compliance_violation",
	CodeCacheExpired:                "cache_expired",
	CodeCacheNotFound:               "cache_not_found",
	CodeRateLimitExceeded:           "rate_limit_exceeded",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Category groups failures by the layer they originate from.
type Category int

const (
	CategoryTransport Category = iota
	CategoryProtocol
	CategoryApplication
)

func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryProtocol:
		return "protocol"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Severity ranks how urgently a failure needs attention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
