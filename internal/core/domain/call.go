package domain

import "time"

// CallRecord is the audit entry of one orchestrated anchor call.
type CallRecord struct {
	ID            string    `db:"id"             json:"id"`
	RequestID     string    `db:"request_id"     json:"request_id,omitempty"`
	Anchor        string    `db:"anchor"         json:"anchor"`
	Operation     string    `db:"operation"      json:"operation"`
	Outcome       string    `db:"outcome"        json:"outcome"`
	Attempts      int       `db:"attempts"       json:"attempts"`
	TotalDelayMs  int64     `db:"total_delay_ms" json:"total_delay_ms"`
	ErrorCode     int       `db:"error_code"     json:"error_code,omitempty"`
	ErrorCategory string    `db:"error_category" json:"error_category,omitempty"`
	ErrorMessage  string    `db:"error_message"  json:"error_message,omitempty"`
	StartedAt     time.Time `db:"started_at"     json:"started_at"`
	CompletedAt   time.Time `db:"completed_at"   json:"completed_at"`
}

// Duration is the wall time of the call.
func (r *CallRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// OutcomeCount is the number of calls that ended with Outcome.
type OutcomeCount struct {
	Outcome string `db:"outcome" json:"outcome"`
	Count   int    `db:"count"   json:"count"`
}
