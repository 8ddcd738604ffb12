package gateway

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// Record is one audit entry per admission decision.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Identity  string    `json:"identity"`
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	UserAgent string    `json:"user_agent,omitempty"`
	Decision  Decision  `json:"decision"`
}

// AuditSink receives one record per admission decision. Emit returns an
// error so the gateway can observe sink failures, but the gateway only ever
// logs them: a failing sink never alters a decision already made.
type AuditSink interface {
	Emit(Record) error
}

// LogSink writes audit records to the process log.
type LogSink struct{}

// Emit logs one admission record.
func (LogSink) Emit(rec Record) error {
	verdict := "allow"
	if !rec.Decision.Allowed {
		verdict = "deny:" + string(rec.Decision.Kind)
	}
	log.Printf("[audit] %s %s identity=%s ip=%s tier=%s %s/%s remaining=%d",
		rec.ID, verdict, rec.Identity, rec.IP, rec.Decision.Tier,
		rec.Decision.Feature, rec.Decision.Action, rec.Decision.Remaining)
	return nil
}

// newRecord builds an audit record for a finished decision.
func newRecord(d Decision, ip, path, userAgent string, at time.Time) Record {
	return Record{
		ID:        uuid.New().String(),
		Timestamp: at,
		Identity:  d.Identity,
		IP:        ip,
		Path:      path,
		UserAgent: userAgent,
		Decision:  d,
	}
}
