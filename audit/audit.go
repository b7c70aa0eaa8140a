// Package audit records security-relevant outcomes (auth success/failure,
// token issuance, key lifecycle, project_scope denials) as structured log
// lines, with PII reduced to hashes before anything is written.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/nimbusid/authgateway/pkg/log"
)

// Event is one audit-worthy outcome.
type Event struct {
	Action       string // "login", "token_issued", "token_refreshed", "api_key_revoked", ...
	Outcome      string // "success", "denied", "error"
	Subject      string
	ClientID     string
	ProjectScope string
	IP           string
	Reason       string

	RequestID  string
	UserAgent  string
	AuthSource string // "api_key", "bearer"; which validation path produced the outcome

	// Requested/Allowed carry the project_scope_violation payload: the
	// scope the caller presented versus the route's allow-list.
	Requested string
	Allowed   string
}

// Logger writes audit events off the request's hot path: Record never
// blocks the caller on the underlying sink.
type Logger struct {
	base log.Logger
	ch   chan Event
}

// New starts a single background writer goroutine draining a bounded
// channel, so a burst of denied requests cannot apply backpressure to the
// request path that generated them.
func New(base log.Logger) *Logger {
	l := &Logger{base: base, ch: make(chan Event, 1024)}
	go l.run()
	return l
}

func (l *Logger) run() {
	for e := range l.ch {
		entry := l.base.WithField("audit_action", e.Action).
			WithField("audit_outcome", e.Outcome).
			WithField("ip_hash", HashIP(e.IP))
		if e.Subject != "" {
			entry = entry.WithField("subject", e.Subject)
		}
		if e.ClientID != "" {
			entry = entry.WithField("client_id", e.ClientID)
		}
		if e.ProjectScope != "" {
			entry = entry.WithField("project_scope", e.ProjectScope)
		}
		if e.Reason != "" {
			entry = entry.WithField("reason", e.Reason)
		}
		if e.RequestID != "" {
			entry = entry.WithField("request_id", e.RequestID)
		}
		if e.UserAgent != "" {
			entry = entry.WithField("user_agent", e.UserAgent)
		}
		if e.AuthSource != "" {
			entry = entry.WithField("auth_source", e.AuthSource)
		}
		if e.Requested != "" {
			entry = entry.WithField("requested", e.Requested)
		}
		if e.Allowed != "" {
			entry = entry.WithField("allowed", e.Allowed)
		}
		entry.Info("audit")
	}
}

// Record enqueues e for asynchronous logging. If the channel is full, the
// event is dropped rather than blocking: audit logging is best-effort
// observability, not the transactional event log in package eventstore.
func (l *Logger) Record(ctx context.Context, e Event) {
	select {
	case l.ch <- e:
	default:
		l.base.WithField("audit_action", e.Action).Warn("audit channel full, dropping event")
	}
}

// HashIP returns a stable, irreversible hash of an IP address for
// metadata/audit fields so raw client IPs never reach a log line.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
