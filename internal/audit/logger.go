// Package audit provides the append-only security event log.
//
// Every security-relevant decision in the pipeline produces one timestamped
// JSONL record. Kinds in use: input_truncated, pattern_stripped,
// unauthorized_entity_attempt, unauthorized_action_attempt,
// suspicious_response_content, json_parse_failure, history_rotated,
// history_cleared_by_age, history_reset, action_executed, action_refused,
// model_failure. Downstream tooling greps on the kind field, so values are
// stable identifiers.
//
// Each record is HMAC-SHA256 signed so tampering with the log file is
// detectable, and every field is scrubbed of control characters before it
// is written (log-injection defense).
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	wardenotel "github.com/homewarden/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/audit")

// maxFieldLen bounds every scrubbed field so a hostile value cannot bloat
// the log file.
const maxFieldLen = 500

// Event is a single security log record.
type Event struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Kind          string            `json:"kind"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Detail        string            `json:"detail,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	Signature     string            `json:"signature,omitempty"`
}

// Logger appends signed events to a JSONL file and mirrors them to zerolog.
// Safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	signer *Signer
}

// NewLogger opens (or creates) the audit log at path with an HMAC signer.
func NewLogger(path, signingKey string) (*Logger, error) {
	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating audit signer: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{path: path, file: f, signer: signer}, nil
}

// Close releases the log file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Record writes a signed event line. A write failure is logged but never
// returned to the caller: the pipeline must not fail a request because the
// audit sink is unavailable.
func (l *Logger) Record(ctx context.Context, kind, correlationID, detail string, fields map[string]string) {
	_, span := tracer.Start(ctx, "audit.record")
	defer span.End()

	ev := Event{
		ID:            "evt_" + uuid.New().String()[:12],
		Timestamp:     time.Now().UTC(),
		Kind:          scrubField(kind),
		CorrelationID: scrubField(correlationID),
		Detail:        scrubField(detail),
	}
	if len(fields) > 0 {
		ev.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			ev.Fields[scrubField(k)] = scrubField(v)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("audit_marshal_failed")
		return
	}
	sig, err := l.signer.Sign(payload)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("audit_sign_failed")
		return
	}
	ev.Signature = sig
	line, _ := json.Marshal(ev)

	l.mu.Lock()
	_, werr := l.file.Write(append(line, '\n'))
	l.mu.Unlock()
	if werr != nil {
		log.Error().Err(werr).Str("kind", kind).Msg("audit_write_failed")
	}

	log.Warn().
		Str("event_id", ev.ID).
		Str("kind", ev.Kind).
		Str("correlation_id", ev.CorrelationID).
		Str("detail", ev.Detail).
		Func(wardenotel.LogTraceFields(ctx)).
		Msg("security_event")
}

// Tail returns the last n events from the log file, oldest first.
// An unreadable or partially written line is skipped, not fatal.
func (l *Logger) Tail(n int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log for read: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// VerifyEvent checks the HMAC signature of a previously recorded event.
func (l *Logger) VerifyEvent(ev Event) bool {
	sig := ev.Signature
	ev.Signature = ""
	payload, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return l.signer.Verify(payload, sig)
}

// scrubField removes CR/LF and other control characters and caps length so a
// hostile value cannot forge extra log lines or bloat the file. Full content
// sanitization happens upstream; this is the last-line log-injection defense.
func scrubField(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxFieldLen {
		out = out[:maxFieldLen]
	}
	return out
}
