// Package validator screens raw model output before anything acts on it.
//
// The model is untrusted. Its output is sanitized, swept for suspicious
// content, and only then parsed for a structured action intent. A response
// that fails any gate degrades to plain text or to a fixed refusal; the
// validator never errors a request out.
package validator

import (
	"context"
	"encoding/json"
	"html"
	"regexp"

	"go.opentelemetry.io/otel/attribute"

	"github.com/homewarden/warden/internal/catalog"
	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/requestctx"
	"github.com/homewarden/warden/internal/sanitize"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/validator")

// SafeFallback replaces any response carrying suspicious content.
const SafeFallback = "I apologize, but I cannot process that request for security reasons."

// jsonBlockPattern extracts the outermost brace-delimited block. (?s) lets
// the action JSON span lines.
var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Result is the screened outcome of one model response. Action is either
// empty or the name of a catalog action; Message is always safe to show.
type Result struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
	Parsed  bool   `json:"parsed"`
}

// Recorder is the subset of the audit logger the validator reports through.
type Recorder interface {
	Record(ctx context.Context, kind, correlationID, detail string, fields map[string]string)
}

// Validator screens model responses against the sanitizer's suspicious set
// and the action catalog.
type Validator struct {
	sanitizer *sanitize.Sanitizer
	catalog   *catalog.Catalog
	audit     Recorder
}

// New creates a response validator.
func New(s *sanitize.Sanitizer, cat *catalog.Catalog, audit Recorder) *Validator {
	return &Validator{sanitizer: s, catalog: cat, audit: audit}
}

// Validate screens one raw model response. The result always carries a
// displayable message; Action is set only when the response parsed as JSON
// naming an action the catalog resolves.
func (v *Validator) Validate(ctx context.Context, raw string) Result {
	ctx, span := tracer.Start(ctx, "validator.validate")
	defer span.End()

	cleaned := v.sanitizer.CleanString(ctx, raw)

	// Suspicious sweep runs on the pre-sanitized text too: escaping must
	// not be able to hide a payload from detection.
	if name, found := v.firstSuspicious(raw, cleaned); found {
		v.record(ctx, "suspicious_response_content", "response replaced with safe fallback", map[string]string{"filter": name})
		span.SetAttributes(attribute.Bool("validator.suspicious", true))
		return Result{Message: SafeFallback}
	}

	block := jsonBlockPattern.FindString(cleaned)
	if block == "" {
		// Conversational response. Still recorded: a control request the
		// model answered without the JSON shape looks exactly like this.
		v.record(ctx, "json_parse_failure", "no structured block in response", nil)
		return Result{Message: cleaned}
	}

	// Sanitization HTML-escapes quotes inside the JSON block; undo that
	// before decoding. The suspicious sweep already ran on both forms.
	var parsed struct {
		Action  string `json:"action"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(html.UnescapeString(block)), &parsed); err != nil {
		v.record(ctx, "json_parse_failure", err.Error(), nil)
		return Result{Message: cleaned}
	}

	message := parsed.Message
	if message == "" {
		message = cleaned
	}

	if parsed.Action == "" {
		return Result{Message: message, Parsed: true}
	}
	if _, err := v.catalog.Resolve(parsed.Action); err != nil {
		v.record(ctx, "unauthorized_action_attempt", "model named an action outside the catalog", map[string]string{"action": parsed.Action})
		span.SetAttributes(attribute.Bool("validator.unauthorized_action", true))
		return Result{Message: message, Parsed: true}
	}

	span.SetAttributes(attribute.String("validator.action", parsed.Action))
	return Result{Action: parsed.Action, Message: message, Parsed: true}
}

// firstSuspicious checks both the raw and sanitized forms of the response
// and returns the first matching filter name.
func (v *Validator) firstSuspicious(raw, cleaned string) (string, bool) {
	if name, found := v.sanitizer.Suspicious(raw); found {
		return name, true
	}
	return v.sanitizer.Suspicious(cleaned)
}

func (v *Validator) record(ctx context.Context, kind, detail string, fields map[string]string) {
	if v.audit == nil {
		return
	}
	v.audit.Record(ctx, kind, requestctx.CorrelationID(ctx), detail, fields)
}
