// Package sanitize normalizes and scrubs untrusted text before it crosses any
// pipeline boundary: user utterances before they reach the prompt, entity
// state values before they reach the context, model output before it reaches
// the user, and every string before it reaches persistent storage.
//
// The denylist here is defense-in-depth layered under the catalog allowlist,
// not the safety boundary itself: a payload that survives stripping still
// cannot trigger a device action unless it resolves to an allow-listed
// catalog entry.
package sanitize

import (
	"context"
	"fmt"
	"html"
	"strings"

	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/requestctx"
	"github.com/homewarden/warden/patterns"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/sanitize")

const (
	// DefaultMaxLength is the global input length limit in bytes.
	DefaultMaxLength = 1000

	// MaxDepth bounds recursion over nested values so pathological nesting
	// cannot cause unbounded work.
	MaxDepth = 8
)

// Recorder is the subset of the audit logger the sanitizer reports through.
type Recorder interface {
	Record(ctx context.Context, kind, correlationID, detail string, fields map[string]string)
}

// Sanitizer strips dangerous patterns and enforces length limits.
// Safe for concurrent use once constructed.
type Sanitizer struct {
	deny       []Pattern
	suspicious []Pattern
	audit      Recorder
}

// Option configures a Sanitizer via the functional options pattern.
type Option func(*config)

type config struct {
	denyOverridePath string
	audit            Recorder
}

// WithFilterFile loads additional denylist filters from a YAML override file.
// If the file does not exist, it is silently skipped.
func WithFilterFile(path string) Option {
	return func(c *config) { c.denyOverridePath = path }
}

// WithRecorder sets the audit sink for truncation and strip events.
// Without it the sanitizer still cleans but emits no security events.
func WithRecorder(r Recorder) Option {
	return func(c *config) { c.audit = r }
}

// New creates a Sanitizer from the embedded default pattern files, with
// optional overrides layered on top.
func New(opts ...Option) (*Sanitizer, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	denyFile, err := ParseFilterFile(patterns.DenylistYAML())
	if err != nil {
		return nil, fmt.Errorf("loading default denylist: %w", err)
	}
	denyFilters := denyFile.Filters

	if cfg.denyOverridePath != "" {
		override, err := LoadFilterFile(cfg.denyOverridePath)
		if err != nil {
			return nil, fmt.Errorf("loading denylist override: %w", err)
		}
		if override != nil {
			denyFilters = MergeFilters(denyFilters, override.Filters)
		}
	}

	deny, err := CompilePatterns(denyFilters)
	if err != nil {
		return nil, fmt.Errorf("compiling denylist: %w", err)
	}

	suspFile, err := ParseFilterFile(patterns.SuspiciousYAML())
	if err != nil {
		return nil, fmt.Errorf("loading suspicious set: %w", err)
	}
	suspicious, err := CompilePatterns(suspFile.Filters)
	if err != nil {
		return nil, fmt.Errorf("compiling suspicious set: %w", err)
	}

	return &Sanitizer{deny: deny, suspicious: suspicious, audit: cfg.audit}, nil
}

// MustNew is like New but panics on error. Useful for zero-config startup
// where the embedded defaults are expected to always compile.
func MustNew(opts ...Option) *Sanitizer {
	s, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("sanitize.New: %v", err))
	}
	return s
}

// Clean scrubs text: HTML-escapes markup, deletes every denylist match, and
// truncates to maxLen (DefaultMaxLength when maxLen <= 0). Truncation and
// stripping are reported as security events. Clean never fails; input that
// cannot be salvaged degrades to the empty string.
func (s *Sanitizer) Clean(ctx context.Context, text string, maxLen int) string {
	_, span := tracer.Start(ctx, "sanitize.clean")
	defer span.End()

	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	out := strings.TrimSpace(text)
	out = html.EscapeString(out)

	var stripped []string
	for _, p := range s.deny {
		cleaned := p.Pattern.ReplaceAllString(out, "")
		if cleaned != out {
			stripped = append(stripped, p.Name)
			out = cleaned
		}
	}
	if len(stripped) > 0 {
		s.record(ctx, kindStripped, strings.Join(dedupe(stripped), ","))
	}

	if len(out) > maxLen {
		out = out[:maxLen]
		s.record(ctx, kindTruncated, fmt.Sprintf("input truncated to %d bytes", maxLen))
	}

	return strings.TrimSpace(out)
}

// CleanString is Clean with the default length limit.
func (s *Sanitizer) CleanString(ctx context.Context, text string) string {
	return s.Clean(ctx, text, DefaultMaxLength)
}

// CleanValue applies Clean recursively to every string leaf of a nested
// value. Numbers and booleans pass through untouched; any other non-string
// value is coerced via fmt.Sprint and cleaned. Recursion is bounded by
// MaxDepth; deeper structure degrades to the empty string.
func (s *Sanitizer) CleanValue(ctx context.Context, v any, maxLen int) any {
	return s.cleanValue(ctx, v, maxLen, 0)
}

func (s *Sanitizer) cleanValue(ctx context.Context, v any, maxLen, depth int) any {
	if depth >= MaxDepth {
		return ""
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return s.Clean(ctx, val, maxLen)
	case bool:
		return val
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[s.Clean(ctx, k, maxLen)] = s.cleanValue(ctx, inner, maxLen, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.cleanValue(ctx, inner, maxLen, depth+1)
		}
		return out
	default:
		return s.Clean(ctx, fmt.Sprint(val), maxLen)
	}
}

// Suspicious scans text against the model-output suspicious set and returns
// the name of the first matching filter. This is a detection pass, not a
// deletion pass: the caller replaces the whole reply on a hit.
func (s *Sanitizer) Suspicious(text string) (string, bool) {
	for _, p := range s.suspicious {
		if p.Pattern.MatchString(text) {
			return p.Name, true
		}
	}
	return "", false
}

const (
	kindTruncated = "input_truncated"
	kindStripped  = "pattern_stripped"
)

func (s *Sanitizer) record(ctx context.Context, kind, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, kind, requestctx.CorrelationID(ctx), detail, nil)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
