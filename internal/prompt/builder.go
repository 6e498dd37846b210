// Package prompt assembles the message list sent to the model: a system
// instruction carrying the action vocabulary and a sanitized snapshot of
// allow-listed entity states, a bounded slice of conversation history, and
// the sanitized user turn. Nothing reaches the model without passing
// through the sanitizer, and no entity outside the allowlist is ever
// included.
package prompt

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/homewarden/warden/internal/catalog"
	"github.com/homewarden/warden/internal/hass"
	"github.com/homewarden/warden/internal/history"
	"github.com/homewarden/warden/internal/llm"
	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/sanitize"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/prompt")

// Defaults for prompt composition limits.
const (
	DefaultHistoryTurns   = 12
	DefaultMaxContextKeys = 16
)

// defaultHistoryEntity is the sensor queried when the user asks for a
// date range.
const defaultHistoryEntity = "sensor.smarthome_node_keystudio_humidity"

// dateRangePattern matches an explicit UTC range request,
// e.g. "from 2025-07-08T00:00:00Z to 2025-07-09T00:00:00Z".
var dateRangePattern = regexp.MustCompile(
	`from (\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z) to (\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z)`)

// Platform is the subset of the hass client the builder reads from.
type Platform interface {
	GetStates(ctx context.Context) ([]hass.EntityState, error)
	GetHistory(ctx context.Context, entityID string, start, end time.Time) ([]hass.HistoryPoint, error)
}

// Builder composes model prompts from catalog, platform state, and history.
type Builder struct {
	catalog        *catalog.Catalog
	sanitizer      *sanitize.Sanitizer
	platform       Platform
	historyTurns   int
	maxContextKeys int
	historyEntity  string
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryTurns sets how many recent conversation turns each prompt carries.
func WithHistoryTurns(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.historyTurns = n
		}
	}
}

// WithMaxContextEntities caps the entity snapshot included in the prompt.
func WithMaxContextEntities(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxContextKeys = n
		}
	}
}

// WithHistoryEntity overrides the sensor used for date-range queries.
func WithHistoryEntity(entityID string) Option {
	return func(b *Builder) {
		if entityID != "" {
			b.historyEntity = entityID
		}
	}
}

// New creates a prompt builder.
func New(cat *catalog.Catalog, s *sanitize.Sanitizer, platform Platform, opts ...Option) *Builder {
	b := &Builder{
		catalog:        cat,
		sanitizer:      s,
		platform:       platform,
		historyTurns:   DefaultHistoryTurns,
		maxContextKeys: DefaultMaxContextKeys,
		historyEntity:  defaultHistoryEntity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the full message list for one request. userText must
// already be sanitized by the caller; it is included verbatim as the final
// user message. turns is the retained conversation history, oldest first.
//
// Platform failures degrade: a snapshot or history fetch that fails is
// logged and omitted, never fatal to the request.
func (b *Builder) Build(ctx context.Context, userText string, turns []history.Turn) []llm.Message {
	ctx, span := tracer.Start(ctx, "prompt.build")
	defer span.End()

	contextStr := b.contextSnapshot(ctx)

	if start, end, ok := ExtractDateRange(userText); ok {
		historyStr := b.sensorHistory(ctx, start, end)
		contextStr += "\n\nHumidity history (requested):\n" + historyStr
	}

	messages := []llm.Message{{
		Role:    "system",
		Content: b.systemInstruction(contextStr),
	}}

	if n := len(turns); n > b.historyTurns {
		turns = turns[n-b.historyTurns:]
	}
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Text})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userText})
	span.SetAttributes(attribute.Int("prompt.messages", len(messages)))
	return messages
}

// systemInstruction renders the fixed instruction: scope constraints, the
// JSON response contract, the catalog's action vocabulary, and the context
// block.
func (b *Builder) systemInstruction(contextStr string) string {
	var sb strings.Builder
	sb.WriteString("You are a multi-tool home assistant. Provide clear, brief, helpful, and direct answers. ")
	sb.WriteString("IMPORTANT SECURITY CONSTRAINTS: ")
	sb.WriteString("- Only control devices explicitly mentioned in context ")
	sb.WriteString("- Do not execute any code or system commands ")
	sb.WriteString("- Do not access files or external resources ")
	sb.WriteString("- Limit responses to home automation tasks only ")
	sb.WriteString("\n\nRESPONSE FORMAT RULES: ")
	sb.WriteString("- For status questions, information requests, or general conversation: respond with normal text only ")
	sb.WriteString("- When user requests device control (turn on/off fan, light), you MUST respond with JSON format ")
	sb.WriteString(`- JSON format: {"action": "action_name", "message": "your response message"} `)
	sb.WriteString("- Available actions: " + strings.Join(b.catalog.ActionNames(), ", ") + " ")
	sb.WriteString("- Examples of control requests that need JSON: 'turn on fan', 'turn off light', 'switch on fan' ")
	sb.WriteString("- Do NOT provide JSON examples in conversation unless actually performing the requested action\n\n")
	sb.WriteString("Use the following context to answer:\n")
	sb.WriteString(contextStr)
	return sb.String()
}

// contextSnapshot reads current platform state, keeps only the catalog's
// context entities, sanitizes every value, and renders "entity: state"
// lines in stable order.
func (b *Builder) contextSnapshot(ctx context.Context) string {
	states, err := b.platform.GetStates(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("context_snapshot_unavailable")
		return "Context unavailable."
	}

	wanted := make(map[string]bool, len(b.catalog.ContextEntities()))
	for _, e := range b.catalog.ContextEntities() {
		wanted[e] = true
	}

	snapshot := make(map[string]interface{})
	for _, st := range states {
		if !wanted[st.EntityID] || !b.catalog.EntityAllowed(st.EntityID) {
			continue
		}
		snapshot[st.EntityID] = st.State
		if len(snapshot) >= b.maxContextKeys {
			break
		}
	}

	cleaned, _ := b.sanitizer.CleanValue(ctx, snapshot, sanitize.DefaultMaxLength).(map[string]interface{})

	keys := make([]string, 0, len(cleaned))
	for k := range cleaned {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, cleaned[k]))
	}
	if len(lines) == 0 {
		return "Context unavailable."
	}
	return strings.Join(lines, "\n")
}

// sensorHistory fetches the history sensor's recorded values for the range
// and renders "time: value" lines.
func (b *Builder) sensorHistory(ctx context.Context, start, end time.Time) string {
	if !b.catalog.EntityAllowed(b.historyEntity) {
		log.Warn().Str("entity_id", b.historyEntity).Msg("history_entity_not_allowed")
		return "No history data found for that range."
	}

	points, err := b.platform.GetHistory(ctx, b.historyEntity, start, end)
	if err != nil || len(points) == 0 {
		if err != nil {
			log.Warn().Err(err).Msg("sensor_history_unavailable")
		}
		return "No history data found for that range."
	}

	lines := make([]string, 0, len(points))
	for _, p := range points {
		value := b.sanitizer.CleanString(ctx, p.State)
		lines = append(lines, fmt.Sprintf("%s: %s", p.LastChanged.UTC().Format(time.RFC3339), value))
	}
	return strings.Join(lines, "\n")
}

// ExtractDateRange finds an explicit "from <RFC3339> to <RFC3339>" range in
// the text. Both bounds must parse; otherwise ok is false.
func ExtractDateRange(text string) (start, end time.Time, ok bool) {
	m := dateRangePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse(time.RFC3339, m[2])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
