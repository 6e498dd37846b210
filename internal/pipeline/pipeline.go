// Package pipeline orchestrates one assistant request end to end:
// sanitize, rotate and read history, build the prompt, call the model,
// validate the response, maybe execute an action, persist the exchange.
//
// The pipeline always produces a displayable reply. Model failures,
// refused actions, and history trouble degrade the answer; they never
// surface as an error to the person asking.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/homewarden/warden/internal/executor"
	"github.com/homewarden/warden/internal/history"
	"github.com/homewarden/warden/internal/llm"
	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/prompt"
	"github.com/homewarden/warden/internal/requestctx"
	"github.com/homewarden/warden/internal/sanitize"
	"github.com/homewarden/warden/internal/validator"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/pipeline")

// ModelUnavailableReply is returned when the model backend fails.
const ModelUnavailableReply = "The assistant is temporarily unavailable. Please try again in a moment."

// Recorder is the subset of the audit logger the pipeline reports through.
type Recorder interface {
	Record(ctx context.Context, kind, correlationID, detail string, fields map[string]string)
}

// Reply is the outcome of one request.
type Reply struct {
	Message       string `json:"message"`
	Action        string `json:"action,omitempty"`
	Executed      bool   `json:"executed"`
	CorrelationID string `json:"correlation_id"`
}

// Pipeline wires the assistant's stages together.
type Pipeline struct {
	sanitizer *sanitize.Sanitizer
	store     *history.Store
	builder   *prompt.Builder
	provider  llm.Provider
	validator *validator.Validator
	executor  *executor.Executor
	audit     Recorder

	model         string
	maxInputChars int
}

// Config carries the pipeline's collaborators and limits.
type Config struct {
	Sanitizer     *sanitize.Sanitizer
	Store         *history.Store
	Builder       *prompt.Builder
	Provider      llm.Provider
	Validator     *validator.Validator
	Executor      *executor.Executor
	Audit         Recorder
	Model         string
	MaxInputChars int
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = sanitize.DefaultMaxLength
	}
	return &Pipeline{
		sanitizer:     cfg.Sanitizer,
		store:         cfg.Store,
		builder:       cfg.Builder,
		provider:      cfg.Provider,
		validator:     cfg.Validator,
		executor:      cfg.Executor,
		audit:         cfg.Audit,
		model:         cfg.Model,
		maxInputChars: maxChars,
	}
}

// Handle processes one user utterance and returns a reply. It assigns a
// correlation ID if the context doesn't carry one, so every audit event
// from the request shares it.
func (p *Pipeline) Handle(ctx context.Context, userText string) Reply {
	if requestctx.CorrelationID(ctx) == "" {
		ctx = requestctx.SetCorrelationID(ctx, "req_"+uuid.New().String()[:12])
	}
	correlationID := requestctx.CorrelationID(ctx)

	ctx, span := tracer.Start(ctx, "pipeline.handle")
	defer span.End()
	span.SetAttributes(attribute.String("request.correlation_id", correlationID))

	cleaned := p.sanitizer.Clean(ctx, userText, p.maxInputChars)

	if err := p.store.MaybeRotate(ctx); err != nil {
		log.Warn().Err(err).Msg("history_rotation_failed")
	}
	turns, err := p.store.Recent(ctx, 0)
	if err != nil {
		log.Warn().Err(err).Msg("history_read_failed")
		turns = nil
	}

	messages := p.builder.Build(ctx, cleaned, turns)

	resp, err := p.provider.Generate(ctx, &llm.Request{Model: p.model, Messages: messages})
	if err != nil {
		log.Error().Err(err).Msg("model_call_failed")
		p.record(ctx, "model_failure", err.Error())
		return Reply{Message: ModelUnavailableReply, CorrelationID: correlationID}
	}

	result := p.validator.Validate(ctx, resp.Content)

	reply := Reply{Message: result.Message, CorrelationID: correlationID}
	if result.Action != "" {
		outcome := p.executor.Execute(ctx, result.Action)
		reply.Action = result.Action
		reply.Executed = outcome.Executed
	}

	if err := p.store.AppendExchange(ctx, cleaned, reply.Message); err != nil {
		log.Warn().Err(err).Msg("history_append_failed")
	}

	span.SetAttributes(
		attribute.String("pipeline.action", reply.Action),
		attribute.Bool("pipeline.executed", reply.Executed),
	)
	return reply
}

func (p *Pipeline) record(ctx context.Context, kind, detail string) {
	if p.audit == nil {
		return
	}
	p.audit.Record(ctx, kind, requestctx.CorrelationID(ctx), detail, nil)
}
