// Package executor is the final gate between a validated action intent and
// the device. It re-checks everything the validator checked: the action
// must resolve in the catalog, and the resolved entity and service must
// each pass their own allowlist. A bug upstream must not be enough to move
// a switch.
package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/homewarden/warden/internal/catalog"
	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/requestctx"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/executor")

// ServiceCaller is the single platform capability the executor holds. It
// cannot read state or history; it can only invoke a service call.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service, entityID string) error
}

// Recorder is the subset of the audit logger the executor reports through.
type Recorder interface {
	Record(ctx context.Context, kind, correlationID, detail string, fields map[string]string)
}

// Result reports the outcome of one execution attempt.
type Result struct {
	Executed bool   `json:"executed"`
	Refused  bool   `json:"refused"`
	Reason   string `json:"reason,omitempty"`
}

// Executor dispatches catalog actions to the platform.
type Executor struct {
	catalog *catalog.Catalog
	caller  ServiceCaller
	audit   Recorder
}

// New creates an executor.
func New(cat *catalog.Catalog, caller ServiceCaller, audit Recorder) *Executor {
	return &Executor{catalog: cat, caller: caller, audit: audit}
}

// Execute attempts the named action. The platform is called at most once,
// and only after the action resolves and both allowlist checks pass. A
// refusal or a platform failure is reported in the Result, never as an
// error that could retrigger the call.
func (e *Executor) Execute(ctx context.Context, action string) Result {
	ctx, span := tracer.Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(attribute.String("executor.action", action))

	def, err := e.catalog.Resolve(action)
	if err != nil {
		e.record(ctx, "unauthorized_action_attempt", "execution refused, action not in catalog", map[string]string{"action": action})
		return refused("action not in catalog")
	}

	if !e.catalog.EntityAllowed(def.EntityID) {
		e.record(ctx, "unauthorized_entity_attempt", "execution refused, entity not allow-listed", map[string]string{
			"action":    action,
			"entity_id": def.EntityID,
		})
		return refused("entity not allow-listed")
	}

	if !e.catalog.ServiceAllowed(def.Domain, def.Service) {
		e.record(ctx, "action_refused", "execution refused, service not allow-listed", map[string]string{
			"action":  action,
			"service": def.Domain + "/" + def.Service,
		})
		return refused("service not allow-listed")
	}

	if err := e.caller.CallService(ctx, def.Domain, def.Service, def.EntityID); err != nil {
		log.Error().Err(err).Str("action", action).Msg("service_call_failed")
		e.record(ctx, "action_refused", fmt.Sprintf("platform call failed: %v", err), map[string]string{"action": action})
		return refused("platform call failed")
	}

	e.record(ctx, "action_executed", def.Description, map[string]string{
		"action":    action,
		"entity_id": def.EntityID,
		"service":   def.Domain + "/" + def.Service,
	})
	span.SetAttributes(attribute.Bool("executor.executed", true))
	return Result{Executed: true}
}

func refused(reason string) Result {
	return Result{Refused: true, Reason: reason}
}

func (e *Executor) record(ctx context.Context, kind, detail string, fields map[string]string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, kind, requestctx.CorrelationID(ctx), detail, fields)
}
