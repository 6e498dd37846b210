package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homewarden/warden/internal/catalog"
)

type serviceCall struct {
	domain, service, entityID string
}

type fakeCaller struct {
	calls []serviceCall
	err   error
}

func (f *fakeCaller) CallService(_ context.Context, domain, service, entityID string) error {
	f.calls = append(f.calls, serviceCall{domain, service, entityID})
	return f.err
}

type fakeRecorder struct {
	kinds []string
}

func (f *fakeRecorder) Record(_ context.Context, kind, _, _ string, _ map[string]string) {
	f.kinds = append(f.kinds, kind)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("allowed action is executed once", func(t *testing.T) {
		caller := &fakeCaller{}
		rec := &fakeRecorder{}
		e := New(catalog.MustDefault(), caller, rec)

		res := e.Execute(ctx, "turn_on_fan")

		assert.True(t, res.Executed)
		assert.False(t, res.Refused)
		require.Len(t, caller.calls, 1)
		assert.Equal(t, serviceCall{"switch", "turn_on", "switch.smarthome_node_dc_motor_fan"}, caller.calls[0])
		assert.Contains(t, rec.kinds, "action_executed")
	})

	t.Run("unknown action never reaches the platform", func(t *testing.T) {
		caller := &fakeCaller{}
		rec := &fakeRecorder{}
		e := New(catalog.MustDefault(), caller, rec)

		res := e.Execute(ctx, "unlock_front_door")

		assert.False(t, res.Executed)
		assert.True(t, res.Refused)
		assert.Empty(t, caller.calls)
		assert.Contains(t, rec.kinds, "unauthorized_action_attempt")
	})

	t.Run("platform failure is a refusal, not an error", func(t *testing.T) {
		caller := &fakeCaller{err: errors.New("connection refused")}
		rec := &fakeRecorder{}
		e := New(catalog.MustDefault(), caller, rec)

		res := e.Execute(ctx, "turn_off_light")

		assert.False(t, res.Executed)
		assert.True(t, res.Refused)
		assert.Equal(t, "platform call failed", res.Reason)
		// The call was attempted exactly once, no retry.
		assert.Len(t, caller.calls, 1)
		assert.Contains(t, rec.kinds, "action_refused")
	})

	t.Run("custom catalog action executes", func(t *testing.T) {
		cat, err := catalog.Parse([]byte(`
actions:
  - name: turn_on_fan
    domain: switch
    service: turn_on
    entity_id: switch.node_fan
allowed_entities:
  - switch.node_fan
allowed_services:
  - switch/turn_on
`))
		require.NoError(t, err)

		caller := &fakeCaller{}
		e := New(cat, caller, &fakeRecorder{})
		res := e.Execute(ctx, "turn_on_fan")
		assert.True(t, res.Executed)
		assert.Len(t, caller.calls, 1)
	})
}
