package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homewarden/warden/internal/catalog"
	"github.com/homewarden/warden/internal/sanitize"
)

type recordedEvent struct {
	kind   string
	fields map[string]string
}

type fakeRecorder struct {
	events []recordedEvent
}

func (f *fakeRecorder) Record(_ context.Context, kind, _, _ string, fields map[string]string) {
	f.events = append(f.events, recordedEvent{kind: kind, fields: fields})
}

func (f *fakeRecorder) kinds() []string {
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.kind
	}
	return out
}

func newTestValidator(t *testing.T) (*Validator, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	return New(sanitize.MustNew(), catalog.MustDefault(), rec), rec
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("structured action response", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, `{"action": "turn_on_fan", "message": "Turning on the fan."}`)

		assert.Equal(t, "turn_on_fan", res.Action)
		assert.Equal(t, "Turning on the fan.", res.Message)
		assert.True(t, res.Parsed)
		assert.Empty(t, rec.kinds())
	})

	t.Run("action JSON embedded in prose", func(t *testing.T) {
		v, _ := newTestValidator(t)
		res := v.Validate(ctx, `Sure! {"action": "turn_off_light", "message": "Light off."} Done.`)

		assert.Equal(t, "turn_off_light", res.Action)
		assert.Equal(t, "Light off.", res.Message)
	})

	t.Run("plain conversational response", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, "The humidity is 45 percent.")

		assert.Empty(t, res.Action)
		assert.Equal(t, "The humidity is 45 percent.", res.Message)
		assert.False(t, res.Parsed)
		assert.Equal(t, []string{"json_parse_failure"}, rec.kinds())
	})

	t.Run("unknown action is dropped, message kept", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, `{"action": "unlock_front_door", "message": "Unlocking the door."}`)

		assert.Empty(t, res.Action)
		assert.Equal(t, "Unlocking the door.", res.Message)
		assert.Contains(t, rec.kinds(), "unauthorized_action_attempt")
		require.NotEmpty(t, rec.events)
		assert.Equal(t, "unlock_front_door", rec.events[0].fields["action"])
	})

	t.Run("suspicious content replaced with safe fallback", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, `Here you go: <script>document.location='http://evil'</script>`)

		assert.Empty(t, res.Action)
		assert.Equal(t, SafeFallback, res.Message)
		assert.Contains(t, rec.kinds(), "suspicious_response_content")
	})

	t.Run("suspicious wins over action intent", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, `{"action": "turn_on_fan", "message": "eval(this)"}`)

		assert.Empty(t, res.Action)
		assert.Equal(t, SafeFallback, res.Message)
		assert.Contains(t, rec.kinds(), "suspicious_response_content")
	})

	t.Run("malformed JSON degrades to plain text", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, `{"action": "turn_on_fan", "message": `+"\n"+`I think that worked}`)

		assert.Empty(t, res.Action)
		assert.NotEmpty(t, res.Message)
		assert.False(t, res.Parsed)
		assert.Contains(t, rec.kinds(), "json_parse_failure")
	})

	t.Run("JSON without action is conversational", func(t *testing.T) {
		v, rec := newTestValidator(t)
		res := v.Validate(ctx, `{"message": "All sensors look normal."}`)

		assert.Empty(t, res.Action)
		assert.Equal(t, "All sensors look normal.", res.Message)
		assert.True(t, res.Parsed)
		assert.Empty(t, rec.kinds())
	})

	t.Run("quotes escaped by sanitization still parse", func(t *testing.T) {
		// The sanitizer HTML-escapes the double quotes inside the JSON
		// block; the validator must unescape before decoding.
		v, _ := newTestValidator(t)
		res := v.Validate(ctx, `{"action": "turn_off_fan", "message": "The fan's off now."}`)

		assert.Equal(t, "turn_off_fan", res.Action)
		assert.Equal(t, "The fan's off now.", res.Message)
	})

	t.Run("empty response yields empty message without action", func(t *testing.T) {
		v, _ := newTestValidator(t)
		res := v.Validate(ctx, "")
		assert.Empty(t, res.Action)
		assert.Empty(t, res.Message)
	})
}
