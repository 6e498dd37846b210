package sanitize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	kind   string
	detail string
}

type fakeRecorder struct {
	events []recordedEvent
}

func (f *fakeRecorder) Record(_ context.Context, kind, _, detail string, _ map[string]string) {
	f.events = append(f.events, recordedEvent{kind: kind, detail: detail})
}

func (f *fakeRecorder) kinds() []string {
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.kind
	}
	return out
}

func TestClean(t *testing.T) {
	ctx := context.Background()
	s := MustNew()

	t.Run("plain text passes through", func(t *testing.T) {
		assert.Equal(t, "turn on the fan", s.Clean(ctx, "  turn on the fan  ", 0))
	})

	t.Run("dangerous fragments never survive", func(t *testing.T) {
		inputs := []string{
			"<script>alert(1)</script>",
			"click javascript:alert(1) now",
			"eval(document.cookie)",
			"exec('rm -rf')",
			"__import__('os')",
			"read ../../etc/passwd",
			"subprocess.run(['ls'])",
			"os.remove('x')",
			"open('/etc/shadow')",
			"VBSCRIPT:MsgBox(1)",
		}
		for _, in := range inputs {
			out := s.Clean(ctx, in, 0)
			for _, bad := range []string{"<script", "javascript:", "vbscript:", "eval(", "exec(", "__import__", "../", "subprocess", "os.", "open("} {
				assert.NotContains(t, strings.ToLower(out), bad, "input %q produced %q", in, out)
			}
		}
	})

	t.Run("markup is escaped", func(t *testing.T) {
		out := s.Clean(ctx, `<b onclick="x">hi</b>`, 0)
		assert.NotContains(t, out, "<b")
		assert.NotContains(t, out, "onclick=")
	})

	t.Run("truncates to limit", func(t *testing.T) {
		long := strings.Repeat("a", 1500)
		out := s.Clean(ctx, long, 0)
		assert.Len(t, out, DefaultMaxLength)
	})

	t.Run("custom limit", func(t *testing.T) {
		out := s.Clean(ctx, strings.Repeat("b", 100), 10)
		assert.Len(t, out, 10)
	})

	t.Run("empty input degrades to empty string", func(t *testing.T) {
		assert.Equal(t, "", s.Clean(ctx, "   ", 0))
	})
}

func TestCleanRecordsEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("truncation is reported", func(t *testing.T) {
		rec := &fakeRecorder{}
		s := MustNew(WithRecorder(rec))
		s.Clean(ctx, strings.Repeat("a", 1500), 0)
		assert.Contains(t, rec.kinds(), "input_truncated")
	})

	t.Run("stripping is reported with filter names", func(t *testing.T) {
		rec := &fakeRecorder{}
		s := MustNew(WithRecorder(rec))
		s.Clean(ctx, "eval(x) and eval(y) and ../secret", 0)
		require.Len(t, rec.events, 1)
		assert.Equal(t, "pattern_stripped", rec.events[0].kind)
		assert.Contains(t, rec.events[0].detail, "code_execution")
		assert.Contains(t, rec.events[0].detail, "path_traversal")
		// Repeated matches of one filter report once.
		assert.Equal(t, 1, strings.Count(rec.events[0].detail, "code_execution"))
	})

	t.Run("clean input reports nothing", func(t *testing.T) {
		rec := &fakeRecorder{}
		s := MustNew(WithRecorder(rec))
		s.Clean(ctx, "what is the temperature", 0)
		assert.Empty(t, rec.events)
	})
}

func TestCleanValue(t *testing.T) {
	ctx := context.Background()
	s := MustNew()

	t.Run("numbers and booleans pass through", func(t *testing.T) {
		in := map[string]any{
			"temperature": 21.5,
			"count":       3,
			"motion":      true,
			"state":       "on",
		}
		out, ok := s.CleanValue(ctx, in, 0).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 21.5, out["temperature"])
		assert.Equal(t, 3, out["count"])
		assert.Equal(t, true, out["motion"])
		assert.Equal(t, "on", out["state"])
	})

	t.Run("nested strings are cleaned", func(t *testing.T) {
		in := map[string]any{
			"attrs": map[string]any{
				"note": "eval(x) humid",
			},
			"list": []any{"javascript:x", 7},
		}
		out := s.CleanValue(ctx, in, 0).(map[string]any)
		attrs := out["attrs"].(map[string]any)
		assert.NotContains(t, attrs["note"].(string), "eval(")
		list := out["list"].([]any)
		assert.NotContains(t, list[0].(string), "javascript:")
		assert.Equal(t, 7, list[1])
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, s.CleanValue(ctx, nil, 0))
	})

	t.Run("excessive depth degrades to empty", func(t *testing.T) {
		deep := any("leaf")
		for i := 0; i < MaxDepth+2; i++ {
			deep = map[string]any{"k": deep}
		}
		out := s.CleanValue(ctx, deep, 0)
		for i := 0; i < MaxDepth-1; i++ {
			m, ok := out.(map[string]any)
			require.True(t, ok)
			out = m["k"]
		}
		assert.Equal(t, "", out)
	})
}

func TestSuspicious(t *testing.T) {
	s := MustNew()

	t.Run("detects payloads", func(t *testing.T) {
		for _, text := range []string{
			"<script>alert(1)</script>",
			"try javascript:void(0)",
			"eval(input)",
			"import os\nos.system('x')",
			"__import__('subprocess')",
			"getattr(obj, 'secret')",
		} {
			name, found := s.Suspicious(text)
			assert.True(t, found, "expected %q to be suspicious", text)
			assert.NotEmpty(t, name)
		}
	})

	t.Run("normal replies pass", func(t *testing.T) {
		for _, text := range []string{
			"The fan is now on.",
			`{"action": "turn_on_fan", "message": "Turning on the fan."}`,
			"The humidity is 45 percent.",
		} {
			_, found := s.Suspicious(text)
			assert.False(t, found, "expected %q to be clean", text)
		}
	})
}

func TestFilterFileOverride(t *testing.T) {
	t.Run("missing override file is skipped", func(t *testing.T) {
		s, err := New(WithFilterFile("/nonexistent/filters.yaml"))
		require.NoError(t, err)
		assert.NotNil(t, s)
	})
}
