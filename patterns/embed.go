// Package patterns provides embedded default sanitizer pattern definitions.
// YAML files in this directory define the input denylist and the
// model-output suspicious set used by internal/sanitize.
package patterns

import _ "embed"

//go:embed denylist.yaml
var denylistYAML []byte

//go:embed suspicious.yaml
var suspiciousYAML []byte

// DenylistYAML returns the embedded input denylist pattern definitions.
func DenylistYAML() []byte { return denylistYAML }

// SuspiciousYAML returns the embedded model-output suspicious pattern definitions.
func SuspiciousYAML() []byte { return suspiciousYAML }
