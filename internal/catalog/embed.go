package catalog

import _ "embed"

//go:embed catalog.default.yaml
var defaultYAML []byte

// DefaultYAML returns the embedded default catalog definition, e.g. for
// `warden validate --print-default`.
func DefaultYAML() []byte { return defaultYAML }
