package sanitize

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// FilterFile is the top-level YAML structure for a pattern config file.
type FilterFile struct {
	Filters []FilterConfig `yaml:"filters"`
}

// FilterConfig groups one or more regexes under a named filter.
type FilterConfig struct {
	Name     string          `yaml:"name" json:"name"`
	Category string          `yaml:"category" json:"category"`
	Enabled  *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns []PatternConfig `yaml:"patterns" json:"patterns"`
}

// PatternConfig is a single regex within a filter.
type PatternConfig struct {
	Regex string `yaml:"regex" json:"regex"`
}

// isEnabled returns true if the filter is enabled (defaults to true when nil).
func (f *FilterConfig) isEnabled() bool {
	if f.Enabled == nil {
		return true
	}
	return *f.Enabled
}

// Pattern is a compiled filter pattern used at runtime.
type Pattern struct {
	Name     string
	Category string
	Pattern  *regexp.Regexp
}

// ParseFilterFile parses filter YAML bytes into a FilterFile.
func ParseFilterFile(data []byte) (*FilterFile, error) {
	var ff FilterFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing filter YAML: %w", err)
	}
	return &ff, nil
}

// LoadFilterFile reads and parses a filter YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing override file as a no-op.
func LoadFilterFile(path string) (*FilterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading filter file %s: %w", path, err)
	}
	return ParseFilterFile(data)
}

// MergeFilters layers override filters over defaults, matching on Name.
// Later layers replace earlier ones; new filters are appended. Overrides may
// extend the pattern set but have no way to remove a default filter short of
// disabling it explicitly, which keeps the required coverage visible in config.
func MergeFilters(layers ...[]FilterConfig) []FilterConfig {
	index := make(map[string]int)
	var merged []FilterConfig

	for _, layer := range layers {
		for _, fc := range layer {
			if idx, exists := index[fc.Name]; exists {
				merged[idx] = fc
			} else {
				index[fc.Name] = len(merged)
				merged = append(merged, fc)
			}
		}
	}
	return merged
}

// CompilePatterns converts filter configs into compiled runtime patterns.
// Disabled filters are skipped. Each regex produces one Pattern entry.
func CompilePatterns(filters []FilterConfig) ([]Pattern, error) {
	var patterns []Pattern
	for _, f := range filters {
		if !f.isEnabled() {
			continue
		}
		for _, p := range f.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in filter %q: %w", p.Regex, f.Name, err)
			}
			patterns = append(patterns, Pattern{
				Name:     f.Name,
				Category: f.Category,
				Pattern:  compiled,
			})
		}
	}
	return patterns, nil
}
