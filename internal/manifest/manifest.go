// Package manifest emits and validates blender_manifest.toml and
// init_settings.toml, the two files every final-pack archive carries
// alongside its wheels and source (spec §4.9, §6).
package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Manifest is the field set spec.md §4.9/§6 names for blender_manifest.toml.
type Manifest struct {
	SchemaVersion   string            `toml:"schema_version"`
	ID              string            `toml:"id"`
	Name            string            `toml:"name"`
	Version         string            `toml:"version"`
	Tagline         string            `toml:"tagline"`
	Maintainer      string            `toml:"maintainer"`
	Type            string            `toml:"type"`
	BlenderVersionMin string          `toml:"blender_version_min"`
	BlenderVersionMax string          `toml:"blender_version_max,omitempty"`
	Platforms       []string          `toml:"platforms,omitempty"`
	Permissions     map[string]string `toml:"permissions,omitempty"`
	License         []string          `toml:"license"`
	Copyright       []string          `toml:"copyright"`
	Tags            []string          `toml:"tags,omitempty"`
	Website         string            `toml:"website,omitempty"`
	Wheels          []string          `toml:"wheels,omitempty"`
}

// InitSettings is the field set for init_settings.toml, written only when a
// release profile is active.
type InitSettings struct {
	UseLogFile      bool   `toml:"use_log_file"`
	LogFileName     string `toml:"log_file_name"`
	LogFileLevel    string `toml:"log_file_level"`
	UseLogConsole   bool   `toml:"use_log_console"`
	LogConsoleLevel string `toml:"log_console_level"`
}

// validLogLevels is the closed enum spec §6 names for log levels.
var validLogLevels = map[string]bool{"debug": true, "info": true, "warning": true, "error": true, "critical": true}

// validPermissions is the closed permission-key set spec §3 names.
var validPermissions = map[string]bool{
	"files": true, "network": true, "clipboard": true, "camera": true, "microphone": true,
}

var copyrightLineRe = regexp.MustCompile(`^(\d{4}(-\d{4})?)\s+\S.*$`)

var versionSegmentRe = regexp.MustCompile(`^\d+$`)

// ValidationError aggregates every schema-validation violation found for one
// manifest, mirroring what Blender's own manifest validator would reject
// (spec §4.9: "the validator is the authority").
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed: %s", strings.Join(e.Violations, "; "))
}

// Validate checks m against the rules spec §4.9 lists. All violations are
// collected before returning, per the aggregate-within-a-pass error policy.
func (m Manifest) Validate() error {
	var violations []string

	for _, seg := range strings.Split(m.Version, ".") {
		if !versionSegmentRe.MatchString(seg) {
			violations = append(violations, fmt.Sprintf("version segment %q is not digit-only", seg))
		}
	}

	if cmp := compareVersionStrings(m.BlenderVersionMin, "4.2.0"); cmp < 0 {
		violations = append(violations, fmt.Sprintf("blender_version_min %q must be >= 4.2.0", m.BlenderVersionMin))
	}

	for key, justification := range m.Permissions {
		if !validPermissions[key] {
			violations = append(violations, fmt.Sprintf("permission key %q is not in the closed set", key))

			continue
		}

		if err := validateTagline(justification); err != nil {
			violations = append(violations, fmt.Sprintf("permission %q justification: %s", key, err))
		}
	}

	for _, line := range m.Copyright {
		if !copyrightLineRe.MatchString(line) {
			violations = append(violations, fmt.Sprintf("copyright line %q must begin with a year or year range followed by a name", line))
		}
	}

	if err := validateTagline(m.Tagline); err != nil {
		violations = append(violations, fmt.Sprintf("tagline: %s", err))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}

	return nil
}

// validateTagline enforces the ≤64-char, alphanumeric-or-")]}"-terminal rule
// spec.md §3 Specification names for both taglines and permission
// justifications (both are "short justification strings" of the same shape).
func validateTagline(s string) error {
	if len(s) > 64 {
		return fmt.Errorf("exceeds 64 characters")
	}

	if s == "" {
		return fmt.Errorf("must not be empty")
	}

	last := rune(s[len(s)-1])

	isAlnum := (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z') || (last >= '0' && last <= '9')
	isCloser := last == ')' || last == ']' || last == '}'

	if !isAlnum && !isCloser {
		return fmt.Errorf("must end in an alphanumeric character or one of )]}")
	}

	return nil
}

func compareVersionStrings(a, b string) int {
	pa, pb := splitVersion(a), splitVersion(b)

	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}

			return 1
		}
	}

	return 0
}

func splitVersion(s string) [3]int {
	var out [3]int

	for i, part := range strings.SplitN(s, ".", 3) {
		if i >= 3 {
			break
		}

		n := 0
		for _, c := range part {
			if c < '0' || c > '9' {
				break
			}

			n = n*10 + int(c-'0')
		}

		out[i] = n
	}

	return out
}

// Marshal serializes m to TOML bytes.
func Marshal(m Manifest) ([]byte, error) {
	return toml.Marshal(m)
}

// SortedWheelPaths returns the sorted `./wheels/<filename>` relative paths
// spec §4.9 requires, or nil when filenames is empty (no `wheels` field is
// then emitted, and no wheels/ directory is produced).
func SortedWheelPaths(filenames []string) []string {
	if len(filenames) == 0 {
		return nil
	}

	out := make([]string, len(filenames))

	for i, f := range filenames {
		out[i] = "./wheels/" + f
	}

	sort.Strings(out)

	return out
}
