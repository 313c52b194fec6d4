// Package descriptor parses the project descriptor (a TOML file with a
// [tool.<core>] section) or a single-file script's inline metadata block,
// validates required fields, and resolves release profiles (spec §4.7, §6).
package descriptor

import (
	"errors"
	"fmt"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Maintainer is one entry of [project.maintainers].
type Maintainer struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// Project is the [project] table.
type Project struct {
	Name                 string              `toml:"name"`
	Version              string              `toml:"version"`
	Description          string              `toml:"description"`
	License              string              `toml:"license"`
	RequiresPython       string              `toml:"requires-python"`
	Maintainers          []Maintainer        `toml:"maintainers"`
	URLs                 map[string]string   `toml:"urls"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
}

// InitSettingsProfile is the logging-configuration half of a release profile.
type InitSettingsProfile struct {
	UseLogFile      bool   `toml:"use_log_file"`
	LogFileName     string `toml:"log_file_name"`
	LogFileLevel    string `toml:"log_file_level"`
	UseLogConsole   bool   `toml:"use_log_console"`
	LogConsoleLevel string `toml:"log_console_level"`
}

// Profile is a named release profile: initial-settings values plus an
// optional map of post-construction field overrides.
type Profile struct {
	InitSettingsProfile
	Overrides map[string]any `toml:"overrides"`
}

// Tool is the [tool.<core>] table.
type Tool struct {
	PrettyName          string             `toml:"pretty_name"`
	BlenderVersionMin   string             `toml:"blender_version_min"`
	BlenderVersionMax   string             `toml:"blender_version_max"`
	Copyright           []string           `toml:"copyright"`
	SupportedPlatforms  []string           `toml:"supported_platforms"`
	Permissions         map[string]string  `toml:"permissions"`
	BLTags              []string           `toml:"bl_tags"`
	MinGlibcVersion     []int              `toml:"min_glibc_version"`
	MinMacosVersion     []int              `toml:"min_macos_version"`
	SupportedPythonTags []string           `toml:"supported_python_tags"`
	SupportedABITags    []string           `toml:"supported_abi_tags"`
	Profiles            map[string]Profile `toml:"profiles"`
}

// Descriptor is the parsed shape of a project descriptor or inline-script
// metadata block.
type Descriptor struct {
	Project Project        `toml:"project"`
	Tool    map[string]Tool `toml:"tool"`

	toolKey  string // the "<core>" key actually present under [tool]
	isScript bool
}

// ToolSection returns the [tool.<core>] table that was found.
func (d *Descriptor) ToolSection() Tool { return d.Tool[d.toolKey] }

// standardProfiles is the closed set of built-in profile names (spec §4.7).
var standardProfiles = map[string]InitSettingsProfile{
	"test": {UseLogFile: true, LogFileName: "blext-test.log", LogFileLevel: "debug", UseLogConsole: true, LogConsoleLevel: "debug"},
	"dev":  {UseLogFile: true, LogFileName: "blext-dev.log", LogFileLevel: "info", UseLogConsole: true, LogConsoleLevel: "info"},
	"release":       {UseLogFile: false, LogFileName: "", LogFileLevel: "warning", UseLogConsole: false, LogConsoleLevel: "warning"},
	"release-debug": {UseLogFile: true, LogFileName: "blext-release-debug.log", LogFileLevel: "info", UseLogConsole: false, LogConsoleLevel: "warning"},
}

// FieldError names one missing or malformed descriptor field, with the
// observed value and a one-line remedy (spec §7 Descriptor error).
type FieldError struct {
	Field   string
	Observed string
	Remedy  string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %s: %s (%s)", e.Field, e.Observed, e.Remedy)
}

// AggregateError collects every FieldError found in a single pass.
type AggregateError struct{ Fields []FieldError }

func (e *AggregateError) Error() string {
	return fmt.Sprintf("%d descriptor error(s)", len(e.Fields))
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Fields))
	for i, f := range e.Fields {
		errs[i] = f
	}

	return errs
}

// toolSectionName is the key under [tool.*] this descriptor format uses.
const toolSectionName = "blext"

// Parse parses a project descriptor from TOML bytes and validates required
// fields, aggregating every violation before returning.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor

	if err := toml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing project descriptor: %w", err)
	}

	d.toolKey = toolSectionName

	if err := d.validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

func (d *Descriptor) validate() error {
	var fields []FieldError

	req := func(field, value string) {
		if value == "" {
			fields = append(fields, FieldError{Field: field, Observed: "not set", Remedy: "add " + field + " to the descriptor"})
		}
	}

	req("project.name", d.Project.Name)
	req("project.version", d.Project.Version)
	req("project.description", d.Project.Description)
	req("project.license", d.Project.License)
	req("project.requires-python", d.Project.RequiresPython)

	if len(d.Project.Maintainers) == 0 || d.Project.Maintainers[0].Name == "" {
		fields = append(fields, FieldError{
			Field:    "project.maintainers[0].name",
			Observed: "not set",
			Remedy:   "add at least one maintainer with a name and email",
		})
	}

	tool, ok := d.Tool[d.toolKey]
	if !ok {
		fields = append(fields, FieldError{
			Field:    "tool." + d.toolKey,
			Observed: "not set",
			Remedy:   "add a [tool." + d.toolKey + "] section",
		})
	} else {
		req("tool."+d.toolKey+".pretty_name", tool.PrettyName)
		req("tool."+d.toolKey+".blender_version_min", tool.BlenderVersionMin)

		if len(tool.Copyright) == 0 {
			fields = append(fields, FieldError{
				Field:    "tool." + d.toolKey + ".copyright",
				Observed: "not set",
				Remedy:   "add at least one copyright line",
			})
		}
	}

	if len(fields) > 0 {
		return &AggregateError{Fields: fields}
	}

	return nil
}

// ResolveProfile looks up a named release profile: the standard set first,
// then project-defined [tool.<core>.profiles.<name>] entries. Selecting a
// non-existent custom profile with a non-standard id is fatal, naming the
// standard set (spec §4.7).
func (d *Descriptor) ResolveProfile(name string) (InitSettingsProfile, map[string]any, error) {
	if std, ok := standardProfiles[name]; ok {
		if custom, ok := d.ToolSection().Profiles[name]; ok {
			return custom.InitSettingsProfile, custom.Overrides, nil
		}

		return std, nil, nil
	}

	if custom, ok := d.ToolSection().Profiles[name]; ok {
		return custom.InitSettingsProfile, custom.Overrides, nil
	}

	names := make([]string, 0, len(standardProfiles))
	for n := range standardProfiles {
		names = append(names, n)
	}

	return InitSettingsProfile{}, nil, fmt.Errorf(
		"unknown release profile %q: standard profiles are %s", name, strings.Join(names, ", "),
	)
}

// ErrScriptRewriteUnsupported is returned by RewriteVendoredExtras for
// script-sourced descriptors. See DESIGN.md's Open Question decision on
// §9(ii): the single-file script path only stubs this in the source this
// tool is grounded on, so this tool fails fast rather than guess a contract.
var ErrScriptRewriteUnsupported = errors.New("descriptor: script-extension dependency rewriting is not specified")

// managedSentinel marks the start/end of a descriptor span the core owns.
const managedSentinel = "# MANAGED BY CORE"
