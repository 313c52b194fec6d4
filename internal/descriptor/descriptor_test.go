package descriptor_test

import (
	"strings"
	"testing"

	"github.com/blext-tools/blext/internal/descriptor"
)

const fixtureTOML = `
[project]
name = "exampleext"
version = "1.0.0"
description = "An example extension"
license = "MIT"
requires-python = ">=3.11"

[[project.maintainers]]
name = "Jane Doe"
email = "jane@example.com"

[tool.blext]
pretty_name = "Example Extension"
blender_version_min = "4.2.0"
blender_version_max = "4.2.1"
copyright = ["2024 Jane Doe"]
bl_tags = ["Import-Export"]
`

func TestParseValid(t *testing.T) {
	d, err := descriptor.Parse([]byte(fixtureTOML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if d.Project.Name != "exampleext" {
		t.Errorf("Project.Name = %q", d.Project.Name)
	}

	if d.ToolSection().PrettyName != "Example Extension" {
		t.Errorf("ToolSection().PrettyName = %q", d.ToolSection().PrettyName)
	}

	if d.IsScript() {
		t.Error("expected a project descriptor to report IsScript() == false")
	}
}

func TestParseAggregatesMissingFields(t *testing.T) {
	_, err := descriptor.Parse([]byte(`
[project]
name = "exampleext"

[tool.blext]
`))
	if err == nil {
		t.Fatal("expected an aggregate error for missing required fields")
	}

	aggErr, ok := err.(*descriptor.AggregateError)
	if !ok {
		t.Fatalf("expected *AggregateError, got %T", err)
	}

	if len(aggErr.Fields) < 3 {
		t.Errorf("expected several aggregated field errors, got %d: %+v", len(aggErr.Fields), aggErr.Fields)
	}
}

func TestParseRequiresToolSection(t *testing.T) {
	_, err := descriptor.Parse([]byte(`
[project]
name = "exampleext"
version = "1.0.0"
description = "An example extension"
license = "MIT"
requires-python = ">=3.11"

[[project.maintainers]]
name = "Jane Doe"
email = "jane@example.com"
`))
	if err == nil {
		t.Fatal("expected an error when [tool.blext] is absent entirely")
	}
}

func TestResolveProfileStandard(t *testing.T) {
	d, err := descriptor.Parse([]byte(fixtureTOML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	profile, overrides, err := d.ResolveProfile("release")
	if err != nil {
		t.Fatalf("ResolveProfile() error: %v", err)
	}

	if profile.UseLogFile {
		t.Error("expected the standard release profile to have logging to file disabled")
	}

	if overrides != nil {
		t.Errorf("expected no overrides for a standard profile with no project customization, got %v", overrides)
	}
}

func TestResolveProfileUnknown(t *testing.T) {
	d, err := descriptor.Parse([]byte(fixtureTOML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if _, _, err := d.ResolveProfile("nonexistent"); err == nil {
		t.Error("expected an error for an unknown, non-standard profile name")
	}
}

func TestExtractInlineBlock(t *testing.T) {
	source := []byte(`#!/usr/bin/env python
# /// script
# requires-python = ">=3.11"
# dependencies = []
# ///
print("hello")
`)

	text, err := descriptor.ExtractInlineBlock(source)
	if err != nil {
		t.Fatalf("ExtractInlineBlock() error: %v", err)
	}

	if !strings.Contains(text, `requires-python = ">=3.11"`) {
		t.Errorf("extracted text missing expected line:\n%s", text)
	}
}

func TestExtractInlineBlockMissing(t *testing.T) {
	if _, err := descriptor.ExtractInlineBlock([]byte("print('hello')\n")); err == nil {
		t.Error("expected an error when no metadata block is present")
	}
}

func TestExtractInlineBlockRejectsMultipleBlocks(t *testing.T) {
	source := []byte(`# /// script
# a = 1
# ///
# /// script
# b = 2
# ///
`)

	if _, err := descriptor.ExtractInlineBlock(source); err == nil {
		t.Error("expected an error for more than one metadata block")
	}
}

func TestParseScriptSetsIsScript(t *testing.T) {
	lines := strings.Split(fixtureTOML, "\n")

	var block strings.Builder

	block.WriteString("# /// script\n")

	for _, line := range lines {
		if line == "" {
			block.WriteString("#\n")
		} else {
			block.WriteString("# " + line + "\n")
		}
	}

	block.WriteString("# ///\n")

	d, err := descriptor.ParseScript([]byte(block.String()))
	if err != nil {
		t.Fatalf("ParseScript() error: %v", err)
	}

	if !d.IsScript() {
		t.Error("expected ParseScript to mark the descriptor as script-sourced")
	}
}

func TestRewriteVendoredExtrasRejectsScript(t *testing.T) {
	_, err := descriptor.RewriteVendoredExtras(nil, nil, true)
	if err != descriptor.ErrScriptRewriteUnsupported {
		t.Errorf("RewriteVendoredExtras(isScript=true) error = %v, want ErrScriptRewriteUnsupported", err)
	}
}

func TestRewriteVendoredExtrasAppendsManagedSpan(t *testing.T) {
	raw := []byte("[project]\nname = \"exampleext\"\n")

	groups := []descriptor.VendoredGroup{
		{GroupName: "blender-4-2", Pins: map[string]string{"numpy": "1.24.3"}},
	}

	out, err := descriptor.RewriteVendoredExtras(raw, groups, false)
	if err != nil {
		t.Fatalf("RewriteVendoredExtras() error: %v", err)
	}

	s := string(out)

	if !strings.Contains(s, "# MANAGED BY CORE begin") || !strings.Contains(s, "# MANAGED BY CORE end") {
		t.Errorf("expected a managed span, got:\n%s", s)
	}

	if !strings.Contains(s, `blender-4-2 = ["numpy==1.24.3"]`) {
		t.Errorf("expected the vendored pin to be rendered, got:\n%s", s)
	}
}

func TestRewriteVendoredExtrasReplacesExistingSpan(t *testing.T) {
	raw := []byte("[project]\nname = \"exampleext\"\n\n# MANAGED BY CORE begin: vendored optional-dependency groups\nstale = true\n# MANAGED BY CORE end\n")

	groups := []descriptor.VendoredGroup{
		{GroupName: "blender-4-2", Pins: map[string]string{"numpy": "1.24.3"}},
	}

	out, err := descriptor.RewriteVendoredExtras(raw, groups, false)
	if err != nil {
		t.Fatalf("RewriteVendoredExtras() error: %v", err)
	}

	if strings.Contains(string(out), "stale = true") {
		t.Errorf("expected the stale managed span to be replaced, got:\n%s", out)
	}
}
