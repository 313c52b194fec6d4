package descriptor

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
)

// VendoredGroup is one supported Blender version's vendored-inventory
// optional-dependency group to install, e.g. group name "blender-4-2"
// pinning numpy==1.24.3 etc.
type VendoredGroup struct {
	GroupName string
	Pins      map[string]string // normalized name -> exact vendored version
}

// RewriteVendoredExtras rewrites the project descriptor to install
// optional-dependency groups corresponding to each supported Blender
// version's vendored inventory, pinned to the exact vendored version, and
// registers those groups as mutually conflicting extras (spec §4.7). The
// rewrite preserves formatting outside the managed span and marks it with
// `# MANAGED BY CORE` sentinel comments. Calling this against a
// script-sourced descriptor returns ErrScriptRewriteUnsupported (Open
// Question §9(ii); see DESIGN.md).
func RewriteVendoredExtras(raw []byte, groups []VendoredGroup, isScript bool) ([]byte, error) {
	if isScript {
		return nil, ErrScriptRewriteUnsupported
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupName < groups[j].GroupName })

	managed := renderManagedSpan(groups)

	lines := splitLines(string(raw))

	start, end, found := findManagedSpan(lines)

	var out []string

	switch {
	case found:
		out = append(out, lines[:start]...)
		out = append(out, managed...)
		out = append(out, lines[end+1:]...)
	default:
		out = append(out, lines...)
		if len(out) > 0 && out[len(out)-1] != "" {
			out = append(out, "")
		}

		out = append(out, managed...)
	}

	return []byte(strings.Join(out, "\n") + "\n"), nil
}

func renderManagedSpan(groups []VendoredGroup) []string {
	lines := []string{managedSentinel + " begin: vendored optional-dependency groups"}

	if len(groups) == 0 {
		lines = append(lines, managedSentinel+" end")

		return lines
	}

	lines = append(lines, "[project.optional-dependencies]")

	for _, g := range groups {
		names := make([]string, 0, len(g.Pins))
		for name := range g.Pins {
			names = append(names, name)
		}

		sort.Strings(names)

		var deps []string
		for _, name := range names {
			deps = append(deps, fmt.Sprintf("%q", name+"=="+g.Pins[name]))
		}

		lines = append(lines, fmt.Sprintf("%s = [%s]", g.GroupName, strings.Join(deps, ", ")))
	}

	lines = append(lines, "")
	lines = append(lines, "[tool.blext.conflicting-extras]")

	groupNames := make([]string, len(groups))
	for i, g := range groups {
		groupNames[i] = fmt.Sprintf("%q", g.GroupName)
	}

	lines = append(lines, fmt.Sprintf("groups = [%s]", strings.Join(groupNames, ", ")))
	lines = append(lines, managedSentinel+" end")

	return lines
}

func findManagedSpan(lines []string) (start, end int, found bool) {
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), managedSentinel+" begin") {
			start = i

			for j := i; j < len(lines); j++ {
				if strings.TrimSpace(lines[j]) == managedSentinel+" end" {
					return start, j, true
				}
			}

			return 0, 0, false
		}
	}

	return 0, 0, false
}

func splitLines(s string) []string {
	var lines []string

	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines
}
