// Package wheel parses Python wheel filenames and tests their compatibility
// against a target Blender version's interpreter/ABI tags and a target
// platform's architecture and OS-version floor.
package wheel

import (
	"fmt"
	"strconv"
	"strings"
)

// Tags holds the parsed PEP 425/600 compatibility tag sets of a wheel
// filename. Each field may contain several dot-separated alternatives
// (e.g. "py2.py3"), already split into independent entries.
type Tags struct {
	Python   []string
	ABI      []string
	Platform []string
}

// ParseFilename parses a wheel filename of the form
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl.
func ParseFilename(filename string) (name, version, build string, tags Tags, err error) {
	base := strings.TrimSuffix(filename, ".whl")
	if base == filename {
		return "", "", "", Tags{}, fmt.Errorf("invalid wheel filename %q: missing .whl suffix", filename)
	}

	parts := strings.Split(base, "-")
	if len(parts) < 5 {
		return "", "", "", Tags{}, fmt.Errorf("invalid wheel filename %q: expected at least 5 dash-separated segments", filename)
	}

	pyField := parts[len(parts)-3]
	abiField := parts[len(parts)-2]
	platField := parts[len(parts)-1]

	name = parts[0]
	version = parts[1]

	if len(parts) == 6 {
		build = parts[2]
	}

	tags = Tags{
		Python:   normalizePlatformTags(strings.Split(pyField, ".")),
		ABI:      strings.Split(abiField, "."),
		Platform: normalizePlatformTags(strings.Split(platField, ".")),
	}

	return name, version, build, tags, nil
}

// legacyManylinuxAliases maps legacy manylinux tag prefixes to their PEP 600
// glibc-version equivalents.
var legacyManylinuxAliases = map[string]string{
	"manylinux1_":    "manylinux_2_5_",
	"manylinux2010_": "manylinux_2_12_",
	"manylinux2014_": "manylinux_2_17_",
}

// normalizePlatformTags rewrites legacy manylinux{1,2010,2014} tags to their
// PEP 600 manylinux_X_Y equivalents, dropping the legacy form whenever its
// PEP 600 equivalent is already present among the tags.
func normalizePlatformTags(raw []string) []string {
	present := map[string]bool{}
	for _, t := range raw {
		present[t] = true
	}

	out := make([]string, 0, len(raw))

	for _, t := range raw {
		normalized := t

		for legacyPrefix, modernPrefix := range legacyManylinuxAliases {
			if strings.HasPrefix(t, legacyPrefix) {
				normalized = modernPrefix + strings.TrimPrefix(t, legacyPrefix)

				break
			}
		}

		if normalized != t && present[normalized] {
			// The PEP 600 equivalent is already one of the wheel's own tags;
			// drop this legacy duplicate.
			continue
		}

		out = append(out, normalized)
	}

	return out
}

// glibcVersion parses the (X, Y) pair out of a manylinux_X_Y_<arch> tag.
func glibcVersion(tag string) (major, minor int, ok bool) {
	if !strings.HasPrefix(tag, "manylinux_") {
		return 0, 0, false
	}

	fields := strings.SplitN(strings.TrimPrefix(tag, "manylinux_"), "_", 3)
	if len(fields) < 2 {
		return 0, 0, false
	}

	maj, err1 := strconv.Atoi(fields[0])
	min, err2 := strconv.Atoi(fields[1])

	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return maj, min, true
}

// macosVersion parses the (X, Y) pair out of a macosx_X_Y_<arch> tag.
func macosVersion(tag string) (major, minor int, ok bool) {
	if !strings.HasPrefix(tag, "macosx_") {
		return 0, 0, false
	}

	fields := strings.SplitN(strings.TrimPrefix(tag, "macosx_"), "_", 3)
	if len(fields) < 2 {
		return 0, 0, false
	}

	maj, err1 := strconv.Atoi(fields[0])
	min, err2 := strconv.Atoi(fields[1])

	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return maj, min, true
}

