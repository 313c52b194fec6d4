// Package catalog holds the static table of known Blender releases and
// projects them into the logical Blender-version records the rest of the
// core operates on.
package catalog

import (
	"errors"
	"strconv"
	"time"

	"github.com/blext-tools/blext/internal/blplatform"
)

// ErrNotImplemented is returned by every code path that would construct a
// BLVersion from a non-official source. The catalog defines the hooks
// (SourceGit, SourceSmooshed) but the contract for them is deliberately left
// unspecified; see DESIGN.md's Open Question decision.
var ErrNotImplemented = errors.New("catalog: non-official Blender version sources are not implemented")

// Source distinguishes how a logical Blender version was derived.
type Source int

const (
	SourceOfficial Source = iota
	SourceGit
	SourceSmooshed
)

// PyVersion is a Python runtime version tuple as Blender reports it.
type PyVersion struct {
	Major, Minor, Patch int
	ReleaseLevel        string
	Serial              int
}

// Release is a static record of one catalogued Blender release.
type Release struct {
	Version        [3]int
	ReleaseInstant time.Time

	SupportedPlatforms []blplatform.Platform
	MinGlibcVersion    [2]int
	MinMacosVersion    [2]int
	PythonVersion      PyVersion

	ValidPythonTags       []string
	ValidABITags          []string
	ValidManifestVersions []string
	ValidExtensionTags    []string

	// VendoredSitePackages maps a package name, spelled as Blender's own
	// inventory spells it (not PEP 503 normalized), to the exact version
	// Blender ships inside its own Python environment.
	VendoredSitePackages map[string]string
}

// officialExtensionTags is Blender's curated extension-tag vocabulary,
// stable across the currently catalogued releases.
var officialExtensionTags = []string{
	"3D View", "Add Curve", "Add Mesh", "Animation", "Bake", "Camera",
	"Compositing", "Development", "Game Engine", "Geometry Nodes",
	"Grease Pencil", "Import-Export", "Lighting", "Material", "Modeling",
	"Mesh", "Node", "Object", "Paint", "Pipeline", "Physics", "Render",
	"Rigging", "Scene", "Sculpt", "Sequencer", "System", "Text Editor",
	"Tracking", "User Interface", "UV",
}

func instant(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// releases is the closed, static catalog of known Blender releases. Data is
// ported from original_source/blext/extyp/bl_release_official.py's
// per-release-family literals rather than re-derived.
var releases = []Release{
	release(4, 2, 0, instant(2024, time.July, 16), PyVersion{3, 11, 7, "final", 0}, false),
	release(4, 2, 1, instant(2024, time.August, 19), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 2, instant(2024, time.September, 17), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 3, instant(2024, time.October, 15), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 4, instant(2024, time.November, 19), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 5, instant(2024, time.December, 10), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 6, instant(2025, time.January, 14), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 7, instant(2025, time.February, 18), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 2, 8, instant(2025, time.March, 18), PyVersion{3, 11, 7, "final", 0}, true),
	release(4, 3, 0, instant(2024, time.November, 19), PyVersion{3, 11, 9, "final", 0}, true),
	release(4, 3, 1, instant(2024, time.December, 10), PyVersion{3, 11, 9, "final", 0}, true),
	release(4, 3, 2, instant(2025, time.January, 14), PyVersion{3, 11, 9, "final", 0}, true),
	release(4, 4, 0, instant(2025, time.March, 18), PyVersion{3, 11, 11, "final", 0}, true),
}

// release constructs a catalog Release entry. windowsArm64 gates whether the
// 4.2.0 exception (no windows-arm64 support) applies; macOS minimum steps up
// to (12,0) starting at 4.4.0 per spec.md §4.2.
func release(major, minor, patch int, instant time.Time, py PyVersion, windowsArm64 bool) Release {
	platforms := []blplatform.Platform{
		blplatform.LinuxX64, blplatform.MacosX64, blplatform.MacosArm64, blplatform.WindowsX64,
	}
	if windowsArm64 {
		platforms = append(platforms, blplatform.WindowsArm64)
	}

	minMacos := [2]int{11, 0}
	if major > 4 || (major == 4 && minor >= 4) {
		minMacos = [2]int{12, 0}
	}

	cpTag := "cp" + strconv.Itoa(py.Major) + strconv.Itoa(py.Minor)

	return Release{
		Version:            [3]int{major, minor, patch},
		ReleaseInstant:     instant,
		SupportedPlatforms: platforms,
		MinGlibcVersion:    [2]int{2, 28},
		MinMacosVersion:    minMacos,
		PythonVersion:      py,
		// Every extension-compatible Blender release so far ships Python 3.11,
		// so the valid interpreter tags are this fixed set rather than derived
		// from py; abi3 wheels built against any of cp36-cp311 stay loadable.
		ValidPythonTags:       []string{"py3", "cp36", "cp37", "cp38", "cp39", "cp310", "cp311"},
		ValidABITags:          []string{cpTag, "abi3", "none"},
		ValidManifestVersions: []string{"1.0.0"},
		ValidExtensionTags:    append([]string(nil), officialExtensionTags...),
		VendoredSitePackages:  vendoredSitePackages(major, minor),
	}
}

// vendoredSitePackages returns the exact package->version pins Blender's
// bundled Python ships for the given (major, minor) family, ported from
// bl_release_official.py's vendored_site_packages (one literal table per
// family; names are normalized downstream by depgraph.NormalizeName, so
// they're kept here exactly as the source spells them).
func vendoredSitePackages(major, minor int) map[string]string {
	switch {
	case major == 4 && minor == 2:
		return map[string]string{
			"autopep8":           "1.6.0",
			"certifi":            "2021.10.8",
			"charset_normalizer": "2.0.10",
			"Cython":             "0.29.30",
			"idna":               "3.3",
			"numpy":              "1.24.3",
			"pip":                "23.2.1",
			"pycodestyle":        "2.8.0",
			"requests":           "2.27.1",
			"setuptools":         "63.2.0",
			"toml":               "0.10.2",
			"urllib3":            "1.26.8",
			"zstandard":          "0.16.0",
		}
	case major == 4 && minor == 3:
		return map[string]string{
			"autopep8":           "2.3.1",
			"certifi":            "2021.10.8",
			"charset_normalizer": "2.0.10",
			"Cython":             "0.29.30",
			"idna":               "3.3",
			"numpy":              "1.24.3",
			"pip":                "24.0",
			"pycodestyle":        "2.12.1",
			"requests":           "2.27.1",
			"setuptools":         "63.2.0",
			"urllib3":            "1.26.8",
			"zstandard":          "0.16.0",
		}
	default: // 4.4 and later, until a newer family is catalogued.
		return map[string]string{
			"autopep8":           "2.3.1",
			"certifi":            "2021.10.8",
			"charset_normalizer": "2.0.10",
			"Cython":             "3.0.11",
			"idna":               "3.3",
			"numpy":              "1.26.4",
			"pip":                "24.0",
			"pycodestyle":        "2.12.1",
			"requests":           "2.27.1",
			"setuptools":         "63.2.0",
			"urllib3":            "1.26.8",
			"zstandard":          "0.16.0",
		}
	}
}

// All returns every catalogued release in ascending version order.
func All() []Release { return append([]Release(nil), releases...) }

// ByFamily returns all releases sharing the given (major, minor) pair.
func ByFamily(major, minor int) []Release {
	var out []Release

	for _, r := range releases {
		if r.Version[0] == major && r.Version[1] == minor {
			out = append(out, r)
		}
	}

	return out
}

// InRange returns the releases in the inclusive-lower, exclusive-upper range
// [vmin, vmax). A nil vmax means open above.
func InRange(vmin [3]int, vmax *[3]int) []Release {
	var out []Release

	for _, r := range releases {
		if lessVersion(r.Version, vmin) {
			continue
		}

		if vmax != nil && !lessVersion(r.Version, *vmax) {
			continue
		}

		out = append(out, r)
	}

	return out
}

func lessVersion(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return false
}
