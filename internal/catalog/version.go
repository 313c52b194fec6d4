package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/marker"
)

// BLVersion is either a single catalogued Release or a chunk: a coalesced
// set of consecutive releases that share, for a given extension, manifest
// schema, supported platforms, interpreter tags, ABI tags, and
// extension-tag vocabulary.
type BLVersion struct {
	Source   Source
	Releases []Release // sorted ascending by Version; len==1 for a granular version
}

// FromRelease projects a single catalog Release into a granular BLVersion.
func FromRelease(r Release) BLVersion {
	return BLVersion{Source: SourceOfficial, Releases: []Release{r}}
}

// FromGitCheckout would construct a BLVersion tracking a non-official git
// checkout of Blender. Left unimplemented; see DESIGN.md's Open Question
// decision and original_source/blext/extyp/bl_version.py's BLVersionSourceGit.
func FromGitCheckout(_ string) (BLVersion, error) {
	return BLVersion{}, ErrNotImplemented
}

// MinVersion returns the chunk's minimum version, embedded in the manifest
// as blender_version_min.
func (v BLVersion) MinVersion() [3]int { return v.Releases[0].Version }

// MaxVersionExclusive returns the chunk's exclusive maximum version, derived
// as "one patch past the last release", embedded as blender_version_max.
func (v BLVersion) MaxVersionExclusive() [3]int {
	last := v.Releases[len(v.Releases)-1].Version

	return [3]int{last[0], last[1], last[2] + 1}
}

// DisplayString renders a single version, an "va-vb" range, or (for
// non-official sources) an enumeration.
func (v BLVersion) DisplayString() string {
	if v.Source != SourceOfficial {
		parts := make([]string, len(v.Releases))
		for i, r := range v.Releases {
			parts[i] = versionString(r.Version)
		}

		return strings.Join(parts, ", ")
	}

	if len(v.Releases) == 1 {
		return versionString(v.Releases[0].Version)
	}

	return fmt.Sprintf("%s-%s", versionString(v.Releases[0].Version), versionString(v.Releases[len(v.Releases)-1].Version))
}

func versionString(v [3]int) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// SupportedPlatforms returns the platform intersection across every release
// in the chunk (the union of releases' own lists would overstate what the
// whole chunk actually supports).
func (v BLVersion) SupportedPlatforms() []blplatform.Platform {
	counts := map[blplatform.Platform]int{}
	for _, r := range v.Releases {
		for _, p := range r.SupportedPlatforms {
			counts[p]++
		}
	}

	var out []blplatform.Platform

	for p, c := range counts {
		if c == len(v.Releases) {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// ValidPythonTags returns the intersection of interpreter tags across the
// chunk's releases.
func (v BLVersion) ValidPythonTags() []string { return intersectAll(v.Releases, func(r Release) []string { return r.ValidPythonTags }) }

// ValidABITags returns the intersection of ABI tags across the chunk's releases.
func (v BLVersion) ValidABITags() []string { return intersectAll(v.Releases, func(r Release) []string { return r.ValidABITags }) }

// ValidExtensionTags returns the intersection of extension tags across the
// chunk's releases.
func (v BLVersion) ValidExtensionTags() []string {
	return intersectAll(v.Releases, func(r Release) []string { return r.ValidExtensionTags })
}

// ValidManifestVersions returns the intersection of manifest schema versions
// across the chunk's releases.
func (v BLVersion) ValidManifestVersions() []string {
	return intersectAll(v.Releases, func(r Release) []string { return r.ValidManifestVersions })
}

func intersectAll(releases []Release, field func(Release) []string) []string {
	if len(releases) == 0 {
		return nil
	}

	counts := map[string]int{}
	for _, r := range releases {
		for _, t := range field(r) {
			counts[t]++
		}
	}

	var out []string

	for t, c := range counts {
		if c == len(releases) {
			out = append(out, t)
		}
	}

	sort.Strings(out)

	return out
}

// MinGlibcVersion returns the strictest (highest) glibc floor across the
// chunk's releases.
func (v BLVersion) MinGlibcVersion() [2]int { return maxFloor(v.Releases, func(r Release) [2]int { return r.MinGlibcVersion }) }

// MinMacosVersion returns the strictest (highest) macOS floor across the
// chunk's releases.
func (v BLVersion) MinMacosVersion() [2]int { return maxFloor(v.Releases, func(r Release) [2]int { return r.MinMacosVersion }) }

func maxFloor(releases []Release, field func(Release) [2]int) [2]int {
	best := [2]int{0, 0}

	for _, r := range releases {
		f := field(r)
		if f[0] > best[0] || (f[0] == best[0] && f[1] > best[1]) {
			best = f
		}
	}

	return best
}

// VendoredSitePackages returns the intersection of vendored package→version
// pins across the chunk's releases: a package is included only when every
// release in the chunk vendors it at the same version. IsSmooshableWith does
// not compare vendored inventories, so the releases of one chunk can differ.
func (v BLVersion) VendoredSitePackages() map[string]string {
	out := make(map[string]string, len(v.Releases[0].VendoredSitePackages))

	for name, version := range v.Releases[0].VendoredSitePackages {
		agreed := true

		for _, r := range v.Releases[1:] {
			if r.VendoredSitePackages[name] != version {
				agreed = false

				break
			}
		}

		if agreed {
			out[name] = version
		}
	}

	return out
}

// PymarkerEnvironments enumerates one marker.Environment per
// (platform, platform_machine alternative) pair this BLVersion exposes for
// the given platform, as original_source/blext/extyp/bl_version.py's
// pymarker_environments does. extras are attached verbatim to every
// environment produced.
func (v BLVersion) PymarkerEnvironments(p blplatform.Platform, extras map[string]bool) []marker.Environment {
	py := v.Releases[0].PythonVersion
	pyVersion := fmt.Sprintf("%d.%d", py.Major, py.Minor)
	pyFullVersion := fmt.Sprintf("%d.%d.%d", py.Major, py.Minor, py.Patch)

	var envs []marker.Environment

	for _, machine := range p.PymarkerPlatformMachines() {
		envs = append(envs, marker.Environment{
			OSName:                       p.PymarkerOSName(),
			SysPlatform:                  p.PymarkerSysPlatform(),
			PlatformMachine:              machine,
			PlatformPythonImplementation: "CPython",
			PlatformSystem:               p.PymarkerPlatformSystem(),
			PythonVersion:                pyVersion,
			PythonFullVersion:            pyFullVersion,
			ImplementationName:           "cpython",
			ImplementationVersion:        pyFullVersion,
			Extras:                       extras,
		})
	}

	return envs
}

// IsSmooshableWith reports whether v and other share, restricted to what
// extTags/extPyTags/extABITags the extension actually uses, identical
// supported-platform, interpreter-tag, ABI-tag, and extension-tag support,
// and at least one manifest schema version in common (spec §4.6).
func (v BLVersion) IsSmooshableWith(
	other BLVersion,
	extPlatforms []blplatform.Platform,
	extPyTags, extABITags, extTags []string,
) bool {
	if !shareAny(v.ValidManifestVersions(), other.ValidManifestVersions()) {
		return false
	}

	if !restrictedEqual(v.SupportedPlatforms(), other.SupportedPlatforms(), toStrings(extPlatforms)) {
		return false
	}

	if !restrictedEqual(v.ValidPythonTags(), other.ValidPythonTags(), extPyTags) {
		return false
	}

	if !restrictedEqual(v.ValidABITags(), other.ValidABITags(), extABITags) {
		return false
	}

	return restrictedEqual(v.ValidExtensionTags(), other.ValidExtensionTags(), extTags)
}

// SmooshWith merges other into v, returning the combined chunk. Callers are
// responsible for only calling this after IsSmooshableWith has returned true
// for adjacent, sorted releases.
func (v BLVersion) SmooshWith(other BLVersion) BLVersion {
	merged := append(append([]Release(nil), v.Releases...), other.Releases...)

	sort.Slice(merged, func(i, j int) bool { return lessVersion(merged[i].Version, merged[j].Version) })

	return BLVersion{Source: v.Source, Releases: merged}
}

func toStrings(platforms []blplatform.Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}

	return out
}

func shareAny(a, b []string) bool {
	set := map[string]bool{}
	for _, x := range a {
		set[x] = true
	}

	for _, x := range b {
		if set[x] {
			return true
		}
	}

	return false
}

// restrictedEqual reports whether a and b agree on every member of
// restriction — i.e. a ∩ restriction == b ∩ restriction. An empty
// restriction (the extension uses nothing from this axis) trivially agrees.
func restrictedEqual(a, b, restriction []string) bool {
	if len(restriction) == 0 {
		return true
	}

	setA := map[string]bool{}
	for _, x := range a {
		setA[x] = true
	}

	setB := map[string]bool{}
	for _, x := range b {
		setB[x] = true
	}

	for _, r := range restriction {
		if setA[r] != setB[r] {
			return false
		}
	}

	return true
}
