package blplatform

import (
	"sort"
	"strings"
)

// CompatibleWheel matches the subset of internal/wheel's Wheel behavior the
// smooshing predicate needs, declared locally to avoid an import cycle
// (internal/wheel depends on this package for platform metadata).
type CompatibleWheel interface {
	WorksWithPlatform(p Platform, minGlibc, minMacos *[2]int) bool
}

// Set is several Platforms represented with set semantics and a canonical
// string form (members sorted, joined by "_"), making it usable as a map key.
type Set string

// FromPlatform creates a Set containing a single Platform.
func FromPlatform(p Platform) Set { return Set(p) }

// FromPlatforms creates a Set from a non-empty collection of Platforms.
// Panics if platforms is empty — callers must never construct an empty Set.
func FromPlatforms(platforms []Platform) Set {
	if len(platforms) == 0 {
		panic("blplatform: FromPlatforms requires at least one platform")
	}

	sorted := make([]string, len(platforms))
	for i, p := range platforms {
		sorted[i] = string(p)
	}

	sort.Strings(sorted)

	return Set(strings.Join(sorted, "_"))
}

// Platforms returns the sorted member Platforms of s.
func (s Set) Platforms() []Platform {
	parts := strings.Split(string(s), "_")
	out := make([]Platform, len(parts))

	for i, p := range parts {
		out[i] = Platform(p)
	}

	return out
}

// Contains reports whether p is a member of s.
func (s Set) Contains(p Platform) bool {
	for _, m := range s.Platforms() {
		if m == p {
			return true
		}
	}

	return false
}

// IsWindows reports whether s contains any Windows platform.
func (s Set) IsWindows() bool {
	for _, p := range s.Platforms() {
		if p.IsWindows() {
			return true
		}
	}

	return false
}

// Less orders two Sets lexicographically on their canonical form, making
// platform groups sortable and suitable for use as deterministic map keys.
func (s Set) Less(other Set) bool { return string(s) < string(other) }

// PypiArches returns the union of PyPI architecture aliases across members.
func (s Set) PypiArches() []string {
	seen := map[string]bool{}

	var out []string

	for _, p := range s.Platforms() {
		for _, a := range p.PypiArches() {
			if !seen[a] {
				seen[a] = true

				out = append(out, a)
			}
		}
	}

	sort.Strings(out)

	return out
}

// WheelPlatformTagPrefixes returns the union of wheel platform-tag prefixes
// across members.
func (s Set) WheelPlatformTagPrefixes() []string {
	seen := map[string]bool{}

	var out []string

	for _, p := range s.Platforms() {
		prefix := p.WheelPlatformTagPrefix()
		if !seen[prefix] {
			seen[prefix] = true

			out = append(out, prefix)
		}
	}

	sort.Strings(out)

	return out
}

// SmooshContext carries the extension-specific information needed to decide
// whether a candidate Platform can be safely folded into a Set.
type SmooshContext struct {
	// MinGlibcVersion overrides the per-version baseline when the extension
	// declares its own; nil defers to each BLVersion's own minimum.
	MinGlibcVersion *[2]int
	MinMacosVersion *[2]int
	// WheelsGranular maps each relevant Blender version and platform to the
	// wheels currently selected for that cell.
	WheelsGranular map[string]map[Platform][]CompatibleWheel
	// BLVersionMinGlibc/BLVersionMinMacos supply the per-Blender-version
	// baseline used when the context-level override is nil, keyed the same
	// way as WheelsGranular.
	BLVersionMinGlibc map[string]*[2]int
	BLVersionMinMacos map[string]*[2]int
}

// IsSmooshableWith reports whether s can be safely combined with candidate:
// every wheel already selected for s's members, on every relevant Blender
// version, must also be compatible with candidate under the same OS-version
// constraints. This is the platform half of the compatibility reducer (spec
// §4.6); the version half lives in internal/reduce, which calls back into
// this predicate per pair.
func (s Set) IsSmooshableWith(candidate Platform, ctx SmooshContext) bool {
	for blVersion, byPlatform := range ctx.WheelsGranular {
		minGlibc := ctx.MinGlibcVersion
		if minGlibc == nil {
			minGlibc = ctx.BLVersionMinGlibc[blVersion]
		}

		minMacos := ctx.MinMacosVersion
		if minMacos == nil {
			minMacos = ctx.BLVersionMinMacos[blVersion]
		}

		for _, selfPlatform := range s.Platforms() {
			for _, w := range byPlatform[selfPlatform] {
				if !w.WorksWithPlatform(candidate, minGlibc, minMacos) {
					return false
				}
			}
		}
	}

	return true
}

// SmooshWith combines s with candidate, returning the new, larger Set.
func (s Set) SmooshWith(candidate Platform) Set {
	return FromPlatforms(append(s.Platforms(), candidate))
}
