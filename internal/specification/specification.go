// Package specification builds the frozen Specification aggregate: the
// cell-driven view over a project descriptor, its dependency graph, and the
// Blender release catalog that every downstream stage (manifest export,
// archive pipeline, cache queries) reads from (spec §3 Specification, §9
// "Caching of derived properties").
package specification

import (
	"fmt"
	"sort"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/catalog"
	"github.com/blext-tools/blext/internal/depgraph"
	"github.com/blext-tools/blext/internal/descriptor"
	"github.com/blext-tools/blext/internal/lockfile"
	"github.com/blext-tools/blext/internal/marker"
	"github.com/blext-tools/blext/internal/reduce"
	"github.com/blext-tools/blext/internal/resolve"
	"github.com/blext-tools/blext/internal/wheel"
)

// Specification is the fully resolved description of one Blender extension
// build: its identity, the Blender versions and platforms it targets, and
// the wheel assigned to every live dependency in every (version, platform)
// cell. Every field is computed once by New and never mutated afterward.
type Specification struct {
	ID         string
	Name       string
	Tagline    string
	Version    string
	License    string
	Maintainer string
	Website    string

	Permissions map[string]string
	Copyright   []string
	Tags        []string

	// GranularVersions is every individual official Blender release in
	// [blender_version_min, blender_version_max).
	GranularVersions []catalog.BLVersion
	// ChunkVersions is GranularVersions folded into the minimal set of
	// compatibility-equivalent chunks (spec §4.6).
	ChunkVersions []catalog.BLVersion

	// GranularPlatforms is every individual platform this extension targets.
	GranularPlatforms []blplatform.Platform
	// PlatformChunks is GranularPlatforms folded into the minimal set of
	// compatibility-equivalent platform groups, computed from the wheels
	// actually selected for each chunked Blender version (spec §4.6).
	PlatformChunks []blplatform.Set

	// wheelsGranular[chunkVersion.DisplayString()][platform][depName] is the
	// wheel selected for that live dependency in that cell.
	wheelsGranular map[string]map[blplatform.Platform]map[string]wheel.Wheel
	wheelIndex     map[string]wheel.Wheel // wheel filename -> Wheel

	isPlatformUniversal bool

	descriptor *descriptor.Descriptor
}

// Config carries every input New needs beyond the project descriptor.
type Config struct {
	Descriptor *descriptor.Descriptor
	Graph      *depgraph.Graph
	Lockfile   *lockfile.Lockfile
	RootName   string
	IsScript   bool
	Resolver   *resolve.Resolver
}

// New builds a Specification: it derives the granular and chunked Blender
// version/platform grids from the descriptor, resolves wheels for every
// (chunked version, granular platform) cell, and only then folds platforms
// into their own compatibility chunks — mirroring the dependency order of
// original_source/blext/blext_spec.py's cached-property graph (platform
// smooshing reads the wheels already selected per granular platform).
func New(cfg Config) (*Specification, error) {
	d := cfg.Descriptor
	tool := d.ToolSection()

	min, max, err := parseVersionRange(tool.BlenderVersionMin, tool.BlenderVersionMax)
	if err != nil {
		return nil, err
	}

	releases := catalog.InRange(min, max)
	if len(releases) == 0 {
		return nil, fmt.Errorf("no catalogued Blender release falls in [%v, %v)", min, max)
	}

	granularVersions := make([]catalog.BLVersion, len(releases))
	for i, r := range releases {
		granularVersions[i] = catalog.FromRelease(r)
	}

	granularPlatforms, err := resolvePlatforms(tool, granularVersions)
	if err != nil {
		return nil, err
	}

	extPlatforms := granularPlatforms
	extPyTags := tool.SupportedPythonTags
	extABITags := tool.SupportedABITags
	extTags := tool.BLTags

	chunkVersions, _ := reduce.VersionChunks(granularVersions, extPlatforms, extPyTags, extABITags, extTags)

	wheelsGranular, wheelIndex, err := resolveWheelsGranular(cfg, chunkVersions, granularPlatforms)
	if err != nil {
		return nil, err
	}

	platformChunks, err := foldPlatforms(chunkVersions, granularPlatforms, wheelsGranular)
	if err != nil {
		return nil, err
	}

	spec := &Specification{
		ID:                d.Project.Name,
		Name:              tool.PrettyName,
		Tagline:           d.Project.Description,
		Version:           d.Project.Version,
		License:           d.Project.License,
		Permissions:       tool.Permissions,
		Copyright:         tool.Copyright,
		Tags:              extTags,
		GranularVersions:  granularVersions,
		ChunkVersions:     chunkVersions,
		GranularPlatforms: granularPlatforms,
		PlatformChunks:    platformChunks,
		wheelsGranular:    wheelsGranular,
		wheelIndex:        wheelIndex,
		descriptor:        d,
	}

	if len(d.Project.Maintainers) > 0 {
		m := d.Project.Maintainers[0]
		spec.Maintainer = fmt.Sprintf("%s <%s>", m.Name, m.Email)
	}

	if len(tool.Permissions) == 0 {
		spec.Permissions = nil
	}

	spec.isPlatformUniversal = computeIsPlatformUniversal(chunkVersions, granularPlatforms)

	return spec, nil
}

func resolvePlatforms(tool descriptor.Tool, granularVersions []catalog.BLVersion) ([]blplatform.Platform, error) {
	if len(tool.SupportedPlatforms) > 0 {
		out := make([]blplatform.Platform, len(tool.SupportedPlatforms))

		for i, p := range tool.SupportedPlatforms {
			platform := blplatform.Platform(p)
			if !platform.Valid() {
				return nil, fmt.Errorf("supported_platforms: %q is not a known platform", p)
			}

			out[i] = platform
		}

		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

		return out, nil
	}

	seen := map[blplatform.Platform]bool{}

	var out []blplatform.Platform

	for _, v := range granularVersions {
		for _, p := range v.SupportedPlatforms() {
			if !seen[p] {
				seen[p] = true

				out = append(out, p)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out, nil
}

// resolveWheelsGranular resolves every (chunked Blender version, granular
// platform) cell, restricted to platforms the version actually supports,
// computing that cell's live dependency set (markers + vendoring) before
// delegating wheel selection to internal/resolve.
func resolveWheelsGranular(
	cfg Config,
	chunkVersions []catalog.BLVersion,
	granularPlatforms []blplatform.Platform,
) (map[string]map[blplatform.Platform]map[string]wheel.Wheel, map[string]wheel.Wheel, error) {
	wheelsGranular := make(map[string]map[blplatform.Platform]map[string]wheel.Wheel, len(chunkVersions))
	wheelIndex := make(map[string]wheel.Wheel)

	targets, err := buildTargets(cfg)
	if err != nil {
		return nil, nil, err
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = resolve.New()
	}

	var resolveErr *resolve.ResolutionError

	for _, version := range chunkVersions {
		supported := supportedSet(version.SupportedPlatforms())
		byPlatform := make(map[blplatform.Platform]map[string]wheel.Wheel)

		for _, platform := range granularPlatforms {
			if !supported[platform] {
				continue
			}

			envs := version.PymarkerEnvironments(platform, nil)

			live, err := cfg.Graph.LiveSet(targets, envs, normalizeVendored(version.VendoredSitePackages()))
			if err != nil {
				return nil, nil, fmt.Errorf("computing live dependency set for %s/%s: %w", version.DisplayString(), platform, err)
			}

			deps := make([]resolve.Dependency, len(live))
			for i, idx := range live {
				node := cfg.Graph.Nodes[idx]
				deps[i] = resolve.Dependency{Name: node.Name, Wheels: node.Wheels}
			}

			cell := resolve.Cell{BLVersion: version, Platform: platform}

			results, err := resolver.ResolveGrid([]resolve.Cell{cell}, deps)
			if err != nil {
				var asResolutionErr *resolve.ResolutionError
				if ok := asResolutionError(err, &asResolutionErr); ok {
					if resolveErr == nil {
						resolveErr = &resolve.ResolutionError{}
					}

					resolveErr.Diagnostics = append(resolveErr.Diagnostics, asResolutionErr.Diagnostics...)

					continue
				}

				return nil, nil, err
			}

			byPlatform[platform] = results[0].Wheels

			for _, w := range results[0].Wheels {
				wheelIndex[w.Filename()] = w
			}
		}

		wheelsGranular[version.DisplayString()] = byPlatform
	}

	if resolveErr != nil {
		return nil, nil, resolveErr
	}

	return wheelsGranular, wheelIndex, nil
}

func asResolutionError(err error, target **resolve.ResolutionError) bool {
	re, ok := err.(*resolve.ResolutionError)
	if !ok {
		return false
	}

	*target = re

	return true
}

func buildTargets(cfg Config) ([]depgraph.Target, error) {
	entries := depgraph.TargetDependencies(cfg.Lockfile, cfg.RootName, cfg.IsScript)

	targets := make([]depgraph.Target, 0, len(entries))

	for _, e := range entries {
		name := depgraph.NormalizeName(e.Name)

		var m marker.Marker

		if e.Marker != "" {
			parsed, err := marker.Parse(e.Marker)
			if err != nil {
				return nil, fmt.Errorf("parsing target marker %q: %w", e.Marker, err)
			}

			m = parsed
		}

		targets = append(targets, depgraph.Target{Name: name, Marker: m})
	}

	return targets, nil
}

func normalizeVendored(vendored map[string]string) map[string]string {
	out := make(map[string]string, len(vendored))
	for name, version := range vendored {
		out[depgraph.NormalizeName(name)] = version
	}

	return out
}

func supportedSet(platforms []blplatform.Platform) map[blplatform.Platform]bool {
	set := make(map[blplatform.Platform]bool, len(platforms))
	for _, p := range platforms {
		set[p] = true
	}

	return set
}

// foldPlatforms smooshes granularPlatforms into PlatformChunks, given the
// wheels already selected per (chunked version, granular platform) cell.
func foldPlatforms(
	chunkVersions []catalog.BLVersion,
	granularPlatforms []blplatform.Platform,
	wheelsGranular map[string]map[blplatform.Platform]map[string]wheel.Wheel,
) ([]blplatform.Set, error) {
	wheelsByVersionPlatform := make(map[string]map[blplatform.Platform][]blplatform.CompatibleWheel)
	minGlibc := make(map[string]*[2]int)
	minMacos := make(map[string]*[2]int)

	for _, version := range chunkVersions {
		display := version.DisplayString()

		byPlatform := make(map[blplatform.Platform][]blplatform.CompatibleWheel)

		for platform, byDep := range wheelsGranular[display] {
			for _, w := range byDep {
				byPlatform[platform] = append(byPlatform[platform], w)
			}
		}

		wheelsByVersionPlatform[display] = byPlatform

		glibc := version.MinGlibcVersion()
		macos := version.MinMacosVersion()
		minGlibc[display] = &glibc
		minMacos[display] = &macos
	}

	ctx := blplatform.SmooshContext{
		WheelsGranular:    wheelsByVersionPlatform,
		BLVersionMinGlibc: minGlibc,
		BLVersionMinMacos: minMacos,
	}

	chunks, _ := reduce.PlatformChunks(granularPlatforms, ctx)

	return chunks, nil
}

func computeIsPlatformUniversal(chunkVersions []catalog.BLVersion, granularPlatforms []blplatform.Platform) bool {
	have := supportedSet(granularPlatforms)

	for _, v := range chunkVersions {
		for _, p := range v.SupportedPlatforms() {
			if !have[p] {
				return false
			}
		}
	}

	return true
}

// IsPlatformUniversal reports whether this extension's wheels work on every
// platform of every supported Blender version, in which case a single
// archive per Blender version chunk suffices (no per-platform suffix in its
// filename).
func (s *Specification) IsPlatformUniversal() bool { return s.isPlatformUniversal }

// SortedTags returns Tags in alphabetical order, or nil if none were set.
func (s *Specification) SortedTags() []string {
	if len(s.Tags) == 0 {
		return nil
	}

	out := append([]string(nil), s.Tags...)
	sort.Strings(out)

	return out
}

// WheelsGranular returns the wheel selected for depName in the
// (chunkVersion, platform) cell, and whether that dependency had any wheel
// selected there at all.
func (s *Specification) WheelsGranular(chunkVersion catalog.BLVersion, platform blplatform.Platform, depName string) (wheel.Wheel, bool) {
	byDep, ok := s.wheelsGranular[chunkVersion.DisplayString()][platform]
	if !ok {
		return wheel.Wheel{}, false
	}

	w, ok := byDep[depName]

	return w, ok
}

// WheelsForCell returns every wheel selected for the given
// (chunkVersion, platformSet) cell: the union, over platformSet's granular
// members, of the per-platform wheel sets that version supports.
func (s *Specification) WheelsForCell(chunkVersion catalog.BLVersion, platformSet blplatform.Set) []wheel.Wheel {
	seen := map[string]bool{}

	var out []wheel.Wheel

	for _, platform := range platformSet.Platforms() {
		for _, w := range s.wheelsGranular[chunkVersion.DisplayString()][platform] {
			if !seen[w.Filename()] {
				seen[w.Filename()] = true

				out = append(out, w)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename() < out[j].Filename() })

	return out
}

// WheelsByBLVersion returns every wheel needed across every platform set for
// chunkVersion.
func (s *Specification) WheelsByBLVersion(chunkVersion catalog.BLVersion) []wheel.Wheel {
	seen := map[string]bool{}

	var out []wheel.Wheel

	for _, byDep := range s.wheelsGranular[chunkVersion.DisplayString()] {
		for _, w := range byDep {
			if !seen[w.Filename()] {
				seen[w.Filename()] = true

				out = append(out, w)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename() < out[j].Filename() })

	return out
}

// BLVersionsByWheel returns, for every distinct wheel this Specification
// uses anywhere, the display strings of every chunked Blender version that
// requests it.
func (s *Specification) BLVersionsByWheel() map[string][]string {
	out := make(map[string][]string)

	for _, version := range s.ChunkVersions {
		display := version.DisplayString()

		for _, w := range s.WheelsByBLVersion(version) {
			out[w.Filename()] = append(out[w.Filename()], display)
		}
	}

	for filename := range out {
		sort.Strings(out[filename])
	}

	return out
}
