package specification_test

import (
	"strings"
	"testing"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/depgraph"
	"github.com/blext-tools/blext/internal/descriptor"
	"github.com/blext-tools/blext/internal/lockfile"
	"github.com/blext-tools/blext/internal/specification"
)

// fixtureDescriptor is a minimal project descriptor whose Blender version
// range, [4.2.0, 4.2.1), isolates exactly one catalogued release so tests
// don't have to reason about chunking across a family.
const fixtureDescriptor = `
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

// fixtureLockfile wires a single live dependency, examplelib, whose one
// wheel is a universal py3/none/any build: it resolves for every platform
// Blender 4.2.0 supports, keeping this fixture free of tag-matching edge
// cases.
func fixtureLockfile(t *testing.T) *lockfile.Lockfile {
	t.Helper()

	return &lockfile.Lockfile{
		Package: []lockfile.Package{
			{
				Name:    "exampleext",
				Version: "1.0.0",
				Metadata: lockfile.Metadata{
					RequiresDist: []lockfile.DepEntry{{Name: "examplelib"}},
				},
			},
			{
				Name:    "examplelib",
				Version: "1.0.0",
				Source:  lockfile.Source{Registry: "https://pypi.org/simple"},
				Wheels: []lockfile.WheelEntry{
					{
						URL:  "https://files.pythonhosted.org/packages/examplelib-1.0.0-py3-none-any.whl",
						Hash: "sha256:" + strings.Repeat("a", 64),
						Size: 1234,
					},
				},
			},
		},
	}
}

func buildFixtureSpec(t *testing.T) *specification.Specification {
	t.Helper()

	d, err := descriptor.Parse([]byte(fixtureDescriptor))
	if err != nil {
		t.Fatalf("descriptor.Parse() error: %v", err)
	}

	lf := fixtureLockfile(t)

	graph, err := depgraph.Build(lf, "exampleext")
	if err != nil {
		t.Fatalf("depgraph.Build() error: %v", err)
	}

	spec, err := specification.New(specification.Config{
		Descriptor: d,
		Graph:      graph,
		Lockfile:   lf,
		RootName:   "exampleext",
		IsScript:   false,
	})
	if err != nil {
		t.Fatalf("specification.New() error: %v", err)
	}

	return spec
}

func TestNewResolvesSingleReleaseWindow(t *testing.T) {
	spec := buildFixtureSpec(t)

	if len(spec.GranularVersions) != 1 {
		t.Fatalf("expected exactly one granular release, got %d", len(spec.GranularVersions))
	}

	if got := spec.GranularVersions[0].DisplayString(); got != "4.2.0" {
		t.Errorf("DisplayString() = %q, want 4.2.0", got)
	}

	if len(spec.ChunkVersions) != 1 {
		t.Errorf("expected a single version chunk, got %d", len(spec.ChunkVersions))
	}
}

func TestNewIsPlatformUniversal(t *testing.T) {
	spec := buildFixtureSpec(t)

	if !spec.IsPlatformUniversal() {
		t.Error("expected a py3-none-any-only extension to be platform universal")
	}

	if len(spec.PlatformChunks) != 1 {
		t.Fatalf("expected a single platform chunk, got %d", len(spec.PlatformChunks))
	}
}

func TestWheelsForCellIncludesLiveDependency(t *testing.T) {
	spec := buildFixtureSpec(t)

	chunkVersion := spec.ChunkVersions[0]
	platformSet := spec.PlatformChunks[0]

	wheels := spec.WheelsForCell(chunkVersion, platformSet)
	if len(wheels) != 1 {
		t.Fatalf("expected exactly one resolved wheel, got %d", len(wheels))
	}

	if got := wheels[0].Filename(); got != "examplelib-1.0.0-py3-none-any.whl" {
		t.Errorf("Filename() = %q, want examplelib-1.0.0-py3-none-any.whl", got)
	}
}

func TestWheelsGranularLooksUpByDependencyName(t *testing.T) {
	spec := buildFixtureSpec(t)

	chunkVersion := spec.ChunkVersions[0]

	w, ok := spec.WheelsGranular(chunkVersion, blplatform.LinuxX64, "examplelib")
	if !ok {
		t.Fatal("expected examplelib to resolve on linux-x64")
	}

	if w.Filename() != "examplelib-1.0.0-py3-none-any.whl" {
		t.Errorf("Filename() = %q", w.Filename())
	}

	if _, ok := spec.WheelsGranular(chunkVersion, blplatform.LinuxX64, "doesnotexist"); ok {
		t.Error("expected no wheel for an unknown dependency name")
	}
}

func TestBLVersionsByWheel(t *testing.T) {
	spec := buildFixtureSpec(t)

	byWheel := spec.BLVersionsByWheel()

	versions, ok := byWheel["examplelib-1.0.0-py3-none-any.whl"]
	if !ok {
		t.Fatal("expected examplelib's wheel to be indexed")
	}

	if len(versions) != 1 || versions[0] != "4.2.0" {
		t.Errorf("BLVersionsByWheel() = %v, want [4.2.0]", versions)
	}
}

func TestExtensionFilenameDropsPlatformSuffixWhenUniversal(t *testing.T) {
	spec := buildFixtureSpec(t)

	chunkVersion := spec.ChunkVersions[0]
	platformSet := spec.PlatformChunks[0]

	got := spec.ExtensionFilename(chunkVersion, platformSet)
	want := "exampleext-1_0_0_4_2_0"

	if got != want {
		t.Errorf("ExtensionFilename() = %q, want %q", got, want)
	}
}

func TestManifestStrRendersFields(t *testing.T) {
	spec := buildFixtureSpec(t)

	chunkVersion := spec.ChunkVersions[0]
	platformSet := spec.PlatformChunks[0]

	schemaVersion := chunkVersion.ValidManifestVersions()[0]

	data, err := spec.ManifestStr(schemaVersion, chunkVersion, platformSet)
	if err != nil {
		t.Fatalf("ManifestStr() error: %v", err)
	}

	for _, want := range []string{
		`id = 'exampleext'`,
		`version = '1.0.0'`,
		`schema_version = '1.0.0'`,
		"examplelib-1.0.0-py3-none-any.whl",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("manifest TOML missing %q:\n%s", want, data)
		}
	}
}

func TestInitSettingsStrUsesStandardProfile(t *testing.T) {
	spec := buildFixtureSpec(t)

	data, err := spec.InitSettingsStr("release")
	if err != nil {
		t.Fatalf("InitSettingsStr() error: %v", err)
	}

	if data == "" {
		t.Error("expected non-empty init settings TOML")
	}
}

func TestInitSettingsStrUnknownProfile(t *testing.T) {
	spec := buildFixtureSpec(t)

	if _, err := spec.InitSettingsStr("does-not-exist"); err == nil {
		t.Error("expected an error for a non-existent, non-standard profile name")
	}
}

func TestQueryMissingAndCachedWheels(t *testing.T) {
	spec := buildFixtureSpec(t)

	wheelDir := t.TempDir()

	missing := spec.QueryMissingWheels(wheelDir, nil, nil)
	if len(missing) != 1 {
		t.Fatalf("expected one missing wheel before any download, got %d", len(missing))
	}

	cached := spec.QueryCachedWheels(wheelDir, nil, nil)
	if len(cached) != 0 {
		t.Errorf("expected no cached wheels before any download, got %d", len(cached))
	}
}

func TestWheelPathsToPrepack(t *testing.T) {
	spec := buildFixtureSpec(t)

	chunkVersion := spec.ChunkVersions[0]
	platformSet := spec.PlatformChunks[0]

	paths := spec.WheelPathsToPrepack("/wheels", chunkVersion, platformSet)
	if len(paths) != 1 {
		t.Fatalf("expected one wheel to pre-pack, got %d", len(paths))
	}

	if paths[0].ArchivePath != "wheels/examplelib-1.0.0-py3-none-any.whl" {
		t.Errorf("ArchivePath = %q", paths[0].ArchivePath)
	}

	if paths[0].DiskPath != "/wheels/examplelib-1.0.0-py3-none-any.whl" {
		t.Errorf("DiskPath = %q", paths[0].DiskPath)
	}
}

func TestSortedTagsNilWhenEmpty(t *testing.T) {
	d, err := descriptor.Parse([]byte(strings.Replace(fixtureDescriptor, `bl_tags = ["Import-Export"]`, "", 1)))
	if err != nil {
		t.Fatalf("descriptor.Parse() error: %v", err)
	}

	lf := fixtureLockfile(t)

	graph, err := depgraph.Build(lf, "exampleext")
	if err != nil {
		t.Fatalf("depgraph.Build() error: %v", err)
	}

	spec, err := specification.New(specification.Config{
		Descriptor: d,
		Graph:      graph,
		Lockfile:   lf,
		RootName:   "exampleext",
	})
	if err != nil {
		t.Fatalf("specification.New() error: %v", err)
	}

	if tags := spec.SortedTags(); tags != nil {
		t.Errorf("SortedTags() = %v, want nil", tags)
	}
}
