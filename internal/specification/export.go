package specification

import (
	"fmt"
	"path"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/catalog"
	"github.com/blext-tools/blext/internal/manifest"
	"github.com/blext-tools/blext/internal/wheel"
)

// ExtensionFilename returns the base filename (no extension) of the archive
// built for (chunkVersion, platformSet): the id/version/Blender-version are
// always present; when the extension is platform-universal the platform
// suffix is dropped and a single "_" joins version and Blender version
// (spec §4.9, "pretty_version" naming scheme).
func (s *Specification) ExtensionFilename(chunkVersion catalog.BLVersion, platformSet blplatform.Set) string {
	version := strings.ReplaceAll(s.Version, ".", "_")
	blVersion := strings.ReplaceAll(chunkVersion.DisplayString(), ".", "_")

	if s.isPlatformUniversal {
		return fmt.Sprintf("%s-%s_%s", s.ID, version, blVersion)
	}

	return fmt.Sprintf("%s-%s__%s__%s", s.ID, version, blVersion, string(platformSet))
}

// ExtensionZipPath returns the final-pack archive path for (chunkVersion,
// platformSet) under baseDir.
func (s *Specification) ExtensionZipPath(baseDir string, chunkVersion catalog.BLVersion, platformSet blplatform.Set) string {
	return path.Join(baseDir, s.ExtensionFilename(chunkVersion, platformSet)+".zip")
}

// ManifestFor builds the blender_manifest.toml contents for one
// (chunkVersion, platformSet) cell.
func (s *Specification) ManifestFor(schemaVersion string, chunkVersion catalog.BLVersion, platformSet blplatform.Set) manifest.Manifest {
	wheels := s.WheelsForCell(chunkVersion, platformSet)

	filenames := make([]string, len(wheels))
	for i, w := range wheels {
		filenames[i] = w.Filename()
	}

	min := chunkVersion.MinVersion()
	max := chunkVersion.MaxVersionExclusive()

	return manifest.Manifest{
		SchemaVersion:     schemaVersion,
		ID:                s.ID,
		Name:              s.Name,
		Version:           s.Version,
		Tagline:           s.Tagline,
		Maintainer:        s.Maintainer,
		Type:              "add-on",
		BlenderVersionMin: fmt.Sprintf("%d.%d.%d", min[0], min[1], min[2]),
		BlenderVersionMax: fmt.Sprintf("%d.%d.%d", max[0], max[1], max[2]),
		Platforms:         platformTagStrings(platformSet),
		Permissions:       s.Permissions,
		License:           []string{"SPDX:" + s.License},
		Copyright:         s.Copyright,
		Tags:              s.SortedTags(),
		Website:           s.Website,
		Wheels:            manifest.SortedWheelPaths(filenames),
	}
}

func platformTagStrings(platformSet blplatform.Set) []string {
	platforms := platformSet.Platforms()
	out := make([]string, len(platforms))

	for i, p := range platforms {
		out[i] = string(p)
	}

	sort.Strings(out)

	return out
}

// ManifestStr renders the TOML form of ManifestFor, ready to write as
// blender_manifest.toml.
func (s *Specification) ManifestStr(schemaVersion string, chunkVersion catalog.BLVersion, platformSet blplatform.Set) (string, error) {
	m := s.ManifestFor(schemaVersion, chunkVersion, platformSet)

	if err := m.Validate(); err != nil {
		return "", err
	}

	data, err := manifest.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}

	return string(data), nil
}

// InitSettingsStr renders init_settings.toml for the named release profile,
// resolving standard-profile defaults and any project-level override
// (spec §4.7, §6 "Initial-settings output").
func (s *Specification) InitSettingsStr(profile string) (string, error) {
	resolved, _, err := s.descriptor.ResolveProfile(profile)
	if err != nil {
		return "", err
	}

	settings := manifest.InitSettings{
		UseLogFile:      resolved.UseLogFile,
		LogFileName:     resolved.LogFileName,
		LogFileLevel:    resolved.LogFileLevel,
		UseLogConsole:   resolved.UseLogConsole,
		LogConsoleLevel: resolved.LogConsoleLevel,
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshaling init settings: %w", err)
	}

	return string(data), nil
}

// QueryRequiredWheels returns every wheel needed to build extensions for the
// given chunked versions and platform sets (nil means "all").
func (s *Specification) QueryRequiredWheels(versions []catalog.BLVersion, platformSets []blplatform.Set) []wheel.Wheel {
	if versions == nil {
		versions = s.ChunkVersions
	}

	if platformSets == nil {
		platformSets = s.PlatformChunks
	}

	seen := map[string]bool{}

	var out []wheel.Wheel

	for _, v := range versions {
		for _, p := range platformSets {
			for _, w := range s.WheelsForCell(v, p) {
				if !seen[w.Filename()] {
					seen[w.Filename()] = true

					out = append(out, w)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename() < out[j].Filename() })

	return out
}

// QueryCachedWheels returns the subset of QueryRequiredWheels already
// downloaded and hash-valid under wheelDir.
func (s *Specification) QueryCachedWheels(wheelDir string, versions []catalog.BLVersion, platformSets []blplatform.Set) []wheel.Wheel {
	var out []wheel.Wheel

	for _, w := range s.QueryRequiredWheels(versions, platformSets) {
		valid, err := w.IsDownloadValid(path.Join(wheelDir, w.Filename()))
		if err == nil && valid {
			out = append(out, w)
		}
	}

	return out
}

// QueryMissingWheels returns the subset of QueryRequiredWheels that still
// need to be downloaded.
func (s *Specification) QueryMissingWheels(wheelDir string, versions []catalog.BLVersion, platformSets []blplatform.Set) []wheel.Wheel {
	var out []wheel.Wheel

	for _, w := range s.QueryRequiredWheels(versions, platformSets) {
		valid, err := w.IsDownloadValid(path.Join(wheelDir, w.Filename()))
		if err != nil || !valid {
			out = append(out, w)
		}
	}

	return out
}

// WheelDiskPath is one wheel entry to pre-pack: its source location in the
// wheel cache and its destination path inside the archive.
type WheelDiskPath struct {
	DiskPath    string
	ArchivePath string
	Size        int64
}

// WheelPathsToPrepack returns the disk-path -> archive-path entries for
// every wheel needed by (chunkVersion, platformSet), rooted at wheelDir.
func (s *Specification) WheelPathsToPrepack(wheelDir string, chunkVersion catalog.BLVersion, platformSet blplatform.Set) []WheelDiskPath {
	wheels := s.WheelsForCell(chunkVersion, platformSet)
	out := make([]WheelDiskPath, len(wheels))

	for i, w := range wheels {
		out[i] = WheelDiskPath{
			DiskPath:    path.Join(wheelDir, w.Filename()),
			ArchivePath: path.Join("wheels", w.Filename()),
			Size:        w.Size,
		}
	}

	return out
}
