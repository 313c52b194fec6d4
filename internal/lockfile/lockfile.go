// Package lockfile parses the already-solved dependency lockfile the core
// consumes (spec §6); it never resolves dependencies itself.
package lockfile

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// WheelEntry is one candidate wheel as recorded in the lockfile.
type WheelEntry struct {
	URL  string `toml:"url"`
	Hash string `toml:"hash"`
	Size int64  `toml:"size"`
}

// DepEntry names a downstream dependency and its optional marker.
type DepEntry struct {
	Name   string `toml:"name"`
	Marker string `toml:"marker"`
}

// Source names where a package's wheels came from.
type Source struct {
	Registry string `toml:"registry"`
}

// Metadata carries a package's own declared (top-level) requirements.
type Metadata struct {
	RequiresDist []DepEntry `toml:"requires-dist"`
}

// Package is one entry in the lockfile's top-level `package` array.
type Package struct {
	Name                  string                `toml:"name"`
	Version               string                `toml:"version"`
	Source                Source                `toml:"source"`
	Wheels                []WheelEntry          `toml:"wheels"`
	Dependencies          []DepEntry            `toml:"dependencies"`
	OptionalDependencies  map[string][]DepEntry `toml:"optional-dependencies"`
	Metadata              Metadata              `toml:"metadata"`
}

// ManifestRequirement names a single-file script's top-level requirement.
type ManifestRequirement struct {
	Name string `toml:"name"`
}

// ScriptManifest is the `manifest` table single-file scripts use in place of
// a root package's requires-dist.
type ScriptManifest struct {
	Requirements []ManifestRequirement `toml:"requirements"`
}

// Lockfile is the parsed shape of a lockfile, as described in spec §6.
type Lockfile struct {
	Package  []Package      `toml:"package"`
	Manifest ScriptManifest `toml:"manifest"`
}

// ErrMissingRootPackage is returned by RootPackage when no package entry
// matches the requested name.
type ErrMissingRootPackage struct{ Name string }

func (e *ErrMissingRootPackage) Error() string {
	return fmt.Sprintf("lockfile: no package entry named %q", e.Name)
}

// Parse reads and parses a lockfile from path. A missing or unparseable
// lockfile is reported per spec §7's Lockfile error kind: fatal with the path.
func Parse(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}

	return &lf, nil
}

// RootPackage finds the package entry named name, or a *ErrMissingRootPackage.
func (lf *Lockfile) RootPackage(name string) (*Package, error) {
	for i := range lf.Package {
		if lf.Package[i].Name == name {
			return &lf.Package[i], nil
		}
	}

	return nil, &ErrMissingRootPackage{Name: name}
}
