package wheel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/blext-tools/blext/internal/blplatform"
)

// compile-time proof that Wheel satisfies the interface internal/blplatform
// needs for its smooshing predicate, without an import cycle.
var _ blplatform.CompatibleWheel = Wheel{}

// Wheel is an immutable record of a single candidate wheel: its download
// location, registry location, declared hash and size, and the metadata
// derived from its filename.
type Wheel struct {
	URL         string
	RegistryURL string
	Hash        string // "sha256:<hex>"
	Size        int64

	filename string
	name     string
	version  string
	build    string
	tags     Tags
}

// New parses a Wheel from its download URL and declared metadata. The
// filename is taken from the URL's last path component, which must end in
// ".whl".
func New(url, registryURL, hash string, size int64) (Wheel, error) {
	filename := path.Base(url)
	if !strings.HasSuffix(filename, ".whl") {
		return Wheel{}, fmt.Errorf("wheel url %q does not name a .whl file", url)
	}

	name, version, build, tags, err := ParseFilename(filename)
	if err != nil {
		return Wheel{}, err
	}

	return Wheel{
		URL:         url,
		RegistryURL: registryURL,
		Hash:        hash,
		Size:        size,
		filename:    filename,
		name:        name,
		version:     version,
		build:       build,
		tags:        tags,
	}, nil
}

// Filename returns the wheel's filename (the last path component of URL).
func (w Wheel) Filename() string { return w.filename }

// Name returns the wheel's project name as encoded in its filename.
func (w Wheel) Name() string { return w.name }

// Version returns the wheel's version as encoded in its filename.
func (w Wheel) Version() string { return w.version }

// BuildTag returns the optional build tag, or "" if absent.
func (w Wheel) BuildTag() string { return w.build }

// PythonTags returns the wheel's interpreter tag alternatives.
func (w Wheel) PythonTags() []string { return append([]string(nil), w.tags.Python...) }

// ABITags returns the wheel's ABI tag alternatives.
func (w Wheel) ABITags() []string { return append([]string(nil), w.tags.ABI...) }

// PlatformTags returns the wheel's platform tag alternatives (PEP 600
// normalized).
func (w Wheel) PlatformTags() []string { return append([]string(nil), w.tags.Platform...) }

// WorksWithPythonTags reports whether w's interpreter tags intersect envTags.
func (w Wheel) WorksWithPythonTags(envTags []string) bool {
	return intersects(w.tags.Python, envTags)
}

// WorksWithABITags reports whether w's ABI tags intersect envTags.
func (w Wheel) WorksWithABITags(envTags []string) bool {
	return intersects(w.tags.ABI, envTags)
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}

	for _, v := range a {
		if set[v] {
			return true
		}
	}

	return false
}

// WorksWithPlatform implements spec §4.3's three-part platform predicate.
// minGlibc/minMacos are nil when the caller wants the "semivalid" set — i.e.
// architecture/prefix compatible regardless of OS-version floor.
func (w Wheel) WorksWithPlatform(p blplatform.Platform, minGlibc, minMacos *[2]int) bool {
	for _, tag := range w.tags.Platform {
		if tag == "any" {
			return true
		}
	}

	archOK := false
	prefixOK := false

	for _, tag := range w.tags.Platform {
		for _, alias := range p.PypiArches() {
			if strings.HasSuffix(tag, alias) {
				archOK = true
			}
		}

		if strings.HasPrefix(tag, p.WheelPlatformTagPrefix()) {
			prefixOK = true
		}
	}

	if !archOK || !prefixOK {
		return false
	}

	switch {
	case p.IsLinux():
		if minGlibc == nil {
			return true
		}

		return w.anyTagSatisfiesFloor(glibcVersion, *minGlibc)
	case p.IsMacos():
		if minMacos == nil {
			return true
		}

		return w.anyTagSatisfiesFloor(macosVersion, *minMacos)
	default: // Windows: unconditionally true once arch/prefix match.
		return true
	}
}

func (w Wheel) anyTagSatisfiesFloor(parse func(string) (int, int, bool), floor [2]int) bool {
	for _, tag := range w.tags.Platform {
		major, minor, ok := parse(tag)
		if !ok {
			continue
		}

		if major < floor[0] || (major == floor[0] && minor <= floor[1]) {
			return true
		}
	}

	return false
}

// OSVersionTag returns the largest OS-version tuple among w's platform tags
// relevant to p, exposed for diagnostic reporting of rejected wheels.
func (w Wheel) OSVersionTag(p blplatform.Platform) [2]int { return w.osVersionSortKey(p) }

// osVersionSortKey returns the largest OS-version tuple among w's platform
// tags relevant to p, for use in preferred-wheel selection (§4.3: prefer the
// widest feature support, i.e. the largest OS-version tag).
func (w Wheel) osVersionSortKey(p blplatform.Platform) [2]int {
	parse := glibcVersion
	if p.IsMacos() {
		parse = macosVersion
	}

	best := [2]int{-1, -1}

	for _, tag := range w.tags.Platform {
		major, minor, ok := parse(tag)
		if !ok {
			continue
		}

		if major > best[0] || (major == best[0] && minor > best[1]) {
			best = [2]int{major, minor}
		}
	}

	return best
}

// windowsPreference ranks Windows platform tags any > win_arm64 > win_amd64 > win32.
func (w Wheel) windowsPreference() int {
	rank := map[string]int{"any": 0, "win_arm64": 1, "win_amd64": 2, "win32": 3}

	best := len(rank)

	for _, tag := range w.tags.Platform {
		if r, ok := rank[tag]; ok && r < best {
			best = r
		}
	}

	return best
}

// SelectPreferred picks the deterministically best wheel from candidates,
// all of which are assumed already to satisfy works_with_platform for p.
// Linux/macOS prefer the largest OS-version tag; Windows prefers
// any > win_arm64 > win_amd64 > win32; ties break by filename.
func SelectPreferred(candidates []Wheel, p blplatform.Platform) (Wheel, bool) {
	if len(candidates) == 0 {
		return Wheel{}, false
	}

	sorted := append([]Wheel(nil), candidates...)

	sort.Slice(sorted, func(i, j int) bool {
		if p.IsWindows() {
			pi, pj := sorted[i].windowsPreference(), sorted[j].windowsPreference()
			if pi != pj {
				return pi < pj
			}
		} else {
			ki, kj := sorted[i].osVersionSortKey(p), sorted[j].osVersionSortKey(p)
			if ki != kj {
				return ki[0] > kj[0] || (ki[0] == kj[0] && ki[1] > kj[1])
			}
		}

		return sorted[i].filename < sorted[j].filename
	})

	return sorted[0], true
}

// IsDownloadValid reports whether the file at path matches w's declared
// hash, which must be of the form "sha256:<hex>".
func (w Wheel) IsDownloadValid(path string) (bool, error) {
	const prefix = "sha256:"
	if !strings.HasPrefix(w.Hash, prefix) {
		return false, fmt.Errorf("unsupported hash algorithm in %q", w.Hash)
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("hashing %s: %w", path, err)
	}

	got := "sha256:" + hex.EncodeToString(h.Sum(nil))

	return got == w.Hash, nil
}
