// Package depgraph builds a directed dependency graph from a parsed
// lockfile and traverses it to compute the live dependency set for a given
// (Blender version, platform) query, per spec §4.4.
package depgraph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blext-tools/blext/internal/lockfile"
	"github.com/blext-tools/blext/internal/marker"
	"github.com/blext-tools/blext/internal/wheel"
)

// NormalizeName normalizes a Python package name per PEP 503: lowercase,
// runs of [-_.] collapsed to a single hyphen. Adapted from
// bilusteknoloji-pipg/internal/resolver/requirement.go.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

// Node identifies a (package, version) pair.
type Node struct {
	Name    string // PEP 503 normalized
	Version string // PEP 440 canonical
	Wheels  []wheel.Wheel
}

// Edge is a directed downstream→upstream dependency relation, carrying an
// optional marker expression.
type Edge struct {
	From, To int // indices into Graph.Nodes
	Marker   marker.Marker
}

// Graph is an arena of Nodes and integer-indexed Edges (spec §9: "arena of
// nodes and integer indices for edges ... cloning, filtering, and traversal
// cheap and cycle-safe").
type Graph struct {
	Nodes []Node
	Edges []Edge

	index map[string]int // "name@version" -> Nodes index
}

func key(name, version string) string { return name + "@" + version }

// Build constructs a Graph from a parsed lockfile, per spec §4.4:
//  1. Every package entry with both a registry source and at least one wheel
//     becomes a node; the root package itself is excluded when present.
//  2. Dependency edges come from mandatory dependencies and every
//     optional-dependency group the lockfile already resolved.
func Build(lf *lockfile.Lockfile, rootName string) (*Graph, error) {
	g := &Graph{index: map[string]int{}}

	normalizedRoot := NormalizeName(rootName)

	for _, pkg := range lf.Package {
		name := NormalizeName(pkg.Name)
		if name == normalizedRoot {
			continue
		}

		if pkg.Source.Registry == "" || len(pkg.Wheels) == 0 {
			continue
		}

		wheels := make([]wheel.Wheel, 0, len(pkg.Wheels))

		for _, we := range pkg.Wheels {
			w, err := wheel.New(we.URL, pkg.Source.Registry, we.Hash, we.Size)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", pkg.Name, err)
			}

			wheels = append(wheels, w)
		}

		idx := len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{Name: name, Version: pkg.Version, Wheels: wheels})
		g.index[key(name, pkg.Version)] = idx
	}

	for _, pkg := range lf.Package {
		name := NormalizeName(pkg.Name)
		if name == normalizedRoot {
			continue
		}

		fromIdx, ok := g.index[key(name, pkg.Version)]
		if !ok {
			continue
		}

		allDeps := append([]lockfile.DepEntry(nil), pkg.Dependencies...)
		for _, group := range pkg.OptionalDependencies {
			allDeps = append(allDeps, group...)
		}

		for _, dep := range allDeps {
			if err := g.addEdge(fromIdx, dep); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func (g *Graph) addEdge(fromIdx int, dep lockfile.DepEntry) error {
	depName := NormalizeName(depNameOnly(dep.Name))

	var toIdx = -1

	for i, n := range g.Nodes {
		if n.Name == depName {
			toIdx = i

			break
		}
	}

	if toIdx < 0 {
		// Dependency has no registry/wheel node (e.g. an extra with no
		// wheels in this lockfile); nothing to link to.
		return nil
	}

	var m marker.Marker

	if dep.Marker != "" {
		parsed, err := marker.Parse(dep.Marker)
		if err != nil {
			return fmt.Errorf("parsing marker %q: %w", dep.Marker, err)
		}

		m = parsed
	}

	g.Edges = append(g.Edges, Edge{From: fromIdx, To: toIdx, Marker: m})

	return nil
}

var extraBracket = regexp.MustCompile(`\[[^\]]*\]`)

func depNameOnly(name string) string {
	return strings.TrimSpace(extraBracket.ReplaceAllString(name, ""))
}

// TargetDependencies returns the root's top-level dependencies: for a
// project, the root package's requires-dist; for a single-file script, the
// lockfile's manifest.requirements section.
func TargetDependencies(lf *lockfile.Lockfile, rootName string, isScript bool) []lockfile.DepEntry {
	if isScript {
		deps := make([]lockfile.DepEntry, len(lf.Manifest.Requirements))
		for i, r := range lf.Manifest.Requirements {
			deps[i] = lockfile.DepEntry{Name: r.Name}
		}

		return deps
	}

	root, err := lf.RootPackage(rootName)
	if err != nil {
		return nil
	}

	return root.Metadata.RequiresDist
}
