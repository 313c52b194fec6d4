package depgraph

import (
	"fmt"

	"github.com/blext-tools/blext/internal/marker"
)

// VendoringConflict records a live dependency whose name matches a
// Blender-vendored package at a different version (spec §7).
type VendoringConflict struct {
	Name             string
	RequestedVersion string
	VendoredVersion  string
}

func (c VendoringConflict) Error() string {
	return fmt.Sprintf("dependency %q requests version %s but Blender vendors %s",
		c.Name, c.RequestedVersion, c.VendoredVersion)
}

// ConflictError aggregates every VendoringConflict found in a single pass.
type ConflictError struct{ Conflicts []VendoringConflict }

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d vendored-dependency conflict(s)", len(e.Conflicts))
}

func (e *ConflictError) Unwrap() []error {
	errs := make([]error, len(e.Conflicts))
	for i, c := range e.Conflicts {
		errs[i] = c
	}

	return errs
}

// LiveSet computes the live dependency set for a query: starting from
// targets whose marker evaluates true under at least one of envs, union
// with all ancestors under the filtered edge relation (edges whose marker
// is false under every env are removed). Dependencies matching a vendored
// package at an equal version are dropped silently; a version mismatch is
// reported as a VendoringConflict, aggregated across the whole traversal
// rather than aborting at the first one.
func (g *Graph) LiveSet(
	targets []Target,
	envs []marker.Environment,
	vendored map[string]string,
) (live []int, err error) {
	visited := make(map[int]bool)
	var conflicts []VendoringConflict

	var queue []int

	for _, t := range targets {
		if t.Marker != nil && !marker.EvalAny(t.Marker, envs) {
			continue
		}

		idx, ok := g.index[key(t.Name, t.Version)]
		if !ok {
			// Try matching by name alone: target version may not be pinned
			// to an exact patch the lockfile recorded under a different key.
			idx = g.findByName(t.Name)
			if idx < 0 {
				continue
			}
		}

		queue = append(queue, idx)
	}

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]

		if visited[idx] {
			continue
		}

		visited[idx] = true

		node := g.Nodes[idx]

		if vendoredVersion, ok := vendored[node.Name]; ok {
			if vendoredVersion != node.Version {
				conflicts = append(conflicts, VendoringConflict{
					Name:             node.Name,
					RequestedVersion: node.Version,
					VendoredVersion:  vendoredVersion,
				})
			}
			// Equal version: drop from the emitted set but do not fail.
			visited[idx] = true

			continue
		}

		live = append(live, idx)

		for _, e := range g.Edges {
			if e.From != idx {
				continue
			}

			if e.Marker != nil && !marker.EvalAny(e.Marker, envs) {
				continue
			}

			if !visited[e.To] {
				queue = append(queue, e.To)
			}
		}
	}

	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	return live, nil
}

func (g *Graph) findByName(name string) int {
	for i, n := range g.Nodes {
		if n.Name == name {
			return i
		}
	}

	return -1
}

// Target is one top-level (root) dependency to seed traversal from.
type Target struct {
	Name    string
	Version string // may be empty if unpinned; findByName is used as a fallback
	Marker  marker.Marker
}
