// Package resolve selects, for each (dependency, Blender version, platform)
// cell, the single best compatible wheel, aggregating diagnostics across the
// whole pass rather than failing at the first uncoverable cell (spec §4.5).
package resolve

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/catalog"
	"github.com/blext-tools/blext/internal/wheel"
)

// RejectedWheel is a wheel that was architecture/prefix-compatible with a
// platform but was excluded solely on OS-version-floor grounds.
type RejectedWheel struct {
	Filename  string
	OSVersion [2]int
}

// Diagnostic records one uncoverable (dependency, platform) cell.
type Diagnostic struct {
	Dependency      string
	BLVersion       string
	Platform        blplatform.Platform
	RequiredMinOS   [2]int
	RejectedWheels  []RejectedWheel
}

// Remedies returns the three standard suggested fixes for an uncoverable
// cell, per spec §4.5 / §7.
func (d Diagnostic) Remedies() []string {
	return []string{
		fmt.Sprintf("remove platform %s from the target set", d.Platform),
		fmt.Sprintf("remove the top-level dependency that requires %s", d.Dependency),
		"raise the extension's minimum OS version",
	}
}

// ResolutionError aggregates every Diagnostic found across an entire
// resolution pass (spec §7: "Aggregated across all cells").
type ResolutionError struct {
	Diagnostics []Diagnostic
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed: %d uncoverable dependency/platform cell(s)", len(e.Diagnostics))
}

// Dependency is one live dependency's name and candidate wheel set, as
// supplied by internal/depgraph's traversal.
type Dependency struct {
	Name    string
	Wheels  []wheel.Wheel
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConcurrency bounds how many cells are resolved in parallel.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// Resolver resolves wheels for a grid of (Blender version, platform) cells.
type Resolver struct {
	logger      *slog.Logger
	concurrency int
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: slog.Default(), concurrency: 8}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Cell identifies one (Blender version, platform) pair to resolve.
type Cell struct {
	BLVersion catalog.BLVersion
	Platform  blplatform.Platform
}

// Result is the outcome of resolving one Cell: the chosen wheel per
// dependency name.
type Result struct {
	Cell   Cell
	Wheels map[string]wheel.Wheel
}

// ResolveGrid resolves every (dependency, cell) combination across cells,
// fanning cells out concurrently (cells are independent once the dependency
// graph is built). All diagnostics across all cells are aggregated into a
// single *ResolutionError if any cell has an uncoverable dependency;
// resolution never stops at the first failure.
func (r *Resolver) ResolveGrid(cells []Cell, deps []Dependency) ([]Result, error) {
	results := make([]Result, len(cells))

	var (
		mu          sync.Mutex
		diagnostics []Diagnostic
	)

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, cell := range cells {
		g.Go(func() error {
			wheels, cellDiagnostics := r.resolveCell(cell, deps)

			mu.Lock()
			results[i] = Result{Cell: cell, Wheels: wheels}
			diagnostics = append(diagnostics, cellDiagnostics...)
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	if len(diagnostics) > 0 {
		sort.Slice(diagnostics, func(i, j int) bool {
			if diagnostics[i].Dependency != diagnostics[j].Dependency {
				return diagnostics[i].Dependency < diagnostics[j].Dependency
			}

			return diagnostics[i].Platform < diagnostics[j].Platform
		})

		return nil, &ResolutionError{Diagnostics: diagnostics}
	}

	return results, nil
}

// resolveCell implements the per-(dependency, platform) steps of spec §4.5.
func (r *Resolver) resolveCell(cell Cell, deps []Dependency) (map[string]wheel.Wheel, []Diagnostic) {
	wheels := make(map[string]wheel.Wheel, len(deps))

	var diagnostics []Diagnostic

	pyTags := cell.BLVersion.ValidPythonTags()
	abiTags := cell.BLVersion.ValidABITags()
	minGlibc := cell.BLVersion.MinGlibcVersion()
	minMacos := cell.BLVersion.MinMacosVersion()

	for _, dep := range deps {
		var byTags []wheel.Wheel

		for _, w := range dep.Wheels {
			if w.WorksWithPythonTags(pyTags) && w.WorksWithABITags(abiTags) {
				byTags = append(byTags, w)
			}
		}

		var semivalid, valid []wheel.Wheel

		for _, w := range byTags {
			if w.WorksWithPlatform(cell.Platform, nil, nil) {
				semivalid = append(semivalid, w)

				if w.WorksWithPlatform(cell.Platform, &minGlibc, &minMacos) {
					valid = append(valid, w)
				}
			}
		}

		if len(valid) == 0 {
			diag := Diagnostic{
				Dependency:    dep.Name,
				BLVersion:     cell.BLVersion.DisplayString(),
				Platform:      cell.Platform,
				RequiredMinOS: minOSFor(cell.Platform, minGlibc, minMacos),
			}

			for _, w := range semivalid {
				diag.RejectedWheels = append(diag.RejectedWheels, RejectedWheel{
					Filename:  w.Filename(),
					OSVersion: w.OSVersionTag(cell.Platform),
				})
			}

			diagnostics = append(diagnostics, diag)

			continue
		}

		best, ok := wheel.SelectPreferred(valid, cell.Platform)
		if !ok {
			continue
		}

		wheels[dep.Name] = best

		r.logger.Debug("selected wheel",
			slog.String("dependency", dep.Name),
			slog.String("bl_version", cell.BLVersion.DisplayString()),
			slog.String("platform", string(cell.Platform)),
			slog.String("wheel", best.Filename()),
		)
	}

	return wheels, diagnostics
}

func minOSFor(p blplatform.Platform, glibc, macos [2]int) [2]int {
	if p.IsMacos() {
		return macos
	}

	return glibc
}
