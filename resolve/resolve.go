// Package resolve implements the version resolver: given a root manifest
// and a registry facade, it produces a concrete, acyclic, deduplicated
// dependency set pinned to exact versions.
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/cppkg/cppkg/internal/errs"
	"github.com/cppkg/cppkg/manifest"
)

// Registry is the subset of the registry client the resolver depends on.
// Versions returns every known version string for name; Manifest returns
// the parsed manifest of one exact (name, version) so its own
// dependencies can be folded into the search. ResolvePinned materializes
// a local path or git dependency declared relative to manifestDir (the
// declaring package's own manifest directory) and returns its parsed
// manifest so its dependencies, too, are folded into the resolution.
type Registry interface {
	Versions(ctx context.Context, name string) ([]string, error)
	Manifest(ctx context.Context, name, version string) (manifest.Manifest, error)
	ResolvePinned(ctx context.Context, req manifest.Requirement, manifestDir string) (manifest.Manifest, error)
}

// ResolvedPackage is a manifest pinned to an exact version. Resolve sets
// SourceDir to the SourcePath of the manifest the Registry returned, so it
// is already populated for packages materialized during resolution and
// empty otherwise (including the root); the driver fills in the rest
// before the build planner runs.
type ResolvedPackage struct {
	Manifest  manifest.Manifest
	Version   *semver.Version
	SourceDir string
}

// ResolutionSet is the frozen output of resolution: the root package plus
// every transitive dependency, pinned to exactly one version each, with
// edges describing the dependency DAG as index pairs into Packages.
type ResolutionSet struct {
	Packages []ResolvedPackage
	Edges    [][2]int // Edges[i] = {from, to}, both indexes into Packages
}

// IndexOf returns the index of name in the resolution set, or -1.
func (s *ResolutionSet) IndexOf(name string) int {
	for i, p := range s.Packages {
		if p.Manifest.Package.Name == name {
			return i
		}
	}
	return -1
}

type chainConstraint struct {
	rangeText string
	chain     string
}

// state is the resolver's mutable working state. It is cheap to clone so
// that a failed candidate choice can be undone by discarding the clone
// and retrying with the next-highest candidate, rather than threading
// incremental-undo bookkeeping through the recursion.
type state struct {
	selected    map[string]ResolvedPackage
	constraints map[string][]chainConstraint
	inProgress  map[string]bool // names on the current DFS path, for cycle detection
	path        []string        // current DFS path, for cycle reporting
}

func newState() *state {
	return &state{
		selected:    map[string]ResolvedPackage{},
		constraints: map[string][]chainConstraint{},
		inProgress:  map[string]bool{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.selected {
		c.selected[k] = v
	}
	for k, v := range s.constraints {
		c.constraints[k] = append([]chainConstraint{}, v...)
	}
	for k, v := range s.inProgress {
		c.inProgress[k] = v
	}
	c.path = append([]string{}, s.path...)
	return c
}

// Resolve runs a backtracking selection: intersect active constraints,
// pick the highest satisfying candidate, and recurse into its
// dependencies. On a conflict it retries the next-lower candidate of the
// package whose dependencies conflicted, then of that package's requirer,
// and so on up the current dependency path. A package already selected
// on an earlier sibling path is not reselected; a conflict with it is
// reported as *errs.NoVersionSatisfies.
func Resolve(ctx context.Context, root manifest.Manifest, reg Registry) (*ResolutionSet, error) {
	s := newState()
	s.selected[root.Package.Name] = ResolvedPackage{Manifest: root, Version: root.Package.Version}
	s.inProgress[root.Package.Name] = true
	s.path = []string{root.Package.Name}

	next, err := resolveDeps(ctx, reg, s, root)
	if err != nil {
		return nil, err
	}
	delete(next.inProgress, root.Package.Name)

	return buildResolutionSet(next, root.Package.Name)
}

func (s *state) addConstraint(name, rangeText, chain string) {
	s.constraints[name] = append(s.constraints[name], chainConstraint{rangeText: rangeText, chain: chain})
}

// resolveName ensures name is selected consistently with every constraint
// registered against it so far, recursing into its own dependencies. On
// success it returns the (possibly cloned) state with the choice and all
// of its transitive consequences applied; on conflict it returns a
// *errs.NoVersionSatisfies.
func resolveName(ctx context.Context, reg Registry, s *state, name string) (*state, error) {
	if existing, ok := s.selected[name]; ok {
		if s.inProgress[name] {
			return nil, cycleError(s, name)
		}
		if satisfiesAll(existing.Version, s.constraints[name]) {
			return s, nil
		}
		// Already selected for an earlier, now-incompatible reason: this
		// is a conflict the caller's backtracking must resolve by trying
		// a different upstream candidate; we cannot silently reselect
		// here because other packages may already depend on the version
		// we'd be displacing.
		return nil, conflictError(s, name)
	}

	versions, err := reg.Versions(ctx, name)
	if err != nil {
		return nil, err // e.g. *errs.PackageNotFound, propagated as-is
	}
	candidates, err := sortedSemver(versions)
	if err != nil {
		return nil, err
	}

	var lastConflict error
	for _, v := range candidates {
		if !satisfiesAll(v, s.constraints[name]) {
			continue
		}
		trial := s.clone()
		trial.inProgress[name] = true
		trial.path = append(trial.path, name)

		m, err := reg.Manifest(ctx, name, v.String())
		if err != nil {
			return nil, err
		}
		trial.selected[name] = ResolvedPackage{Manifest: m, Version: v, SourceDir: m.SourcePath}

		next, err := resolveDeps(ctx, reg, trial, m)
		if err == nil {
			delete(next.inProgress, name)
			return next, nil
		}
		if !isConflict(err) {
			return nil, err
		}
		lastConflict = err
		// backtrack: discard trial, try the next-lower candidate
	}
	if lastConflict != nil {
		return nil, lastConflict
	}
	return nil, conflictError(s, name)
}

func resolveDeps(ctx context.Context, reg Registry, s *state, m manifest.Manifest) (*state, error) {
	names := sortedDepNames(m.Dependencies)
	for _, depName := range names {
		req := m.Dependencies[depName]
		chain := chainFor(s, m.Package.Name) + "->" + depName + req.Range
		if req.Pinned() {
			next, err := addPinned(ctx, reg, s, req, m.Package.Name)
			if err != nil {
				return nil, err
			}
			s = next
			continue
		}
		s.addConstraint(depName, req.Range, chain)
		next, err := resolveName(ctx, reg, s, depName)
		if err != nil {
			return nil, err
		}
		s = next
	}
	return s, nil
}

// addPinned materializes a local-path or git dependency's own manifest and
// folds its transitive dependencies into s, the same way resolveName does
// for a registry candidate. A pin has exactly one possible source, so
// there is nothing to backtrack across: s is mutated directly rather than
// cloned.
func addPinned(ctx context.Context, reg Registry, s *state, req manifest.Requirement, requirer string) (*state, error) {
	if s.inProgress[req.Name] {
		return nil, cycleError(s, req.Name)
	}
	if _, ok := s.selected[req.Name]; ok {
		// A pinned dependency participates in intersection only as the
		// version it declares; it was already materialized once (by this
		// or another requirer) and is not re-resolved.
		return s, nil
	}

	manifestDir := ""
	if requirerPkg, ok := s.selected[requirer]; ok {
		manifestDir = requirerPkg.Manifest.ManifestDir
	}
	m, err := reg.ResolvePinned(ctx, req, manifestDir)
	if err != nil {
		return nil, err
	}

	s.selected[req.Name] = ResolvedPackage{Manifest: m, Version: m.Package.Version, SourceDir: m.SourcePath}
	s.inProgress[req.Name] = true
	s.path = append(s.path, req.Name)

	next, err := resolveDeps(ctx, reg, s, m)
	if err != nil {
		return nil, err
	}
	delete(next.inProgress, req.Name)
	return next, nil
}

func chainFor(s *state, name string) string {
	for _, c := range s.constraints[name] {
		return c.chain
	}
	return name
}

func satisfiesAll(v *semver.Version, cs []chainConstraint) bool {
	for _, c := range cs {
		constraint, err := semver.NewConstraint(c.rangeText)
		if err != nil {
			return false
		}
		if !constraint.Check(v) {
			return false
		}
	}
	return true
}

func sortedSemver(versions []string) ([]*semver.Version, error) {
	out := make([]*semver.Version, 0, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue // registry returned something unparsable; skip it
		}
		out = append(out, sv)
	}
	sort.Sort(sort.Reverse(semver.Collection(out)))
	return out, nil
}

func sortedDepNames(deps map[string]manifest.Requirement) []string {
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isConflict(err error) bool {
	_, ok := err.(*errs.NoVersionSatisfies)
	return ok
}

func conflictError(s *state, name string) error {
	chains := make([]string, 0, len(s.constraints[name]))
	for _, c := range s.constraints[name] {
		chains = append(chains, fmt.Sprintf("%s (%s)", c.chain, c.rangeText))
	}
	return &errs.NoVersionSatisfies{Name: name, Chain: chains}
}

func cycleError(s *state, name string) error {
	cycle := append(append([]string{}, s.path...), name)
	return &errs.DependencyCycle{Cycle: cycle}
}

func buildResolutionSet(s *state, rootName string) (*ResolutionSet, error) {
	names := make([]string, 0, len(s.selected))
	for n := range s.selected {
		if n != rootName {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	ordered := append([]string{rootName}, names...)

	set := &ResolutionSet{Packages: make([]ResolvedPackage, 0, len(ordered))}
	index := map[string]int{}
	for i, n := range ordered {
		set.Packages = append(set.Packages, s.selected[n])
		index[n] = i
	}
	for _, n := range ordered {
		deps := s.selected[n].Manifest.Dependencies
		depNames := sortedDepNames(deps)
		for _, d := range depNames {
			to, ok := index[d]
			if !ok {
				continue
			}
			set.Edges = append(set.Edges, [2]int{index[n], to})
		}
	}
	return set, nil
}
