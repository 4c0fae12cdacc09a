// Package manifest models a project's declarative manifest: its package
// identity, C++ standard and compile flags, dependency requirements, and
// profile overrides. Manifests are read-only once parsed.
package manifest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// PackageID is a (name, version) pair: the registry's unit of identity.
type PackageID struct {
	Name    string
	Version *semver.Version
}

func (p PackageID) String() string {
	if p.Version == nil {
		return p.Name
	}
	return fmt.Sprintf("%s-%s", p.Name, p.Version.String())
}

// GitRef pins a dependency to a git remote and a rev, tag, or branch.
type GitRef struct {
	URL    string
	Rev    string
	Tag    string
	Branch string
}

// Requirement is a dependency requirement: either a registry semver
// range, a local path, or a git reference. Exactly one of Range, Path,
// or Git is meaningful for a given requirement.
type Requirement struct {
	Name  string
	Range string // semver-compatible constraint text, e.g. "^1.2", "~1", ">=1.0, <2.0"
	Path  string // local path dependency; pinned, not subject to selection
	Git   *GitRef
}

// Pinned reports whether the requirement names an exact source (local
// path or git ref) rather than a registry range subject to selection.
func (r Requirement) Pinned() bool {
	return r.Path != "" || r.Git != nil
}

// ProfileOverride carries the subset of build flags a [profile.debug] or
// [profile.release] table may override.
type ProfileOverride struct {
	Includes []string
	Defines  []string
	OptHints []string
}

// TargetOverride carries the subset of build flags a
// [target.<triple>...] table may override.
type TargetOverride struct {
	Includes []string
	Defines  []string
}

// Manifest is the in-memory, read-only form of a parsed project manifest.
type Manifest struct {
	Package  PackageID
	Edition  string // C++ standard indicator, e.g. "17", "20"
	Includes []string
	Defines  []string
	OptHints []string
	Libs     []string // system libraries this package asks the linker to resolve, e.g. "pthread", "m"

	Dependencies map[string]Requirement
	DevDeps      map[string]Requirement

	Profiles map[string]ProfileOverride // keyed by "debug" | "release"
	Targets  map[string]TargetOverride  // keyed by build triple

	// SourcePath is the directory the planner walks for this package's own
	// source files. Parse sets it to the manifest file's own path and the
	// driver replaces that with the source directory; it is empty for
	// manifests synthesized in memory (e.g. by tests).
	SourcePath string

	// ManifestDir is the directory the manifest file itself was read
	// from. It is distinct from SourcePath: a local path or git
	// dependency declared here is resolved relative to ManifestDir, the
	// same way Parse computes it, not relative to wherever the build's
	// source tree convention happens to put compiled sources.
	ManifestDir string
}

// MergeProfile returns a snapshot of m with the named profile's overrides
// folded into the base Includes/Defines/OptHints. Unknown profile names
// yield m unchanged: a profile table is optional.
func (m Manifest) MergeProfile(name string) Manifest {
	ov, ok := m.Profiles[name]
	if !ok {
		return m
	}
	out := m
	out.Includes = append(append([]string{}, m.Includes...), ov.Includes...)
	out.Defines = append(append([]string{}, m.Defines...), ov.Defines...)
	out.OptHints = append(append([]string{}, m.OptHints...), ov.OptHints...)
	return out
}
