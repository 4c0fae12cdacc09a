package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/cppkg/cppkg/internal/errs"
	"github.com/cppkg/cppkg/manifest"
)

// fakeRegistry serves versions/manifests from an in-memory table, the way
// a recorded registry snapshot would for a deterministic test. pinned
// simulates a local path or git dependency's own manifest, keyed by its
// requirement name, so ResolvePinned can be exercised without touching
// the filesystem or a network.
type fakeRegistry struct {
	versions  map[string][]string
	manifests map[string]manifest.Manifest // key: name@version
	pinned    map[string]manifest.Manifest // key: requirement name
}

func (f *fakeRegistry) Versions(ctx context.Context, name string) ([]string, error) {
	v, ok := f.versions[name]
	if !ok {
		return nil, &errs.PackageNotFound{Name: name}
	}
	return v, nil
}

func (f *fakeRegistry) Manifest(ctx context.Context, name, version string) (manifest.Manifest, error) {
	m, ok := f.manifests[name+"@"+version]
	if !ok {
		return manifest.Manifest{Package: manifest.PackageID{Name: name, Version: mustVersion(version)}}, nil
	}
	return m, nil
}

func (f *fakeRegistry) ResolvePinned(ctx context.Context, req manifest.Requirement, manifestDir string) (manifest.Manifest, error) {
	m, ok := f.pinned[req.Name]
	if !ok {
		return manifest.Manifest{}, fmt.Errorf("fakeRegistry: no pinned manifest for %q", req.Name)
	}
	return m, nil
}

func mustVersion(v string) *semver.Version {
	sv, err := semver.NewVersion(v)
	if err != nil {
		panic(err)
	}
	return sv
}

func rootManifest(deps map[string]manifest.Requirement) manifest.Manifest {
	return manifest.Manifest{
		Package:      manifest.PackageID{Name: "root", Version: mustVersion("0.1.0")},
		Dependencies: deps,
	}
}

func TestResolveSelectsHighestSatisfying(t *testing.T) {
	reg := &fakeRegistry{
		versions: map[string][]string{"A": {"1.0.0", "1.2.3", "2.0.0"}},
	}
	root := rootManifest(map[string]manifest.Requirement{
		"A": {Name: "A", Range: "^1.0"},
	})
	set, err := Resolve(context.Background(), root, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	i := set.IndexOf("A")
	if i < 0 {
		t.Fatal("A not in resolution set")
	}
	if got := set.Packages[i].Version.String(); got != "1.2.3" {
		t.Fatalf("selected A %s, want 1.2.3", got)
	}
}

func TestResolveConflictReportsChain(t *testing.T) {
	reg := &fakeRegistry{
		versions: map[string][]string{
			"A": {"1.0.0", "2.0.0"},
			"B": {"1.0.0"},
		},
		manifests: map[string]manifest.Manifest{
			"B@1.0.0": {
				Package: manifest.PackageID{Name: "B", Version: mustVersion("1.0.0")},
				Dependencies: map[string]manifest.Requirement{
					"A": {Name: "A", Range: "^2"},
				},
			},
		},
	}
	root := rootManifest(map[string]manifest.Requirement{
		"A": {Name: "A", Range: "^1"},
		"B": {Name: "B", Range: "^1"},
	})
	_, err := Resolve(context.Background(), root, reg)
	if err == nil {
		t.Fatal("Resolve() = nil, want NoVersionSatisfies")
	}
	nv, ok := err.(*errs.NoVersionSatisfies)
	if !ok {
		t.Fatalf("Resolve() error = %T, want *errs.NoVersionSatisfies", err)
	}
	if nv.Name != "A" {
		t.Errorf("conflict name = %q, want A", nv.Name)
	}
	if len(nv.Chain) != 2 {
		t.Fatalf("conflict chain = %v, want two entries", nv.Chain)
	}
}

func TestResolutionSetIsAcyclicAndSound(t *testing.T) {
	reg := &fakeRegistry{
		versions: map[string][]string{
			"A": {"1.0.0"},
			"B": {"1.0.0"},
		},
		manifests: map[string]manifest.Manifest{
			"B@1.0.0": {
				Package: manifest.PackageID{Name: "B", Version: mustVersion("1.0.0")},
				Dependencies: map[string]manifest.Requirement{
					"A": {Name: "A", Range: "^1"},
				},
			},
		},
	}
	root := rootManifest(map[string]manifest.Requirement{
		"B": {Name: "B", Range: "^1"},
	})
	set, err := Resolve(context.Background(), root, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(set.Packages) != 3 {
		t.Fatalf("got %d packages, want 3 (root, A, B)", len(set.Packages))
	}
	seen := map[int]bool{}
	for _, e := range set.Edges {
		if seen[e[0]*1000+e[1]] {
			t.Fatalf("duplicate edge %v", e)
		}
		seen[e[0]*1000+e[1]] = true
	}
	// Soundness: every selected version must satisfy every constraint that
	// named it — exercised indirectly since Resolve itself would have
	// returned NoVersionSatisfies otherwise; re-check explicitly for B's
	// requirement on A here.
	ai := set.IndexOf("A")
	av := set.Packages[ai].Version
	c, _ := semver.NewConstraint("^1")
	if !c.Check(av) {
		t.Errorf("selected A %s does not satisfy ^1", av)
	}
}

func TestResolveFoldsPinnedDependencyTransitiveDeps(t *testing.T) {
	reg := &fakeRegistry{
		versions: map[string][]string{"C": {"1.0.0", "1.5.0"}},
		pinned: map[string]manifest.Manifest{
			"vendored": {
				Package: manifest.PackageID{Name: "vendored", Version: mustVersion("0.0.0")},
				Dependencies: map[string]manifest.Requirement{
					"C": {Name: "C", Range: "^1"},
				},
			},
		},
	}
	root := rootManifest(map[string]manifest.Requirement{
		"vendored": {Name: "vendored", Path: "../vendored"},
	})
	set, err := Resolve(context.Background(), root, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(set.Packages) != 3 {
		t.Fatalf("got %d packages, want 3 (root, vendored, C)", len(set.Packages))
	}
	vi := set.IndexOf("vendored")
	if vi < 0 {
		t.Fatal("vendored not in resolution set")
	}
	if v := set.Packages[vi].Version; v == nil || v.String() != "0.0.0" {
		t.Errorf("vendored version = %v, want 0.0.0", v)
	}
	ci := set.IndexOf("C")
	if ci < 0 {
		t.Fatal("C not in resolution set: vendored's transitive dependency was not folded in")
	}
	if got := set.Packages[ci].Version.String(); got != "1.5.0" {
		t.Errorf("selected C %s, want 1.5.0", got)
	}
	found := false
	for _, e := range set.Edges {
		if set.Packages[e[0]].Manifest.Package.Name == "vendored" && set.Packages[e[1]].Manifest.Package.Name == "C" {
			found = true
		}
	}
	if !found {
		t.Errorf("no edge vendored->C in %v", set.Edges)
	}
}
