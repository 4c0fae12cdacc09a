package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cppkg/cppkg/internal/errs"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestToolchainFromEnvDefaults(t *testing.T) {
	os.Unsetenv("CXX")
	os.Unsetenv("AR")
	os.Unsetenv("CXXFLAGS")
	os.Unsetenv("LDFLAGS")

	tc := ToolchainFromEnv()
	if tc.CXX != "c++" {
		t.Errorf("CXX = %q, want c++", tc.CXX)
	}
	if tc.AR != "ar" {
		t.Errorf("AR = %q, want ar", tc.AR)
	}
	if len(tc.CXXFlags) != 0 || len(tc.LDFlags) != 0 {
		t.Errorf("expected no flags from unset env, got %+v", tc)
	}
}

func TestToolchainFromEnvSplitsFlags(t *testing.T) {
	t.Setenv("CXX", "clang++")
	t.Setenv("CXXFLAGS", "-O2 -Wall  -std=c++20")
	t.Setenv("LDFLAGS", "-L/usr/local/lib -lm")

	tc := ToolchainFromEnv()
	if tc.CXX != "clang++" {
		t.Errorf("CXX = %q, want clang++", tc.CXX)
	}
	wantCxx := []string{"-O2", "-Wall", "-std=c++20"}
	if !equalStrings(tc.CXXFlags, wantCxx) {
		t.Errorf("CXXFlags = %v, want %v", tc.CXXFlags, wantCxx)
	}
	wantLd := []string{"-L/usr/local/lib", "-lm"}
	if !equalStrings(tc.LDFlags, wantLd) {
		t.Errorf("LDFlags = %v, want %v", tc.LDFlags, wantLd)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExitCodeForMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{&errs.ManifestParseError{}, 2},
		{&errs.PackageNotFound{Name: "x"}, 3},
		{&errs.NoVersionSatisfies{Name: "x"}, 4},
		{&errs.DependencyCycle{Cycle: []string{"a", "b"}}, 4},
		{&errs.SourceUnpackError{Name: "x", Version: "1.0.0"}, 5},
		{&errs.ToolchainNotFound{Tool: "cc"}, 6},
		{&errs.SubprocessFailed{Name: "ninja", Code: 1}, 7},
	}
	for _, c := range cases {
		if got := ExitCodeFor(c.err); got != c.want {
			t.Errorf("ExitCodeFor(%T) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestRunFailsOnMissingManifest(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), Config{ProjectRoot: dir})
	if err == nil {
		t.Fatal("Run() = nil, want error for a project with no manifest")
	}
	if _, ok := err.(*errs.ManifestParseError); !ok {
		t.Fatalf("Run() error = %T, want *errs.ManifestParseError", err)
	}
}

// TestRunResolvesPathDependencySources is an end-to-end regression test
// for a project depending on a local path dependency. It drives Run() all
// the way through resolution, source materialization, and planning with
// no registry involved (the dependency is pinned, never looked up by
// name/version), then forces a deterministic failure at the external
// ninja invocation so the test needs no ninja binary on PATH. What it
// proves is that the pinned-dependency path no longer panics on a nil
// *semver.Version and actually lands a usable SourceDir.
func TestRunResolvesPathDependencySources(t *testing.T) {
	proj := t.TempDir()

	writeFile(t, filepath.Join(proj, "cppkg.toml"), `
[package]
name = "app"
version = "0.1.0"
edition = "20"

[dependencies]
vendored = { path = "vendored" }
`)
	writeFile(t, filepath.Join(proj, "src", "main.cpp"), "int main() { return 0; }")

	depDir := filepath.Join(proj, "vendored")
	writeFile(t, filepath.Join(depDir, "cppkg.toml"), `
[package]
name = "vendored"
version = "2.0.0"
edition = "20"
`)
	writeFile(t, filepath.Join(depDir, "src", "lib.cpp"), "void f() {}")

	cfg := Config{
		ProjectRoot: proj,
		NinjaPath:   "cppkg-test-ninja-not-on-path",
	}
	_, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("Run() = nil, want *errs.ToolchainNotFound once planning reaches the ninja invocation")
	}
	if _, ok := err.(*errs.ToolchainNotFound); !ok {
		t.Fatalf("Run() error = %T (%v), want *errs.ToolchainNotFound — resolution or planning of the path dependency failed instead of reaching ninja", err, err)
	}
}
