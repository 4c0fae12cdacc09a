// Package driver orchestrates one end-to-end build: parse the root
// manifest, resolve dependencies, ensure their sources are on disk, plan
// the Ninja graph, emit it, and hand off to the ninja binary. It is the
// only layer that understands internal/errs well enough to turn one into
// an exit code.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/cppkg/cppkg/internal/errs"
	"github.com/cppkg/cppkg/internal/worker"
	"github.com/cppkg/cppkg/manifest"
	"github.com/cppkg/cppkg/plan"
	"github.com/cppkg/cppkg/registry"
	"github.com/cppkg/cppkg/resolve"
	"github.com/cppkg/cppkg/store"
)

// Toolchain names the host compiler, archiver, and flags, resolved once
// at CLI entry from the CXX/AR/LDFLAGS/CXXFLAGS environment variables.
type Toolchain struct {
	CXX      string
	AR       string
	CXXFlags []string
	LDFlags  []string
}

// ToolchainFromEnv reads CXX/AR/CXXFLAGS/LDFLAGS, applying defaults where
// unset. CXXFLAGS and LDFLAGS are split on whitespace the way a shell
// would word-split them for a command line.
func ToolchainFromEnv() Toolchain {
	return Toolchain{
		CXX:      envOr("CXX", "c++"),
		AR:       envOr("AR", "ar"),
		CXXFlags: splitFields(os.Getenv("CXXFLAGS")),
		LDFlags:  splitFields(os.Getenv("LDFLAGS")),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// Config is everything one build invocation needs.
type Config struct {
	ProjectRoot string
	ManifestName string // bare filename, e.g. "cppkg.toml"; empty means "cppkg.toml"
	OutDirName  string // bare directory name under ProjectRoot, e.g. "target"; empty means "target"
	Profile     string // "debug" | "release"; empty means "debug"
	Verbose     bool

	Parallelism int // 0 means worker.DefaultParallelism()
	Toolchain   Toolchain
	Registry    registry.Config

	IncludeDevDeps bool

	// NinjaPath overrides the external ninja binary looked up on PATH.
	NinjaPath string
}

func (c Config) withDefaults() Config {
	if c.ManifestName == "" {
		c.ManifestName = "cppkg.toml"
	}
	if c.OutDirName == "" {
		c.OutDirName = "target"
	}
	if c.Profile == "" {
		c.Profile = "debug"
	}
	if c.Parallelism <= 0 {
		c.Parallelism = worker.DefaultParallelism()
	}
	if c.NinjaPath == "" {
		c.NinjaPath = "ninja"
	}
	return c
}

// registryAdapter satisfies resolve.Registry by composing a
// *registry.Client with a local manifest cache: a package's manifest is
// only knowable once its archive is fetched and unpacked, so Manifest
// ensures the source first.
type registryAdapter struct {
	client *registry.Client
	store  *store.Store
	cache  map[string]manifest.Manifest
}

func (a *registryAdapter) Versions(ctx context.Context, name string) ([]string, error) {
	return a.client.Versions(ctx, name)
}

func (a *registryAdapter) Manifest(ctx context.Context, name, version string) (manifest.Manifest, error) {
	key := name + "@" + version
	if m, ok := a.cache[key]; ok {
		return m, nil
	}
	dir, err := a.store.Ensure(ctx, name, version, a.client)
	if err != nil {
		return manifest.Manifest{}, err
	}
	m, err := readManifestFrom(dir, "cppkg.toml")
	if err != nil {
		return manifest.Manifest{}, err
	}
	m.SourcePath = dir
	a.cache[key] = m
	return m, nil
}

// ResolvePinned materializes a local-path or git dependency and reads its
// manifest. Path and git dependencies are treated as full sibling cppkg
// projects (their own cppkg.toml plus a src/ tree), the same layout
// convention the root project itself uses, unlike registry archives
// which unpack with their sources directly at the archive root.
func (a *registryAdapter) ResolvePinned(ctx context.Context, req manifest.Requirement, manifestDir string) (manifest.Manifest, error) {
	var dir string
	var err error
	switch {
	case req.Path != "":
		dir, err = a.store.ResolveLocalPath(manifestDir, req.Path)
	case req.Git != nil:
		dir, err = a.store.EnsureGit(ctx, store.GitRef{
			URL:    req.Git.URL,
			Rev:    req.Git.Rev,
			Tag:    req.Git.Tag,
			Branch: req.Git.Branch,
		})
	default:
		return manifest.Manifest{}, fmt.Errorf("pinned requirement %q has neither path nor git", req.Name)
	}
	if err != nil {
		return manifest.Manifest{}, err
	}
	m, err := readManifestFrom(dir, "cppkg.toml")
	if err != nil {
		return manifest.Manifest{}, err
	}
	m.SourcePath = filepath.Join(dir, "src")
	return m, nil
}

func readManifestFrom(dir, manifestName string) (manifest.Manifest, error) {
	path := filepath.Join(dir, manifestName)
	text, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, &errs.ManifestParseError{Path: path, Err: err}
	}
	return manifest.Parse(path, text)
}

// Result reports what one Run produced, for the CLI to log.
type Result struct {
	Target   string // path to the default build target ninja was asked to build
	ExitCode int
}

// Run executes one complete build: parse, resolve, fetch, plan, emit,
// and invoke ninja, returning ninja's exit code alongside any error.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()

	manifestPath := filepath.Join(cfg.ProjectRoot, cfg.ManifestName)
	text, err := os.ReadFile(manifestPath)
	if err != nil {
		return Result{}, &errs.ManifestParseError{Path: manifestPath, Err: err}
	}
	root, err := manifest.Parse(manifestPath, text)
	if err != nil {
		return Result{}, err
	}
	root.SourcePath = filepath.Join(cfg.ProjectRoot, "src")

	if cfg.IncludeDevDeps {
		root = withDevDepsFolded(root)
	}

	outRoot := filepath.Join(cfg.ProjectRoot, cfg.OutDirName)
	st := store.New(outRoot)
	reg := registry.New(cfg.Registry)
	adapter := &registryAdapter{client: reg, store: st, cache: map[string]manifest.Manifest{}}

	set, err := resolve.Resolve(ctx, root, adapter)
	if err != nil {
		return Result{}, err
	}
	set.Packages[0].SourceDir = root.SourcePath

	if err := ensureSources(ctx, cfg, set, st, reg); err != nil {
		return Result{}, err
	}

	profileRoot := filepath.Join(outRoot, cfg.Profile)
	target, err := plan.Plan(ctx, set, plan.Config{
		Toolchain: plan.Toolchain{
			CXX:      cfg.Toolchain.CXX,
			AR:       cfg.Toolchain.AR,
			CXXFlags: cfg.Toolchain.CXXFlags,
			LDFlags:  cfg.Toolchain.LDFlags,
		},
		Profile:        cfg.Profile,
		OutRoot:        profileRoot,
		OutDirName:     cfg.OutDirName,
		IncludeDevDeps: cfg.IncludeDevDeps,
	})
	if err != nil {
		return Result{}, err
	}

	code, err := runNinja(ctx, cfg, profileRoot)
	if err != nil {
		return Result{Target: target, ExitCode: code}, err
	}
	return Result{Target: target, ExitCode: code}, nil
}

// ensureSources materializes every non-root package's source tree
// concurrently, bounded by cfg.Parallelism; these are the only I/O
// suspension points before planning runs. Pinned (path/git) packages
// already have SourceDir populated by resolve.Resolve via ResolvePinned
// and are skipped here; only registry-backed packages whose Manifest
// call during resolution didn't already land a SourceDir need fetching.
func ensureSources(ctx context.Context, cfg Config, set *resolve.ResolutionSet, st *store.Store, reg *registry.Client) error {
	indexes := make([]int, 0, len(set.Packages)-1)
	for i := range set.Packages {
		if i == 0 || set.Packages[i].SourceDir != "" {
			continue
		}
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	progress := newFetchProgress(len(indexes))
	pool := worker.New(cfg.Parallelism)
	tasks := make([]func(context.Context) error, 0, len(indexes))
	for _, i := range indexes {
		i := i
		tasks = append(tasks, func(ctx context.Context) error {
			pkg := set.Packages[i].Manifest.Package
			if pkg.Version == nil {
				return fmt.Errorf("package %q has no resolved version and no materialized source", pkg.Name)
			}
			if cfg.Verbose {
				progress.started(pkg.String())
			}
			dir, err := st.Ensure(ctx, pkg.Name, pkg.Version.String(), reg)
			if err != nil {
				return err
			}
			set.Packages[i].SourceDir = dir
			progress.finished()
			return nil
		})
	}
	return pool.Run(ctx, tasks...)
}

func withDevDepsFolded(m manifest.Manifest) manifest.Manifest {
	out := m
	out.Dependencies = make(map[string]manifest.Requirement, len(m.Dependencies)+len(m.DevDeps))
	for k, v := range m.Dependencies {
		out.Dependencies[k] = v
	}
	for k, v := range m.DevDeps {
		out.Dependencies[k] = v
	}
	return out
}

// runNinja invokes the external ninja binary against profileRoot/build.ninja,
// propagating its exit code. The child runs in its own process group so a
// cancelled context does not leave it orphaned controlling the terminal.
func runNinja(ctx context.Context, cfg Config, profileRoot string) (int, error) {
	if _, err := exec.LookPath(cfg.NinjaPath); err != nil {
		return 1, &errs.ToolchainNotFound{Tool: cfg.NinjaPath, Err: err}
	}
	args := []string{"-C", profileRoot}
	if cfg.Verbose {
		args = append(args, "-v")
	}
	if cfg.Parallelism > 0 {
		args = append(args, "-j", fmt.Sprintf("%d", cfg.Parallelism))
	}
	cmd := exec.CommandContext(ctx, cfg.NinjaPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), &errs.SubprocessFailed{Name: cfg.NinjaPath, Code: exitErr.ExitCode()}
	}
	return 1, &errs.SubprocessFailed{Name: cfg.NinjaPath, Code: 1}
}

// ExitCodeFor maps an internal/errs kind to a process exit code; cmd/cppkg
// is the only caller.
func ExitCodeFor(err error) int {
	switch err.(type) {
	case nil:
		return 0
	case *errs.ManifestParseError:
		return 2
	case *errs.RegistryError, *errs.PackageNotFound:
		return 3
	case *errs.NoVersionSatisfies, *errs.DependencyCycle:
		return 4
	case *errs.SourceUnpackError:
		return 5
	case *errs.ToolchainNotFound:
		return 6
	case *errs.SubprocessFailed:
		return 7
	default:
		return 1
	}
}
