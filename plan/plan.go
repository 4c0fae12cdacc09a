// Package plan turns a frozen resolution set into a Ninja build graph: one
// compile build per source file, one archive per library package, and a
// final link for the root executable.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/cppkg/cppkg/internal/errs"
	"github.com/cppkg/cppkg/ninja"
	"github.com/cppkg/cppkg/resolve"
)

// compiledExts are the C/C++ source extensions that produce an object
// file; headers participate in the include graph only, via the depfile.
var compiledExts = map[string]bool{
	".c": true, ".c++": true, ".cc": true, ".cpp": true,
	".cu": true, ".cxx": true, ".ixx": true, ".cppm": true,
}

var excludedDirs = map[string]bool{"build": true, "cmake-build-debug": true}

const defaultMaxDepth = 64

// Toolchain names the host compiler, archiver, and default flags.
type Toolchain struct {
	CXX      string
	AR       string
	CXXFlags []string
	LDFlags  []string
}

func (t Toolchain) withDefaults() Toolchain {
	if t.CXX == "" {
		t.CXX = "c++"
	}
	if t.AR == "" {
		t.AR = "ar"
	}
	return t
}

// Config holds everything the planner needs beyond the resolution set.
type Config struct {
	Toolchain      Toolchain
	Profile        string // "debug" | "release"
	OutRoot        string // <proj>/<out-dir>/<profile>
	OutDirName     string // the bare "<out-dir>" name, excluded from source scans
	// IncludeDevDeps is read by the driver, not Plan itself: when true the
	// driver folds the root manifest's dev-dependencies into the set
	// passed to resolve.Resolve before planning, so a test-build request
	// sees them as ordinary resolved packages here.
	IncludeDevDeps bool
	MaxDepth       int // symlink-loop guard depth; 0 means defaultMaxDepth
}

// Plan builds the complete Ninja graph for set and writes it, atomically,
// to <Config.OutRoot>/build.ninja. It returns the path to the default
// target, which is always the root executable linked from the root
// package's own objects; the root package is never archived into a
// library or made the default as one, and a root package with no source
// files is an error.
func Plan(ctx context.Context, set *resolve.ResolutionSet, cfg Config) (string, error) {
	cfg.Toolchain = cfg.Toolchain.withDefaults()
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = defaultMaxDepth
	}

	w := ninja.New()
	w.Comment("generated build file, do not edit", 0)
	w.Newline()
	declareRules(w)
	w.Newline()

	order, err := topoOrder(set)
	if err != nil {
		return "", err
	}

	objDirs := map[string][]string{} // package name -> its object file outputs
	archives := map[string]string{}  // package name -> lib archive path
	var compileCommands []compileCommand

	for _, idx := range order {
		pkg := set.Packages[idx]
		if pkg.SourceDir == "" {
			return "", &errs.SourceUnpackError{Name: pkg.Manifest.Package.Name, Version: versionString(pkg), Err: fmt.Errorf("source directory not materialized before planning")}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		cxxflags := composeCxxflags(cfg, set, idx)
		srcs, err := enumerateSources(pkg.SourceDir, cfg.OutDirName, cfg.MaxDepth)
		if err != nil {
			return "", err
		}

		pkgID := pkgDirName(pkg)
		var objs []string
		for _, rel := range srcs {
			obj := filepath.Join(cfg.OutRoot, pkgID, rel+".o")
			in := filepath.Join(pkg.SourceDir, rel)
			w.Build([]string{obj}, "compile_cxx", ninja.BuildSet{
				Inputs:        []string{in},
				VariableOrder: []string{"cxxflags"},
				Variables:     map[string]string{"cxxflags": cxxflags},
			})
			objs = append(objs, obj)
			compileCommands = append(compileCommands, compileCommand{
				Directory: pkg.SourceDir,
				File:      in,
				Arguments: append([]string{cfg.Toolchain.CXX}, append(strings.Fields(cxxflags), "-c", in, "-o", obj)...),
				Output:    obj,
			})
		}
		objDirs[pkg.Manifest.Package.Name] = objs

		if idx != 0 {
			libPath := filepath.Join(cfg.OutRoot, pkgID, "lib"+pkg.Manifest.Package.Name+".a")
			w.Newline()
			w.Build([]string{libPath}, "archive", ninja.BuildSet{Inputs: objs})
			archives[pkg.Manifest.Package.Name] = libPath
		}
		w.Newline()
	}

	root := set.Packages[0]
	rootObjs := objDirs[root.Manifest.Package.Name]
	if len(rootObjs) == 0 {
		return "", &errs.SourceUnpackError{Name: root.Manifest.Package.Name, Version: versionString(root), Err: fmt.Errorf("no source files found under %s", root.SourceDir)}
	}

	linkInputs := append([]string{}, rootObjs...)
	for _, name := range reverseTopoDepNames(set, order) {
		if lib, ok := archives[name]; ok {
			linkInputs = append(linkInputs, lib)
		}
	}
	libs := collectLibs(set)

	target := filepath.Join(cfg.OutRoot, root.Manifest.Package.Name)
	w.Build([]string{target}, "link_exe", ninja.BuildSet{
		Inputs:        linkInputs,
		VariableOrder: []string{"libs"},
		Variables:     map[string]string{"libs": strings.Join(libs, " ")},
	})
	w.Newline()
	w.Default([]string{target})

	if err := os.MkdirAll(cfg.OutRoot, 0o755); err != nil {
		return "", err
	}
	if err := w.WriteFile(filepath.Join(cfg.OutRoot, "build.ninja")); err != nil {
		return "", err
	}
	if err := writeCompileCommands(cfg.OutRoot, compileCommands); err != nil {
		return "", err
	}
	return target, nil
}

// compileCommand is one entry of the Clang compilation database format
// editors and language servers read to understand a project's include
// paths and defines.
type compileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments"`
	Output    string   `json:"output"`
}

// writeCompileCommands emits compile_commands.json next to build.ninja,
// atomically, the same way the Ninja writer finalizes its own output:
// write to a temp sibling, then rename into place.
func writeCompileCommands(outRoot string, entries []compileCommand) error {
	if entries == nil {
		entries = []compileCommand{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(outRoot, "compile_commands.json")
	tmp, err := os.CreateTemp(outRoot, "compile_commands.json.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func declareRules(w *ninja.Writer) {
	w.Rule("compile_cxx", "$cxx -MD -MF $out.d $cxxflags -c $in -o $out", ninja.RuleSet{
		Depfile:     "$out.d",
		Deps:        "gcc",
		Description: "Compiling $in",
	})
	w.Newline()
	w.Rule("archive", "$ar rcs $out $in", ninja.RuleSet{Description: "Archiving $out"})
	w.Newline()
	w.Rule("link_exe", "$cxx $ldflags -o $out $in $libs", ninja.RuleSet{Description: "Linking $out"})
}

func versionString(p resolve.ResolvedPackage) string {
	if p.Version == nil {
		return ""
	}
	return p.Version.String()
}

func pkgDirName(p resolve.ResolvedPackage) string {
	return fmt.Sprintf("%s-%s", p.Manifest.Package.Name, versionString(p))
}

// topoOrder returns package indexes in dependency-first order (a package
// appears after everything it depends on), with ties broken
// lexicographically by name so two runs over the same resolution set
// produce the same order.
func topoOrder(set *resolve.ResolutionSet) ([]int, error) {
	n := len(set.Packages)
	children := make([][]int, n) // edge[i]=from->to (i depends on to); children[to] = [from...]
	indeg := make([]int, n)
	for _, e := range set.Edges {
		from, to := e[0], e[1]
		children[to] = append(children[to], from)
		indeg[from]++
	}

	order := make([]int, 0, n)
	visited := make([]bool, n)

	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(order) < n {
		if len(ready) == 0 {
			return nil, &errs.DependencyCycle{Cycle: []string{"resolution set"}}
		}
		sort.Slice(ready, func(a, b int) bool {
			return set.Packages[ready[a]].Manifest.Package.Name < set.Packages[ready[b]].Manifest.Package.Name
		})
		next := ready[0]
		ready = ready[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		order = append(order, next)
		for _, dependent := range children[next] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order, nil
}

// reverseTopoDepNames returns the non-root package names in the reverse
// of topoOrder's dependency-first order, so each package comes before the
// packages it depends on; on the link line that puts an archive ahead of
// the archives that provide the symbols it needs, as a static linker
// requires.
func reverseTopoDepNames(set *resolve.ResolutionSet, order []int) []string {
	var names []string
	for i := len(order) - 1; i >= 0; i-- {
		idx := order[i]
		if idx == 0 {
			continue
		}
		names = append(names, set.Packages[idx].Manifest.Package.Name)
	}
	return names
}

func composeCxxflags(cfg Config, set *resolve.ResolutionSet, idx int) string {
	pkg := set.Packages[idx].Manifest.MergeProfile(cfg.Profile)
	parts := append([]string{}, cfg.Toolchain.CXXFlags...)
	for _, d := range pkg.Defines {
		parts = append(parts, "-D"+d)
	}
	for _, inc := range pkg.Includes {
		parts = append(parts, "-I"+filepath.Join(set.Packages[idx].SourceDir, inc))
	}
	parts = append(parts, pkg.OptHints...)
	for _, depIdx := range transitiveDeps(set, idx) {
		dep := set.Packages[depIdx].Manifest
		for _, inc := range dep.Includes {
			parts = append(parts, "-I"+filepath.Join(set.Packages[depIdx].SourceDir, inc))
		}
	}
	return strings.Join(parts, " ")
}

func transitiveDeps(set *resolve.ResolutionSet, idx int) []int {
	seen := map[int]bool{idx: true}
	var out []int
	var walk func(i int)
	walk = func(i int) {
		for _, e := range set.Edges {
			if e[0] == i && !seen[e[1]] {
				seen[e[1]] = true
				out = append(out, e[1])
				walk(e[1])
			}
		}
	}
	walk(idx)
	sort.Slice(out, func(a, b int) bool {
		return set.Packages[out[a]].Manifest.Package.Name < set.Packages[out[b]].Manifest.Package.Name
	})
	return out
}

func collectLibs(set *resolve.ResolutionSet) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range set.Packages {
		for _, l := range p.Manifest.Libs {
			if !seen[l] {
				seen[l] = true
				out = append(out, "-l"+l)
			}
		}
	}
	sort.Strings(out)
	return out
}

// enumerateSources walks root for compiled source files (headers are left
// to the depfile to track), skipping the output directory, "build",
// "cmake-build-debug", and any dot-prefixed directory, and guarding
// against symlink cycles with a visited (device, inode) set bounded by
// maxDepth. Results are relative to root and sorted for determinism.
func enumerateSources(root, outDirName string, maxDepth int) ([]string, error) {
	visited := map[[2]uint64]bool{}
	var out []string

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })
		for _, e := range entries {
			name := e.Name()
			full := filepath.Join(dir, name)
			if e.IsDir() || e.Type()&fs.ModeSymlink != 0 {
				info, err := os.Stat(full)
				if err != nil {
					continue // broken symlink or race; skip
				}
				if !info.IsDir() {
					continue
				}
				if strings.HasPrefix(name, ".") || excludedDirs[name] || name == outDirName {
					continue
				}
				key, ok := inodeKey(info)
				if ok {
					if visited[key] {
						continue // symlink loop
					}
					visited[key] = true
				}
				if err := walk(full, depth+1); err != nil {
					return err
				}
				continue
			}
			ext := filepath.Ext(name)
			if !compiledExts[ext] {
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				return err
			}
			out = append(out, rel)
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func inodeKey(info os.FileInfo) ([2]uint64, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return [2]uint64{}, false
	}
	return [2]uint64{uint64(st.Dev), st.Ino}, true
}

