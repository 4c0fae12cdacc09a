package manifest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/cppkg/cppkg/internal/errs"
)

// rawManifest mirrors the recognized top-level tables. DisallowUnknownFields
// makes any other top-level key a structured parse error instead of being
// silently dropped, per the manifest model's "typos are not silent" rule.
type rawManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Edition string `toml:"edition"`
	} `toml:"package"`
	Include      []string               `toml:"include"`
	Define       []string               `toml:"define"`
	OptHints     []string               `toml:"opt-hints"`
	Libs         []string               `toml:"libs"`
	Dependencies map[string]rawRequirement `toml:"dependencies"`
	DevDeps      map[string]rawRequirement `toml:"dev-dependencies"`
	Profile      struct {
		Debug   rawProfile `toml:"debug"`
		Release rawProfile `toml:"release"`
	} `toml:"profile"`
	Target map[string]rawTarget `toml:"target"`
}

type rawProfile struct {
	Include  []string `toml:"include"`
	Define   []string `toml:"define"`
	OptHints []string `toml:"opt-hints"`
}

type rawTarget struct {
	Include      []string                  `toml:"include"`
	Define       []string                  `toml:"define"`
	Dependencies map[string]rawRequirement `toml:"dependencies"`
}

// rawRequirement decodes either a bare range string ("^1.2") or an inline
// table ({ path = "../foo" } or { git = "...", tag|rev|branch = "..." }).
type rawRequirement struct {
	Range string
	Path  string
	Git   *GitRef
}

func (r *rawRequirement) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		r.Range = v
		return nil
	case map[string]interface{}:
		if p, ok := v["path"].(string); ok {
			r.Path = p
			return nil
		}
		if g, ok := v["git"].(string); ok {
			ref := &GitRef{URL: g}
			if s, ok := v["tag"].(string); ok {
				ref.Tag = s
			}
			if s, ok := v["rev"].(string); ok {
				ref.Rev = s
			}
			if s, ok := v["branch"].(string); ok {
				ref.Branch = s
			}
			r.Git = ref
			return nil
		}
		return fmt.Errorf("dependency table must set \"path\" or \"git\"")
	default:
		return fmt.Errorf("dependency must be a string or table, got %T", data)
	}
}

// Parse parses manifest text into a Manifest. path is not read: it
// annotates errors, and it sets SourcePath (to path itself) and
// ManifestDir (to its directory).
func Parse(path string, text []byte) (Manifest, error) {
	var raw rawManifest
	dec := toml.NewDecoder(bytes.NewReader(text))
	dec.DisallowUnknownFields()
	if _, err := dec.Decode(&raw); err != nil {
		return Manifest{}, &errs.ManifestParseError{Path: path, Err: err}
	}

	if raw.Package.Name == "" {
		return Manifest{}, &errs.ManifestParseError{Path: path, Keys: []string{"package", "name"}, Err: fmt.Errorf("required key missing")}
	}
	if raw.Package.Version == "" {
		return Manifest{}, &errs.ManifestParseError{Path: path, Keys: []string{"package", "version"}, Err: fmt.Errorf("required key missing")}
	}
	version, err := semver.NewVersion(raw.Package.Version)
	if err != nil {
		return Manifest{}, &errs.ManifestParseError{Path: path, Keys: []string{"package", "version"}, Err: err}
	}

	m := Manifest{
		Package:      PackageID{Name: raw.Package.Name, Version: version},
		Edition:      raw.Package.Edition,
		Includes:     raw.Include,
		Defines:      raw.Define,
		OptHints:     raw.OptHints,
		Libs:         raw.Libs,
		Dependencies: map[string]Requirement{},
		DevDeps:      map[string]Requirement{},
		Profiles:     map[string]ProfileOverride{},
		Targets:      map[string]TargetOverride{},
		SourcePath:   path,
		ManifestDir:  filepath.Dir(path),
	}
	for name, rr := range raw.Dependencies {
		req, err := toRequirement(name, rr)
		if err != nil {
			return Manifest{}, &errs.ManifestParseError{Path: path, Keys: []string{"dependencies", name}, Err: err}
		}
		m.Dependencies[name] = req
	}
	for name, rr := range raw.DevDeps {
		req, err := toRequirement(name, rr)
		if err != nil {
			return Manifest{}, &errs.ManifestParseError{Path: path, Keys: []string{"dev-dependencies", name}, Err: err}
		}
		m.DevDeps[name] = req
	}
	if !isZeroProfile(raw.Profile.Debug) {
		m.Profiles["debug"] = ProfileOverride{Includes: raw.Profile.Debug.Include, Defines: raw.Profile.Debug.Define, OptHints: raw.Profile.Debug.OptHints}
	}
	if !isZeroProfile(raw.Profile.Release) {
		m.Profiles["release"] = ProfileOverride{Includes: raw.Profile.Release.Include, Defines: raw.Profile.Release.Define, OptHints: raw.Profile.Release.OptHints}
	}
	for triple, t := range raw.Target {
		m.Targets[triple] = TargetOverride{Includes: t.Include, Defines: t.Define}
	}
	return m, nil
}

func toRequirement(name string, rr rawRequirement) (Requirement, error) {
	if rr.Path == "" && rr.Git == nil && strings.TrimSpace(rr.Range) == "" {
		return Requirement{}, fmt.Errorf("empty requirement")
	}
	return Requirement{Name: name, Range: rr.Range, Path: rr.Path, Git: rr.Git}, nil
}

func isZeroProfile(p rawProfile) bool {
	return len(p.Include) == 0 && len(p.Define) == 0 && len(p.OptHints) == 0
}
