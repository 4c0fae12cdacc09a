// Package errs defines the structured error kinds surfaced by the core
// engine. Every fallible operation in the engine returns one of these
// (wrapped as needed) instead of a bare string, so the driver is the
// only place that needs to understand how to format and exit-code them.
package errs

import "fmt"

// ManifestParseError reports a malformed or missing required manifest key.
type ManifestParseError struct {
	Path string
	Keys []string // key chain, e.g. []string{"dependencies", "fmt"}
	Err  error
}

func (e *ManifestParseError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, joinKeys(e.Keys), e.Err)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

func joinKeys(keys []string) string {
	s := keys[0]
	for _, k := range keys[1:] {
		s += "." + k
	}
	return s
}

// RegistryError reports a network, HTTP-status, or decode failure talking
// to the registry.
type RegistryError struct {
	Op       string // "search" | "versions" | "fetch"
	Endpoint string
	Status   int // 0 if not an HTTP-status failure
	Err      error
}

func (e *RegistryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry %s %s: http %d: %v", e.Op, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// PackageNotFound reports a name unknown to the registry. Known is the
// set of names the registry did recognize around the same query, used
// only to compute a "did you mean" suggestion; it is not part of the
// error's identity.
type PackageNotFound struct {
	Name  string
	Known []string
}

func (e *PackageNotFound) Error() string {
	if s := Suggest(e.Name, e.Known); s != "" {
		return fmt.Sprintf("package not found: %s (did you mean %q?)", e.Name, s)
	}
	return fmt.Sprintf("package not found: %s", e.Name)
}

// NoVersionSatisfies reports an empty constraint intersection.
type NoVersionSatisfies struct {
	Name  string
	Chain []string // human-readable constraint chain, e.g. "root->A^1"
}

func (e *NoVersionSatisfies) Error() string {
	s := fmt.Sprintf("no version of %q satisfies all constraints", e.Name)
	for _, c := range e.Chain {
		s += "\n  " + c
	}
	return s
}

// DependencyCycle reports a back-edge discovered during resolution.
type DependencyCycle struct {
	Cycle []string // package names in cycle order
}

func (e *DependencyCycle) Error() string {
	s := "dependency cycle: "
	for i, n := range e.Cycle {
		if i > 0 {
			s += " -> "
		}
		s += n
	}
	return s
}

// SourceUnpackError reports a corrupt archive or filesystem failure while
// materializing a package's source tree.
type SourceUnpackError struct {
	Name, Version string
	Err           error
}

func (e *SourceUnpackError) Error() string {
	return fmt.Sprintf("unpack %s-%s: %v", e.Name, e.Version, e.Err)
}

func (e *SourceUnpackError) Unwrap() error { return e.Err }

// ToolchainNotFound reports a required external tool absent from PATH.
type ToolchainNotFound struct {
	Tool string
	Err  error
}

func (e *ToolchainNotFound) Error() string {
	return fmt.Sprintf("toolchain tool not found: %s: %v", e.Tool, e.Err)
}

func (e *ToolchainNotFound) Unwrap() error { return e.Err }

// SubprocessFailed reports a non-zero exit from an external tool.
type SubprocessFailed struct {
	Name string
	Code int
}

func (e *SubprocessFailed) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
}
