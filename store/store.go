// Package store implements the source store: a content-addressed local
// directory of fetched and unpacked package sources keyed by
// (name, version). Fetch-then-unpack is atomic via a temp-sibling +
// rename, and concurrent Ensure calls for the same key serialize so only
// one of them does the unpacking.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	archive "github.com/moby/go-archive"
	"github.com/google/uuid"

	"github.com/cppkg/cppkg/internal/errs"
)

// Fetcher is the subset of the registry client the store depends on.
type Fetcher interface {
	Fetch(ctx context.Context, name, version string) ([]byte, error)
}

// Store roots a source tree under <root>/src/<name>-<version>.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (name, version) key
}

// New returns a Store rooted at root (typically <proj>/<out-dir>).
func New(root string) *Store {
	return &Store{root: root, locks: map[string]*sync.Mutex{}}
}

func key(name, version string) string { return name + "-" + version }

// dir returns the final, committed directory for (name, version).
func (s *Store) dir(name, version string) string {
	return filepath.Join(s.root, "src", key(name, version))
}

// Present reports whether (name, version) is already unpacked.
func (s *Store) Present(name, version string) bool {
	info, err := os.Stat(s.dir(name, version))
	return err == nil && info.IsDir()
}

func (s *Store) lockFor(k string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// Ensure fetches and unpacks (name, version) if it is not already
// present, returning the path to its unpacked source directory. It is
// idempotent: a second call for the same key is a cheap stat once the
// first has committed. Concurrent calls for the same key serialize on an
// in-process lock; cross-process safety comes from the final rename
// being atomic on the same filesystem.
func (s *Store) Ensure(ctx context.Context, name, version string, fetcher Fetcher) (string, error) {
	dest := s.dir(name, version)
	l := s.lockFor(key(name, version))
	l.Lock()
	defer l.Unlock()

	if s.Present(name, version) {
		return dest, nil
	}

	data, err := fetcher.Fetch(ctx, name, version)
	if err != nil {
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: err}
	}

	if err := os.MkdirAll(filepath.Join(s.root, "src"), 0o755); err != nil {
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: err}
	}
	tmp := dest + ".tmp-" + uuid.NewString()
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	if ctx.Err() != nil {
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: ctx.Err()}
	}
	if err := archive.Untar(bytes.NewReader(data), tmp, &archive.TarOptions{NoLchown: true}); err != nil {
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: fmt.Errorf("unpack: %w", err)}
	}
	if ctx.Err() != nil {
		// A cancellation that lands between unpack and rename must not
		// leave a partially-fetched archive looking committed.
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: ctx.Err()}
	}
	if err := os.Rename(tmp, dest); err != nil {
		if s.Present(name, version) {
			// Another goroutine/process won the race; that's fine.
			committed = true
			return dest, nil
		}
		return "", &errs.SourceUnpackError{Name: name, Version: version, Err: err}
	}
	committed = true
	return dest, nil
}

// ResolveLocalPath resolves a local-path dependency declared as relPath in
// the manifest rooted at manifestDir. Unlike Ensure, nothing is fetched or
// copied: a path dependency lives wherever the project checked it out, so
// the store only verifies it exists and returns its absolute directory.
func (s *Store) ResolveLocalPath(manifestDir, relPath string) (string, error) {
	dir := relPath
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(manifestDir, relPath)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", &errs.SourceUnpackError{Name: relPath, Version: "path", Err: err}
	}
	if !info.IsDir() {
		return "", &errs.SourceUnpackError{Name: relPath, Version: "path", Err: fmt.Errorf("%s is not a directory", dir)}
	}
	return dir, nil
}
