package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/google/uuid"

	"github.com/cppkg/cppkg/internal/errs"
)

// GitRef names a git remote pinned to exactly one of a rev, tag, or
// branch, mirroring manifest.GitRef without importing the manifest
// package (store stays a leaf dependency).
type GitRef struct {
	URL    string
	Rev    string
	Tag    string
	Branch string
}

// gitKey derives a stable, filesystem-safe directory name for a GitRef so
// that two dependants pinning the identical ref share one checkout.
func gitKey(ref GitRef) string {
	h := sha1.New()
	h.Write([]byte(ref.URL + "#" + ref.Rev + ref.Tag + ref.Branch))
	return "git-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Store) gitDir(ref GitRef) string {
	return filepath.Join(s.root, "src", gitKey(ref))
}

// EnsureGit clones ref if it is not already present, checks out the
// pinned rev/tag/branch, and returns the working tree directory. It
// follows the same atomic temp-sibling + rename + per-key-mutex
// discipline as Ensure so concurrent resolutions of the same ref don't
// race or double-clone.
func (s *Store) EnsureGit(ctx context.Context, ref GitRef) (string, error) {
	dest := s.gitDir(ref)
	k := gitKey(ref)
	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Join(s.root, "src"), 0o755); err != nil {
		return "", &errs.SourceUnpackError{Name: ref.URL, Version: gitRefLabel(ref), Err: err}
	}
	tmp := dest + ".tmp-" + uuid.NewString()
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	cloneOpts := &git.CloneOptions{URL: ref.URL, SingleBranch: true}
	switch {
	case ref.Branch != "":
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(ref.Branch)
	case ref.Tag != "":
		cloneOpts.ReferenceName = plumbing.NewTagReferenceName(ref.Tag)
	}

	repo, err := git.PlainCloneContext(ctx, tmp, false, cloneOpts)
	if err != nil {
		return "", &errs.SourceUnpackError{Name: ref.URL, Version: gitRefLabel(ref), Err: fmt.Errorf("clone: %w", err)}
	}

	if ref.Rev != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return "", &errs.SourceUnpackError{Name: ref.URL, Version: gitRefLabel(ref), Err: err}
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref.Rev)}); err != nil {
			return "", &errs.SourceUnpackError{Name: ref.URL, Version: gitRefLabel(ref), Err: fmt.Errorf("checkout %s: %w", ref.Rev, err)}
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			committed = true
			return dest, nil
		}
		return "", &errs.SourceUnpackError{Name: ref.URL, Version: gitRefLabel(ref), Err: err}
	}
	committed = true
	return dest, nil
}

func gitRefLabel(ref GitRef) string {
	switch {
	case ref.Tag != "":
		return ref.Tag
	case ref.Branch != "":
		return ref.Branch
	case ref.Rev != "":
		return ref.Rev
	default:
		return "HEAD"
	}
}
