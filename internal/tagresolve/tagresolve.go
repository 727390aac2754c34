// Package tagresolve implements the M3 tag name resolver (spec.md §4.M3):
// given a commit, find the lexicographically greatest tag name that points
// at it (directly, or through an annotated tag peeled to that commit),
// memoized per repository refs-generation so repeated lookups against an
// unchanged ref set are free.
package tagresolve

import (
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Resolver caches the commit -> tag-name mapping for one repository. It is
// rebuilt wholesale whenever the repository's refs generation advances
// (spec.md §4.M3's cache key is (refsGeneration, oid); here the whole map
// is the generation's cached value, which is simpler and just as
// effective since a resolver is rebuilt at most once per scan).
type Resolver struct {
	mu         sync.Mutex
	generation uint64
	byCommit   map[plumbing.Hash]string
}

// New returns an empty Resolver for a repository.
func New() *Resolver {
	return &Resolver{}
}

// Resolve returns the best tag name pointing at commit within repo, or ""
// if no tag resolves to it. generation identifies the repository's current
// set of refs (the caller is expected to bump it whenever it detects refs
// have changed, e.g. by way of the packed-refs or refs/tags mtime); passing
// the same generation across calls reuses the cached tag map.
func (r *Resolver) Resolve(repo *git.Repository, generation uint64, commit plumbing.Hash) (string, error) {
	if commit.IsZero() {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byCommit == nil || generation != r.generation {
		m, err := buildTagMap(repo)
		if err != nil {
			return "", err
		}
		r.byCommit = m
		r.generation = generation
	}

	return r.byCommit[commit], nil
}

// buildTagMap enumerates every tag ref, peels annotated tags to the
// commit they ultimately reference, and for commits with more than one
// tag keeps the lexicographically greatest name (spec.md §4.M3's stated
// tie-break, resolved as an Open Question in SPEC_FULL.md §9).
func buildTagMap(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("tagresolve: list tags: %w", err)
	}
	defer iter.Close()

	result := map[plumbing.Hash]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		commit, ok := peel(repo, ref.Hash())
		if !ok {
			return nil
		}
		if cur, exists := result[commit]; !exists || name > cur {
			result[commit] = name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tagresolve: walk tags: %w", err)
	}
	return result, nil
}

// peel follows an annotated tag object to the commit it ultimately
// references. A lightweight tag (hash already a commit) peels to itself.
// Tags pointing at trees or blobs have no commit to report and are
// skipped, matching gitstatusd's own behaviour of ignoring non-commit tags.
func peel(repo *git.Repository, hash plumbing.Hash) (plumbing.Hash, bool) {
	for i := 0; i < 10; i++ { // bound against pathological tag-of-tag chains
		if _, err := repo.CommitObject(hash); err == nil {
			return hash, true
		}
		tagObj, err := repo.TagObject(hash)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		hash = tagObj.Target
	}
	return plumbing.ZeroHash, false
}
