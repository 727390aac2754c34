// Package gitrepo implements the repository handle (spec.md §4.M1) and the
// process-wide repository cache (spec.md §4.M5), plus the small pieces of
// repository metadata (ahead/behind, repo state, stash count) spec.md's
// response schema (§6) requires but original_source/ supplements beyond
// the distilled spec.md text (see SPEC_FULL.md §9).
package gitrepo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/sourcegraph/statusd/internal/indexsnap"
	"github.com/sourcegraph/statusd/internal/tagresolve"
)

// ErrNotARepo is returned by Open when dir is not inside a working tree,
// the *not-a-repo* error kind of spec.md §7.
var ErrNotARepo = errors.New("gitrepo: not a repository")

// Repo is the M1 repository handle: it owns a native go-git repository
// object, a lazily rebuilt index Snapshot published behind an atomic
// pointer (invariant I3 -- a request never observes a partial snapshot),
// and the bookkeeping needed to detect when the on-disk index has changed
// since the last snapshot was built.
type Repo struct {
	workdir string // absolute, trailing slash stripped
	gitDir  string // absolute path to the .git directory (or bare root)
	repo    *git.Repository

	snapshot     atomic.Pointer[indexsnap.Snapshot]
	snapshotStat time.Time // mtime of the index file when snapshot was built

	resolver *tagresolve.Resolver

	lastUsed time.Time
}

// Open opens the repository containing dir, walking up from dir to find a
// .git directory (go-git's DetectDotGit), and fails with ErrNotARepo if
// none is found.
//
// If dir resolves inside a submodule's own working tree, Open returns the
// inner repository: go-git's DetectDotGit walk stops at the first .git it
// finds while walking upward, which for a path inside a submodule is the
// submodule's own .git. This choice (documented as an Open Question in spec.md §9)
// is made deterministic by simply delegating entirely to go-git's own
// directory walk rather than second-guessing it.
func Open(dir string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepo
		}
		return nil, fmt.Errorf("gitrepo: open %s: %w", dir, err)
	}

	workdir := dir
	if wt, err := repo.Worktree(); err == nil && wt.Filesystem != nil {
		workdir = wt.Filesystem.Root()
	}
	workdir = strings.TrimRight(filepath.Clean(workdir), string(filepath.Separator))
	if workdir == "" {
		workdir = string(filepath.Separator)
	}

	gitDir := workdir
	if fss, ok := repo.Storer.(*filesystem.Storage); ok && fss.Filesystem() != nil {
		gitDir = fss.Filesystem().Root()
	}

	return &Repo{
		workdir: workdir,
		gitDir:  gitDir,
		repo:    repo,
	}, nil
}

// Workdir returns the repository's working-tree root, trailing slash
// stripped unless root (spec.md §6 field 3).
func (r *Repo) Workdir() string { return r.workdir }

// GitRepo exposes the underlying go-git repository for packages (tag
// resolution, diff engine) that need lower-level plumbing access. The
// returned handle is owned by Repo (invariant I2): callers must not close
// or cache it beyond the current request.
func (r *Repo) GitRepo() *git.Repository { return r.repo }

// Touch records the handle as used at t, for LRU-style bookkeeping if a
// future cache eviction policy needs it (none is specified; spec.md §9
// assumes an unbounded cache).
func (r *Repo) Touch(t time.Time) { r.lastUsed = t }

// Snapshot returns the current index Snapshot, rebuilding it if the index
// file's mtime has advanced since the last build (spec.md §4.M2). threads
// controls target shard count.
func (r *Repo) Snapshot(threads int) (*indexsnap.Snapshot, error) {
	st, err := os.Stat(filepath.Join(r.gitDir, "index"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("gitrepo: stat index: %w", err)
	}
	mtime := time.Time{}
	if err == nil {
		mtime = st.ModTime()
	}

	if cur := r.snapshot.Load(); cur != nil && mtime.Equal(r.snapshotStat) {
		return cur, nil
	}

	idx, err := r.repo.Storer.Index()
	if err != nil {
		if errors.Is(err, gitindex.ErrUnsupportedVersion) {
			return nil, fmt.Errorf("gitrepo: unsupported index version: %w", err)
		}
		// An index-less repository (no commits, nothing staged yet)
		// is not an error: it simply has zero entries.
		idx = &gitindex.Index{}
	}

	snap := indexsnap.Build(idx, threads)
	r.snapshot.Store(snap)
	r.snapshotStat = mtime
	return snap, nil
}

// HeadCommit returns HEAD's commit hash, or the zero hash for an unborn
// branch (spec.md §6 field 4: empty for an unborn branch).
func (r *Repo) HeadCommit() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: head: %w", err)
	}
	return ref.Hash(), nil
}

// LocalBranch returns the current branch's short name and true, or ("",
// false) when HEAD is detached (spec.md §6 field 5).
func (r *Repo) LocalBranch() (string, bool) {
	ref, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", false
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", false
	}
	return ref.Target().Short(), true
}

// Upstream returns the branch's configured upstream short name and the
// remote's URL, or ("", "", nil) when none is configured (spec.md §6
// fields 6-7).
func (r *Repo) Upstream(localBranch string) (branch, remoteURL string, err error) {
	if localBranch == "" {
		return "", "", nil
	}
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return "", "", fmt.Errorf("gitrepo: config: %w", err)
	}
	b, ok := cfg.Branches[localBranch]
	if !ok || b.Merge == "" {
		return "", "", nil
	}
	branch = b.Merge.Short()
	if b.Remote != "" {
		if rc, ok := cfg.Remotes[b.Remote]; ok && len(rc.URLs) > 0 {
			remoteURL = rc.URLs[0]
		}
	}
	return branch, remoteURL, nil
}

// UpstreamHash resolves the commit hash of the branch's upstream tracking
// ref (e.g. refs/remotes/origin/main), or the zero hash if it cannot be
// resolved.
func (r *Repo) UpstreamHash(localBranch, remoteName string) plumbing.Hash {
	if localBranch == "" || remoteName == "" {
		return plumbing.ZeroHash
	}
	upstreamBranch := localBranch
	if cfg, err := r.repo.Storer.Config(); err == nil {
		if b, ok := cfg.Branches[localBranch]; ok && b.Merge != "" {
			upstreamBranch = b.Merge.Short()
		}
	}
	refName := plumbing.NewRemoteReferenceName(remoteName, upstreamBranch)
	ref, err := r.repo.Reference(refName, true)
	if err != nil {
		return plumbing.ZeroHash
	}
	return ref.Hash()
}

// Resolver returns the repository's tag-name resolver (M3), creating it on
// first use. One Resolver is shared by every request against this Repo so
// its tag-map cache survives across requests (spec.md §4.M3).
func (r *Repo) Resolver() *tagresolve.Resolver {
	if r.resolver == nil {
		r.resolver = tagresolve.New()
	}
	return r.resolver
}

// RefsGeneration returns a value that changes whenever the refs database
// might have changed, derived from the mtime of packed-refs and
// refs/tags (spec.md §4.M3: "after the refs database has changed"; the
// precise change-detection mechanism is left to the implementation by
// spec.md, resolved here the same way Snapshot detects index changes --
// by stat, not by watching).
func (r *Repo) RefsGeneration() uint64 {
	var newest time.Time
	consider := func(parts ...string) {
		if st, err := os.Stat(filepath.Join(append([]string{r.gitDir}, parts...)...)); err == nil {
			if st.ModTime().After(newest) {
				newest = st.ModTime()
			}
		}
	}
	consider("packed-refs")
	consider("refs", "tags")
	return uint64(newest.UnixNano())
}

func remoteNameFor(cfg *config.Config, localBranch string) string {
	if b, ok := cfg.Branches[localBranch]; ok {
		return b.Remote
	}
	return ""
}

// RemoteName returns the configured remote name for localBranch ("origin"
// in the common case), or "" if none.
func (r *Repo) RemoteName(localBranch string) string {
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return ""
	}
	return remoteNameFor(cfg, localBranch)
}

// AheadBehind counts commits reachable from local but not upstream (ahead)
// and vice versa (behind), equivalent to `git rev-list --count
// upstream..local` / `local..upstream`. It computes the full ancestor set
// of each side (bounded by maxCommits, a best-effort budget guard -- this
// is the one place where unbounded history could blow spec.md's latency
// budget) and takes the symmetric difference.
func (r *Repo) AheadBehind(local, upstream plumbing.Hash, maxCommits int) (ahead, behind int, err error) {
	if upstream.IsZero() {
		return 0, 0, nil
	}
	if local.IsZero() {
		return 0, 0, nil
	}
	localSet, err := r.ancestorSet(local, maxCommits)
	if err != nil {
		return 0, 0, err
	}
	upstreamSet, err := r.ancestorSet(upstream, maxCommits)
	if err != nil {
		return 0, 0, err
	}
	for h := range localSet {
		if !upstreamSet[h] {
			ahead++
		}
	}
	for h := range upstreamSet {
		if !localSet[h] {
			behind++
		}
	}
	return ahead, behind, nil
}

func (r *Repo) ancestorSet(start plumbing.Hash, maxCommits int) (map[plumbing.Hash]bool, error) {
	visited := map[plumbing.Hash]bool{}
	queue := []plumbing.Hash{start}
	for len(queue) > 0 && len(visited) < maxCommits {
		h := queue[0]
		queue = queue[1:]
		if visited[h] {
			continue
		}
		visited[h] = true
		c, err := r.repo.CommitObject(h)
		if err != nil {
			// A shallow clone's boundary commit, or similar: stop
			// walking this lineage rather than failing outright.
			continue
		}
		for _, p := range c.ParentHashes {
			if !visited[p] {
				queue = append(queue, p)
			}
		}
	}
	return visited, nil
}

// RepoState inspects the git-dir for the marker files set during an
// in-progress merge, rebase, cherry-pick, bisect, or revert (spec.md §6
// field 8; see SPEC_FULL.md §9 for the supplemented detection rules, since
// spec.md names the field but not its derivation).
func (r *Repo) RepoState() string {
	exists := func(parts ...string) bool {
		_, err := os.Stat(filepath.Join(append([]string{r.gitDir}, parts...)...))
		return err == nil
	}
	switch {
	case exists("MERGE_HEAD"):
		return "merge"
	case exists("rebase-merge"):
		return "rebase"
	case exists("rebase-apply", "rebasing"):
		return "rebase"
	case exists("rebase-apply", "applying"):
		return "apply-mailbox"
	case exists("rebase-apply"):
		return "apply-mailbox"
	case exists("CHERRY_PICK_HEAD"):
		return "cherry-pick"
	case exists("BISECT_LOG"):
		return "bisect"
	case exists("REVERT_HEAD"):
		return "revert"
	default:
		return ""
	}
}

// StashCount returns the number of stash entries, read from the line
// count of logs/refs/stash in the git-dir (one line per entry), since
// go-git exposes no stash-specific API (spec.md §6 field 14; see
// SPEC_FULL.md §9).
func (r *Repo) StashCount() (int, error) {
	f, err := os.Open(filepath.Join(r.gitDir, "logs", "refs", "stash"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("gitrepo: stash log: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("gitrepo: stash log: %w", err)
	}
	return count, nil
}

// IgnoreMatcher returns a matcher built from the repository's .gitignore
// files, using go-git's own gitignore implementation (real negation,
// anchoring, and directory-only semantics -- see DESIGN.md for why the
// teacher's flat-glob ignore/ package is not reused here).
func (r *Repo) IgnoreMatcher() gitignore.Matcher {
	wt, err := r.repo.Worktree()
	if err != nil || wt.Filesystem == nil {
		return gitignore.NewMatcher(nil)
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return gitignore.NewMatcher(nil)
	}
	return gitignore.NewMatcher(patterns)
}

// TreeAt returns the tree object for a commit, used by the diff engine's
// staged-detection merge-join against the index.
func (r *Repo) TreeAt(commit plumbing.Hash) (*object.Tree, error) {
	if commit.IsZero() {
		return &object.Tree{}, nil
	}
	c, err := r.repo.CommitObject(commit)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: commit object: %w", err)
	}
	t, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: commit tree: %w", err)
	}
	return t, nil
}
