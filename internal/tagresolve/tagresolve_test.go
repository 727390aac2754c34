package tagresolve

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

func initRepoWithTags(t *testing.T) (*git.Repository, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := writeFile(wt, filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)}
	h, err := wt.Commit("c1", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := repo.CreateTag("v1.0.0", h, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateTag("v2.0.0", h, &git.CreateTagOptions{
		Tagger:  sig,
		Message: "release 2",
	}); err != nil {
		t.Fatal(err)
	}
	return repo, h
}

func writeFile(wt *git.Worktree, path, content string) error {
	f, err := wt.Filesystem.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, err = wt.Add(filepath.Base(path))
	return err
}

func TestResolvePicksLexicographicMax(t *testing.T) {
	repo, commit := initRepoWithTags(t)
	r := New()
	name, err := r.Resolve(repo, 1, commit)
	if err != nil {
		t.Fatal(err)
	}
	if name != "v2.0.0" {
		t.Fatalf("Resolve() = %q, want v2.0.0", name)
	}
}

func TestResolveNoTagsReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, _ := repo.Worktree()
	if err := writeFile(wt, filepath.Join(dir, "a.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)}
	h, err := wt.Commit("c1", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatal(err)
	}

	r := New()
	name, err := r.Resolve(repo, 1, h)
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Fatalf("Resolve() = %q, want empty", name)
	}
}

func TestResolveCachesByGeneration(t *testing.T) {
	repo, commit := initRepoWithTags(t)
	r := New()
	if _, err := r.Resolve(repo, 1, commit); err != nil {
		t.Fatal(err)
	}

	// Add a better tag without bumping the generation; cached result
	// must still be returned.
	if _, err := repo.CreateTag("zzz", commit, nil); err != nil {
		t.Fatal(err)
	}
	name, err := r.Resolve(repo, 1, commit)
	if err != nil {
		t.Fatal(err)
	}
	if name != "v2.0.0" {
		t.Fatalf("Resolve() with stale generation = %q, want v2.0.0 (cached)", name)
	}

	name, err = r.Resolve(repo, 2, commit)
	if err != nil {
		t.Fatal(err)
	}
	if name != "zzz" {
		t.Fatalf("Resolve() after generation bump = %q, want zzz", name)
	}
}

// TestResolveAgainstInMemoryRepository exercises Resolve against a
// billy/memfs + go-git in-memory storage repository rather than one on
// disk, so this fixture is built without shelling out to a real git binary
// and without touching disk.
func TestResolveAgainstInMemoryRepository(t *testing.T) {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	f, err := fs.Create("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatal(err)
	}

	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)}
	h, err := wt.Commit("c1", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateTag("v0.1.0", h, nil); err != nil {
		t.Fatal(err)
	}

	r := New()
	name, err := r.Resolve(repo, 1, h)
	if err != nil {
		t.Fatal(err)
	}
	if name != "v0.1.0" {
		t.Fatalf("Resolve() = %q, want v0.1.0", name)
	}
}
