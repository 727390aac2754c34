// Package diffengine implements the M4 diff engine (spec.md §4.M4): a
// single parallel scan that answers three questions -- staged, unstaged,
// untracked -- with early exit once all three are known.
package diffengine

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/sourcegraph/statusd/internal/arena"
	"github.com/sourcegraph/statusd/internal/dirent"
	"github.com/sourcegraph/statusd/internal/indexsnap"
	"github.com/sourcegraph/statusd/internal/workpool"
)

// Tri is a three-valued boolean: Unknown, False, or True, matching the
// response schema's -1/0/1 encoding (spec.md §6 fields 9-11).
type Tri int8

const (
	Unknown Tri = -1
	False   Tri = 0
	True    Tri = 1
)

// Result is the diff engine's output.
type Result struct {
	Staged    Tri
	Unstaged  Tri
	Untracked Tri
}

// Options bounds the amount of work Compute is willing to do.
type Options struct {
	Threads           int
	DirtyMaxIndexSize int
}

// Compute runs the staged merge-join unconditionally, then -- unless the
// index exceeds opts.DirtyMaxIndexSize -- fans the snapshot's shards out
// across pool to answer unstaged and untracked (spec.md §4.M1's
// GetIndexStats budget check).
func Compute(workdir string, headTree *object.Tree, snap *indexsnap.Snapshot, ignore gitignore.Matcher, pool *workpool.Pool, opts Options) (Result, error) {
	staged, err := diffStaged(headTree, snap.Entries)
	if err != nil {
		return Result{}, fmt.Errorf("diffengine: staged: %w", err)
	}

	if opts.DirtyMaxIndexSize >= 0 && len(snap.Entries) > opts.DirtyMaxIndexSize {
		return Result{Staged: boolTri(staged), Unstaged: Unknown, Untracked: Unknown}, nil
	}

	state := &scanState{}
	var wg sync.WaitGroup
	for _, shard := range snap.Shards {
		shard := shard
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			scanShard(workdir, shard, ignore, state)
		})
	}
	wg.Wait()

	return Result{
		Staged:    boolTri(staged),
		Unstaged:  state.unstagedResult(),
		Untracked: state.untrackedResult(),
	}, nil
}

func boolTri(b bool) Tri {
	if b {
		return True
	}
	return False
}

// scanState holds the shared atomic flags shards publish into (spec.md
// §5: "Diff result flags are atomic booleans written by workers and read
// by workers and by the request thread after join").
type scanState struct {
	unstagedTrue     atomic.Bool
	unstagedUnknown  atomic.Bool
	untrackedTrue    atomic.Bool
	untrackedUnknown atomic.Bool
}

func (s *scanState) unstagedResult() Tri {
	switch {
	case s.unstagedTrue.Load():
		return True
	case s.unstagedUnknown.Load():
		return Unknown
	default:
		return False
	}
}

func (s *scanState) untrackedResult() Tri {
	switch {
	case s.untrackedTrue.Load():
		return True
	case s.untrackedUnknown.Load():
		return Unknown
	default:
		return False
	}
}

// treeFile is one blob reachable from a tree, flattened for the
// merge-join against the sorted index (spec.md §4.M4 "Staged").
type treeFile struct {
	Path string
	Hash plumbing.Hash
	Mode filemode.FileMode
}

func collectTreeFiles(tree *object.Tree) ([]treeFile, error) {
	var files []treeFile
	iter := tree.Files()
	defer iter.Close()
	err := iter.ForEach(func(f *object.File) error {
		files = append(files, treeFile{Path: f.Name, Hash: f.Hash, Mode: f.Mode})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// diffStaged walks headTree and the sorted index side by side; any
// differing path, OID, or mode, or any conflicted/intent-to-add entry,
// sets staged = true.
func diffStaged(headTree *object.Tree, entries []indexsnap.Entry) (bool, error) {
	files, err := collectTreeFiles(headTree)
	if err != nil {
		return false, err
	}

	i, j := 0, 0
	for i < len(files) && j < len(entries) {
		tf, e := files[i], entries[j]
		switch {
		case tf.Path < e.Path:
			return true, nil // path removed from the index
		case tf.Path > e.Path:
			return true, nil // path added to the index
		default:
			if e.Conflicted || e.IntentToAdd {
				return true, nil
			}
			if plumbing.Hash(e.Hash) != tf.Hash || uint32(tf.Mode) != e.Mode {
				return true, nil
			}
			i++
			j++
		}
	}
	if i < len(files) || j < len(entries) {
		return true, nil
	}
	return false, nil
}

// dirIndex maps a shard-relative directory (root is "") to the set of
// immediate child basenames the index knows about in that directory,
// built by splitting every entry path into its components. This is
// exactly the "relevant worktree directories" of spec.md §4.M4 step 1:
// every directory in the map is either an entry's parent or an ancestor
// of one, bounded to the shard's own subtree since shards never split a
// top-level directory (spec.md §4.M2).
func buildDirIndex(entries []indexsnap.Entry) map[string]map[string]bool {
	idx := map[string]map[string]bool{"": {}}
	for _, e := range entries {
		parts := strings.Split(e.Path, "/")
		dir := ""
		for _, comp := range parts[:len(parts)-1] {
			if idx[dir] == nil {
				idx[dir] = map[string]bool{}
			}
			idx[dir][comp] = true
			if dir == "" {
				dir = comp
			} else {
				dir = dir + "/" + comp
			}
			if idx[dir] == nil {
				idx[dir] = map[string]bool{}
			}
		}
		base := parts[len(parts)-1]
		if idx[dir] == nil {
			idx[dir] = map[string]bool{}
		}
		idx[dir][base] = true
	}
	return idx
}

func scanShard(workdir string, shard indexsnap.Shard, ignore gitignore.Matcher, state *scanState) {
	scanUnstaged(workdir, shard, state)
	scanUntracked(workdir, shard, ignore, state)
}

// scanUnstaged implements spec.md §4.M4 step 2: stat each entry, compare
// cached fields, and fall back to a streamed content hash on any
// mismatch.
func scanUnstaged(workdir string, shard indexsnap.Shard, state *scanState) {
	if state.unstagedTrue.Load() {
		return
	}
	for _, e := range shard.Entries {
		if state.unstagedTrue.Load() {
			return
		}

		full := path.Join(workdir, e.Path)
		fi, err := os.Lstat(full)
		if err != nil {
			if os.IsNotExist(err) {
				state.unstagedTrue.Store(true)
				return
			}
			state.unstagedUnknown.Store(true)
			continue
		}

		if filemode.FileMode(e.Mode) == filemode.Submodule {
			// Submodules are a single logical file keyed by the
			// submodule's committed HEAD commit (spec.md §4.M4
			// "Submodules"); without recursing into it there is no
			// cheaper signal than treating any present gitlink as
			// matching, matching gitstatusd's own shallow treatment.
			continue
		}

		if statMatches(e, fi) {
			continue
		}

		match, err := hashMatches(full, e, fi)
		if err != nil {
			state.unstagedUnknown.Store(true)
			continue
		}
		if !match {
			state.unstagedTrue.Store(true)
			return
		}
	}
}

// statMatches compares the cached size/mtime/mode fields spec.md §4.M4
// lists as the cheap pre-check. It intentionally omits inode/device/ctime
// (also listed there), since os.FileInfo has no portable accessor for them;
// a false match on the fields checked here only avoids a hash when size,
// mtime and mode all agree, so a same-size/same-mtime content swap that
// changes none of these is the one case this pre-check cannot catch.
func statMatches(e indexsnap.Entry, fi os.FileInfo) bool {
	if fi.IsDir() {
		return false
	}
	if uint32(fi.Size()) != e.Size {
		return false
	}
	mt := fi.ModTime()
	if mt.Unix() != e.MTimeSec || int64(mt.Nanosecond()) != e.MTimeNano {
		return false
	}
	wantMode := modeFromFileInfo(fi)
	return wantMode == filemode.FileMode(e.Mode)
}

func modeFromFileInfo(fi os.FileInfo) filemode.FileMode {
	m, err := filemode.NewFromOSFileMode(fi.Mode())
	if err != nil {
		return filemode.Empty
	}
	return m
}

func hashMatches(full string, e indexsnap.Entry, fi os.FileInfo) (bool, error) {
	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return false, err
		}
		h := plumbing.ComputeHash(plumbing.BlobObject, []byte(target))
		return h == plumbing.Hash(e.Hash), nil
	}

	f, err := os.Open(full)
	if err != nil {
		return false, err
	}
	defer f.Close()

	hasher := plumbing.NewHasher(plumbing.BlobObject, fi.Size())
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return false, err
	}
	return hasher.Sum() == plumbing.Hash(e.Hash), nil
}

// scanUntracked implements spec.md §4.M4 step 3: list every directory the
// shard's entries touch and flag any listed name absent from the index
// and not ignored.
func scanUntracked(workdir string, shard indexsnap.Shard, ignore gitignore.Matcher, state *scanState) {
	if state.untrackedTrue.Load() {
		return
	}
	dirIndex := buildDirIndex(shard.Entries)

	dirs := make([]string, 0, len(dirIndex))
	for d := range dirIndex {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	a := arena.New(4096)
	for _, dir := range dirs {
		if state.untrackedTrue.Load() {
			return
		}
		full := path.Join(workdir, dir)
		a.Reset()
		entries, err := dirent.List(a, full)
		if err != nil {
			state.untrackedUnknown.Store(true)
			continue
		}

		children := dirIndex[dir]
		for _, de := range entries {
			name := dirent.Name(a, de)
			if dir == "" && name == ".git" {
				continue
			}
			if children[name] {
				continue
			}
			rel := name
			if dir != "" {
				rel = dir + "/" + name
			}
			isDir := de.Type == dirent.TypeDir
			if ignore != nil && ignore.Match(strings.Split(rel, "/"), isDir) {
				continue
			}
			state.untrackedTrue.Store(true)
			return
		}
	}
}
