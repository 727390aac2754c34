// Package indexsnap builds immutable, sharded snapshots of a git index
// (spec.md §3, §4.M2).
//
// A Snapshot wraps the entries of github.com/go-git/go-git/v5's
// plumbing/format/index.Index, which already parses the git index binary
// format into the path, hash, mode, cached stat fields, and the
// skip-worktree / intent-to-add / conflicted flags; Entry records no
// assume-unchanged flag -- reusing that parser instead of hand-rolling the
// index format is the single biggest piece of "keep HOW, replace WHAT" in
// this repository: every field of Entry below is copied from go-git's
// Entry.
package indexsnap

import (
	"path"
	"sort"
	"strings"

	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
)

// Entry is one tracked path, as recorded in the index.
type Entry struct {
	Path         string
	Hash         [20]byte
	Mode         uint32 // filemode.FileMode bits, see go-git/plumbing/filemode
	Size         uint32
	Dev, Inode   uint32
	UID, GID     uint32
	CTimeSec     int64
	CTimeNano    int64
	MTimeSec     int64
	MTimeNano    int64
	SkipWorktree bool
	IntentToAdd  bool
	Conflicted   bool // Stage != Merged
}

// Shard is a contiguous, disjoint range of a Snapshot's sorted entries,
// chosen so shard boundaries fall on top-level-directory boundaries
// (spec.md §4.M2) -- required so untracked-file detection within a shard
// never has to consult another shard's directory listing.
type Shard struct {
	Entries []Entry
}

// Snapshot is an immutable, lexicographically sorted view of an index,
// partitioned into Shards for parallel diffing. Once built a Snapshot is
// never mutated (spec.md invariant I1); Repo publishes new Snapshots by
// swapping a pointer, never by editing one in place.
type Snapshot struct {
	Entries []Entry
	Shards  []Shard
}

// Build converts a parsed git index into a Snapshot, sorting entries by
// path and partitioning them into shards targeting roughly
// len(entries)/(2*threads) entries each, never splitting a path from its
// top-level directory across a shard boundary (spec.md §4.M2).
func Build(idx *gitindex.Index, threads int) *Snapshot {
	entries := make([]Entry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		entries = append(entries, fromGitEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if threads <= 0 {
		threads = 1
	}
	target := len(entries) / (2 * threads)
	if target < 1 {
		target = 1
	}

	var shards []Shard
	var cur []Entry
	for i, e := range entries {
		cur = append(cur, e)
		atTargetSize := len(cur) >= target
		lastInInput := i == len(entries)-1
		var topDirChanges bool
		if !lastInInput {
			topDirChanges = topLevelDir(e.Path) != topLevelDir(entries[i+1].Path)
		}
		if lastInInput || (atTargetSize && topDirChanges) {
			shards = append(shards, Shard{Entries: cur})
			cur = nil
		}
	}
	if len(cur) > 0 {
		shards = append(shards, Shard{Entries: cur})
	}

	return &Snapshot{Entries: entries, Shards: shards}
}

// topLevelDir returns the first path component of p, or "" if p has no
// directory component (a root-level file).
func topLevelDir(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func fromGitEntry(e *gitindex.Entry) Entry {
	return Entry{
		Path:         path.Clean(e.Name),
		Hash:         [20]byte(e.Hash),
		Mode:         uint32(e.Mode),
		Size:         e.Size,
		Dev:          e.Dev,
		Inode:        e.Inode,
		UID:          e.UID,
		GID:          e.GID,
		CTimeSec:     e.CreatedAt.Unix(),
		CTimeNano:    int64(e.CreatedAt.Nanosecond()),
		MTimeSec:     e.ModifiedAt.Unix(),
		MTimeNano:    int64(e.ModifiedAt.Nanosecond()),
		SkipWorktree: e.SkipWorktree,
		IntentToAdd:  e.IntentToAdd,
		Conflicted:   e.Stage != gitindex.Merged,
	}
}
