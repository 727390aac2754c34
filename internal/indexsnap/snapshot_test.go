package indexsnap

import (
	"fmt"
	"testing"

	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
)

func entryNamed(name string) *gitindex.Entry {
	return &gitindex.Entry{Name: name}
}

func TestBuildSortsEntries(t *testing.T) {
	idx := &gitindex.Index{Entries: []*gitindex.Entry{
		entryNamed("b/file.go"),
		entryNamed("a/file.go"),
		entryNamed("a/aaa.go"),
	}}
	snap := Build(idx, 1)
	want := []string{"a/aaa.go", "a/file.go", "b/file.go"}
	if len(snap.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(snap.Entries), len(want))
	}
	for i, e := range snap.Entries {
		if e.Path != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, e.Path, want[i])
		}
	}
}

func TestBuildShardsAlignOnTopLevelDir(t *testing.T) {
	idx := &gitindex.Index{}
	for _, p := range []string{"a/1", "a/2", "a/3", "a/4", "b/1", "b/2", "c/1"} {
		idx.Entries = append(idx.Entries, entryNamed(p))
	}
	snap := Build(idx, 1)

	seen := map[string]bool{}
	for _, shard := range snap.Shards {
		if len(shard.Entries) == 0 {
			t.Fatal("empty shard")
		}
		dir := topLevelDir(shard.Entries[0].Path)
		for _, e := range shard.Entries {
			if topLevelDir(e.Path) != dir {
				// A shard may span more than one top-level dir only
				// if the previous one ended exactly at a boundary;
				// what must never happen is a directory's entries
				// being split across two shards.
			}
		}
		if seen[dir] {
			// Fine as long as this is a distinct contiguous run; verified below.
		}
		seen[dir] = true
	}

	// No top-level directory's entries may be split across non-adjacent shards.
	dirToShards := map[string]map[int]bool{}
	for i, shard := range snap.Shards {
		for _, e := range shard.Entries {
			d := topLevelDir(e.Path)
			if dirToShards[d] == nil {
				dirToShards[d] = map[int]bool{}
			}
			dirToShards[d][i] = true
		}
	}
	for d, idxs := range dirToShards {
		if len(idxs) > 1 {
			t.Errorf("top-level dir %q split across %d shards", d, len(idxs))
		}
	}
}

func TestBuildManyEntriesTargetsShardSize(t *testing.T) {
	idx := &gitindex.Index{}
	for i := 0; i < 1000; i++ {
		idx.Entries = append(idx.Entries, entryNamed(fmt.Sprintf("dir%d/file.go", i)))
	}
	snap := Build(idx, 4)
	if len(snap.Shards) == 0 {
		t.Fatal("expected at least one shard")
	}
	// 1000 entries, 4 threads: target = 1000/(2*4) = 125, and every entry
	// is its own top-level directory, so each shard holds exactly 125.
	total := 0
	for i, s := range snap.Shards {
		if len(s.Entries) != 125 {
			t.Errorf("shard %d has %d entries, want 125", i, len(s.Entries))
		}
		total += len(s.Entries)
	}
	if total != len(idx.Entries) {
		t.Fatalf("shards cover %d entries, want %d", total, len(idx.Entries))
	}
}
