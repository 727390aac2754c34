package gitrepo

import (
	"path/filepath"
)

// Cache is the M5 repository cache: a plain map keyed by canonicalized
// directory, accessed only from the single request-loop goroutine (spec.md
// §4.M5, §5 -- "single-threaded, non-reentrant" applies to the whole
// request loop, so the cache itself needs no locking). It is never
// evicted: spec.md §9 resolves the open question of cache lifetime as
// "unbounded for the life of the process", matching gitstatusd's own
// behaviour of keeping every repository it has ever seen open.
type Cache struct {
	repos map[string]*Repo
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{repos: make(map[string]*Repo)}
}

// Get returns the Repo for dir. It calls Open on every lookup to find dir's
// repository, then returns the handle already cached for that repository's
// working directory, or caches the newly opened one if there is none; a
// cache hit therefore does not skip Open. The cache key is the
// symlink-resolved, cleaned absolute path to the repository's working
// directory, not dir itself, so two different request paths into the same
// repository share one handle and one index Snapshot.
func (c *Cache) Get(dir string) (*Repo, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = filepath.Clean(dir)
	}

	r, err := Open(resolved)
	if err != nil {
		return nil, err
	}

	if existing, ok := c.repos[r.workdir]; ok {
		return existing, nil
	}
	c.repos[r.workdir] = r
	return r, nil
}

// Len reports the number of distinct repositories currently cached, used
// by telemetry (internal/telemetry) to publish a gauge.
func (c *Cache) Len() int { return len(c.repos) }
