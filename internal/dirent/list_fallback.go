//go:build !linux

package dirent

import (
	"fmt"
	"os"

	"github.com/sourcegraph/statusd/internal/arena"
)

// list is the portable fallback for platforms without a raw
// getdents-equivalent syscall wired up here. It still fills the same
// Arena-backed Entry shape; only the I/O strategy differs from list_linux.go.
func list(a *arena.Arena, dir string) ([]Entry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("dirent: open %s: %w", dir, err)
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("dirent: readdir %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		fi, err := os.Lstat(dir + string(os.PathSeparator) + name)
		if err != nil {
			// Vanished between readdir and lstat; skip it rather
			// than failing the whole listing.
			continue
		}
		entries = append(entries, packEntry(a, modeToType(fi.Mode()), name))
	}
	return entries, nil
}
