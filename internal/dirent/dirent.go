// Package dirent implements the directory lister (spec.md §4.L1): a single
// pass over a directory's immediate children, packed into a caller-supplied
// arena with no per-entry allocation.
package dirent

import (
	"os"

	"github.com/sourcegraph/statusd/internal/arena"
)

// Type tags a directory entry's filesystem type, matching spec.md's
// "file, directory, symlink, or unknown" tag byte.
type Type byte

const (
	TypeUnknown Type = iota
	TypeFile
	TypeDir
	TypeSymlink
)

// Entry pairs a type tag with a View into the Arena that produced it. The
// View covers the name bytes and two trailing NUL bytes; the type tag is
// kept in Entry and is not written to the arena.
type Entry struct {
	Type Type
	Name arena.View
}

// List reads dir's immediate children into a, filtering "." and "..",
// and returns one Entry per child in arbitrary (filesystem) order. On Linux
// the raw getdents64 syscall, which returns type tags, is used
// (list_linux.go); on other platforms List falls back to Readdirnames plus
// an Lstat per entry (list_fallback.go).
func List(a *arena.Arena, dir string) ([]Entry, error) {
	return list(a, dir)
}

func packEntry(a *arena.Arena, typ Type, name string) Entry {
	nameBytes := make([]byte, 0, len(name)+2)
	nameBytes = append(nameBytes, name...)
	nameBytes = append(nameBytes, 0, 0)
	v := a.Append(nameBytes)
	// The View spans name+NUL+NUL; Name trims the two trailing bytes
	// off when the name is read back.
	return Entry{Type: typ, Name: v}
}

// Name returns the entry's name as a string, stripping the two trailing NUL
// bytes that packEntry appended.
func Name(a *arena.Arena, e Entry) string {
	b := a.Bytes(e.Name)
	return string(b[:len(b)-2])
}

func modeToType(mode os.FileMode) Type {
	switch {
	case mode&os.ModeSymlink != 0:
		return TypeSymlink
	case mode.IsDir():
		return TypeDir
	case mode.IsRegular():
		return TypeFile
	default:
		return TypeUnknown
	}
}
