// Package pathutil normalizes and decomposes the slash-separated paths the
// cache uses as keys. All cache keys go through Normalize exactly once, at
// the facade boundary, so the cache itself can compare strings directly.
package pathutil

import (
	"path"
	"strings"
)

// Root is the normalized form of the filesystem root.
const Root = "/"

// Normalize collapses a caller-supplied path to the canonical cache key:
// forward slashes, leading slash, no trailing slash except for the root.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

// Parent returns the normalized parent directory of p; the root is its own
// parent.
func Parent(p string) string {
	if p == Root {
		return Root
	}
	return path.Dir(p)
}

// Ancestors returns every proper ancestor of p from the immediate parent up
// to and including the root. Ancestors(Root) is nil.
func Ancestors(p string) []string {
	var out []string
	for p != Root {
		p = Parent(p)
		out = append(out, p)
	}
	return out
}

// IsDescendant reports whether p lies strictly below dir.
func IsDescendant(dir, p string) bool {
	if p == dir {
		return false
	}
	if dir == Root {
		return p != Root
	}
	return strings.HasPrefix(p, dir+"/")
}

// IsChild reports whether p is an immediate child of dir.
func IsChild(dir, p string) bool {
	return IsDescendant(dir, p) && Parent(p) == dir
}

// Base returns the last element of a normalized path.
func Base(p string) string { return path.Base(p) }
