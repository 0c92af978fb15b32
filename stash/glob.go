// ABOUTME: Glob matching over slash-separated relative paths, with ** matching any number of segments.
// ABOUTME: Single-segment wildcards use path.Match semantics; patterns never cross segment boundaries except via **.
package stash

import (
	"path"
	"strings"
)

// Match reports whether the slash-separated relative path matches the glob
// pattern. A ** segment matches zero or more path segments; other segments
// follow path.Match rules (*, ?, character classes) within one segment.
func Match(pattern, rel string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

// MatchAny reports whether the path matches any of the given patterns.
// An empty pattern list matches nothing.
func MatchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if Match(p, rel) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}

	if pattern[0] == "**" {
		// ** absorbs zero or more leading segments.
		if matchSegments(pattern[1:], segs) {
			return true
		}
		if len(segs) == 0 {
			return false
		}
		return matchSegments(pattern, segs[1:])
	}

	if len(segs) == 0 {
		return false
	}

	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}
