package scan

import (
	"fmt"
	"strings"
)

// ValidateExcludePatterns rejects glob metacharacters at config-load
// time, per spec.md §4.3/§9: the original config calls these "glob
// patterns" but globs are explicitly unsupported by the core.
func ValidateExcludePatterns(patterns []string) error {
	for _, p := range patterns {
		if strings.ContainsAny(p, "*?") {
			return fmt.Errorf("scan: exclude pattern %q uses unsupported glob syntax", p)
		}
	}
	return nil
}

// excluded reports whether path is excluded by any pattern, using
// spec.md §4.3's prefix semantics: pattern P excludes X iff X == P or
// X begins with P + "/".
func excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
