package utils

import (
	"fmt"
	"path"
	"strings"
)

// SplitPath breaks a slash-separated filesystem path into its components.
// The path is cleaned as if absolute, so ".." never climbs above the root
// and the root ("/" or "") yields no components.
func SplitPath(p string) []string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

// SplitParent returns the parent directory and the final component of p.
func SplitParent(p string) (dir, name string, err error) {
	parts := SplitPath(p)
	if len(parts) == 0 {
		return "", "", fmt.Errorf("path has no final component: %q", p)
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}
