package store

import (
	"path/filepath"

	"github.com/lvgrader/grader/internal/model"
)

// shardedPath returns <root>/<AA>/<BB>/<hex> for a digest, matching the
// sharded layout mandated for C1 so no directory accumulates every
// artifact in the store flatly.
func shardedPath(root string, digest model.Digest) string {
	hex := string(digest)
	if len(hex) < 4 {
		return filepath.Join(root, hex)
	}
	return filepath.Join(root, hex[0:2], hex[2:4], hex)
}
