package assetcache

import (
	"path/filepath"
)

// shardedPath returns the on-disk path for a content hash under root,
// sharded as XX/YY/<hash><ext> per spec.md §4.5 — the same two-level hex
// sharding the teacher's internal/cache.Path uses for VOD assets, generalized
// from a fixed ".mp4" to an arbitrary extension.
func shardedPath(root, hash, ext string) string {
	digest := stripNamespace(hash)
	if len(digest) < 4 {
		return filepath.Join(root, "misc", digest+ext)
	}
	return filepath.Join(root, digest[0:2], digest[2:4], digest+ext)
}

// stripNamespace removes the "full:"/"quick:" hashing-package prefix so the
// on-disk shard path is a bare hex string.
func stripNamespace(hash string) string {
	for _, prefix := range []string{"full:", "quick:"} {
		if len(hash) > len(prefix) && hash[:len(prefix)] == prefix {
			return hash[len(prefix):]
		}
	}
	return hash
}
