package restore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"strings"

	"github.com/modhost/core/manifest"
)

// CachePath returns the no-op-cache sentinel file alongside a lock file
// (spec §7 "Restore no-op cache", grounded in gonuget's dgspec-hash
// short-circuit).
func CachePath(lockPath string) string { return lockPath + ".cache" }

// EffectiveDependencyHash hashes every declared-dependency string across
// the shared set and all per-framework sets, order-independent, so an
// unchanged manifest always hashes identically (spec §7).
func EffectiveDependencyHash(project *manifest.Project) string {
	var all []string
	for _, d := range project.SharedDependencies {
		all = append(all, d.Canonical())
	}
	for fw, deps := range project.PerFramework {
		for _, d := range deps {
			all = append(all, fw.String()+"|"+d.Canonical())
		}
	}
	sort.Strings(all)
	sum := sha256.Sum256([]byte(strings.Join(all, "\n")))
	return hex.EncodeToString(sum[:])
}

// ReadCacheHash reads the previously stored hash, if any.
func ReadCacheHash(cachePath string) (string, bool) {
	b, err := os.ReadFile(cachePath)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// WriteCacheHash persists hash for a future CacheValid check.
func WriteCacheHash(cachePath, hash string) error {
	return os.WriteFile(cachePath, []byte(hash), 0o644)
}

// CacheValid reports whether the stored hash at cachePath matches
// currentHash, short-circuiting a restore that would otherwise repeat
// identical work (spec §7, generalizing §8 property 4 "offline replay").
func CacheValid(cachePath, currentHash string) bool {
	stored, ok := ReadCacheHash(cachePath)
	return ok && stored == currentHash
}
