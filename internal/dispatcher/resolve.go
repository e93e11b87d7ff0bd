package dispatcher

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// toolCacheSize bounds how many backends' tool-name lists are cached at
// once; a dispatcher with more distinct backends than this simply takes a
// cache miss (and a fresh tools/list call) for the least recently used one.
const toolCacheSize = 64

// toolCache remembers each backend's available tool names so the
// resolution cascade doesn't re-list tools on every dispatch.
type toolCache struct {
	cache *lru.Cache[string, []string]
}

func newToolCache() *toolCache {
	c, _ := lru.New[string, []string](toolCacheSize)
	return &toolCache{cache: c}
}

func (c *toolCache) set(backend string, names []string) {
	c.cache.Add(backend, names)
}

func (c *toolCache) get(backend string) ([]string, bool) {
	return c.cache.Get(backend)
}

func (c *toolCache) invalidate(backend string) {
	c.cache.Remove(backend)
}

// resolveToolName implements the scheduler's name-resolution cascade:
//  1. an exact match against the backend's known tool names;
//  2. a normalized match (lowercase, hyphens to underscores);
//  3. a unique suffix/prefix match, when exactly one known name contains
//     the requested name as a suffix or prefix after normalization;
//  4. otherwise the raw requested name is returned unchanged, letting the
//     backend itself reject it.
func resolveToolName(requested string, known []string) string {
	for _, name := range known {
		if name == requested {
			return name
		}
	}

	normalizedRequested := normalizeToolName(requested)
	var candidates []string
	for _, name := range known {
		if normalizeToolName(name) == normalizedRequested {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	if len(candidates) > 1 {
		// Ambiguous normalized match: fall through to the narrower
		// suffix/prefix heuristic below instead of guessing among them.
		known = candidates
	}

	var matches []string
	for _, name := range known {
		n := normalizeToolName(name)
		if strings.HasSuffix(n, normalizedRequested) || strings.HasPrefix(n, normalizedRequested) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}

	return requested
}

func normalizeToolName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}
