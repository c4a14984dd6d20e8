package query

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"prospect/internal/entity"
)

// defaultCacheSize bounds the memoized pages per Planner.
const defaultCacheSize = 256

// resultCache memoizes search pages keyed by (kind, term, facets,
// groups, cursor). The LRU bound scopes its lifetime: entries age out
// under pressure, and any write to a kind evicts that kind's scope plus
// the global scope. The cache belongs to one Planner instance, never to
// the process.
type resultCache struct {
	lru *lru.Cache[string, *Result]
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, *Result](size)
	if err != nil {
		// Only reachable with a non-positive size, which is guarded above.
		panic(err)
	}
	return &resultCache{lru: c}
}

func (c *resultCache) get(key string) (*Result, bool) {
	return c.lru.Get(key)
}

func (c *resultCache) put(key string, res *Result) {
	c.lru.Add(key, res)
}

// invalidate evicts every entry for the kind's scope and the global
// scope (kind "") in one pass.
func (c *resultCache) invalidate(kind entity.Kind) {
	kindPrefix := scopePrefix(kind)
	globalPrefix := scopePrefix("")
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, kindPrefix) || strings.HasPrefix(key, globalPrefix) {
			c.lru.Remove(key)
		}
	}
}

func scopePrefix(kind entity.Kind) string {
	return string(kind) + "\x00"
}

// cacheKey fingerprints a request. Filter groups and facets serialize
// into the key so distinct filters never share a page.
func cacheKey(req Request, term string) string {
	var b strings.Builder
	b.WriteString(scopePrefix(req.Kind))
	b.WriteString(term)
	b.WriteByte('\x00')
	fmt.Fprintf(&b, "%s|%s|%d|%d|%d|%s", req.Facets.Status, req.Facets.Source,
		req.Facets.CreatedAfter.UnixNano(), req.Facets.CreatedBefore.UnixNano(),
		req.PageSize, req.Cursor)
	for _, g := range req.Groups {
		fmt.Fprintf(&b, "|g:%s:%t", g.Op, g.Enabled)
		for _, cond := range g.Conditions {
			fmt.Fprintf(&b, ";%s:%s:%v:%t", cond.Field, cond.Op, cond.Value, cond.Enabled)
		}
	}
	return b.String()
}
