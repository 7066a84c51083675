// Package cache implements the per-cycle result cache (C9, spec §4.9):
// keyed by (formula_id, fingerprint), numeric results only, invalidated
// wholesale at cycle start or explicitly on a backing-entity-change
// notification.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"synsensors/core/values"
)

// Cache is the engine's per-cycle formula result cache. Every method takes
// the cache's own mutex, so NotifyBackingChanged may run concurrently with
// an evaluation cycle (Engine.NotifyBackingChanged calls it without holding
// the engine lock).
type Cache struct {
	mu      sync.Mutex
	entries map[string]values.Value // key: formulaID + "\x00" + fingerprint

	// dependents maps a backing entity id to the set of cache keys whose
	// cached result depended on it, so a targeted invalidation
	// (NotifyBackingChanged) only drops the entries that could be stale.
	dependents map[string]map[string]struct{}
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{
		entries:    make(map[string]values.Value),
		dependents: make(map[string]map[string]struct{}),
	}
}

func cacheKey(formulaID, fingerprint string) string {
	return formulaID + "\x00" + fingerprint
}

// BeginCycle invalidates every cached entry (spec §4.9: "cycle-end drops
// everything" — invalidating at the start of the next cycle is equivalent
// and avoids a dangling stale cache between cycles).
func (c *Cache) BeginCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]values.Value)
	c.dependents = make(map[string]map[string]struct{})
}

// Check returns the cached value for (formulaID, fingerprint), if present.
func (c *Cache) Check(formulaID, fingerprint string) (values.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheKey(formulaID, fingerprint)]
	return v, ok
}

// Store caches v under (formulaID, fingerprint) if v is a numeric result;
// non-numeric results (strings, booleans, nulls, alternates) are silently
// not cached, per spec §4.9. backingEntities lists the entity ids this
// formula's fingerprint was computed over, so a later NotifyBackingChanged
// can find this entry.
func (c *Cache) Store(formulaID, fingerprint string, v values.Value, backingEntities []string) {
	if v.Kind() != values.KindNumber {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(formulaID, fingerprint)] = v
	for _, entityID := range backingEntities {
		if c.dependents[entityID] == nil {
			c.dependents[entityID] = make(map[string]struct{})
		}
		c.dependents[entityID][cacheKey(formulaID, fingerprint)] = struct{}{}
	}
}

// NotifyBackingChanged invalidates every cached entry that was computed
// over any of the given entity ids.
func (c *Cache) NotifyBackingChanged(entityIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entityID := range entityIDs {
		for key := range c.dependents[entityID] {
			delete(c.entries, key)
		}
		delete(c.dependents, entityID)
	}
}

// Fingerprint computes the stable digest over refs, restricted to the
// names actually referenced by the formula (spec §4.9: "a hex digest over
// a canonicalized list of (name, repr(value)) pairs restricted to the
// names actually referenced by the formula"). refs' iteration order does
// not matter — the names are sorted before hashing.
func Fingerprint(refs map[string]values.Value) string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(refs[name].String())
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
