package taxonomy

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

const catalogCacheKey = "catalog"

// DefaultCatalogTTL is how long a catalog snapshot is reused
const DefaultCatalogTTL = time.Minute

// CatalogLister reads the animal catalog
type CatalogLister interface {
	ListAnimals(ctx context.Context) ([]datastore.Animal, error)
}

// catalogEntry holds the lower-cased fields of one animal
type catalogEntry struct {
	animal  datastore.Animal
	local   string
	english string
	parent  string
	aliases []string
}

// Resolver maps normalized labels to catalog animals. The catalog is read
// through a TTL cache; concurrent misses share one load.
type Resolver struct {
	catalog CatalogLister
	cache   *cache.Cache
	loads   singleflight.Group
}

// NewResolver returns a resolver reading from catalog. ttl <= 0 uses
// DefaultCatalogTTL.
func NewResolver(catalog CatalogLister, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Resolver{
		catalog: catalog,
		cache:   cache.New(ttl, ttl*2),
	}
}

// Resolve finds the animal for a normalized label. Lookups are
// case-insensitive and run in order: exact name or alias, exact match on
// the display hint, prefix, substring. No match returns nil, nil; only a
// catalog read failure is an error.
func (r *Resolver) Resolve(ctx context.Context, normalized, displayHint string) (*datastore.Animal, error) {
	candidate := strings.ToLower(strings.TrimSpace(normalized))
	hint := strings.ToLower(strings.TrimSpace(displayHint))
	if candidate == "" && hint == "" {
		return nil, nil
	}

	entries, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	steps := []func(e *catalogEntry) bool{
		func(e *catalogEntry) bool { return candidate != "" && e.exact(candidate) },
		func(e *catalogEntry) bool { return hint != "" && (e.local == hint || e.english == hint) },
		func(e *catalogEntry) bool { return candidate != "" && e.prefix(candidate) },
		func(e *catalogEntry) bool { return candidate != "" && e.contains(candidate) },
	}
	for _, match := range steps {
		for i := range entries {
			if match(&entries[i]) {
				animal := entries[i].animal
				return &animal, nil
			}
		}
	}
	return nil, nil
}

// ResolveGroup finds the animal for an ambiguity group. An animal named
// exactly after the group or its display label wins. Otherwise the members
// are resolved best first, and last any animal filed under the group as its
// parent. The group key alone never goes through prefix or substring
// matching, since that would pick an arbitrary member.
func (r *Resolver) ResolveGroup(ctx context.Context, group GroupScore) (*datastore.Animal, error) {
	key := strings.ToLower(strings.TrimSpace(group.Key))
	display := strings.ToLower(strings.TrimSpace(group.Display))

	entries, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		if (key != "" && e.exact(key)) || (display != "" && e.exact(display)) {
			animal := e.animal
			return &animal, nil
		}
	}

	for _, m := range group.Members {
		animal, err := r.Resolve(ctx, m.Label, "")
		if err != nil || animal != nil {
			return animal, err
		}
	}

	if key == "" {
		return nil, nil
	}
	for i := range entries {
		if entries[i].parent == key {
			animal := entries[i].animal
			return &animal, nil
		}
	}
	return nil, nil
}

// Invalidate drops the cached catalog
func (r *Resolver) Invalidate() {
	r.cache.Flush()
}

func (r *Resolver) snapshot(ctx context.Context) ([]catalogEntry, error) {
	if cached, found := r.cache.Get(catalogCacheKey); found {
		if entries, ok := cached.([]catalogEntry); ok {
			return entries, nil
		}
	}

	v, err, _ := r.loads.Do(catalogCacheKey, func() (any, error) {
		animals, err := r.catalog.ListAnimals(ctx)
		if err != nil {
			return nil, errors.New(err).
				Component("taxonomy").
				Category(errors.CategoryDatabase).
				Context("operation", "load-catalog").
				Build()
		}
		entries := make([]catalogEntry, 0, len(animals))
		for i := range animals {
			entries = append(entries, newCatalogEntry(animals[i]))
		}
		r.cache.Set(catalogCacheKey, entries, cache.DefaultExpiration)
		GetLogger().Debug("catalog snapshot loaded", logger.Int("animals", len(entries)))
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]catalogEntry), nil
}

func newCatalogEntry(a datastore.Animal) catalogEntry {
	e := catalogEntry{
		animal:  a,
		local:   strings.ToLower(strings.TrimSpace(a.NameLocal)),
		english: strings.ToLower(strings.TrimSpace(a.NameEN)),
		parent:  strings.ToLower(strings.TrimSpace(a.ParentGroup)),
	}
	for _, alias := range a.Aliases {
		if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
			e.aliases = append(e.aliases, alias)
		}
	}
	return e
}

func (e *catalogEntry) exact(s string) bool {
	if e.local == s || e.english == s {
		return true
	}
	for _, alias := range e.aliases {
		if alias == s {
			return true
		}
	}
	return false
}

func (e *catalogEntry) prefix(s string) bool {
	return (e.local != "" && strings.HasPrefix(e.local, s)) ||
		(e.english != "" && strings.HasPrefix(e.english, s))
}

func (e *catalogEntry) contains(s string) bool {
	return strings.Contains(e.local, s) || strings.Contains(e.english, s)
}
