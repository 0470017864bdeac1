package item

import "fmt"

// CacheKeyKind distinguishes the two shapes a CacheKey can take.
type CacheKeyKind int

const (
	// CacheKeyProperty groups every item whose PropertiesCache contains
	// a given (PropertyType, Value) pair.
	CacheKeyProperty CacheKeyKind = iota
	// CacheKeyReference groups every item that holds an outgoing
	// reference of a given RefType to a given target — i.e. it is the
	// reverse index used to answer "who depends on X".
	CacheKeyReference
)

// CacheKey is the reverse-index cache's key type (spec §3, §4.7),
// adopting the newer ref_cache shape from original_source's
// ledger_item.rs (CacheKey::Left(PropertyCache) / CacheKey::Right
// (ItemRefCache{reftype,id})) over the older lib.rs HashMap<RefType,
// HashSet<Key>> shape, per the Open Question 3 resolution recorded in
// DESIGN.md.
type CacheKey struct {
	Kind         CacheKeyKind
	PropertyType PropertyType
	Value        string
	RefType      RefType
	Target       Key
}

// PropertyCacheKey builds a CacheKey for a property value.
func PropertyCacheKey(pt PropertyType, value string) CacheKey {
	return CacheKey{Kind: CacheKeyProperty, PropertyType: pt, Value: value}
}

// ReferenceCacheKey builds a CacheKey for "items referencing target via
// rt" — the dependents index.
func ReferenceCacheKey(rt RefType, target Key) CacheKey {
	return CacheKey{Kind: CacheKeyReference, RefType: rt, Target: target}
}

// RefTypeAny is the wildcard RefType used to index "every item
// referencing target, regardless of which RefType it used" — what
// transitive validation and the Read API's type-agnostic "dependents of"
// queries walk, so they don't need to enumerate every registered
// RefType.
const RefTypeAny RefType = "*"

// String returns the canonical trie-leaf-key encoding of ck. The format
// is internal to this store; callers should treat it as opaque.
func (ck CacheKey) String() string {
	switch ck.Kind {
	case CacheKeyProperty:
		return fmt.Sprintf("prop:%s:%s", ck.PropertyType, ck.Value)
	case CacheKeyReference:
		return fmt.Sprintf("ref:%s:%s", ck.RefType, ck.Target)
	default:
		return fmt.Sprintf("unknown:%d", ck.Kind)
	}
}

// Caches returns the full set of CacheKeys an item's reference and
// property caches map to, the same assembly original_source's
// ledger_item.rs performs in caches(). view is passed through to
// PropertiesCache so a derived property can consult other items.
func Caches(it Item, view ReadView) []CacheKey {
	refs := it.RefCache()
	props := it.PropertiesCache(view)
	out := make([]CacheKey, 0, len(refs)+len(props))
	for _, r := range refs {
		out = append(out, ReferenceCacheKey(r.RefType, r.Target))
		out = append(out, ReferenceCacheKey(RefTypeAny, r.Target))
	}
	for _, p := range props {
		out = append(out, PropertyCacheKey(p.Type, p.Value))
	}
	return out
}
