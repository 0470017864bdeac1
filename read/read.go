// Package read implements the set-algebra query engine (spec §4.9): a
// closed grammar of set expressions evaluated against a pinned snapshot's
// reverse-index cache, mirroring original_source/ledgerstore/src/
// read_ledger.rs's load_expr match arms (Union via flat_map, Intersection
// via iterative fold, Difference via set subtraction), extended with
// Complement and Reference per spec.md §4.9's closed grammar.
package read

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ledgerwatch/ledgerstore/cache"
	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/item"
	"github.com/ledgerwatch/ledgerstore/snapshot"
)

// ExprKind distinguishes the variants of the closed set-expression
// grammar (spec §4.9).
type ExprKind int

const (
	// ExprAll selects every item key live at the evaluated snapshot.
	ExprAll ExprKind = iota
	// ExprItem selects a single, literal item key (present or not).
	ExprItem
	// ExprProperty selects every item exposing a given property value.
	ExprProperty
	// ExprReference selects dependencies or dependents of another
	// expression's result, optionally transitively, per one RefType or
	// every RefType.
	ExprReference
	// ExprUnion selects the union of its sub-expressions' results.
	ExprUnion
	// ExprIntersection selects the intersection of its sub-expressions'
	// results.
	ExprIntersection
	// ExprDifference selects its left sub-expression's result minus its
	// right sub-expression's result.
	ExprDifference
	// ExprComplement selects every live key not in its sub-expression's
	// result (All \ e).
	ExprComplement
)

// Expr is one node of the closed set-expression grammar (spec §4.9).
// Exactly the fields relevant to Kind are consulted; the rest are
// ignored, mirroring a tagged union represented as a flat struct (no
// generics, per spec.md §9's non-generic style).
type Expr struct {
	Kind ExprKind

	// ExprItem
	Key item.Key

	// ExprProperty
	Property item.PropertyCache

	// ExprReference
	Items       *Expr
	RefType     item.RefType // zero value means "every RefType"
	AnyRefType  bool
	Reversed    bool
	Recursive   bool
	IncludeSelf bool

	// ExprUnion, ExprIntersection
	Exprs []Expr

	// ExprDifference
	Left, Right *Expr
}

// All returns the "every live key" expression.
func All() Expr { return Expr{Kind: ExprAll} }

// Item returns the "exactly this key" expression.
func Item(k item.Key) Expr { return Expr{Kind: ExprItem, Key: k} }

// Property returns the expression selecting every item exposing pc.
func Property(pc item.PropertyCache) Expr { return Expr{Kind: ExprProperty, Property: pc} }

// Union returns the union of es.
func Union(es ...Expr) Expr { return Expr{Kind: ExprUnion, Exprs: es} }

// Intersection returns the intersection of es. Evaluating an empty
// Intersection yields the empty set (there is no universal starting
// point to fold from without first knowing the snapshot's full key set,
// so a caller wanting "All" should say so explicitly via All()).
func Intersection(es ...Expr) Expr { return Expr{Kind: ExprIntersection, Exprs: es} }

// Difference returns left minus right.
func Difference(left, right Expr) Expr {
	return Expr{Kind: ExprDifference, Left: &left, Right: &right}
}

// Complement returns All() minus e.
func Complement(e Expr) Expr { return Expr{Kind: ExprComplement, Left: &e} }

// Reference returns the expression that evaluates items, then for each
// resulting key looks up its references per ty/reversed/recursive, unions
// the results together, and — if includeSelf — unions items' own result
// back in. ty=item.RefTypeAny matches every RefType.
func Reference(items Expr, ty item.RefType, reversed, recursive, includeSelf bool) Expr {
	return Expr{
		Kind:        ExprReference,
		Items:       &items,
		RefType:     ty,
		Reversed:    reversed,
		Recursive:   recursive,
		IncludeSelf: includeSelf,
	}
}

// Snapshot bundles everything Eval needs to resolve an Expr against one
// pinned state: the directory trie (for All/Item and loading items to
// enumerate outgoing references) and the reverse-index cache (for
// Property and ReferencedBy lookups).
type Snapshot struct {
	Snap      *snapshot.Store
	Cache     *cache.Index
	State     roothash.Hash
	CacheRoot roothash.Hash
	Load      item.StaticLoader
}

// Eval evaluates expr against s, returning the resulting set of item
// keys.
func Eval(s Snapshot, expr Expr) (mapset.Set[item.Key], error) {
	switch expr.Kind {
	case ExprAll:
		return allKeys(s)

	case ExprItem:
		_, ok, err := s.Load(expr.Key)
		if err != nil {
			return nil, err
		}
		out := mapset.NewThreadUnsafeSet[item.Key]()
		if ok {
			out.Add(expr.Key)
		}
		return out, nil

	case ExprProperty:
		ck := item.PropertyCacheKey(expr.Property.Type, expr.Property.Value)
		return s.Cache.Members(s.CacheRoot, ck.String())

	case ExprReference:
		return evalReference(s, expr)

	case ExprUnion:
		out := mapset.NewThreadUnsafeSet[item.Key]()
		for _, sub := range expr.Exprs {
			res, err := Eval(s, sub)
			if err != nil {
				return nil, err
			}
			out = out.Union(res)
		}
		return out, nil

	case ExprIntersection:
		if len(expr.Exprs) == 0 {
			return mapset.NewThreadUnsafeSet[item.Key](), nil
		}
		out, err := Eval(s, expr.Exprs[0])
		if err != nil {
			return nil, err
		}
		for _, sub := range expr.Exprs[1:] {
			res, err := Eval(s, sub)
			if err != nil {
				return nil, err
			}
			out = out.Intersect(res)
		}
		return out, nil

	case ExprDifference:
		left, err := Eval(s, *expr.Left)
		if err != nil {
			return nil, err
		}
		right, err := Eval(s, *expr.Right)
		if err != nil {
			return nil, err
		}
		return left.Difference(right), nil

	case ExprComplement:
		all, err := allKeys(s)
		if err != nil {
			return nil, err
		}
		sub, err := Eval(s, *expr.Left)
		if err != nil {
			return nil, err
		}
		return all.Difference(sub), nil

	default:
		return mapset.NewThreadUnsafeSet[item.Key](), nil
	}
}

func allKeys(s Snapshot) (mapset.Set[item.Key], error) {
	paths, err := s.Snap.AllPaths(s.State)
	if err != nil {
		return nil, err
	}
	out := mapset.NewThreadUnsafeSet[item.Key]()
	for k := range paths {
		out.Add(k)
	}
	return out, nil
}

// evalReference implements ExprReference: evaluate Items, then for each
// resulting key look up dependencies (Reversed=false) or dependents
// (Reversed=true) of the requested RefType (or every RefType), expanding
// transitively if Recursive, and re-union the seed set back in if
// IncludeSelf.
func evalReference(s Snapshot, expr Expr) (mapset.Set[item.Key], error) {
	seeds, err := Eval(s, *expr.Items)
	if err != nil {
		return nil, err
	}

	out := mapset.NewThreadUnsafeSet[item.Key]()
	visited := mapset.NewThreadUnsafeSet[item.Key]()
	queue := seeds.ToSlice()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited.Contains(cur) {
			continue
		}
		visited.Add(cur)

		next, err := directReferences(s, cur, expr.RefType, expr.Reversed)
		if err != nil {
			return nil, err
		}
		for k := range next.Iter() {
			out.Add(k)
			if expr.Recursive && !visited.Contains(k) {
				queue = append(queue, k)
			}
		}
	}

	if expr.IncludeSelf {
		out = out.Union(seeds)
	}
	return out, nil
}

// directReferences returns key's one-hop dependencies (outgoing
// references, reversed=false) or dependents (incoming references,
// reversed=true) of refType, where refType=item.RefTypeAny matches every
// type.
func directReferences(s Snapshot, key item.Key, refType item.RefType, reversed bool) (mapset.Set[item.Key], error) {
	if reversed {
		ck := item.ReferenceCacheKey(refType, key)
		if refType == "" {
			ck = item.ReferenceCacheKey(item.RefTypeAny, key)
		}
		return s.Cache.Members(s.CacheRoot, ck.String())
	}

	it, ok, err := s.Load(key)
	if err != nil {
		return nil, err
	}
	out := mapset.NewThreadUnsafeSet[item.Key]()
	if !ok {
		return out, nil
	}
	for _, ref := range it.RefCache() {
		if refType != "" && refType != item.RefTypeAny && ref.RefType != refType {
			continue
		}
		out.Add(ref.Target)
	}
	return out, nil
}
