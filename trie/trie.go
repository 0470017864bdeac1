// Package trie implements the content-addressed hash trie shared by the
// directory store (item key -> blob hash) and the reverse-index cache
// (cache key -> bitmap bytes). Every node is itself a blob: an internal
// node lists its children by one-hex-character shard component, a leaf
// node lists the full keys that share that shard prefix. Because nodes
// are addressed by the hash of their own contents, two tries that agree
// on a subtree always share the same node hash for it — the structural
// sharing the store relies on to keep snapshots of nearly-identical
// states cheap.
//
// The design generalizes the account/storage trie node types of
// trie_from_witness.go (shortNode/fullNode/hashNode) to a single node
// shape keyed by arbitrary strings rather than 65-nibble accounts paths.
package trie

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/ledgerstore/blob"
	"github.com/ledgerwatch/ledgerstore/internal/roothash"
)

// DefaultFanoutDepth is the number of one-hex-character shard levels
// walked from the root before reaching a leaf node.
const DefaultFanoutDepth = 3

type node struct {
	// Children maps a one-character hex shard digit to the hash of the
	// child node at that digit. Present on internal nodes only.
	Children map[string]string `json:"children,omitempty"`
	// Entries maps a full key to its hex-encoded value. Present on leaf
	// nodes only (depth == FanoutDepth).
	Entries map[string]string `json:"entries,omitempty"`
}

func (n *node) encode() ([]byte, error) {
	return json.Marshal(n)
}

func decodeNode(data []byte) (*node, error) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("trie: decode node: %w", err)
	}
	return &n, nil
}

// Trie reads and writes tries rooted in a shared blob.Store.
type Trie struct {
	store       *blob.Store
	fanoutDepth int
	nodeCache   *lru.Cache // hash string -> *node
	emptyRoot   roothash.Hash
}

// New returns a Trie backed by store, sharding fanoutDepth levels deep
// (spec default 3) with a decoded-node cache holding up to cacheSize
// entries.
func New(store *blob.Store, fanoutDepth, cacheSize int) (*Trie, error) {
	if fanoutDepth <= 0 {
		fanoutDepth = DefaultFanoutDepth
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("trie: new node cache: %w", err)
	}
	t := &Trie{store: store, fanoutDepth: fanoutDepth, nodeCache: c}

	empty := &node{}
	data, err := empty.encode()
	if err != nil {
		return nil, err
	}
	root, err := store.Put(data)
	if err != nil {
		return nil, fmt.Errorf("trie: materialize empty root: %w", err)
	}
	t.emptyRoot = root
	t.nodeCache.Add(root.String(), empty)
	return t, nil
}

// Empty returns the hash of the empty trie.
func (t *Trie) Empty() roothash.Hash {
	return t.emptyRoot
}

func (t *Trie) loadNode(h roothash.Hash) (*node, error) {
	if v, ok := t.nodeCache.Get(h.String()); ok {
		return v.(*node), nil
	}
	data, err := t.store.Get(h)
	if err != nil {
		return nil, fmt.Errorf("trie: load node %s: %w", h, err)
	}
	n, err := decodeNode(data)
	if err != nil {
		return nil, err
	}
	t.nodeCache.Add(h.String(), n)
	return n, nil
}

func (t *Trie) storeNode(n *node) (roothash.Hash, error) {
	data, err := n.encode()
	if err != nil {
		return roothash.Hash{}, err
	}
	h, err := t.store.Put(data)
	if err != nil {
		return roothash.Hash{}, fmt.Errorf("trie: store node: %w", err)
	}
	t.nodeCache.Add(h.String(), n)
	return h, nil
}

func shardPath(key string, depth int) []string {
	return roothash.ShardPath(roothash.Sum([]byte(key)), depth)[:depth]
}

// Get looks up key in the trie rooted at root.
func (t *Trie) Get(root roothash.Hash, key string) ([]byte, bool, error) {
	path := shardPath(key, t.fanoutDepth)
	cur := root
	for depth := 0; depth < t.fanoutDepth; depth++ {
		n, err := t.loadNode(cur)
		if err != nil {
			return nil, false, err
		}
		child, ok := n.Children[path[depth]]
		if !ok {
			return nil, false, nil
		}
		cur, err = roothash.ParseHash(child)
		if err != nil {
			return nil, false, err
		}
	}
	leaf, err := t.loadNode(cur)
	if err != nil {
		return nil, false, err
	}
	hexVal, ok := leaf.Entries[key]
	if !ok {
		return nil, false, nil
	}
	val, err := decodeHex(hexVal)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Put returns the hash of the trie obtained by setting key to value in
// the trie rooted at root, rebuilding only the path from leaf to root
// (every sibling subtree is untouched and so keeps its existing hash).
func (t *Trie) Put(root roothash.Hash, key string, value []byte) (roothash.Hash, error) {
	newRoot, _, err := t.PutTracked(root, key, value)
	return newRoot, err
}

// Delete returns the hash of the trie obtained by removing key from the
// trie rooted at root. It is a no-op (returns root unchanged) if key is
// absent.
func (t *Trie) Delete(root roothash.Hash, key string) (roothash.Hash, error) {
	newRoot, _, err := t.DeleteTracked(root, key)
	return newRoot, err
}

// PutTracked behaves like Put but additionally returns the hash of every
// node blob written while performing the mutation (the leaf plus every
// internal node on the path to the root) — spec §4.2's `new_contents`,
// consumed by garbage collection's additions log (spec §4.8, §6
// snaprefs/<hash>-<index>).
func (t *Trie) PutTracked(root roothash.Hash, key string, value []byte) (roothash.Hash, []roothash.Hash, error) {
	return t.mutate(root, key, &value)
}

// DeleteTracked behaves like Delete but additionally returns the hash of
// every node blob written while performing the mutation.
func (t *Trie) DeleteTracked(root roothash.Hash, key string) (roothash.Hash, []roothash.Hash, error) {
	return t.mutate(root, key, nil)
}

func (t *Trie) mutate(root roothash.Hash, key string, value *[]byte) (roothash.Hash, []roothash.Hash, error) {
	path := shardPath(key, t.fanoutDepth)
	var touched []roothash.Hash
	newRoot, err := t.mutateAt(root, path, 0, key, value, &touched)
	return newRoot, touched, err
}

func (t *Trie) mutateAt(cur roothash.Hash, path []string, depth int, key string, value *[]byte, touched *[]roothash.Hash) (roothash.Hash, error) {
	n, err := t.loadNode(cur)
	if err != nil {
		return roothash.Hash{}, err
	}

	if depth == len(path) {
		leaf := cloneEntries(n)
		if value == nil {
			delete(leaf.Entries, key)
		} else {
			if leaf.Entries == nil {
				leaf.Entries = map[string]string{}
			}
			leaf.Entries[key] = encodeHex(*value)
		}
		h, err := t.storeNode(leaf)
		if err != nil {
			return roothash.Hash{}, err
		}
		*touched = append(*touched, h)
		return h, nil
	}

	childDigit := path[depth]
	childHash := t.emptyRoot
	if h, ok := n.Children[childDigit]; ok {
		childHash, err = roothash.ParseHash(h)
		if err != nil {
			return roothash.Hash{}, err
		}
	}

	newChild, err := t.mutateAt(childHash, path, depth+1, key, value, touched)
	if err != nil {
		return roothash.Hash{}, err
	}

	internal := cloneChildren(n)
	if newChild == t.emptyRoot {
		delete(internal.Children, childDigit)
	} else {
		if internal.Children == nil {
			internal.Children = map[string]string{}
		}
		internal.Children[childDigit] = newChild.String()
	}
	h, err := t.storeNode(internal)
	if err != nil {
		return roothash.Hash{}, err
	}
	*touched = append(*touched, h)
	return h, nil
}

func cloneEntries(n *node) *node {
	out := &node{Entries: map[string]string{}}
	for k, v := range n.Entries {
		out.Entries[k] = v
	}
	return out
}

func cloneChildren(n *node) *node {
	out := &node{Children: map[string]string{}}
	for k, v := range n.Children {
		out.Children[k] = v
	}
	return out
}

// Walk visits every key/value pair stored in the trie rooted at root, in
// sorted key order, used by full cache rebuilds and garbage collection's
// path enumeration.
func (t *Trie) Walk(root roothash.Hash, fn func(key string, value []byte) error) error {
	type pair struct {
		key   string
		value []byte
	}
	var all []pair
	if err := t.walk(root, 0, func(k string, v []byte) error {
		all = append(all, pair{k, v})
		return nil
	}); err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })
	for _, p := range all {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trie) walk(cur roothash.Hash, depth int, fn func(string, []byte) error) error {
	n, err := t.loadNode(cur)
	if err != nil {
		return err
	}
	if depth == t.fanoutDepth {
		keys := make([]string, 0, len(n.Entries))
		for k := range n.Entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := decodeHex(n.Entries[k])
			if err != nil {
				return err
			}
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	}

	digits := make([]string, 0, len(n.Children))
	for d := range n.Children {
		digits = append(digits, d)
	}
	sort.Strings(digits)
	for _, d := range digits {
		childHash, err := roothash.ParseHash(n.Children[d])
		if err != nil {
			return err
		}
		if err := t.walk(childHash, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// ReachableNodes returns the set of node hashes (including leaves and
// value blobs are NOT included) making up the trie rooted at root. Used
// by garbage collection to compute which blobs are still referenced.
func (t *Trie) ReachableNodes(root roothash.Hash, into map[roothash.Hash]struct{}) error {
	into[root] = struct{}{}
	n, err := t.loadNode(root)
	if err != nil {
		return err
	}
	for _, childHex := range n.Children {
		childHash, err := roothash.ParseHash(childHex)
		if err != nil {
			return err
		}
		if _, seen := into[childHash]; seen {
			continue
		}
		if err := t.ReachableNodes(childHash, into); err != nil {
			return err
		}
	}
	return nil
}

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("trie: decode hex value %q: %w", s, err)
	}
	return b, nil
}
