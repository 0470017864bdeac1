package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ledgerwatch/ledgerstore/item"
)

// docItem is a minimal concrete Item used only by this package's tests:
// a document with a free-text body (indexed as a "word" property per
// word) and a set of outgoing "dep" references to other docs. It stands
// in for the flashcard domain model the store's core is deliberately
// agnostic to.
type docItem struct {
	Key  item.Key `json:"key"`
	Body string   `json:"body"`
	Deps []string `json:"deps"`
}

const docTypeTag = "doc"
const docRefDep item.RefType = "dep"
const docPropWord item.PropertyType = "word"

type docModifier struct {
	Op      string   `json:"op"`
	Body    string   `json:"body,omitempty"`
	Dep     string   `json:"dep,omitempty"`
	AllDeps []string `json:"all_deps,omitempty"`
}

func setBody(body string) json.RawMessage {
	b, _ := json.Marshal(docModifier{Op: "set_body", Body: body})
	return b
}

func addDep(dep string) json.RawMessage {
	b, _ := json.Marshal(docModifier{Op: "add_dep", Dep: dep})
	return b
}

func removeDep(dep string) json.RawMessage {
	b, _ := json.Marshal(docModifier{Op: "remove_dep", Dep: dep})
	return b
}

func (d docItem) ID() item.Key { return d.Key }

func (d docItem) Apply(mod item.Modifier) (item.Item, error) {
	m, ok := mod.(docModifier)
	if !ok {
		return nil, fmt.Errorf("doc: unexpected modifier type %T", mod)
	}
	next := d
	next.Deps = append([]string{}, d.Deps...)
	switch m.Op {
	case "set_body":
		next.Body = m.Body
	case "add_dep":
		for _, existing := range next.Deps {
			if existing == m.Dep {
				return next, nil
			}
		}
		next.Deps = append(next.Deps, m.Dep)
	case "remove_dep":
		out := next.Deps[:0]
		for _, existing := range next.Deps {
			if existing != m.Dep {
				out = append(out, existing)
			}
		}
		next.Deps = out
	default:
		return nil, fmt.Errorf("doc: unknown op %q", m.Op)
	}
	return next, nil
}

func (d docItem) RefCache() []item.ItemReference {
	out := make([]item.ItemReference, 0, len(d.Deps))
	for _, dep := range d.Deps {
		out = append(out, item.ItemReference{RefType: docRefDep, Target: dep})
	}
	return out
}

// PropertiesCache exposes one property per whitespace-separated word in
// Body, so a test can exercise the set-algebra Read API across several
// overlapping property values without a richer domain model. It doesn't
// itself need view; the interface carries it for item types whose
// derived properties depend on other items.
func (d docItem) PropertiesCache(item.ReadView) []item.PropertyCache {
	if d.Body == "" {
		return nil
	}
	words := strings.Fields(d.Body)
	out := make([]item.PropertyCache, 0, len(words))
	for _, w := range words {
		out = append(out, item.PropertyCache{Type: docPropWord, Value: w})
	}
	return out
}

func (d docItem) Validate(view item.ReadView) error {
	for _, dep := range d.Deps {
		if _, ok, err := view.Load(dep); err != nil {
			return err
		} else if !ok {
			return item.New(item.KindMissingReference, fmt.Sprintf("dep %q does not exist", dep))
		}
	}
	return nil
}

func docFactory() item.Factory {
	return item.Factory{
		Default: func(id item.Key) item.Item { return docItem{Key: id} },
		Decode: func(data []byte) (item.Item, error) {
			var d docItem
			if err := json.Unmarshal(data, &d); err != nil {
				return nil, err
			}
			return d, nil
		},
		Encode: func(it item.Item) ([]byte, error) {
			return json.Marshal(it.(docItem))
		},
		DecodeModifier: func(data []byte) (item.Modifier, error) {
			var m docModifier
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

func newTestRegistry() *item.Registry {
	r := item.NewRegistry()
	r.Register(docTypeTag, docFactory())
	return r
}
