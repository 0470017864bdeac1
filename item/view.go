package item

// ReadView is how Item.Validate and the engine's transitive-validation
// pass look an item up by id. There are two implementations: a Normal
// view that reads straight through to a persisted snapshot, and an
// Override view that layers tentative, not-yet-persisted mutations over
// a Normal view — spec §9's "override view" design note, grounded on
// original_source's verify() building an OverrideLedger before calling
// find_cycle/validate so a candidate mutation can be checked without
// ever being written to disk if it fails.
type ReadView interface {
	// Load returns the current item for id, or ok=false if id does not
	// exist in this view.
	Load(id Key) (it Item, ok bool, err error)
}

// StaticLoader is satisfied by anything that can answer Load without
// knowing about overrides — typically a snapshot+blob+registry lookup
// the engine constructs.
type StaticLoader func(id Key) (Item, bool, error)

// NormalView is the base ReadView: every Load goes straight to Loader.
type NormalView struct {
	Loader StaticLoader
}

func (v *NormalView) Load(id Key) (Item, bool, error) {
	return v.Loader(id)
}

// OverrideView layers a tentative set of inserts/deletes over a base
// ReadView. It is used to validate a candidate event's effects (and to
// run cycle detection and transitive validation against them) before
// anything is persisted.
type OverrideView struct {
	base      ReadView
	overrides map[Key]Item
	deleted   map[Key]struct{}
}

// NewOverrideView returns an OverrideView layered on base.
func NewOverrideView(base ReadView) *OverrideView {
	return &OverrideView{
		base:      base,
		overrides: map[Key]Item{},
		deleted:   map[Key]struct{}{},
	}
}

// Set records a tentative value for id, shadowing whatever base returns.
func (v *OverrideView) Set(id Key, it Item) {
	delete(v.deleted, id)
	v.overrides[id] = it
}

// Delete records a tentative deletion of id, shadowing base even if base
// has a value for id.
func (v *OverrideView) Delete(id Key) {
	delete(v.overrides, id)
	v.deleted[id] = struct{}{}
}

func (v *OverrideView) Load(id Key) (Item, bool, error) {
	if it, ok := v.overrides[id]; ok {
		return it, true, nil
	}
	if _, ok := v.deleted[id]; ok {
		return nil, false, nil
	}
	return v.base.Load(id)
}
