// Package remote specifies the store's external-collaborator interface
// (spec §4.10): an object-store provider supplies the diff between two
// commits as a ChangeSet, and Apply drives that diff through the normal
// event pipeline. No concrete transport is implemented — spec.md states
// only the interface shape. Each Provider carries a ProviderId
// (original_source/ledgerstore/src/remote.rs, not distilled into
// spec.md); Apply does not record it on the events it applies.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pborman/uuid"

	"github.com/ledgerwatch/ledgerstore/internal/roothash"
	"github.com/ledgerwatch/ledgerstore/item"
)

// ProviderId identifies an external object-store collaborator
// (Provider.ID, and Apply's fetch error messages) —
// original_source/ledgerstore/src/remote.rs's `pub type ProviderId =
// Uuid`, not present in the distilled spec.md. It is not stored on
// ledger entries, so replayed history does not record which provider
// authored an event.
type ProviderId = uuid.UUID

// NewProviderId returns a freshly generated ProviderId.
func NewProviderId() ProviderId {
	return uuid.NewRandom()
}

// ChangeSet is the set of item keys added, modified, or removed between
// two commits of an external object store (spec §4.10).
type ChangeSet struct {
	Added    []item.Key
	Modified []item.Key
	Removed  []item.Key
}

// Empty reports whether cs describes no change at all.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Removed) == 0
}

// Provider is the external collaborator spec §4.10 describes: given an
// optional old commit and a required new commit, it returns the
// ChangeSet between them. old==nil means "diff against nothing" (i.e.
// every item in new is Added).
type Provider interface {
	ID() ProviderId
	Fetch(ctx context.Context, old, new *string) (ChangeSet, error)

	// ItemModifier returns the modifier that would bring key's local
	// state up to date with what this provider's new commit holds for
	// it, and the item type tag it should be applied against. Applying
	// it is the caller's (Apply's) job, not the provider's.
	ItemModifier(ctx context.Context, key item.Key, commit string) (typeTag string, modifier json.RawMessage, err error)

	// RemoveModifier returns the modifier that deletes key locally, for
	// keys present in ChangeSet.Removed.
	RemoveModifier(key item.Key) (typeTag string, modifier json.RawMessage, err error)
}

// Applier is the subset of engine.Engine's surface Apply needs, kept
// narrow so this package never imports engine (which would be a cycle:
// engine is the lower layer, remote sits above it).
type Applier interface {
	Apply(typeTag string, id item.Key, modifierData json.RawMessage) (roothash.Hash, error)
}

// Apply fetches the ChangeSet between old and new from p, translates
// every added/modified/removed key into one modifier event, and feeds
// each through eng's normal event pipeline (spec §4.10's "translate into
// a batch of modifier events, and drive the normal event pipeline").
//
// If ctx is cancelled or its deadline passes before Fetch returns, the
// ChangeSet is discarded and eng is left untouched — spec §5's "on
// timeout the change set is discarded and no state mutation occurs."
// Once Fetch has returned, individual Apply calls are not rolled back on
// a later failure; Apply stops at the first error and returns how many
// events it successfully applied.
func Apply(ctx context.Context, eng Applier, p Provider, old, new *string) (applied int, err error) {
	type fetchResult struct {
		cs  ChangeSet
		err error
	}
	resultCh := make(chan fetchResult, 1)
	go func() {
		cs, err := p.Fetch(ctx, old, new)
		resultCh <- fetchResult{cs, err}
	}()

	var cs ChangeSet
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return 0, fmt.Errorf("remote: fetch from provider %s: %w", p.ID(), res.err)
		}
		cs = res.cs
	}

	newCommit := ""
	if new != nil {
		newCommit = *new
	}

	for _, key := range append(append([]item.Key{}, cs.Added...), cs.Modified...) {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		typeTag, mod, err := p.ItemModifier(ctx, key, newCommit)
		if err != nil {
			return applied, fmt.Errorf("remote: build modifier for %q: %w", key, err)
		}
		if _, err := eng.Apply(typeTag, key, mod); err != nil {
			return applied, fmt.Errorf("remote: apply %q: %w", key, err)
		}
		applied++
	}
	for _, key := range cs.Removed {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		typeTag, mod, err := p.RemoveModifier(key)
		if err != nil {
			return applied, fmt.Errorf("remote: build remove modifier for %q: %w", key, err)
		}
		if _, err := eng.Apply(typeTag, key, mod); err != nil {
			return applied, fmt.Errorf("remote: apply removal of %q: %w", key, err)
		}
		applied++
	}
	return applied, nil
}
