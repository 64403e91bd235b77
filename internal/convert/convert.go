// Package convert rewrites a change authored under one schema into the
// equivalent change under another. Given a block whose author schema
// differs from a target schema, it rewrites the block's change one op at
// a time, incrementally applying the discarded
// original op to a scratch clone of the author's shadow and the rewritten
// op(s) to a scratch clone of the target's shadow, so that later ops in the
// same change resolve paths and indices correctly on both sides.
package convert

import (
	"fmt"

	"github.com/latticedoc/lensmerge/internal/opsort"
	"github.com/latticedoc/lensmerge/internal/oppatch"
	"github.com/latticedoc/lensmerge/internal/resolver"
	"github.com/latticedoc/lensmerge/internal/shadow"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// Change rewrites change (authored against fromShadow's schema) into the
// equivalent change against toShadow's schema, using lensStack (composed
// from-schema -> to-schema, see pkg/schema.Graph.Compose +
// pkg/lens.Compile). fromShadow and toShadow are cloned internally; the
// caller's canonical instances are never mutated.
//
// b is the backend the scratch clones are advanced through, one op (or one
// small op group) at a time, through the same narrow apply surface the
// engine uses rather than reaching into backend-specific internals.
func Change(b backend.Backend, fromShadow, toShadow *shadow.Instance, lensStack lens.Lens, change backend.Change) (backend.Change, error) {
	sorted, err := opsort.Sort(change.Actor, change.Ops)
	if err != nil {
		return backend.Change{}, lmerr.Wrap("convert.Change: sorting "+change.Actor, err)
	}

	fromClone := fromShadow.Clone()
	toClone := toShadow.Clone()

	pathCache := resolver.PathCache{"": backend.RootID}
	elemCache := resolver.ElemCache{}
	var out []backend.Op
	patchCounter := 0

	for _, op := range sorted {
		switch op.Action {
		case backend.Ins, backend.MakeMap, backend.MakeList:
			if op.Action == backend.Ins {
				elemCache[op.Obj+"|"+fmt.Sprintf("%s:%d", change.Actor, op.Elem)] = true
			}
			if err := applyOne(b, fromClone, change.Actor, change.Seq, op); err != nil {
				return backend.Change{}, lmerr.Wrap("convert.Change: advancing from-shadow", err)
			}
			continue
		}

		fromRes := &resolver.Resolver{State: fromClone.State, Cache: resolver.PathCache{"": backend.RootID}, Elems: elemCache}
		patch, err := oppatch.OpToPatch(op, fromRes)
		if err != nil {
			return backend.Change{}, lmerr.Wrap("convert.Change: op->patch", err)
		}

		translated, err := lensStack.Forward(patch)
		if err != nil {
			return backend.Change{}, lmerr.Wrap("convert.Change: lens forward", err)
		}

		toRes := &resolver.Resolver{State: toClone.State, Cache: pathCache}
		ctx := oppatch.ReverseContext{Actor: change.Actor, Seq: change.Seq, TargetElem: toClone.Elem}
		var newOps []backend.Op
		for _, fragment := range translated {
			ops, err := oppatch.PatchToOps(fragment, ctx, patchCounter, toRes)
			if err != nil {
				return backend.Change{}, lmerr.Wrap("convert.Change: patch->ops", err)
			}
			patchCounter++
			newOps = append(newOps, ops...)
		}

		if err := applyOne(b, fromClone, change.Actor, change.Seq, op); err != nil {
			return backend.Change{}, lmerr.Wrap("convert.Change: advancing from-shadow", err)
		}
		for _, nop := range newOps {
			if err := applyOne(b, toClone, change.Actor, change.Seq, nop); err != nil {
				return backend.Change{}, lmerr.Wrap("convert.Change: advancing to-shadow", err)
			}
		}
		out = append(out, newOps...)
	}

	return backend.Change{
		Actor:   change.Actor,
		Seq:     change.Seq,
		Deps:    change.Deps,
		Message: change.Message,
		Ops:     out,
	}, nil
}

// applyOne folds a single op into inst's scratch state via b, sharing the
// same actor/seq the original change carries (the clone is discarded after
// conversion, so reusing the real identity here is harmless and keeps
// backend.Clock bookkeeping meaningful for the duration of the conversion).
func applyOne(b backend.Backend, inst *shadow.Instance, actor string, seq uint64, op backend.Op) error {
	_, err := shadow.ApplyChanges(b, inst, []backend.Change{{Actor: actor, Seq: seq, Ops: []backend.Op{op}}})
	return err
}
