// Package shadow maintains per-schema shadow instances: a per-schema
// view of the document carrying an opaque backend state plus
// the bookkeeping (vector clock, dependency frontier, per-actor element
// counters, bootstrap flag) path resolution and change conversion need.
package shadow

import (
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/mohae/deepcopy"
)

// Instance is a per-schema reconstruction of the document.
type Instance struct {
	Schema string
	State  backend.State

	// Clock is the highest applied sequence number per actor.
	Clock backend.Clock
	// Deps is the frontier clock returned by the last apply.
	Deps backend.Clock
	// Elem is the highest element counter seen or synthesized per actor
	// in this shadow specifically, never shared across shadows: the same
	// (actor, elem) may name different elements in different schemas'
	// shadows.
	Elem map[string]uint64

	Bootstrapped bool
}

// New creates an un-bootstrapped shadow for schema over a freshly
// initialized backend state.
func New(schemaName string, st backend.State) *Instance {
	return &Instance{
		Schema: schemaName,
		State:  st,
		Clock:  backend.Clock{},
		Deps:   backend.Clock{},
		Elem:   map[string]uint64{},
	}
}

// Clone returns an independent deep copy: a fresh backend state (cloned
// via the backend's own Clone method if it implements one, else via
// deepcopy) and independent clock/deps/elem maps, so conversion scratch
// work never perturbs the canonical shadow.
func (s *Instance) Clone() *Instance {
	return &Instance{
		Schema:       s.Schema,
		State:        cloneState(s.State),
		Clock:        s.Clock.Clone(),
		Deps:         s.Deps.Clone(),
		Elem:         deepcopy.Copy(s.Elem).(map[string]uint64),
		Bootstrapped: s.Bootstrapped,
	}
}

// cloneState clones a backend state cheaply if it implements
// CloneState() backend.State (e.g. *memdoc.Doc), else falls back to a
// reflection-based deep copy.
func cloneState(st backend.State) backend.State {
	if c, ok := st.(interface{ CloneState() backend.State }); ok {
		return c.CloneState()
	}
	return deepcopy.Copy(st).(backend.State)
}

// ApplyChanges folds changes into the shadow via b, updating Clock, Deps,
// and Elem (per-actor max of the existing value and every op.Elem seen).
func ApplyChanges(b backend.Backend, inst *Instance, changes []backend.Change) (backend.Patch, error) {
	next, patch, err := b.ApplyChanges(inst.State, changes)
	if err != nil {
		return backend.Patch{}, err
	}
	inst.State = next
	inst.Clock = inst.Clock.Merge(patch.Clock)
	inst.Deps = inst.Deps.Merge(patch.Deps)
	for _, ch := range changes {
		for _, op := range ch.Ops {
			if op.Action == backend.Ins && op.Elem > inst.Elem[ch.Actor] {
				inst.Elem[ch.Actor] = op.Elem
			}
		}
	}
	return patch, nil
}

// ApplyLocalChange folds one locally authored change into the shadow,
// mirroring ApplyChanges' bookkeeping, and returns the resulting change
// (with its Seq/Deps filled in by the backend per req) for the caller to
// wrap into a Block.
func ApplyLocalChange(b backend.Backend, inst *Instance, req backend.LocalChangeRequest) (backend.Patch, backend.Change, error) {
	next, patch, change, err := b.ApplyLocalChange(inst.State, req)
	if err != nil {
		return backend.Patch{}, backend.Change{}, err
	}
	inst.State = next
	inst.Clock = inst.Clock.Merge(patch.Clock)
	inst.Deps = inst.Deps.Merge(patch.Deps)
	for _, op := range change.Ops {
		if op.Action == backend.Ins && op.Elem > inst.Elem[change.Actor] {
			inst.Elem[change.Actor] = op.Elem
		}
	}
	return patch, change, nil
}

// NextElem returns the element counter a synthesized ins for actor should
// use in this shadow: the current max plus one. It does not reserve the
// resulting ins (directly or via ApplyChanges) before calling again.
func (s *Instance) NextElem(actor string) uint64 {
	return s.Elem[actor] + 1
}
