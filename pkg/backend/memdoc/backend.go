package memdoc

import (
	"fmt"

	"github.com/latticedoc/lensmerge/pkg/backend"
)

// Backend is the memdoc-backed backend.Backend implementation.
type Backend struct{}

var _ backend.Backend = Backend{}

// NewBackend returns a memdoc-backed Backend. There is no setup state:
// every document lives entirely in the backend.State values it hands
// back.
func NewBackend() Backend { return Backend{} }

func (Backend) Init() backend.State {
	return New()
}

func (Backend) ApplyChanges(state backend.State, changes []backend.Change) (backend.State, backend.Patch, error) {
	doc, ok := state.(*Doc)
	if !ok {
		return state, backend.Patch{}, fmt.Errorf("memdoc: state is not a *memdoc.Doc")
	}
	next := doc.Clone()
	clock := backend.Clock{}
	for _, ch := range changes {
		for _, op := range ch.Ops {
			if err := next.Apply(ch.Actor, op); err != nil {
				return state, backend.Patch{}, fmt.Errorf("memdoc: applying change %s/%d: %w", ch.Actor, ch.Seq, err)
			}
		}
		if ch.Seq > clock[ch.Actor] {
			clock[ch.Actor] = ch.Seq
		}
	}
	materialized, err := next.Materialize()
	if err != nil {
		return state, backend.Patch{}, err
	}
	return next, backend.Patch{Diffs: materialized, Clock: clock, Deps: clock.Clone()}, nil
}

func (b Backend) ApplyLocalChange(state backend.State, req backend.LocalChangeRequest) (backend.State, backend.Patch, backend.Change, error) {
	doc, ok := state.(*Doc)
	if !ok {
		return state, backend.Patch{}, backend.Change{}, fmt.Errorf("memdoc: state is not a *memdoc.Doc")
	}
	deps := req.Deps
	if deps == nil {
		deps = backend.Clock{}
	}
	change := backend.Change{Actor: req.Actor, Seq: req.Seq, Deps: deps, Message: req.Message, Ops: req.Ops}
	next, patch, err := b.ApplyChanges(doc, []backend.Change{change})
	return next, patch, change, err
}

func (Backend) GetPatch(state backend.State) backend.Patch {
	doc, ok := state.(*Doc)
	if !ok {
		return backend.Patch{}
	}
	materialized, _ := doc.Materialize()
	return backend.Patch{Diffs: materialized, Clock: backend.Clock{}, Deps: backend.Clock{}}
}

func (Backend) GetMissingDeps(state backend.State) backend.Clock {
	return backend.Clock{}
}
