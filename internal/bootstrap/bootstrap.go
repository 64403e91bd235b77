// Package bootstrap computes the default-values change for a schema:
// lensing the universal root-creation patch from the empty schema
// mu up to the target schema, converting the result into ops, and wrapping
// them as the synthetic phantom-authored defaults change every shadow of
// that schema applies exactly once before any real history.
package bootstrap

import (
	"github.com/latticedoc/lensmerge/internal/oppatch"
	"github.com/latticedoc/lensmerge/internal/resolver"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/jsonpatch"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// rootPatch is the universal root-existence patch every schema's defaults
// are lensed forward from.
func rootPatch() jsonpatch.Patch {
	return jsonpatch.Patch{{Op: jsonpatch.Add, Path: "", Value: map[string]interface{}{}}}
}

// Change computes the bootstrap defaults change for a schema, given the
// lens stack composed from mu up to that schema (empty for schema == mu).
// emptyState is a fresh, empty backend
// state of the target schema (e.g. from backend.Backend.Init()) that the
// returned ops are synthesized against; it is not mutated.
func Change(stack lens.Lens, emptyState backend.State) (backend.Change, error) {
	translated, err := stack.Forward(rootPatch())
	if err != nil {
		return backend.Change{}, lmerr.Wrap("bootstrap.Change: lensing root patch", err)
	}
	if len(translated) == 0 {
		return backend.Change{}, &lmerr.OpShapeError{Msg: "bootstrap: lensed root patch is empty"}
	}
	// Drop the leading root-creation patch op: the root object itself
	// always already exists in emptyState.
	remaining := translated[1:]

	res := resolver.New(emptyState, nil)
	ctx := oppatch.ReverseContext{
		Actor:      backend.PhantomActor,
		Seq:        1,
		TargetElem: map[string]uint64{},
	}

	var ops []backend.Op
	for i, fragment := range remaining {
		fragOps, err := oppatch.PatchToOps(fragment, ctx, i, res)
		if err != nil {
			return backend.Change{}, lmerr.Wrap("bootstrap.Change: patch->ops", err)
		}
		ops = append(ops, fragOps...)
	}

	return backend.Change{
		Actor:   backend.PhantomActor,
		Seq:     1,
		Deps:    backend.Clock{},
		Message: "bootstrap defaults",
		Ops:     ops,
	}, nil
}
