package lensmerge

import (
	"log/slog"

	"github.com/latticedoc/lensmerge/internal/bootstrap"
	"github.com/latticedoc/lensmerge/internal/convert"
	"github.com/latticedoc/lensmerge/internal/shadow"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/block"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

// Engine owns the primary shadow (the reader's own schema), a lazily
// populated cache of auxiliary shadows (one per writer schema seen in
// history), the lens graph, and the ordered history of blocks applied so
// far.
//
// Engine is not safe for concurrent use: a caller holding one Engine must
// serialize every call into it.
type Engine struct {
	schemaName string
	graph      *schema.Graph
	backend    backend.Backend

	shadows map[string]*shadow.Instance
	history []block.Block
	// inDoc tracks which schemas' lens registrations this engine believes
	// are already published in the document.
	inDoc map[string]bool
	// lenses is the full lens registration list attached to the first
	// outgoing block for a not-yet-published schema.
	lenses []block.LensReg

	log *slog.Logger
}

// Schema returns the schema this engine reads and writes.
func (e *Engine) Schema() string { return e.schemaName }

func (e *Engine) primary() *shadow.Instance { return e.shadows[e.schemaName] }

func (e *Engine) ensureShadow(name string) *shadow.Instance {
	if inst, ok := e.shadows[name]; ok {
		return inst
	}
	inst := shadow.New(name, e.backend.Init())
	e.shadows[name] = inst
	return inst
}

func (e *Engine) lensStackFor(from, to string) (lens.Stack, error) {
	sources, err := e.graph.Compose(from, to)
	if err != nil {
		return nil, err
	}
	stack := make(lens.Stack, len(sources))
	for i, src := range sources {
		l, err := lens.Compile(src)
		if err != nil {
			return nil, lmerr.Wrap("lensStackFor "+from+"->"+to, err)
		}
		stack[i] = l
	}
	return stack, nil
}

// bootstrapShadow applies the one-time phantom defaults change to inst if
// it hasn't been bootstrapped yet.
func (e *Engine) bootstrapShadow(inst *shadow.Instance) error {
	if inst.Bootstrapped {
		return nil
	}
	stack, err := e.lensStackFor(schema.Mu, inst.Schema)
	if err != nil {
		return lmerr.Wrap("bootstrapShadow("+inst.Schema+")", err)
	}
	change, err := bootstrap.Change(stack, inst.State)
	if err != nil {
		return lmerr.Wrap("bootstrapShadow("+inst.Schema+")", err)
	}
	if _, err := shadow.ApplyChanges(e.backend, inst, []backend.Change{change}); err != nil {
		return lmerr.Wrap("bootstrapShadow("+inst.Schema+"): applying phantom change", err)
	}
	inst.Bootstrapped = true
	e.log.Debug("bootstrapped shadow", "schema", inst.Schema, "ops", len(change.Ops))
	return nil
}

// registerLens folds a block-embedded lens registration into the graph, if
// its target schema isn't already known.
func (e *Engine) registerLens(reg block.LensReg) error {
	if e.graph.Has(reg.To) {
		e.inDoc[reg.To] = true
		return nil
	}
	if err := RegisterLens(e.graph, reg.From, reg.To, reg.Source); err != nil {
		return err
	}
	e.inDoc[reg.To] = true
	return nil
}

// resolveShadowAt materializes a fresh shadow of schemaName by replaying
// hist (a prefix of e.history) into it from scratch. Deliberately
// unoptimized; an embedder that needs throughput can cache reconstructed
// shadows across calls.
func (e *Engine) resolveShadowAt(schemaName string, hist []block.Block) (*shadow.Instance, error) {
	inst := shadow.New(schemaName, e.backend.Init())
	if err := e.replayInto(inst, hist); err != nil {
		return nil, err
	}
	return inst, nil
}

// replayInto bootstraps inst and folds hist into it one block at a time,
// converting any block not already in inst's schema.
func (e *Engine) replayInto(inst *shadow.Instance, hist []block.Block) error {
	if err := e.bootstrapShadow(inst); err != nil {
		return err
	}
	for i, blk := range hist {
		toApply, err := e.prepareChange(inst, blk, hist[:i])
		if err != nil {
			return err
		}
		if _, err := shadow.ApplyChanges(e.backend, inst, []backend.Change{toApply}); err != nil {
			return lmerr.Wrap("replayInto("+inst.Schema+")", err)
		}
	}
	return nil
}

// prepareChange returns blk's change rewritten into inst's schema, given
// the history prefix that precedes blk (used to reconstruct blk's
// from-shadow if conversion is needed).
func (e *Engine) prepareChange(inst *shadow.Instance, blk block.Block, prefix []block.Block) (backend.Change, error) {
	if blk.Schema == inst.Schema {
		return blk.Change, nil
	}
	fromShadow, err := e.resolveShadowAt(blk.Schema, prefix)
	if err != nil {
		return backend.Change{}, err
	}
	stack, err := e.lensStackFor(blk.Schema, inst.Schema)
	if err != nil {
		return backend.Change{}, err
	}
	converted, err := convert.Change(e.backend, fromShadow, inst, stack, blk.Change)
	if err != nil {
		return backend.Change{}, lmerr.Wrap("prepareChange "+blk.Schema+"->"+inst.Schema, err)
	}
	return converted, nil
}

// ApplyBlocks folds a list of received blocks into the primary shadow,
// filtering out blocks already folded in, converting each remaining block
// into the primary's schema as needed, and returning the resulting
// frontend patch.
func (e *Engine) ApplyBlocks(blocks []block.Block) (backend.Patch, error) {
	primary := e.primary()

	fresh := make([]block.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Seq <= primary.Clock[b.Actor] {
			continue
		}
		fresh = append(fresh, b)
		for _, reg := range b.Lenses {
			if err := e.registerLens(reg); err != nil {
				return backend.Patch{}, err
			}
		}
	}

	startIdx := len(e.history)
	e.history = append(e.history, fresh...)

	if err := e.bootstrapShadow(primary); err != nil {
		return backend.Patch{}, err
	}

	for i, blk := range fresh {
		idx := startIdx + i
		toApply, err := e.prepareChange(primary, blk, e.history[:idx])
		if err != nil {
			return backend.Patch{}, err
		}
		if _, err := shadow.ApplyChanges(e.backend, primary, []backend.Change{toApply}); err != nil {
			return backend.Patch{}, lmerr.Wrap("ApplyBlocks", err)
		}
	}

	return e.currentPatch(), nil
}

// ApplyLocalChange applies a locally authored mutation directly (no
// conversion: the caller already writes in this engine's schema), returning
// the resulting patch and the Block to broadcast to peers.
func (e *Engine) ApplyLocalChange(req backend.LocalChangeRequest) (backend.Patch, block.Block, error) {
	primary := e.primary()
	if err := e.bootstrapShadow(primary); err != nil {
		return backend.Patch{}, block.Block{}, err
	}

	if req.Seq == 1 {
		deps := req.Deps
		if deps == nil {
			deps = backend.Clock{}
		} else {
			deps = deps.Clone()
		}
		deps[backend.PhantomActor] = 1
		req.Deps = deps
	}

	_, change, err := shadow.ApplyLocalChange(e.backend, primary, req)
	if err != nil {
		return backend.Patch{}, block.Block{}, lmerr.Wrap("ApplyLocalChange", err)
	}

	var lenses []block.LensReg
	if !e.inDoc[e.schemaName] {
		lenses = append([]block.LensReg(nil), e.lenses...)
		e.inDoc[e.schemaName] = true
	}

	blk := block.New(e.schemaName, lenses, change)
	e.history = append(e.history, blk)

	return e.currentPatch(), blk, nil
}

// GetPatch forces bootstrap (if not already done) and returns the primary
// shadow's full state patch.
func (e *Engine) GetPatch() (backend.Patch, error) {
	if _, err := e.ApplyBlocks(nil); err != nil {
		return backend.Patch{}, err
	}
	return e.currentPatch(), nil
}

// GetMissingChanges returns history blocks not yet reflected in clock:
// those with change.Seq > clock[change.Actor].
func (e *Engine) GetMissingChanges(clock backend.Clock) []block.Block {
	var out []block.Block
	for _, blk := range e.history {
		if blk.Change.Seq > clock[blk.Change.Actor] {
			out = append(out, blk)
		}
	}
	return out
}

// GetMissingDeps returns the primary shadow's dependency frontier, with the
// phantom actor scrubbed.
func (e *Engine) GetMissingDeps() backend.Clock {
	return scrubClock(e.primary().Deps)
}

// Merge applies every block remote has that local hasn't yet seen,
// shorthand for GetMissingChanges + ApplyBlocks.
func (e *Engine) Merge(remote *Engine) (backend.Patch, error) {
	missing := remote.GetMissingChanges(e.primary().Clock)
	return e.ApplyBlocks(missing)
}

// currentPatch reads the primary shadow's full state patch and scrubs the
// phantom actor out of its clock/deps; the phantom is an internal
// bootstrap fiction and must never reach a frontend.
func (e *Engine) currentPatch() backend.Patch {
	primary := e.primary()
	full := e.backend.GetPatch(primary.State)
	return scrubPatch(backend.Patch{
		Diffs: full.Diffs,
		Clock: primary.Clock.Clone(),
		Deps:  primary.Deps.Clone(),
	})
}

func scrubClock(c backend.Clock) backend.Clock {
	out := make(backend.Clock, len(c))
	for actor, seq := range c {
		if actor == backend.PhantomActor {
			continue
		}
		out[actor] = seq
	}
	return out
}

func scrubPatch(p backend.Patch) backend.Patch {
	return backend.Patch{Diffs: p.Diffs, Clock: scrubClock(p.Clock), Deps: scrubClock(p.Deps)}
}
