// Package opsort canonically reorders one change's ops so that every ins
// placeholder is
// immediately followed by its reifier (the set/link keyed "<actor>:<elem>";
// when that reifier is a link, the make* for the linked object sits between
// the two), and every makeMap/makeList that a link targets is immediately followed by
// that link. The change converter depends on this ordering to process ops
// one at a time without ever seeing a reference before its reifying op.
package opsort

import (
	"strconv"

	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// Sort returns a permutation of ops satisfying that ordering, or an
// OpShapeError if some ins has no reifier in the change. actor is the
// change's authoring actor, used to derive the "<actor>:<elem>" reifier key
// each ins op is expected to be followed by.
func Sort(actor string, ops []backend.Op) ([]backend.Op, error) {
	n := len(ops)
	consumed := make([]bool, n)

	// reifierIdx maps "obj|key" -> index, for the set/link ops a list/map
	// assignment can be looked up by.
	reifierIdx := make(map[string]int, n)
	for i, op := range ops {
		if op.Action == backend.Set || op.Action == backend.Link {
			reifierIdx[op.Obj+"|"+op.Key] = i
		}
	}
	// makeIdx maps the created object id -> its make* op's index.
	makeIdx := make(map[string]int, n)
	for i, op := range ops {
		if op.Action == backend.MakeMap || op.Action == backend.MakeList {
			makeIdx[op.Obj] = i
		}
	}
	// linkIdxByChild maps the linked object id -> the link op's index, for
	// pairing a make* encountered ahead of its link.
	linkIdxByChild := make(map[string]int, n)
	for i, op := range ops {
		if op.Action == backend.Link {
			if child, ok := op.Value.(string); ok {
				linkIdxByChild[child] = i
			}
		}
	}
	// reifiedByIns marks the set/link ops that reify some ins in this
	// change; they (and a linked object's make*) are emitted only right
	// behind that ins.
	reifiedByIns := make(map[int]bool, n)
	for _, op := range ops {
		if op.Action == backend.Ins {
			if ri, ok := reifierIdx[op.Obj+"|"+actor+":"+strconv.FormatUint(op.Elem, 10)]; ok {
				reifiedByIns[ri] = true
			}
		}
	}

	out := make([]backend.Op, 0, n)

	// emitMake appends the make* op for objID, if one exists in this
	// change and hasn't already been emitted, immediately ahead of
	// whatever the caller emits next.
	emitMake := func(objID string) {
		if mi, ok := makeIdx[objID]; ok && !consumed[mi] {
			consumed[mi] = true
			out = append(out, ops[mi])
		}
	}
	// emitLink appends the link op targeting objID, if one exists and
	// hasn't already been emitted, immediately after whatever the caller
	// just emitted.
	emitLink := func(objID string) {
		if li, ok := linkIdxByChild[objID]; ok && !consumed[li] {
			consumed[li] = true
			out = append(out, ops[li])
		}
	}

	for i, op := range ops {
		if consumed[i] || reifiedByIns[i] {
			continue
		}
		switch op.Action {
		case backend.Ins:
			consumed[i] = true
			out = append(out, op)

			reifierKey := actor + ":" + strconv.FormatUint(op.Elem, 10)
			ri, ok := reifierIdx[op.Obj+"|"+reifierKey]
			if !ok {
				return nil, &lmerr.OpShapeError{Msg: "missing reifier for ins at " + op.Obj + " elem " + reifierKey}
			}
			reifier := ops[ri]
			if reifier.Action == backend.Link {
				if child, ok := reifier.Value.(string); ok {
					emitMake(child)
				}
			}
			consumed[ri] = true
			out = append(out, reifier)

		case backend.MakeMap, backend.MakeList:
			// A make* not reached via its ins's reifier (a map-keyed link
			// created directly, outside any list) pulls its own link
			// forward so the pair stays adjacent regardless of where the
			// link sits in the original ops list. A make* whose link reifies
			// an ins is left for that ins to emit.
			if li, ok := linkIdxByChild[op.Obj]; ok && reifiedByIns[li] {
				continue
			}
			consumed[i] = true
			out = append(out, op)
			emitLink(op.Obj)

		case backend.Link:
			if child, ok := op.Value.(string); ok {
				emitMake(child)
			}
			consumed[i] = true
			out = append(out, op)

		default:
			consumed[i] = true
			out = append(out, op)
		}
	}

	return out, nil
}
