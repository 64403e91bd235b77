// Package oppatch translates between CRDT ops and JSON Patch fragments:
// the forward direction turns one op into a patch fragment, and the
// reverse direction turns a patch fragment back into an ordered op list,
// synthesizing makeMap/makeList/ins placeholders and their reifiers as
// needed, with deterministic synthetic object ids derived via
// github.com/google/uuid so every peer computes the same id for the same
// synthesized object.
package oppatch

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/latticedoc/lensmerge/internal/resolver"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/jsonpatch"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// SynthNamespace is the fixed UUID namespace synthetic makeMap/makeList
// ids are derived from.
var SynthNamespace = uuid.MustParse("f1bb7a0b-2d26-48ca-aaa3-92c63bbb5c50")

// SynthObjID deterministically derives a synthetic object id from the
// change that's producing it and the position within it that triggered
// the synthesis.
func SynthObjID(actor string, seq uint64, opIndex, patchIndex int) string {
	key := fmt.Sprintf("%s:%d:%d:%d", actor, seq, opIndex, patchIndex)
	return uuid.NewSHA1(SynthNamespace, []byte(key)).String()
}

// OpToPatch translates one forward-flowing op (set/del/link) into a JSON
// Patch fragment, given the resolver over the author's shadow as it stands
// just before op is applied, and the element cache entries ins placed
// ahead of it. ins/makeMap/
// makeList never reach here: the driver (internal/convert) consumes them
// directly to advance its shadow clone.
func OpToPatch(op backend.Op, res *resolver.Resolver) (jsonpatch.Patch, error) {
	switch op.Action {
	case backend.Del:
		path, err := targetPath(op, res)
		if err != nil {
			return nil, err
		}
		return jsonpatch.Patch{{Op: jsonpatch.Remove, Path: path}}, nil

	case backend.Set:
		path, _, existed, err := assignTarget(op, res)
		if err != nil {
			return nil, err
		}
		o := jsonpatch.Add
		if existed {
			o = jsonpatch.Replace
		}
		return jsonpatch.Patch{{Op: o, Path: path, Value: op.Value}}, nil

	case backend.Link:
		path, _, existed, err := assignTarget(op, res)
		if err != nil {
			return nil, err
		}
		childID, ok := op.Value.(string)
		if !ok {
			return nil, &lmerr.OpShapeError{Msg: "link op value must be a child object id"}
		}
		childKind, ok := res.ObjType(childID)
		if !ok {
			return nil, &lmerr.PathResolutionError{Path: path, Msg: "linked object has no creation record"}
		}
		var value interface{} = map[string]interface{}{}
		if childKind == backend.KindList {
			value = []interface{}{}
		}
		o := jsonpatch.Add
		if existed {
			o = jsonpatch.Replace
		}
		return jsonpatch.Patch{{Op: o, Path: path, Value: value}}, nil

	default:
		return nil, &lmerr.OpShapeError{Msg: fmt.Sprintf("op action %q does not translate directly to a patch", op.Action)}
	}
}

// targetPath resolves the path a del op addresses.
func targetPath(op backend.Op, res *resolver.Resolver) (string, error) {
	parentPath, ok := res.PathOf(op.Obj)
	if !ok {
		return "", &lmerr.PathResolutionError{Path: op.Key, Msg: "cannot resolve parent object " + op.Obj}
	}
	kind, ok := res.ObjType(op.Obj)
	if !ok {
		return "", &lmerr.PathResolutionError{Path: op.Key, Msg: "unknown parent object " + op.Obj}
	}
	seg := op.Key
	if kind == backend.KindList {
		idx, ok := res.IndexOfElem(op.Obj, op.Key)
		if !ok {
			return "", &lmerr.PathResolutionError{Path: op.Key, Msg: "unknown list element " + op.Key}
		}
		seg = strconv.Itoa(idx)
	}
	return joinParent(parentPath, seg), nil
}

// assignTarget resolves the path a set/link op addresses, and whether the
// key already existed (map) — used to choose add vs replace.
func assignTarget(op backend.Op, res *resolver.Resolver) (path string, kind backend.ObjectKind, existed bool, err error) {
	parentPath, ok := res.PathOf(op.Obj)
	if !ok {
		return "", 0, false, &lmerr.PathResolutionError{Path: op.Key, Msg: "cannot resolve parent object " + op.Obj}
	}
	kind, ok = res.ObjType(op.Obj)
	if !ok {
		return "", 0, false, &lmerr.PathResolutionError{Path: op.Key, Msg: "unknown parent object " + op.Obj}
	}
	if kind == backend.KindList {
		idx, ok := res.IndexOfElem(op.Obj, op.Key)
		if !ok {
			return "", 0, false, &lmerr.PathResolutionError{Path: op.Key, Msg: "unknown list element " + op.Key}
		}
		return joinParent(parentPath, strconv.Itoa(idx)), kind, !res.IsFreshElem(op.Obj, op.Key), nil
	}
	_, existed = res.State.KeyValue(op.Obj, op.Key)
	if !existed {
		_, existed = res.State.KeyChildObject(op.Obj, op.Key)
	}
	return joinParent(parentPath, op.Key), kind, existed, nil
}

func joinParent(parentPath, seg string) string {
	segs := jsonpatch.Segments(parentPath)
	segs = append(segs, seg)
	return jsonpatch.JoinPath(segs...)
}
