package oppatch

import (
	"strconv"

	"github.com/latticedoc/lensmerge/internal/resolver"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/jsonpatch"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// ReverseContext carries the identity of the change a reverse translation
// is producing ops for, and the target shadow's per-actor element
// counters used to inflate fresh element-ids.
type ReverseContext struct {
	Actor string
	Seq   uint64
	// TargetElem is the target shadow's elem[actor] map; PatchToOps reads
	// and advances it as new list elements are synthesized.
	TargetElem map[string]uint64
}

// PatchToOps translates one JSON Patch fragment into an ordered op list
// against the target shadow (via res), synthesizing makeMap/makeList/ins
// placeholders as needed. patchIndex is this fragment's position within
// the patch the lens stack produced, used (with ctx.Actor/Seq and the
// emitted op's position) to derive deterministic synthetic object ids.
// res.Cache is both read and updated in place so later fragments in the
// same pass see objects synthesized by earlier ones.
func PatchToOps(fragment jsonpatch.Operation, ctx ReverseContext, patchIndex int, res *resolver.Resolver) ([]backend.Op, error) {
	switch fragment.Op {
	case jsonpatch.Remove:
		return removeOps(fragment, res)
	case jsonpatch.Add, jsonpatch.Replace:
		return addReplaceOps(fragment, ctx, patchIndex, res)
	default:
		return nil, &lmerr.OpShapeError{Msg: "unknown patch op " + string(fragment.Op)}
	}
}

func removeOps(fragment jsonpatch.Operation, res *resolver.Resolver) ([]backend.Op, error) {
	parentPath, key, err := splitParent(fragment.Path, res)
	if err != nil {
		return nil, err
	}
	return []backend.Op{{Action: backend.Del, Obj: parentPath, Key: key}}, nil
}

func addReplaceOps(fragment jsonpatch.Operation, ctx ReverseContext, patchIndex int, res *resolver.Resolver) ([]backend.Op, error) {
	parentObjID, parentKey, isListParent, listIndex, err := resolveParent(fragment.Path, res)
	if err != nil {
		return nil, err
	}

	if isListParent {
		return listAddReplaceOps(fragment, ctx, patchIndex, res, parentObjID, parentKey, listIndex)
	}

	switch {
	case jsonpatch.IsScalarOrNil(fragment.Value):
		return []backend.Op{{Action: backend.Set, Obj: parentObjID, Key: parentKey, Value: fragment.Value}}, nil

	case jsonpatch.IsEmptyArray(fragment.Value):
		newObj := SynthObjID(ctx.Actor, ctx.Seq, patchIndex, 0)
		res.Cache[fragment.Path] = newObj
		res.NoteSynth(newObj, backend.KindList)
		return []backend.Op{
			{Action: backend.MakeList, Obj: newObj},
			{Action: backend.Link, Obj: parentObjID, Key: parentKey, Value: newObj},
		}, nil

	case jsonpatch.IsEmptyObject(fragment.Value):
		newObj := SynthObjID(ctx.Actor, ctx.Seq, patchIndex, 0)
		res.Cache[fragment.Path] = newObj
		res.NoteSynth(newObj, backend.KindMap)
		return []backend.Op{
			{Action: backend.MakeMap, Obj: newObj},
			{Action: backend.Link, Obj: parentObjID, Key: parentKey, Value: newObj},
		}, nil

	default:
		return nil, &lmerr.OpShapeError{Msg: "patch value at " + fragment.Path + " is not scalar/null/empty-collection"}
	}
}

func listAddReplaceOps(fragment jsonpatch.Operation, ctx ReverseContext, patchIndex int, res *resolver.Resolver, listObjID string, _ string, index int) ([]backend.Op, error) {
	if fragment.Op == jsonpatch.Replace {
		elemID, ok := res.ElemOfIndex(listObjID, index)
		if !ok {
			// Replace at a nonexistent index is not an error; the fragment
			// is silently dropped. A concurrent delete racing a replace is
			// an expected shape, not a translator bug.
			return nil, nil
		}
		return reifyListValue(fragment, ctx, patchIndex, listObjID, elemID)
	}

	anchorElem, ok := res.ElemOfIndex(listObjID, index-1)
	if !ok {
		return nil, &lmerr.PathResolutionError{Path: fragment.Path, Msg: "insert anchor index out of range"}
	}

	elem := ctx.TargetElem[ctx.Actor] + 1
	ctx.TargetElem[ctx.Actor] = elem
	newElemID := ctx.Actor + ":" + strconv.FormatUint(elem, 10)

	ops, err := reifyListValue(fragment, ctx, patchIndex, listObjID, newElemID)
	if err != nil {
		return nil, err
	}
	return append([]backend.Op{{Action: backend.Ins, Obj: listObjID, Key: anchorElem, Elem: elem}}, ops...), nil
}

func reifyListValue(fragment jsonpatch.Operation, ctx ReverseContext, patchIndex int, listObjID, elemID string) ([]backend.Op, error) {
	switch {
	case jsonpatch.IsScalarOrNil(fragment.Value):
		return []backend.Op{{Action: backend.Set, Obj: listObjID, Key: elemID, Value: fragment.Value}}, nil
	case jsonpatch.IsEmptyArray(fragment.Value):
		newObj := SynthObjID(ctx.Actor, ctx.Seq, patchIndex, 0)
		return []backend.Op{
			{Action: backend.MakeList, Obj: newObj},
			{Action: backend.Link, Obj: listObjID, Key: elemID, Value: newObj},
		}, nil
	case jsonpatch.IsEmptyObject(fragment.Value):
		newObj := SynthObjID(ctx.Actor, ctx.Seq, patchIndex, 0)
		return []backend.Op{
			{Action: backend.MakeMap, Obj: newObj},
			{Action: backend.Link, Obj: listObjID, Key: elemID, Value: newObj},
		}, nil
	default:
		return nil, &lmerr.OpShapeError{Msg: "patch value at " + fragment.Path + " is not scalar/null/empty-collection"}
	}
}

// resolveParent resolves path's parent object, reporting whether that
// parent is a list (in which case index is the decimal index parsed from
// the final segment) or a map (in which case parentKey is the final
// segment verbatim).
func resolveParent(path string, res *resolver.Resolver) (parentObjID, parentKey string, isList bool, index int, err error) {
	segs := jsonpatch.Segments(path)
	if len(segs) == 0 {
		return "", "", false, 0, &lmerr.PathResolutionError{Path: path, Msg: "root has no parent"}
	}
	parentPath := jsonpatch.JoinPath(segs[:len(segs)-1]...)
	last := segs[len(segs)-1]
	parentObjID, ok := res.ObjIDOf(parentPath)
	if !ok {
		return "", "", false, 0, &lmerr.PathResolutionError{Path: path, Msg: "parent path does not resolve to an object"}
	}
	kind, ok := res.ObjType(parentObjID)
	if !ok {
		return "", "", false, 0, &lmerr.PathResolutionError{Path: path, Msg: "unknown parent object"}
	}
	if kind == backend.KindList {
		idx, convErr := strconv.Atoi(last)
		if convErr != nil {
			return "", "", false, 0, &lmerr.PathResolutionError{Path: path, Msg: "non-numeric list index"}
		}
		return parentObjID, "", true, idx, nil
	}
	return parentObjID, last, false, 0, nil
}

func splitParent(path string, res *resolver.Resolver) (string, string, error) {
	parentObjID, parentKey, isList, index, err := resolveParent(path, res)
	if err != nil {
		return "", "", err
	}
	if isList {
		elemID, ok := res.ElemOfIndex(parentObjID, index)
		if !ok {
			return "", "", &lmerr.PathResolutionError{Path: path, Msg: "unknown list element at index"}
		}
		return parentObjID, elemID, nil
	}
	return parentObjID, parentKey, nil
}
