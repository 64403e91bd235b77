// Package resolver provides a read-only mapping between CRDT object ids
// and JSON Pointer paths, and
// between list indices and element-ids, layered over a shadow's backend
// state. Callers may supply a per-change element cache (populated by the
// Change Converter for elements created earlier in the same change, which
// the backend state itself doesn't know about yet).
package resolver

import (
	"strconv"

	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/jsonpatch"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// PathCache maps a JSON Pointer path to the object id synthesized there
// earlier in the same patch-to-ops pass, for objects the backend state
// doesn't know about yet because their make*/link ops haven't been
// applied to the shadow clone. Seeded with "" -> root; consulted before
// falling through to state lookups.
type PathCache map[string]string

// ElemCache records list elements inserted earlier in the same change,
// keyed by "<objID>|<actor>:<elem>" (the list's id, then the element-id
// memdoc assigns a freshly-inserted element).
// The Change Converter populates it as it processes each change's ins
// ops; OpToPatch consults it to tell a fresh insertion (emit add) from an
// overwrite of an element that already existed before this change
// (emit replace).
type ElemCache map[string]bool

// Resolver resolves paths and ids against one backend.State snapshot,
// consulting an optional overlay PathCache first.
type Resolver struct {
	State backend.State
	Cache PathCache
	Elems ElemCache
	// Kinds records the object kind of ids synthesized earlier in the
	// same patch->ops pass, alongside Cache, since a synthesized
	// makeMap/makeList's ops haven't been applied to State yet either.
	Kinds map[string]backend.ObjectKind
}

// New returns a Resolver over st, with cache defaulting to an empty one
// if nil.
func New(st backend.State, cache PathCache) *Resolver {
	if cache == nil {
		cache = PathCache{"": backend.RootID}
	}
	return &Resolver{State: st, Cache: cache, Kinds: map[string]backend.ObjectKind{}}
}

// ObjType reports whether objID names a map or list object.
func (r *Resolver) ObjType(objID string) (backend.ObjectKind, bool) {
	if r.Kinds != nil {
		if k, ok := r.Kinds[objID]; ok {
			return k, true
		}
	}
	return r.State.ObjectKindOf(objID)
}

// NoteSynth records the kind of a newly synthesized object, so that a
// later fragment in the same pass addressing a path beneath it (via
// Cache) can resolve its kind without consulting State.
func (r *Resolver) NoteSynth(objID string, kind backend.ObjectKind) {
	if r.Kinds == nil {
		r.Kinds = map[string]backend.ObjectKind{}
	}
	r.Kinds[objID] = kind
}

// PathOf walks the inbound-link chain from objID to the root, returning
// the JSON Pointer path that addresses it. For list parents the segment
// is the element's current visible index, not its element-id.
func (r *Resolver) PathOf(objID string) (string, bool) {
	if objID == backend.RootID {
		return "", true
	}
	var segs []string
	cur := objID
	for cur != backend.RootID {
		parentObj, parentKey, ok := r.State.Inbound(cur)
		if !ok {
			return "", false
		}
		kind, ok := r.State.ObjectKindOf(parentObj)
		if !ok {
			return "", false
		}
		seg := parentKey
		if kind == backend.KindList {
			idx, ok := r.State.IndexOfElem(parentObj, parentKey)
			if !ok {
				return "", false
			}
			seg = strconv.Itoa(idx)
		}
		segs = append([]string{seg}, segs...)
		cur = parentObj
	}
	return jsonpatch.JoinPath(segs...), true
}

// ObjIDOf descends from the root following path, translating list indices
// to element-ids along the way, and returns the object id stored there.
// The longest cached path prefix (objects synthesized earlier in this
// same patch-to-ops pass but not yet visible in State) short-circuits the
// leading portion of the walk.
func (r *Resolver) ObjIDOf(path string) (string, bool) {
	segs := jsonpatch.Segments(path)
	cur, start := r.longestCachedPrefix(segs)
	for _, seg := range segs[start:] {
		kind, ok := r.State.ObjectKindOf(cur)
		if !ok {
			return "", false
		}
		switch kind {
		case backend.KindMap:
			child, ok := r.State.KeyChildObject(cur, seg)
			if !ok {
				return "", false
			}
			cur = child
		case backend.KindList:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return "", false
			}
			elemID, ok := r.State.ElemAt(cur, idx)
			if !ok {
				return "", false
			}
			child, ok := r.State.ChildObjectAtElem(cur, elemID)
			if !ok {
				return "", false
			}
			cur = child
		default:
			return "", false
		}
	}
	return cur, true
}

// longestCachedPrefix returns the object id of the longest prefix of segs
// found in the cache, and how many leading segments it consumed.
func (r *Resolver) longestCachedPrefix(segs []string) (string, int) {
	for n := len(segs); n >= 0; n-- {
		p := jsonpatch.JoinPath(segs[:n]...)
		if id, ok := r.Cache[p]; ok {
			return id, n
		}
	}
	return backend.RootID, 0
}

// IndexOfElem returns the index of elemID within listObjID, with "_head"
// mapping to -1.
func (r *Resolver) IndexOfElem(listObjID, elemID string) (int, bool) {
	return r.State.IndexOfElem(listObjID, elemID)
}

// ElemOfIndex returns the element-id at index within listObjID, with -1
// mapping to "_head".
func (r *Resolver) ElemOfIndex(listObjID string, index int) (string, bool) {
	return r.State.ElemAt(listObjID, index)
}

// IsFreshElem reports whether elemID of listObjID was inserted earlier in
// the change currently being converted (and so has no prior value to
// overwrite).
func (r *Resolver) IsFreshElem(listObjID, elemID string) bool {
	return r.Elems != nil && r.Elems[listObjID+"|"+elemID]
}

// MustObjIDOf is ObjIDOf but returns a PathResolutionError instead of ok.
func (r *Resolver) MustObjIDOf(path string) (string, error) {
	id, ok := r.ObjIDOf(path)
	if !ok {
		return "", &lmerr.PathResolutionError{Path: path, Msg: "no object at this path"}
	}
	return id, nil
}
