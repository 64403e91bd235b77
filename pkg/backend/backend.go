// Package backend defines the narrow interface the op-translation core
// consumes from the underlying Automerge-0.14-compatible CRDT store. The
// store itself (conflict resolution, compression, storage format) lives
// elsewhere; this package only names the shape the rest of lensmerge
// needs to drive it and to read its state back out for path/id
// resolution.
package backend

// OpAction is the tagged-union discriminant for a CRDT operation.
type OpAction string

const (
	Set      OpAction = "set"
	Del      OpAction = "del"
	Ins      OpAction = "ins"
	Link     OpAction = "link"
	MakeMap  OpAction = "makeMap"
	MakeList OpAction = "makeList"
)

// RootID is the fixed all-zero object id every document tree is rooted at.
const RootID = "00000000-0000-0000-0000-000000000000"

// PhantomActor is the reserved actor id that authors the bootstrap
// defaults change. Its clock/deps entries never escape to a frontend
// patch.
const PhantomActor = "0000000000"

// Op is one inner CRDT operation: a tagged union over
// {set, del, ins, link, makeMap, makeList}.
type Op struct {
	Action OpAction `json:"action"`
	Obj    string   `json:"obj"`
	// Key is either a map string key, or a list element-id of the form
	// "<actor>:<elem>" (or the sentinel "_head" for the list head).
	Key string `json:"key"`
	// Value carries the assigned scalar for set, and the linked child
	// object's id (a string) for link.
	Value interface{} `json:"value,omitempty"`
	// Elem is the monotonic per-actor counter assigned to an ins op.
	Elem uint64 `json:"elem,omitempty"`
}

// Clock maps actor -> highest sequence number.
type Clock map[string]uint64

// Clone returns an independent copy of the clock.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge folds other into a copy of c, keeping the max seq per actor.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for actor, seq := range other {
		if seq > out[actor] {
			out[actor] = seq
		}
	}
	return out
}

// Change is one CRDT change: a batch of ops from one actor, identified by
// (actor, seq), depending on a frontier clock.
type Change struct {
	Actor   string `json:"actor"`
	Seq     uint64 `json:"seq"`
	Deps    Clock  `json:"deps"`
	Message string `json:"message,omitempty"`
	Ops     []Op   `json:"ops"`
}

// Patch is what the backend returns after folding changes in: an opaque
// diff payload (consumed by frontends, not inspected by the translation
// core) plus the clock/deps the store now reflects.
type Patch struct {
	Diffs interface{} `json:"diffs,omitempty"`
	Clock Clock       `json:"clock"`
	Deps  Clock       `json:"deps"`
}

// LocalChangeRequest is the shape of a locally authored mutation, as
// produced by the (out of scope) frontend interactive proxy. Seq and Deps
// are filled in by the caller (the engine tracks per-actor sequence
// numbers and dependency frontiers; the backend itself is stateless
// across calls beyond the document snapshot it's handed).
type LocalChangeRequest struct {
	Actor   string
	Seq     uint64
	Deps    Clock
	Message string
	Ops     []Op
}

// ObjectKind distinguishes the two container shapes the translation core
// supports. Text, table, and counter objects are not modeled.
type ObjectKind int

const (
	KindMap ObjectKind = iota
	KindList
)

// State is the introspectable surface of a backend document snapshot.
// It mirrors the fields the Automerge 0.14 OpSet exposes:
// byObject[id]._init.action, _keys[key][0].value, _elemIds, _inbound.
type State interface {
	// ObjectKindOf returns whether objID names a map or a list object,
	// from its creation (_init) record.
	ObjectKindOf(objID string) (ObjectKind, bool)

	// KeyValue returns the winning value stored at key on a map object.
	KeyValue(objID, key string) (interface{}, bool)

	// KeyChildObject returns the object id linked at key on a map object,
	// for descending through nested maps/lists during path resolution.
	KeyChildObject(objID, key string) (childObjID string, ok bool)

	// Inbound returns the (parentObjID, parentKey) that objID is linked
	// from, or ok=false if objID is the root or unknown.
	Inbound(objID string) (parentObjID, parentKey string, ok bool)

	// ElemAt returns the element-id stored at a list index, or the
	// sentinel "_head" for index -1.
	ElemAt(listObjID string, index int) (elemID string, ok bool)

	// IndexOfElem returns the index of elemID within a list object, or
	// -1 for the sentinel "_head".
	IndexOfElem(listObjID, elemID string) (index int, ok bool)

	// ValueAtElem returns the value or linked object id stored at a list
	// element.
	ValueAtElem(listObjID, elemID string) (interface{}, bool)

	// ChildObjectAtElem returns the object id linked at a list element,
	// for descending through nested maps/lists during path resolution.
	ChildObjectAtElem(listObjID, elemID string) (childObjID string, ok bool)
}

// Backend is the full interface the engine drives.
type Backend interface {
	Init() State
	ApplyChanges(state State, changes []Change) (State, Patch, error)
	ApplyLocalChange(state State, request LocalChangeRequest) (State, Patch, Change, error)
	GetPatch(state State) Patch
	GetMissingDeps(state State) Clock
}
