// Package memdoc is a minimal, in-memory reference implementation of the
// backend.Backend interface: just enough map/list object-tree bookkeeping
// to exercise path/id resolution and op application in tests. It is not a
// real Automerge implementation: no conflict resolution, no compression,
// no persistence. A production embedder supplies its own backend.Backend.
package memdoc

import (
	"fmt"

	"github.com/latticedoc/lensmerge/pkg/backend"
)

type mapSlot struct {
	value    interface{}
	childObj string
	isLink   bool
}

type listSlot struct {
	value    interface{}
	childObj string
	isLink   bool
	deleted  bool
}

type object struct {
	id        string
	kind      backend.ObjectKind
	mapSlots  map[string]mapSlot
	listOrder []string // full insertion-order sequence, tombstones included
	listSlots map[string]listSlot
	parentObj string
	parentKey string
	hasParent bool
}

func newMapObject(id string) *object {
	return &object{id: id, kind: backend.KindMap, mapSlots: map[string]mapSlot{}}
}

func newListObject(id string) *object {
	return &object{id: id, kind: backend.KindList, listSlots: map[string]listSlot{}}
}

// Doc is an in-memory backend.State.
type Doc struct {
	objects map[string]*object
}

var _ backend.State = (*Doc)(nil)

// New returns a document containing only the root map object.
func New() *Doc {
	root := newMapObject(backend.RootID)
	return &Doc{objects: map[string]*object{backend.RootID: root}}
}

// Clone returns a deep, independent copy of the document.
func (d *Doc) Clone() *Doc {
	out := &Doc{objects: make(map[string]*object, len(d.objects))}
	for id, o := range d.objects {
		clone := &object{
			id:        o.id,
			kind:      o.kind,
			parentObj: o.parentObj,
			parentKey: o.parentKey,
			hasParent: o.hasParent,
		}
		if o.mapSlots != nil {
			clone.mapSlots = make(map[string]mapSlot, len(o.mapSlots))
			for k, v := range o.mapSlots {
				clone.mapSlots[k] = v
			}
		}
		if o.listSlots != nil {
			clone.listSlots = make(map[string]listSlot, len(o.listSlots))
			for k, v := range o.listSlots {
				clone.listSlots[k] = v
			}
			clone.listOrder = append([]string(nil), o.listOrder...)
		}
		out.objects[id] = clone
	}
	return out
}

// CloneState clones the document as a backend.State, for callers (such as
// internal/shadow) that hold a document only through that interface.
func (d *Doc) CloneState() backend.State { return d.Clone() }

func (d *Doc) ObjectKindOf(objID string) (backend.ObjectKind, bool) {
	o, ok := d.objects[objID]
	if !ok {
		return 0, false
	}
	return o.kind, true
}

func (d *Doc) KeyValue(objID, key string) (interface{}, bool) {
	o, ok := d.objects[objID]
	if !ok || o.kind != backend.KindMap {
		return nil, false
	}
	slot, ok := o.mapSlots[key]
	if !ok || slot.isLink {
		return nil, false
	}
	return slot.value, true
}

func (d *Doc) KeyChildObject(objID, key string) (string, bool) {
	o, ok := d.objects[objID]
	if !ok || o.kind != backend.KindMap {
		return "", false
	}
	slot, ok := o.mapSlots[key]
	if !ok || !slot.isLink {
		return "", false
	}
	return slot.childObj, true
}

func (d *Doc) HasKey(objID, key string) bool {
	o, ok := d.objects[objID]
	if !ok || o.kind != backend.KindMap {
		return false
	}
	_, ok = o.mapSlots[key]
	return ok
}

func (d *Doc) Inbound(objID string) (string, string, bool) {
	o, ok := d.objects[objID]
	if !ok || !o.hasParent {
		return "", "", false
	}
	return o.parentObj, o.parentKey, true
}

func (d *Doc) visibleOrder(listObjID string) []string {
	o, ok := d.objects[listObjID]
	if !ok || o.kind != backend.KindList {
		return nil
	}
	visible := make([]string, 0, len(o.listOrder))
	for _, elem := range o.listOrder {
		if !o.listSlots[elem].deleted {
			visible = append(visible, elem)
		}
	}
	return visible
}

func (d *Doc) ElemAt(listObjID string, index int) (string, bool) {
	if index == -1 {
		return "_head", true
	}
	visible := d.visibleOrder(listObjID)
	if index < 0 || index >= len(visible) {
		return "", false
	}
	return visible[index], true
}

func (d *Doc) IndexOfElem(listObjID, elemID string) (int, bool) {
	if elemID == "_head" {
		return -1, true
	}
	visible := d.visibleOrder(listObjID)
	for i, e := range visible {
		if e == elemID {
			return i, true
		}
	}
	return 0, false
}

func (d *Doc) ValueAtElem(listObjID, elemID string) (interface{}, bool) {
	o, ok := d.objects[listObjID]
	if !ok || o.kind != backend.KindList {
		return nil, false
	}
	slot, ok := o.listSlots[elemID]
	if !ok || slot.isLink || slot.deleted {
		return nil, false
	}
	return slot.value, true
}

func (d *Doc) ChildObjectAtElem(listObjID, elemID string) (string, bool) {
	o, ok := d.objects[listObjID]
	if !ok || o.kind != backend.KindList {
		return "", false
	}
	slot, ok := o.listSlots[elemID]
	if !ok || !slot.isLink || slot.deleted {
		return "", false
	}
	return slot.childObj, true
}

// ListLength returns the number of currently visible elements.
func (d *Doc) ListLength(listObjID string) int {
	return len(d.visibleOrder(listObjID))
}

// Apply folds a single op, authored by actor, into the document. Ops must
// arrive in an order where every referenced object/elem already exists;
// the op sorter upstream guarantees this, not the backend.
func (d *Doc) Apply(actor string, op backend.Op) error {
	switch op.Action {
	case backend.MakeMap:
		d.objects[op.Obj] = newMapObject(op.Obj)
		return nil
	case backend.MakeList:
		d.objects[op.Obj] = newListObject(op.Obj)
		return nil
	case backend.Link:
		child, ok := op.Value.(string)
		if !ok {
			return fmt.Errorf("memdoc: link op value must be a child object id, got %T", op.Value)
		}
		childObj, ok := d.objects[child]
		if !ok {
			return fmt.Errorf("memdoc: link target %s does not exist", child)
		}
		if err := d.assign(op.Obj, op.Key, nil, child, true); err != nil {
			return err
		}
		childObj.parentObj, childObj.parentKey, childObj.hasParent = op.Obj, op.Key, true
		return nil
	case backend.Set:
		return d.assign(op.Obj, op.Key, op.Value, "", false)
	case backend.Ins:
		return d.insertAt(op.Obj, op.Key, fmt.Sprintf("%s:%d", actor, op.Elem))
	case backend.Del:
		return d.del(op.Obj, op.Key)
	default:
		return fmt.Errorf("memdoc: unknown op action %q", op.Action)
	}
}

func (d *Doc) assign(objID, key string, value interface{}, childObj string, isLink bool) error {
	o, ok := d.objects[objID]
	if !ok {
		return fmt.Errorf("memdoc: assign into unknown object %s", objID)
	}
	switch o.kind {
	case backend.KindMap:
		o.mapSlots[key] = mapSlot{value: value, childObj: childObj, isLink: isLink}
		return nil
	case backend.KindList:
		slot, exists := o.listSlots[key]
		if !exists {
			return fmt.Errorf("memdoc: assign into unknown list element %s of %s", key, objID)
		}
		slot.value, slot.childObj, slot.isLink = value, childObj, isLink
		o.listSlots[key] = slot
		return nil
	default:
		return fmt.Errorf("memdoc: unknown object kind for %s", objID)
	}
}

// insertAt inserts a fresh, empty (unassigned) element identified by
// elemID immediately after anchorKey ("_head" for the front of the list).
func (d *Doc) insertAt(listObjID, anchorKey, elemID string) error {
	o, ok := d.objects[listObjID]
	if !ok || o.kind != backend.KindList {
		return fmt.Errorf("memdoc: insert into unknown list %s", listObjID)
	}
	pos := 0
	if anchorKey != "_head" {
		found := -1
		for i, e := range o.listOrder {
			if e == anchorKey {
				found = i
				break
			}
		}
		if found == -1 {
			return fmt.Errorf("memdoc: insert anchor %s not found in list %s", anchorKey, listObjID)
		}
		pos = found + 1
	}
	o.listOrder = append(o.listOrder, "")
	copy(o.listOrder[pos+1:], o.listOrder[pos:])
	o.listOrder[pos] = elemID
	o.listSlots[elemID] = listSlot{}
	return nil
}

func (d *Doc) del(objID, key string) error {
	o, ok := d.objects[objID]
	if !ok {
		return fmt.Errorf("memdoc: delete from unknown object %s", objID)
	}
	switch o.kind {
	case backend.KindMap:
		delete(o.mapSlots, key)
		return nil
	case backend.KindList:
		slot, exists := o.listSlots[key]
		if !exists {
			return fmt.Errorf("memdoc: delete unknown list element %s of %s", key, objID)
		}
		slot.deleted = true
		o.listSlots[key] = slot
		return nil
	default:
		return fmt.Errorf("memdoc: unknown object kind for %s", objID)
	}
}

// Materialize walks the whole object tree from the root into plain
// map[string]interface{}/[]interface{}/scalar Go values.
func (d *Doc) Materialize() (interface{}, error) {
	return d.materializeObject(backend.RootID)
}

func (d *Doc) materializeObject(objID string) (interface{}, error) {
	o, ok := d.objects[objID]
	if !ok {
		return nil, fmt.Errorf("memdoc: materialize unknown object %s", objID)
	}
	switch o.kind {
	case backend.KindMap:
		out := make(map[string]interface{}, len(o.mapSlots))
		for k, slot := range o.mapSlots {
			if slot.isLink {
				v, err := d.materializeObject(slot.childObj)
				if err != nil {
					return nil, err
				}
				out[k] = v
			} else {
				out[k] = slot.value
			}
		}
		return out, nil
	case backend.KindList:
		visible := d.visibleOrder(objID)
		out := make([]interface{}, 0, len(visible))
		for _, elem := range visible {
			slot := o.listSlots[elem]
			if slot.isLink {
				v, err := d.materializeObject(slot.childObj)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			} else {
				out = append(out, slot.value)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("memdoc: unknown object kind for %s", objID)
	}
}
