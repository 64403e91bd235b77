package memdoc

import (
	"reflect"
	"testing"

	"github.com/latticedoc/lensmerge/pkg/backend"
)

const actor = "aaaaaaaaaa"

func apply(t *testing.T, d *Doc, ops ...backend.Op) {
	t.Helper()
	for _, op := range ops {
		if err := d.Apply(actor, op); err != nil {
			t.Fatalf("Apply(%+v): %v", op, err)
		}
	}
}

func TestMapAssignAndMaterialize(t *testing.T) {
	d := New()
	apply(t, d,
		backend.Op{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "hello"},
		backend.Op{Action: backend.MakeMap, Obj: "D"},
		backend.Op{Action: backend.Link, Obj: backend.RootID, Key: "details", Value: "D"},
		backend.Op{Action: backend.Set, Obj: "D", Key: "author", Value: "klaus"},
	)

	got, err := d.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	want := map[string]interface{}{
		"name":    "hello",
		"details": map[string]interface{}{"author": "klaus"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Materialize = %v, want %v", got, want)
	}
}

func TestListInsertOrderAndDeletion(t *testing.T) {
	d := New()
	apply(t, d,
		backend.Op{Action: backend.MakeList, Obj: "L"},
		backend.Op{Action: backend.Link, Obj: backend.RootID, Key: "tags", Value: "L"},
		backend.Op{Action: backend.Ins, Obj: "L", Key: "_head", Elem: 1},
		backend.Op{Action: backend.Set, Obj: "L", Key: actor + ":1", Value: "fun"},
		backend.Op{Action: backend.Ins, Obj: "L", Key: actor + ":1", Elem: 2},
		backend.Op{Action: backend.Set, Obj: "L", Key: actor + ":2", Value: "relaxing"},
	)

	if n := d.ListLength("L"); n != 2 {
		t.Fatalf("ListLength = %d, want 2", n)
	}
	if elem, ok := d.ElemAt("L", 0); !ok || elem != actor+":1" {
		t.Fatalf("ElemAt(0) = %q, %v", elem, ok)
	}
	if idx, ok := d.IndexOfElem("L", actor+":2"); !ok || idx != 1 {
		t.Fatalf("IndexOfElem = %d, %v", idx, ok)
	}

	// Deleting the head shifts indices but keeps the tombstoned element out
	// of every visible lookup.
	apply(t, d, backend.Op{Action: backend.Del, Obj: "L", Key: actor + ":1"})
	if n := d.ListLength("L"); n != 1 {
		t.Fatalf("ListLength after delete = %d, want 1", n)
	}
	if idx, ok := d.IndexOfElem("L", actor+":2"); !ok || idx != 0 {
		t.Fatalf("IndexOfElem after delete = %d, %v, want 0", idx, ok)
	}
	if _, ok := d.ValueAtElem("L", actor+":1"); ok {
		t.Fatal("deleted element still visible through ValueAtElem")
	}
}

func TestInsertAfterAnchorInMiddle(t *testing.T) {
	d := New()
	apply(t, d,
		backend.Op{Action: backend.MakeList, Obj: "L"},
		backend.Op{Action: backend.Link, Obj: backend.RootID, Key: "tags", Value: "L"},
		backend.Op{Action: backend.Ins, Obj: "L", Key: "_head", Elem: 1},
		backend.Op{Action: backend.Set, Obj: "L", Key: actor + ":1", Value: "a"},
		backend.Op{Action: backend.Ins, Obj: "L", Key: actor + ":1", Elem: 2},
		backend.Op{Action: backend.Set, Obj: "L", Key: actor + ":2", Value: "c"},
		backend.Op{Action: backend.Ins, Obj: "L", Key: actor + ":1", Elem: 3},
		backend.Op{Action: backend.Set, Obj: "L", Key: actor + ":3", Value: "b"},
	)
	got, err := d.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	tags := got.(map[string]interface{})["tags"].([]interface{})
	want := []interface{}{"a", "b", "c"}
	if !reflect.DeepEqual(tags, want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
}

func TestInbound(t *testing.T) {
	d := New()
	apply(t, d,
		backend.Op{Action: backend.MakeMap, Obj: "D"},
		backend.Op{Action: backend.Link, Obj: backend.RootID, Key: "details", Value: "D"},
	)
	parent, key, ok := d.Inbound("D")
	if !ok || parent != backend.RootID || key != "details" {
		t.Fatalf("Inbound = (%q, %q, %v)", parent, key, ok)
	}
	if _, _, ok := d.Inbound(backend.RootID); ok {
		t.Fatal("root must have no inbound reference")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := New()
	apply(t, d, backend.Op{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "before"})

	clone := d.Clone()
	apply(t, clone, backend.Op{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "after"})

	if v, _ := d.KeyValue(backend.RootID, "name"); v != "before" {
		t.Fatalf("mutating a clone leaked into the original: name = %v", v)
	}
	if v, _ := clone.KeyValue(backend.RootID, "name"); v != "after" {
		t.Fatalf("clone did not take the write: name = %v", v)
	}
}

func TestBackendApplyChangesDoesNotMutateInput(t *testing.T) {
	bk := NewBackend()
	st := bk.Init()
	next, patch, err := bk.ApplyChanges(st, []backend.Change{{
		Actor: actor,
		Seq:   1,
		Ops:   []backend.Op{{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "hello"}},
	}})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if v, ok := st.(*Doc).KeyValue(backend.RootID, "name"); ok {
		t.Fatalf("input state mutated: name = %v", v)
	}
	if v, _ := next.(*Doc).KeyValue(backend.RootID, "name"); v != "hello" {
		t.Fatalf("returned state missing the write: name = %v", v)
	}
	if patch.Clock[actor] != 1 {
		t.Fatalf("patch clock = %v", patch.Clock)
	}
}
