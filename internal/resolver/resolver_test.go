package resolver

import (
	"testing"

	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/backend/memdoc"
)

const actor = "aaaaaaaaaa"

func nestedDoc(t *testing.T) *memdoc.Doc {
	t.Helper()
	d := memdoc.New()
	ops := []backend.Op{
		{Action: backend.MakeMap, Obj: "D"},
		{Action: backend.Link, Obj: backend.RootID, Key: "details", Value: "D"},
		{Action: backend.MakeList, Obj: "L"},
		{Action: backend.Link, Obj: "D", Key: "tags", Value: "L"},
		{Action: backend.Ins, Obj: "L", Key: "_head", Elem: 1},
		{Action: backend.MakeMap, Obj: "C"},
		{Action: backend.Link, Obj: "L", Key: actor + ":1", Value: "C"},
	}
	for _, op := range ops {
		if err := d.Apply(actor, op); err != nil {
			t.Fatalf("Apply(%+v): %v", op, err)
		}
	}
	return d
}

func TestPathOf_WalksInboundThroughListIndex(t *testing.T) {
	res := New(nestedDoc(t), nil)

	cases := []struct {
		objID string
		want  string
	}{
		{backend.RootID, ""},
		{"D", "/details"},
		{"L", "/details/tags"},
		{"C", "/details/tags/0"},
	}
	for _, c := range cases {
		got, ok := res.PathOf(c.objID)
		if !ok || got != c.want {
			t.Errorf("PathOf(%s) = %q, %v; want %q", c.objID, got, ok, c.want)
		}
	}

	if _, ok := res.PathOf("nope"); ok {
		t.Error("PathOf of an unknown object must report not found")
	}
}

func TestObjIDOf_RoundTripsPathOf(t *testing.T) {
	res := New(nestedDoc(t), nil)
	for _, objID := range []string{backend.RootID, "D", "L", "C"} {
		path, ok := res.PathOf(objID)
		if !ok {
			t.Fatalf("PathOf(%s) failed", objID)
		}
		back, ok := res.ObjIDOf(path)
		if !ok || back != objID {
			t.Errorf("ObjIDOf(PathOf(%s)) = %q, %v", objID, back, ok)
		}
	}
}

func TestObjIDOf_PrefersCacheOverlay(t *testing.T) {
	res := New(nestedDoc(t), nil)
	res.Cache["/pending"] = "SYNTH"
	res.NoteSynth("SYNTH", backend.KindMap)

	got, ok := res.ObjIDOf("/pending")
	if !ok || got != "SYNTH" {
		t.Fatalf("ObjIDOf(/pending) = %q, %v; want the cached synthetic id", got, ok)
	}
	if kind, ok := res.ObjType("SYNTH"); !ok || kind != backend.KindMap {
		t.Fatalf("ObjType of a noted synthetic object = %v, %v", kind, ok)
	}
}

func TestIndexElemMapping(t *testing.T) {
	res := New(nestedDoc(t), nil)

	if idx, ok := res.IndexOfElem("L", "_head"); !ok || idx != -1 {
		t.Fatalf("IndexOfElem(_head) = %d, %v; want -1", idx, ok)
	}
	if elem, ok := res.ElemOfIndex("L", -1); !ok || elem != "_head" {
		t.Fatalf("ElemOfIndex(-1) = %q, %v; want _head", elem, ok)
	}
	if elem, ok := res.ElemOfIndex("L", 0); !ok || elem != actor+":1" {
		t.Fatalf("ElemOfIndex(0) = %q, %v", elem, ok)
	}
	if _, ok := res.ElemOfIndex("L", 5); ok {
		t.Fatal("ElemOfIndex past the end must report not found")
	}
}

func TestIsFreshElem(t *testing.T) {
	res := New(nestedDoc(t), nil)
	if res.IsFreshElem("L", actor+":1") {
		t.Fatal("no cache: nothing is fresh")
	}
	res.Elems = ElemCache{"L|" + actor + ":1": true}
	if !res.IsFreshElem("L", actor+":1") {
		t.Fatal("cached element must read as fresh")
	}
	if res.IsFreshElem("L", actor+":2") {
		t.Fatal("uncached element must not read as fresh")
	}
}
