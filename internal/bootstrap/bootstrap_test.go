package bootstrap

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/backend/memdoc"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

func stringSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"string"}}
}

func objectSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{}}
}

func evalForward(s *openapi3.Schema, src schema.LensSource) (*openapi3.Schema, error) {
	l, err := lens.Compile(src)
	if err != nil {
		return nil, err
	}
	return l.ForwardSchema(s)
}

func buildStack(t *testing.T, g *schema.Graph, from, to string) lens.Stack {
	t.Helper()
	sources, err := g.Compose(from, to)
	if err != nil {
		t.Fatalf("Compose(%s,%s): %v", from, to, err)
	}
	stack := make(lens.Stack, len(sources))
	for i, src := range sources {
		l, err := lens.Compile(src)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		stack[i] = l
	}
	return stack
}

func TestChange_ScalarDefault(t *testing.T) {
	g := schema.NewGraph()
	nameLens := lens.AddPropertySource{Property: "name", Default: "", Schema: stringSchema()}
	if err := g.Register(schema.Mu, "v1", nameLens, lens.RemovePropertySource(nameLens), evalForward); err != nil {
		t.Fatalf("Register: %v", err)
	}

	stack := buildStack(t, g, schema.Mu, "v1")
	bk := memdoc.NewBackend()
	change, err := Change(stack, bk.Init())
	if err != nil {
		t.Fatalf("Change: %v", err)
	}
	if change.Actor != backend.PhantomActor || change.Seq != 1 {
		t.Fatalf("unexpected change identity: %+v", change)
	}
	if len(change.Ops) != 1 || change.Ops[0].Action != backend.Set || change.Ops[0].Key != "name" || change.Ops[0].Value != "" {
		t.Fatalf("unexpected ops: %+v", change.Ops)
	}
}

func TestChange_NestedDefaultViaInsideProperty(t *testing.T) {
	g := schema.NewGraph()
	detailsLens := lens.AddPropertySource{Property: "details", Default: map[string]interface{}{}, Schema: objectSchema()}
	if err := g.Register(schema.Mu, "v1", detailsLens, lens.RemovePropertySource(detailsLens), evalForward); err != nil {
		t.Fatalf("Register details: %v", err)
	}
	authorLens := lens.InsidePropertySource{
		Property: "details",
		Lens:     lens.AddPropertySource{Property: "author", Default: "", Schema: stringSchema()},
	}
	authorReverse, err := lens.ReverseSource(authorLens)
	if err != nil {
		t.Fatalf("ReverseSource: %v", err)
	}
	if err := g.Register("v1", "v2", authorLens, authorReverse, evalForward); err != nil {
		t.Fatalf("Register author: %v", err)
	}

	stack := buildStack(t, g, schema.Mu, "v2")
	bk := memdoc.NewBackend()
	change, err := Change(stack, bk.Init())
	if err != nil {
		t.Fatalf("Change: %v", err)
	}

	// Expect: makeMap for the details object, a link of it under "details",
	// and a set of "author" on the new object.
	var sawMake, sawLink, sawSet bool
	var detailsObj string
	for _, op := range change.Ops {
		switch op.Action {
		case backend.MakeMap:
			sawMake = true
			detailsObj = op.Obj
		case backend.Link:
			if op.Key == "details" {
				sawLink = true
				if op.Value != detailsObj {
					t.Fatalf("link value %v does not match made object %v", op.Value, detailsObj)
				}
			}
		case backend.Set:
			if op.Key == "author" && op.Value == "" {
				sawSet = true
				if op.Obj != detailsObj {
					t.Fatalf("author set on %v, want %v", op.Obj, detailsObj)
				}
			}
		}
	}
	if !sawMake || !sawLink || !sawSet {
		t.Fatalf("missing expected ops: %+v", change.Ops)
	}
}

func TestChange_IdentityAtMu(t *testing.T) {
	g := schema.NewGraph()
	bk := memdoc.NewBackend()
	change, err := Change(lens.Stack(nil), bk.Init())
	if err != nil {
		t.Fatalf("Change: %v", err)
	}
	if len(change.Ops) != 0 {
		t.Fatalf("mu's own bootstrap should have no ops, got %+v", change.Ops)
	}
	_ = g
}
