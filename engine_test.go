package lensmerge_test

import (
	"github.com/getkin/kin-openapi/openapi3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/latticedoc/lensmerge/internal/oppatch"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/block"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/schema"

	"github.com/latticedoc/lensmerge"
)

func strSchema() *openapi3.Schema { return &openapi3.Schema{Type: &openapi3.Types{"string"}} }

func evalForward(s *openapi3.Schema, src schema.LensSource) (*openapi3.Schema, error) {
	l, err := lens.Compile(src)
	if err != nil {
		return nil, err
	}
	return l.ForwardSchema(s)
}

// register is Register with a symmetric rename/add-property/etc. helper
// that derives the structural reverse via lens.ReverseSource, mirroring
// what lensmerge.RegisterLens does internally.
func register(g *schema.Graph, from, to string, src schema.LensSource) {
	reverse, err := lens.ReverseSource(src)
	Expect(err).NotTo(HaveOccurred())
	Expect(g.Register(from, to, src, reverse, evalForward)).To(Succeed())
}

var _ = Describe("Engine", func() {
	var g *schema.Graph

	BeforeEach(func() {
		g = schema.NewGraph()
		register(g, schema.Mu, "v1", lens.AddPropertySource{Property: "name", Default: "", Schema: strSchema()})
		register(g, "v1", "v1b", lens.AddPropertySource{Property: "summary", Default: "", Schema: strSchema()})
	})

	It("bootstraps a fresh schema's defaults on first use", func() {
		e, err := lensmerge.NewEngine("v1b").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		patch, err := e.GetPatch()
		Expect(err).NotTo(HaveOccurred())
		doc := patch.Diffs.(map[string]interface{})
		Expect(doc["name"]).To(Equal(""))
		Expect(doc["summary"]).To(Equal(""))
		Expect(patch.Clock).To(BeEmpty(), "the phantom bootstrap actor must never be visible")
	})

	It("translates a local change across a rename edge between two engines", func() {
		register(g, "v1b", "v2", lens.RenameSource{From: "name", To: "title"})

		author, err := lensmerge.NewEngine("v1b").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())
		reader, err := lensmerge.NewEngine("v2").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		_, blk, err := author.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "aaaaaaaaaa",
			Seq:   1,
			Ops:   []backend.Op{{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "hello"}},
		})
		Expect(err).NotTo(HaveOccurred())

		patch, err := reader.ApplyBlocks([]block.Block{blk})
		Expect(err).NotTo(HaveOccurred())
		doc := patch.Diffs.(map[string]interface{})
		Expect(doc["title"]).To(Equal("hello"))
		Expect(doc["summary"]).To(Equal(""))
		Expect(doc).NotTo(HaveKey("name"))
	})

	It("ignores a block it has already folded in", func() {
		register(g, "v1b", "v2", lens.RenameSource{From: "name", To: "title"})

		author, err := lensmerge.NewEngine("v1b").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())
		reader, err := lensmerge.NewEngine("v2").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		_, blk, err := author.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "aaaaaaaaaa",
			Seq:   1,
			Ops:   []backend.Op{{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "hello"}},
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = reader.ApplyBlocks([]block.Block{blk})
		Expect(err).NotTo(HaveOccurred())
		patch, err := reader.ApplyBlocks([]block.Block{blk})
		Expect(err).NotTo(HaveOccurred())
		Expect(patch.Diffs.(map[string]interface{})["title"]).To(Equal("hello"))
	})
})

var _ = Describe("Engine nested plunge chain", func() {
	It("bootstraps correctly and carries an unrelated write through a long chain spanning add/inside-property/plunge/rename edges", func() {
		g := schema.NewGraph()
		register(g, schema.Mu, "v1", lens.AddPropertySource{Property: "name", Default: "", Schema: strSchema()})
		register(g, "v1", "v2", lens.AddPropertySource{
			Property: "details",
			Default:  map[string]interface{}{},
			Schema:   &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{}},
		})
		register(g, "v2", "v3", lens.InsidePropertySource{
			Property: "details",
			Lens:     lens.AddPropertySource{Property: "author", Default: "", Schema: strSchema()},
		})
		register(g, "v3", "v4", lens.InsidePropertySource{
			Property: "details",
			Lens:     lens.AddPropertySource{Property: "date", Default: "", Schema: strSchema()},
		})
		register(g, "v4", "v5", lens.AddPropertySource{Property: "created_at", Default: "", Schema: strSchema()})
		register(g, "v5", "v6", lens.PlungeSource{Property: "created_at", Container: "details"})
		register(g, "v6", "v7", lens.InsidePropertySource{
			Property: "details",
			Lens:     lens.RenameSource{From: "date", To: "updated_at"},
		})

		author, err := lensmerge.NewEngine("v1").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())
		reader, err := lensmerge.NewEngine("v7").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		readerBootstrap, err := reader.GetPatch()
		Expect(err).NotTo(HaveOccurred())
		readerDoc := readerBootstrap.Diffs.(map[string]interface{})
		readerDetails := readerDoc["details"].(map[string]interface{})
		Expect(readerDetails["author"]).To(Equal(""))
		Expect(readerDetails).To(HaveKey("created_at"), "plunge must have moved created_at under details")
		Expect(readerDetails).To(HaveKey("updated_at"), "rename must have renamed date to updated_at")
		Expect(readerDetails).NotTo(HaveKey("date"))
		Expect(readerDoc).NotTo(HaveKey("created_at"), "created_at must not remain at the top level after the plunge")

		_, blk, err := author.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "bbbbbbbbbb",
			Seq:   1,
			Ops:   []backend.Op{{Action: backend.Set, Obj: backend.RootID, Key: "name", Value: "hello"}},
		})
		Expect(err).NotTo(HaveOccurred())

		readerPatch, err := reader.ApplyBlocks([]block.Block{blk})
		Expect(err).NotTo(HaveOccurred())
		doc := readerPatch.Diffs.(map[string]interface{})
		Expect(doc["name"]).To(Equal("hello"))
		details := doc["details"].(map[string]interface{})
		Expect(details["author"]).To(Equal(""), "the write must not have disturbed details' own defaults")
	})
})

var _ = Describe("Engine nested property write", func() {
	It("carries a write inside a nested object from a mid-chain author to the newest reader", func() {
		g := schema.NewGraph()
		register(g, schema.Mu, "v1", lens.AddPropertySource{Property: "name", Default: "", Schema: strSchema()})
		register(g, "v1", "v2", lens.AddPropertySource{
			Property: "details",
			Default:  map[string]interface{}{},
			Schema:   &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{}},
		})
		register(g, "v2", "v3", lens.InsidePropertySource{
			Property: "details",
			Lens:     lens.AddPropertySource{Property: "author", Default: "", Schema: strSchema()},
		})
		register(g, "v3", "v4", lens.InsidePropertySource{
			Property: "details",
			Lens:     lens.RenameSource{From: "author", To: "writer"},
		})

		author, err := lensmerge.NewEngine("v3").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())
		reader, err := lensmerge.NewEngine("v4").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		// v3's bootstrap fragments are [/name, /details, /details/author]
		// after the root op is dropped, so the details object is the pass's
		// second fragment: SynthObjID(phantom, seq 1, patch index 1, op 0).
		detailsObj := oppatch.SynthObjID(backend.PhantomActor, 1, 1, 0)
		_, blk, err := author.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "ffffffffff",
			Seq:   1,
			Ops:   []backend.Op{{Action: backend.Set, Obj: detailsObj, Key: "author", Value: "Klaus"}},
		})
		Expect(err).NotTo(HaveOccurred())

		patch, err := reader.ApplyBlocks([]block.Block{blk})
		Expect(err).NotTo(HaveOccurred())
		doc := patch.Diffs.(map[string]interface{})
		details := doc["details"].(map[string]interface{})
		Expect(details["writer"]).To(Equal("Klaus"))
		Expect(details).NotTo(HaveKey("author"))
		Expect(doc["name"]).To(Equal(""))
	})
})

var _ = Describe("Engine array push", func() {
	It("carries a pushed list through a lens edge unrelated to the array", func() {
		g := schema.NewGraph()
		register(g, schema.Mu, "v1", lens.AddPropertySource{
			Property: "tags",
			Default:  []interface{}{},
			Schema:   &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: openapi3.NewSchemaRef("", strSchema())},
		})
		register(g, "v1", "v2", lens.AddPropertySource{Property: "other", Default: "", Schema: strSchema()})

		author, err := lensmerge.NewEngine("v1").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())
		reader, err := lensmerge.NewEngine("v2").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		// tags is the only property mu->v1's bootstrap default touches, so
		// its list object is the first (and only) one the bootstrap pass
		// synthesizes: SynthObjID(phantom, seq 1, patch index 0, op 0).
		tagsObj := oppatch.SynthObjID(backend.PhantomActor, 1, 0, 0)
		actor := "cccccccccc"
		_, blk, err := author.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: actor,
			Seq:   1,
			Ops: []backend.Op{
				{Action: backend.Ins, Obj: tagsObj, Key: "_head", Elem: 1},
				{Action: backend.Set, Obj: tagsObj, Key: actor + ":1", Value: "fun"},
				{Action: backend.Ins, Obj: tagsObj, Key: actor + ":1", Elem: 2},
				{Action: backend.Set, Obj: tagsObj, Key: actor + ":2", Value: "relaxing"},
				{Action: backend.Ins, Obj: tagsObj, Key: actor + ":2", Elem: 3},
				{Action: backend.Set, Obj: tagsObj, Key: actor + ":3", Value: "lovecraftian"},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		patch, err := reader.ApplyBlocks([]block.Block{blk})
		Expect(err).NotTo(HaveOccurred())
		doc := patch.Diffs.(map[string]interface{})
		Expect(doc["other"]).To(Equal(""))
		Expect(doc["tags"]).To(Equal([]interface{}{"fun", "relaxing", "lovecraftian"}))
	})
})

var _ = Describe("Engine wrap/head lens", func() {
	It("collapses an array to its head element for a scalar reader and back", func() {
		g := schema.NewGraph()
		register(g, schema.Mu, "v1", lens.AddPropertySource{Property: "assignee", Default: "Bob", Schema: strSchema()})
		register(g, "v1", "v1w", lens.WrapSource{Property: "assignee"})
		register(g, "v1w", "v2", lens.RenameSource{From: "assignee", To: "assignees"})

		scalarPeer, err := lensmerge.NewEngine("v1").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())
		wrapPeer, err := lensmerge.NewEngine("v2").WithGraph(g).Build()
		Expect(err).NotTo(HaveOccurred())

		bootstrapPatch, err := wrapPeer.GetPatch()
		Expect(err).NotTo(HaveOccurred())
		Expect(bootstrapPatch.Diffs.(map[string]interface{})["assignees"]).To(Equal([]interface{}{"Bob"}))

		_, scalarBlk, err := scalarPeer.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "dddddddddd",
			Seq:   1,
			Ops:   []backend.Op{{Action: backend.Set, Obj: backend.RootID, Key: "assignee", Value: "Joe"}},
		})
		Expect(err).NotTo(HaveOccurred())
		patch, err := wrapPeer.ApplyBlocks([]block.Block{scalarBlk})
		Expect(err).NotTo(HaveOccurred())
		Expect(patch.Diffs.(map[string]interface{})["assignees"]).To(Equal([]interface{}{"Joe"}))

		// assignee is the only bootstrap default on this edge, so its
		// wrapped list is the bootstrap pass's first synthesized object.
		assigneesObj := oppatch.SynthObjID(backend.PhantomActor, 1, 0, 0)
		headElem := backend.PhantomActor + ":1"

		_, pushBlk, err := wrapPeer.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "eeeeeeeeee",
			Seq:   1,
			Ops: []backend.Op{
				{Action: backend.Ins, Obj: assigneesObj, Key: headElem, Elem: 1},
				{Action: backend.Set, Obj: assigneesObj, Key: "eeeeeeeeee:1", Value: "Jill"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		scalarPatch, err := scalarPeer.ApplyBlocks([]block.Block{pushBlk})
		Expect(err).NotTo(HaveOccurred())
		Expect(scalarPatch.Diffs.(map[string]interface{})["assignee"]).To(Equal("Joe"), "a push past the head element must not disturb the scalar projection")

		_, shiftBlk, err := wrapPeer.ApplyLocalChange(backend.LocalChangeRequest{
			Actor: "eeeeeeeeee",
			Seq:   2,
			Ops:   []backend.Op{{Action: backend.Del, Obj: assigneesObj, Key: headElem}},
		})
		Expect(err).NotTo(HaveOccurred())
		scalarPatch, err = scalarPeer.ApplyBlocks([]block.Block{shiftBlk})
		Expect(err).NotTo(HaveOccurred())
		Expect(scalarPatch.Diffs.(map[string]interface{})["assignee"]).To(BeNil())
	})
})
