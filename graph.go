package lensmerge

import (
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

// RegisterLens adds a lens-graph edge from -> to driven by src, along with
// its structurally reversed edge to -> from, deriving to's JSON-Schema by
// running src forward against from's schema.
// Callers build up a schema.Graph with this before constructing an Engine
// (via EngineBuilder.WithGraph); Engine itself calls it internally when a
// received block carries a lens registration the graph doesn't know yet.
func RegisterLens(g *schema.Graph, from, to string, src schema.LensSource) error {
	reverse, err := lens.ReverseSource(src)
	if err != nil {
		return lmerr.Wrap("RegisterLens "+from+"->"+to, err)
	}
	evalForward := func(fromSchema *openapi3.Schema, s schema.LensSource) (*openapi3.Schema, error) {
		l, err := lens.Compile(s)
		if err != nil {
			return nil, err
		}
		return l.ForwardSchema(fromSchema)
	}
	return g.Register(from, to, src, reverse, evalForward)
}
