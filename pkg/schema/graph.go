// Package schema models the lens graph: a directed graph whose nodes are
// schema names, carrying the JSON-Schema associated with each node, and
// whose edges carry a lens source and its structural reverse.
package schema

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
)

// Mu is the empty initial schema every lens graph is rooted at.
const Mu = "mu"

// LensSource is the declarative, serializable description of a lens
// registered on an edge. Its interpretation belongs to pkg/lens; this
// package only stores and composes it.
type LensSource interface {
	// Kind names the lens primitive this source describes, for
	// diagnostics and for pkg/lens.Compile's dispatch.
	Kind() string
}

// edge is one directed lens-graph edge.
type edge struct {
	to   string
	lens LensSource
}

// Graph is a directed lens graph rooted at Mu.
type Graph struct {
	nodes   map[string]*openapi3.Schema
	forward map[string][]edge
	// names preserves registration order for deterministic iteration
	// where map iteration order would otherwise be nondeterministic.
	names []string
}

// NewGraph returns a graph containing only the Mu node, whose schema is
// the empty object.
func NewGraph() *Graph {
	g := &Graph{
		nodes:   map[string]*openapi3.Schema{},
		forward: map[string][]edge{},
	}
	g.addNode(Mu, emptyObjectSchema())
	return g
}

func emptyObjectSchema() *openapi3.Schema {
	return &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
}

func (g *Graph) addNode(name string, s *openapi3.Schema) {
	g.nodes[name] = s
	g.names = append(g.names, name)
}

// Has reports whether name is a known node.
func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// SchemaAt returns the JSON-Schema associated with a node.
func (g *Graph) SchemaAt(name string) (*openapi3.Schema, error) {
	s, ok := g.nodes[name]
	if !ok {
		return nil, &lmerr.ConstructionError{Op: "SchemaAt", Msg: "unknown schema " + name}
	}
	return s, nil
}

// Register adds a lens-graph edge from -> to, along with its structural
// reverse, and the to-node's derived JSON-Schema. evalForwardSchema runs
// the lens forward against the from-schema to derive the to-schema; it is
// supplied by the caller (pkg/lens owns lens evaluation) rather than
// imported here, to keep the graph free of a dependency on lens
// semantics.
func (g *Graph) Register(from, to string, lens, reverseLens LensSource, evalForwardSchema func(*openapi3.Schema, LensSource) (*openapi3.Schema, error)) error {
	if !g.Has(from) {
		return &lmerr.LensRegistrationError{From: from, To: to, Msg: "unknown source schema"}
	}
	if g.Has(to) {
		return &lmerr.LensRegistrationError{From: from, To: to, Msg: "target schema already registered"}
	}
	fromSchema, err := g.SchemaAt(from)
	if err != nil {
		return err
	}
	toSchema, err := evalForwardSchema(fromSchema, lens)
	if err != nil {
		return lmerr.Wrap("Register: deriving schema for "+to, err)
	}
	g.addNode(to, toSchema)
	g.forward[from] = append(g.forward[from], edge{to: to, lens: lens})
	g.forward[to] = append(g.forward[to], edge{to: from, lens: reverseLens})
	return nil
}

// Compose finds the shortest path (by hop count) from -> to and returns
// the ordered list of lens sources to apply along it. An empty slice (not
// an error) means from == to: the identity composition.
func (g *Graph) Compose(from, to string) ([]LensSource, error) {
	if from == to {
		return nil, nil
	}
	if !g.Has(from) {
		return nil, &lmerr.ConstructionError{Op: "Compose", Msg: "unknown schema " + from}
	}
	if !g.Has(to) {
		return nil, &lmerr.ConstructionError{Op: "Compose", Msg: "unknown schema " + to}
	}

	type step struct {
		node string
		lens LensSource
		prev *step
	}

	visited := map[string]bool{from: true}
	queue := []*step{{node: from}}
	var goal *step

	for len(queue) > 0 && goal == nil {
		cur := queue[0]
		queue = queue[1:]

		edges := append([]edge(nil), g.forward[cur.node]...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].to < edges[j].to })

		for _, e := range edges {
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			next := &step{node: e.to, lens: e.lens, prev: cur}
			if e.to == to {
				goal = next
				break
			}
			queue = append(queue, next)
		}
	}

	if goal == nil {
		return nil, &lmerr.ConstructionError{Op: "Compose", Msg: "no lens path from " + from + " to " + to}
	}

	var lenses []LensSource
	for s := goal; s.prev != nil; s = s.prev {
		lenses = append([]LensSource{s.lens}, lenses...)
	}
	return lenses, nil
}

// Names returns all registered schema names in registration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}
