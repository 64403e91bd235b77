// Package lens implements the schema lens algebra: small, named,
// bidirectional transformations over JSON Patch fragments and their
// JSON-Schema counterparts. Each primitive pairs a declarative
// description (a LensSource) with the function that carries it out, and
// must run in both directions, since a shadow instance can sit on either
// side of an edge.
package lens

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/latticedoc/lensmerge/pkg/jsonpatch"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

// Lens is a bidirectional schema transformation: it rewrites both a stream
// of JSON Patch fragments and the JSON-Schema that stream's root document
// conforms to.
type Lens interface {
	Forward(jsonpatch.Patch) (jsonpatch.Patch, error)
	Reverse(jsonpatch.Patch) (jsonpatch.Patch, error)
	ForwardSchema(*openapi3.Schema) (*openapi3.Schema, error)
	ReverseSchema(*openapi3.Schema) (*openapi3.Schema, error)
}

// Stack composes an ordered list of lenses into a single Lens: Forward
// applies each member in order, Reverse applies them in reverse order.
type Stack []Lens

func (s Stack) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	var err error
	for _, l := range s {
		if p, err = l.Forward(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s Stack) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	var err error
	for i := len(s) - 1; i >= 0; i-- {
		if p, err = s[i].Reverse(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s Stack) ForwardSchema(sc *openapi3.Schema) (*openapi3.Schema, error) {
	var err error
	for _, l := range s {
		if sc, err = l.ForwardSchema(sc); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func (s Stack) ReverseSchema(sc *openapi3.Schema) (*openapi3.Schema, error) {
	var err error
	for i := len(s) - 1; i >= 0; i-- {
		if sc, err = s[i].ReverseSchema(sc); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// Compile turns a declarative schema.LensSource into a runnable Lens,
// dispatching on the source's concrete type.
func Compile(src schema.LensSource) (Lens, error) {
	switch v := src.(type) {
	case RenameSource:
		return renameLens{v}, nil
	case AddPropertySource:
		return addPropertyLens{v}, nil
	case RemovePropertySource:
		return removePropertyLens{v}, nil
	case WrapSource:
		return wrapLens{v}, nil
	case HeadSource:
		return headLens{v}, nil
	case PlungeSource:
		return plungeLens{v}, nil
	case HoistSource:
		return hoistLens{v}, nil
	case InsidePropertySource:
		inner, err := Compile(v.Lens)
		if err != nil {
			return nil, lmerr.Wrap("Compile: inside "+v.Property, err)
		}
		return insidePropertyLens{v.Property, inner}, nil
	case MapSource:
		inner, err := Compile(v.Lens)
		if err != nil {
			return nil, lmerr.Wrap("Compile: map element lens", err)
		}
		return mapLens{inner}, nil
	default:
		return nil, &lmerr.ConstructionError{Op: "Compile", Msg: fmt.Sprintf("unknown lens source kind %q", src.Kind())}
	}
}

// ReverseSource computes the structural reverse of a lens source:
// registering from -> to creates a reverse edge to -> from, and its lens
// source is this, not src itself, since the reverse edge's Forward must
// behave like src's Reverse. Recurses through InsideProperty/Map's
// wrapped inner source.
func ReverseSource(src schema.LensSource) (schema.LensSource, error) {
	switch v := src.(type) {
	case RenameSource:
		return RenameSource{From: v.To, To: v.From}, nil
	case AddPropertySource:
		return RemovePropertySource(v), nil
	case RemovePropertySource:
		return AddPropertySource(v), nil
	case WrapSource:
		return HeadSource{Property: v.Property}, nil
	case HeadSource:
		return WrapSource{Property: v.Property}, nil
	case PlungeSource:
		return HoistSource{Property: v.Property, Container: v.Container}, nil
	case HoistSource:
		return PlungeSource{Property: v.Property, Container: v.Container}, nil
	case InsidePropertySource:
		inner, err := ReverseSource(v.Lens)
		if err != nil {
			return nil, lmerr.Wrap("ReverseSource: inside "+v.Property, err)
		}
		return InsidePropertySource{Property: v.Property, Lens: inner}, nil
	case MapSource:
		inner, err := ReverseSource(v.Lens)
		if err != nil {
			return nil, lmerr.Wrap("ReverseSource: map element", err)
		}
		return MapSource{Lens: inner}, nil
	default:
		return nil, &lmerr.ConstructionError{Op: "ReverseSource", Msg: fmt.Sprintf("no structural reverse for lens kind %q", src.Kind())}
	}
}
