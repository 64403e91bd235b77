package lens

import (
	"fmt"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/latticedoc/lensmerge/pkg/jsonpatch"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

// --- Rename ----------------------------------------------------------------

// RenameSource renames a top-level property. Reverse is Rename{To, From}.
type RenameSource struct {
	From, To string
}

func (RenameSource) Kind() string { return "rename" }

type renameLens struct{ src RenameSource }

func renamePath(path, from, to string) (string, bool) {
	segs := jsonpatch.Segments(path)
	if len(segs) == 0 || segs[0] != from {
		return path, false
	}
	segs[0] = to
	return jsonpatch.JoinPath(segs...), true
}

func (l renameLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	out := make(jsonpatch.Patch, len(p))
	for i, op := range p {
		if np, ok := renamePath(op.Path, l.src.From, l.src.To); ok {
			op.Path = np
		}
		out[i] = op
	}
	return out, nil
}

func (l renameLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	out := make(jsonpatch.Patch, len(p))
	for i, op := range p {
		if np, ok := renamePath(op.Path, l.src.To, l.src.From); ok {
			op.Path = np
		}
		out[i] = op
	}
	return out, nil
}

func (l renameLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return renameSchemaProperty(s, l.src.From, l.src.To)
}

func (l renameLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return renameSchemaProperty(s, l.src.To, l.src.From)
}

func renameSchemaProperty(s *openapi3.Schema, from, to string) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	ref, ok := out.Properties[from]
	if !ok {
		return nil, &lmerr.ConstructionError{Op: "Rename", Msg: fmt.Sprintf("property %q not present", from)}
	}
	delete(out.Properties, from)
	out.Properties[to] = ref
	for i, r := range out.Required {
		if r == from {
			out.Required[i] = to
		}
	}
	return out, nil
}

// --- AddProperty / RemoveProperty -------------------------------------------

// AddPropertySource adds Property (with Default) going forward; its reverse
// is the corresponding RemovePropertySource.
type AddPropertySource struct {
	Property string
	Default  interface{}
	Schema   *openapi3.Schema
}

func (AddPropertySource) Kind() string { return "addProperty" }

// RemovePropertySource is AddPropertySource's structural reverse.
type RemovePropertySource struct {
	Property string
	Default  interface{}
	Schema   *openapi3.Schema
}

func (RemovePropertySource) Kind() string { return "removeProperty" }

type addPropertyLens struct{ src AddPropertySource }

func propPath(property string) string { return jsonpatch.JoinPath(property) }

// Forward only materializes the property's default when p carries the
// root-creation marker (Path == ""), i.e. when it is the one-shot bootstrap
// patch (internal/bootstrap) lensing a schema's defaults into existence.
// Ordinary per-op patches routed through this edge by the Change Converter
// never touch the new property (it was already materialized once, on each
// side's own bootstrap) and pass through unchanged; without this guard every
// op crossing an AddProperty edge would pick up a spurious extra default op
// on top of its real translation.
func (l addPropertyLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	isRootPatch := false
	for _, op := range p {
		if op.Path == "" {
			isRootPatch = true
			break
		}
	}
	if !isRootPatch {
		return p, nil
	}
	out := append(jsonpatch.Patch{}, p...)
	out = append(out, jsonpatch.Operation{Op: jsonpatch.Add, Path: propPath(l.src.Property), Value: l.src.Default})
	return out, nil
}

// Reverse hides Property going backward across the edge: it drops not
// just an op that sets the property itself but any op addressing
// something nested under it (e.g. an element of a list-valued property),
// since a schema without Property has nowhere to put either.
func (l addPropertyLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	out := make(jsonpatch.Patch, 0, len(p))
	for _, op := range p {
		segs := jsonpatch.Segments(op.Path)
		if len(segs) > 0 && segs[0] == l.src.Property {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}

func (l addPropertyLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	out.Properties[l.src.Property] = openapi3.NewSchemaRef("", l.src.Schema)
	return out, nil
}

func (l addPropertyLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	delete(out.Properties, l.src.Property)
	return out, nil
}

type removePropertyLens struct{ src RemovePropertySource }

func (l removePropertyLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return addPropertyLens{AddPropertySource(l.src)}.Reverse(p)
}

func (l removePropertyLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return addPropertyLens{AddPropertySource(l.src)}.Forward(p)
}

func (l removePropertyLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return addPropertyLens{AddPropertySource(l.src)}.ReverseSchema(s)
}

func (l removePropertyLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return addPropertyLens{AddPropertySource(l.src)}.ForwardSchema(s)
}

// --- Wrap / Head -------------------------------------------------------------

// WrapSource wraps Property's scalar value in a singleton array going
// forward; Head (its reverse) unwraps it back to a scalar. The same source
// drives both directions: Forward wraps, Reverse heads.
type WrapSource struct {
	Property string
}

func (WrapSource) Kind() string { return "wrap" }

type wrapLens struct{ src WrapSource }

// Forward turns a scalar add/replace at Property into the list-level
// fragments a wrapped array's CRDT representation needs: the op that
// first materializes the property (an Add — the one-shot default
// synthesized by the AddProperty edge below Wrap, see
// addPropertyLens.Forward) becomes an empty-array creation followed by an
// insert of the scalar as the array's sole element; every later write (a
// Replace, since the property already exists once bootstrapped) becomes
// an in-place replace of that same head element, never a fresh array.
// Ops addressing any other path pass through untouched.
func (l wrapLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	path := propPath(l.src.Property)
	headPath := jsonpatch.JoinPath(l.src.Property, "0")
	out := make(jsonpatch.Patch, 0, len(p))
	for _, op := range p {
		if op.Path != path {
			out = append(out, op)
			continue
		}
		switch op.Op {
		case jsonpatch.Add:
			out = append(out, jsonpatch.Operation{Op: jsonpatch.Add, Path: path, Value: []interface{}{}})
			out = append(out, jsonpatch.Operation{Op: jsonpatch.Add, Path: headPath, Value: op.Value})
		case jsonpatch.Replace:
			out = append(out, jsonpatch.Operation{Op: jsonpatch.Replace, Path: headPath, Value: op.Value})
		default:
			out = append(out, op)
		}
	}
	return out, nil
}

// Reverse collapses list-level fragments back to a scalar at Property: an
// add/replace/remove at the array's head element (index 0) becomes a
// scalar replace (null if the head was removed); a mutation at any other
// index has no scalar-visible effect and is dropped; a whole-array
// add/replace (the property's own creation) unwraps to its first element,
// or null for an empty array; a whole-array remove passes through as a
// remove of the scalar property.
func (l wrapLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	path := propPath(l.src.Property)
	out := make(jsonpatch.Patch, 0, len(p))
	for _, op := range p {
		if op.Path == path {
			if op.Op == jsonpatch.Remove {
				out = append(out, op)
				continue
			}
			arr, ok := op.Value.([]interface{})
			if !ok {
				return nil, &lmerr.OpShapeError{Msg: fmt.Sprintf("Head: %q is not an array", l.src.Property)}
			}
			var head interface{}
			if len(arr) > 0 {
				head = arr[0]
			}
			out = append(out, jsonpatch.Operation{Op: jsonpatch.Replace, Path: path, Value: head})
			continue
		}

		segs := jsonpatch.Segments(op.Path)
		if len(segs) != 2 || segs[0] != l.src.Property {
			out = append(out, op)
			continue
		}
		idx, err := strconv.Atoi(segs[1])
		if err != nil {
			return nil, &lmerr.OpShapeError{Msg: fmt.Sprintf("Head: non-numeric list index in %q", op.Path)}
		}
		if idx != 0 {
			continue
		}
		if op.Op == jsonpatch.Remove {
			out = append(out, jsonpatch.Operation{Op: jsonpatch.Replace, Path: path, Value: nil})
			continue
		}
		out = append(out, jsonpatch.Operation{Op: jsonpatch.Replace, Path: path, Value: op.Value})
	}
	return out, nil
}

func (l wrapLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	ref, ok := out.Properties[l.src.Property]
	if !ok {
		return nil, &lmerr.ConstructionError{Op: "Wrap", Msg: fmt.Sprintf("property %q not present", l.src.Property)}
	}
	arraySchema := &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref, MinItems: 1, MaxItems: uint64Ptr(1)}
	out.Properties[l.src.Property] = openapi3.NewSchemaRef("", arraySchema)
	return out, nil
}

func (l wrapLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	ref, ok := out.Properties[l.src.Property]
	if !ok || ref.Value == nil || ref.Value.Items == nil {
		return nil, &lmerr.ConstructionError{Op: "Head", Msg: fmt.Sprintf("property %q is not a wrapped array", l.src.Property)}
	}
	out.Properties[l.src.Property] = ref.Value.Items
	return out, nil
}

func uint64Ptr(v uint64) *uint64 { return &v }

// HeadSource is Wrap's structural reverse: it unwraps a singleton array
// back to its scalar going forward, and wraps going in reverse. Lens graph
// edges registered the other way around a Wrap (B -> A where A -> B was
// registered as Wrap) carry this source rather than WrapSource itself,
// since the edge's Forward must run what Wrap's Reverse runs.
type HeadSource struct {
	Property string
}

func (HeadSource) Kind() string { return "head" }

type headLens struct{ src HeadSource }

func (l headLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return wrapLens{WrapSource{Property: l.src.Property}}.Reverse(p)
}

func (l headLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return wrapLens{WrapSource{Property: l.src.Property}}.Forward(p)
}

func (l headLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return wrapLens{WrapSource{Property: l.src.Property}}.ReverseSchema(s)
}

func (l headLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return wrapLens{WrapSource{Property: l.src.Property}}.ForwardSchema(s)
}

// --- Plunge / Hoist ----------------------------------------------------------

// PlungeSource moves Property into a nested object named Container going
// forward ({"a":1} -> {"container":{"a":1}}); Hoist (its reverse) moves it
// back out.
type PlungeSource struct {
	Property  string
	Container string
}

func (PlungeSource) Kind() string { return "plunge" }

type plungeLens struct{ src PlungeSource }

func (l plungeLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	out := make(jsonpatch.Patch, len(p))
	for i, op := range p {
		segs := jsonpatch.Segments(op.Path)
		if len(segs) > 0 && segs[0] == l.src.Property {
			op.Path = jsonpatch.JoinPath(append([]string{l.src.Container, l.src.Property}, segs[1:]...)...)
		}
		out[i] = op
	}
	return out, nil
}

func (l plungeLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	out := make(jsonpatch.Patch, 0, len(p))
	for _, op := range p {
		segs := jsonpatch.Segments(op.Path)
		switch {
		case len(segs) >= 2 && segs[0] == l.src.Container && segs[1] == l.src.Property:
			op.Path = jsonpatch.JoinPath(append([]string{l.src.Property}, segs[2:]...)...)
		case len(segs) == 1 && segs[0] == l.src.Container:
			continue
		}
		out = append(out, op)
	}
	return out, nil
}

// ForwardSchema moves Property into Container, merging into Container's
// existing Properties if it's already an object (e.g. one populated by an
// earlier AddProperty edge) rather than replacing it outright.
func (l plungeLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	ref, ok := out.Properties[l.src.Property]
	if !ok {
		return nil, &lmerr.ConstructionError{Op: "Plunge", Msg: fmt.Sprintf("property %q not present", l.src.Property)}
	}
	delete(out.Properties, l.src.Property)

	containerSchema := &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: openapi3.Schemas{}}
	if existing, ok := out.Properties[l.src.Container]; ok && existing.Value != nil {
		containerSchema = cloneSchema(existing.Value)
	}
	containerSchema.Properties[l.src.Property] = ref
	out.Properties[l.src.Container] = openapi3.NewSchemaRef("", containerSchema)
	return out, nil
}

// ReverseSchema moves Property back out of Container, leaving Container in
// place (with its other properties intact) unless Property was its last.
func (l plungeLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	containerRef, ok := out.Properties[l.src.Container]
	if !ok || containerRef.Value == nil {
		return nil, &lmerr.ConstructionError{Op: "Hoist", Msg: fmt.Sprintf("container %q not present", l.src.Container)}
	}
	ref, ok := containerRef.Value.Properties[l.src.Property]
	if !ok {
		return nil, &lmerr.ConstructionError{Op: "Hoist", Msg: fmt.Sprintf("property %q not present in %q", l.src.Property, l.src.Container)}
	}
	containerSchema := cloneSchema(containerRef.Value)
	delete(containerSchema.Properties, l.src.Property)
	if len(containerSchema.Properties) == 0 {
		delete(out.Properties, l.src.Container)
	} else {
		out.Properties[l.src.Container] = openapi3.NewSchemaRef("", containerSchema)
	}
	out.Properties[l.src.Property] = ref
	return out, nil
}

// HoistSource is Plunge's structural reverse: it moves Property back out of
// Container going forward. Lens graph edges registered the other way around
// a Plunge carry this source rather than PlungeSource itself, for the same
// reason HeadSource exists for Wrap.
type HoistSource struct {
	Property  string
	Container string
}

func (HoistSource) Kind() string { return "hoist" }

type hoistLens struct{ src HoistSource }

func (l hoistLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return plungeLens{PlungeSource{Property: l.src.Property, Container: l.src.Container}}.Reverse(p)
}

func (l hoistLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return plungeLens{PlungeSource{Property: l.src.Property, Container: l.src.Container}}.Forward(p)
}

func (l hoistLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return plungeLens{PlungeSource{Property: l.src.Property, Container: l.src.Container}}.ReverseSchema(s)
}

func (l hoistLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	return plungeLens{PlungeSource{Property: l.src.Property, Container: l.src.Container}}.ForwardSchema(s)
}

// --- InsideProperty ----------------------------------------------------------

// InsidePropertySource applies an inner lens to everything nested under
// Property, by stripping/restoring the property's path prefix around the
// inner lens's own patch rewriting.
type InsidePropertySource struct {
	Property string
	Lens     schema.LensSource
}

func (InsidePropertySource) Kind() string { return "insideProperty" }

type insidePropertyLens struct {
	property string
	inner    Lens
}

func (l insidePropertyLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return l.rewrite(p, l.inner.Forward)
}

func (l insidePropertyLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) {
	return l.rewrite(p, l.inner.Reverse)
}

// rewrite splits p into ops under /property and everything else, runs f
// over the extracted (prefix-stripped) sub-patch, then re-prefixes and
// merges the result back in original relative order for the untouched ops.
func (l insidePropertyLens) rewrite(p jsonpatch.Patch, f func(jsonpatch.Patch) (jsonpatch.Patch, error)) (jsonpatch.Patch, error) {
	var inner jsonpatch.Patch
	var innerIdx []int
	out := make(jsonpatch.Patch, len(p))
	copy(out, p)
	for i, op := range p {
		segs := jsonpatch.Segments(op.Path)
		if len(segs) == 0 || segs[0] != l.property {
			continue
		}
		stripped := op
		stripped.Path = jsonpatch.JoinPath(segs[1:]...)
		inner = append(inner, stripped)
		innerIdx = append(innerIdx, i)
	}
	if len(inner) == 0 {
		return out, nil
	}
	rewritten, err := f(inner)
	if err != nil {
		return nil, lmerr.Wrap("InsideProperty("+l.property+")", err)
	}
	if len(rewritten) != len(innerIdx) {
		// The inner lens changed op count (e.g. AddProperty inside a
		// property); rebuild the whole patch instead of index-mapping.
		result := make(jsonpatch.Patch, 0, len(p))
		for _, op := range p {
			segs := jsonpatch.Segments(op.Path)
			if len(segs) > 0 && segs[0] == l.property {
				continue
			}
			result = append(result, op)
		}
		for _, op := range rewritten {
			segs := jsonpatch.Segments(op.Path)
			op.Path = jsonpatch.JoinPath(append([]string{l.property}, segs...)...)
			result = append(result, op)
		}
		return result, nil
	}
	for k, i := range innerIdx {
		op := rewritten[k]
		segs := jsonpatch.Segments(op.Path)
		op.Path = jsonpatch.JoinPath(append([]string{l.property}, segs...)...)
		out[i] = op
	}
	return out, nil
}

func (l insidePropertyLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	ref, ok := out.Properties[l.property]
	if !ok || ref.Value == nil {
		return nil, &lmerr.ConstructionError{Op: "InsideProperty", Msg: fmt.Sprintf("property %q not present", l.property)}
	}
	next, err := l.inner.ForwardSchema(ref.Value)
	if err != nil {
		return nil, err
	}
	out.Properties[l.property] = openapi3.NewSchemaRef("", next)
	return out, nil
}

func (l insidePropertyLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	out := cloneSchema(s)
	ref, ok := out.Properties[l.property]
	if !ok || ref.Value == nil {
		return nil, &lmerr.ConstructionError{Op: "InsideProperty", Msg: fmt.Sprintf("property %q not present", l.property)}
	}
	prev, err := l.inner.ReverseSchema(ref.Value)
	if err != nil {
		return nil, err
	}
	out.Properties[l.property] = openapi3.NewSchemaRef("", prev)
	return out, nil
}

// --- Map ----------------------------------------------------------------

// MapSource applies an inner lens independently to every element of an
// array. Compose with InsidePropertySource to target a specific property's
// array rather than the patch root.
type MapSource struct {
	Lens schema.LensSource
}

func (MapSource) Kind() string { return "map" }

type mapLens struct{ inner Lens }

func (l mapLens) Forward(p jsonpatch.Patch) (jsonpatch.Patch, error) { return l.rewrite(p, l.inner.Forward) }
func (l mapLens) Reverse(p jsonpatch.Patch) (jsonpatch.Patch, error) { return l.rewrite(p, l.inner.Reverse) }

// rewrite runs f against the single-element sub-patch addressed by each
// array-index path segment it finds, independently. Each op in p is
// expected to already be scoped to one array (callers compose Map inside
// InsideProperty to reach a specific property's array).
func (l mapLens) rewrite(p jsonpatch.Patch, f func(jsonpatch.Patch) (jsonpatch.Patch, error)) (jsonpatch.Patch, error) {
	out := make(jsonpatch.Patch, 0, len(p))
	for _, op := range p {
		segs := jsonpatch.Segments(op.Path)
		if len(segs) == 0 {
			out = append(out, op)
			continue
		}
		idx := segs[0]
		rest := segs[1:]
		stripped := op
		stripped.Path = jsonpatch.JoinPath(rest...)
		rewritten, err := f(jsonpatch.Patch{stripped})
		if err != nil {
			return nil, lmerr.Wrap("Map["+idx+"]", err)
		}
		for _, rop := range rewritten {
			rsegs := jsonpatch.Segments(rop.Path)
			rop.Path = jsonpatch.JoinPath(append([]string{idx}, rsegs...)...)
			out = append(out, rop)
		}
	}
	return out, nil
}

func (l mapLens) ForwardSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	if s.Items == nil || s.Items.Value == nil {
		return nil, &lmerr.ConstructionError{Op: "Map", Msg: "schema has no array Items to map over"}
	}
	out := cloneSchema(s)
	next, err := l.inner.ForwardSchema(s.Items.Value)
	if err != nil {
		return nil, err
	}
	out.Items = openapi3.NewSchemaRef("", next)
	return out, nil
}

func (l mapLens) ReverseSchema(s *openapi3.Schema) (*openapi3.Schema, error) {
	if s.Items == nil || s.Items.Value == nil {
		return nil, &lmerr.ConstructionError{Op: "Map", Msg: "schema has no array Items to map over"}
	}
	out := cloneSchema(s)
	prev, err := l.inner.ReverseSchema(s.Items.Value)
	if err != nil {
		return nil, err
	}
	out.Items = openapi3.NewSchemaRef("", prev)
	return out, nil
}

// cloneSchema makes a shallow copy of s with its own Properties map, so
// lenses never mutate a schema another lens-graph node still references.
func cloneSchema(s *openapi3.Schema) *openapi3.Schema {
	out := *s
	out.Properties = make(openapi3.Schemas, len(s.Properties))
	for k, v := range s.Properties {
		out.Properties[k] = v
	}
	out.Required = append([]string(nil), s.Required...)
	return &out
}
