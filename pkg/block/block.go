// Package block defines the wire/persistence shape of a history unit: a
// CRDT change paired with the schema its author wrote under, plus
// whatever lens registrations the author believes its peers may still
// need. Encoding uses github.com/bytedance/sonic; blocks cross a process
// boundary on every exchange between engines, so this is the hot path
// for JSON work.
package block

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/lens"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

// LensReg is one lens-graph edge registration, as attached to a block or
// exchanged standalone: the (from, to) pair plus the declarative source
// that drives it.
type LensReg struct {
	From   string
	To     string
	Source schema.LensSource
}

// wireLensReg is LensReg's tagged-union JSON shape: Kind selects which of
// the concrete pkg/lens source structs Params decodes into.
type wireLensReg struct {
	From   string                 `json:"from"`
	To     string                 `json:"to"`
	Kind   string                 `json:"kind"`
	Params map[string]interface{} `json:"params"`
}

func (r LensReg) MarshalJSON() ([]byte, error) {
	params, err := lensParams(r.Source)
	if err != nil {
		return nil, lmerr.Wrap("LensReg.MarshalJSON", err)
	}
	return sonic.Marshal(wireLensReg{From: r.From, To: r.To, Kind: r.Source.Kind(), Params: params})
}

func (r *LensReg) UnmarshalJSON(data []byte) error {
	var w wireLensReg
	if err := sonic.Unmarshal(data, &w); err != nil {
		return lmerr.Wrap("LensReg.UnmarshalJSON", err)
	}
	src, err := decodeLensSource(w.Kind, w.Params)
	if err != nil {
		return lmerr.Wrap("LensReg.UnmarshalJSON", err)
	}
	r.From, r.To, r.Source = w.From, w.To, src
	return nil
}

// wireLensSource is the tagged form a bare LensSource (not wrapped in a
// from/to registration) takes when it appears nested inside InsideProperty
// or Map's own Lens field.
type wireLensSource struct {
	Kind   string                 `json:"kind"`
	Params map[string]interface{} `json:"params"`
}

func lensParams(src schema.LensSource) (map[string]interface{}, error) {
	switch v := src.(type) {
	case lens.InsidePropertySource:
		inner, err := encodeLensSource(v.Lens)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"property": v.Property, "lens": inner}, nil
	case lens.MapSource:
		inner, err := encodeLensSource(v.Lens)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"lens": inner}, nil
	default:
		raw, err := sonic.Marshal(src)
		if err != nil {
			return nil, err
		}
		var out map[string]interface{}
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func encodeLensSource(src schema.LensSource) (wireLensSource, error) {
	params, err := lensParams(src)
	if err != nil {
		return wireLensSource{}, err
	}
	return wireLensSource{Kind: src.Kind(), Params: params}, nil
}

func decodeLensSource(kind string, params map[string]interface{}) (schema.LensSource, error) {
	switch kind {
	case "insideProperty":
		property, _ := params["property"].(string)
		innerWire, err := reparseWireLensSource(params["lens"])
		if err != nil {
			return nil, err
		}
		inner, err := decodeLensSource(innerWire.Kind, innerWire.Params)
		if err != nil {
			return nil, err
		}
		return lens.InsidePropertySource{Property: property, Lens: inner}, nil
	case "map":
		innerWire, err := reparseWireLensSource(params["lens"])
		if err != nil {
			return nil, err
		}
		inner, err := decodeLensSource(innerWire.Kind, innerWire.Params)
		if err != nil {
			return nil, err
		}
		return lens.MapSource{Lens: inner}, nil
	}

	raw, err := sonic.Marshal(params)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "rename":
		var s lens.RenameSource
		return s, sonic.Unmarshal(raw, &s)
	case "addProperty":
		var s lens.AddPropertySource
		return s, sonic.Unmarshal(raw, &s)
	case "removeProperty":
		var s lens.RemovePropertySource
		return s, sonic.Unmarshal(raw, &s)
	case "wrap":
		var s lens.WrapSource
		return s, sonic.Unmarshal(raw, &s)
	case "head":
		var s lens.HeadSource
		return s, sonic.Unmarshal(raw, &s)
	case "plunge":
		var s lens.PlungeSource
		return s, sonic.Unmarshal(raw, &s)
	case "hoist":
		var s lens.HoistSource
		return s, sonic.Unmarshal(raw, &s)
	default:
		return nil, fmt.Errorf("block: unknown lens kind %q", kind)
	}
}

// reparseWireLensSource round-trips an already-decoded interface{} value
// (as produced by sonic.Unmarshal into a map[string]interface{}) back into
// a wireLensSource, since nested lens params arrive this way rather than
// as raw JSON bytes.
func reparseWireLensSource(v interface{}) (wireLensSource, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return wireLensSource{}, err
	}
	var w wireLensSource
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return wireLensSource{}, err
	}
	return w, nil
}

// Block is one unit of engine history.
type Block struct {
	Schema string         `json:"schema"`
	Lenses []LensReg      `json:"lenses"`
	Change backend.Change `json:"change"`
	Actor  string         `json:"actor"`
	Seq    uint64         `json:"seq"`
}

// New builds a Block, mirroring change's actor/seq at the top level for
// cheap indexing.
func New(schemaName string, lenses []LensReg, change backend.Change) Block {
	return Block{Schema: schemaName, Lenses: lenses, Change: change, Actor: change.Actor, Seq: change.Seq}
}

// ID returns the (actor, seq) pair a block is deduplicated by.
func (b Block) ID() (actor string, seq uint64) { return b.Actor, b.Seq }

// Marshal encodes a block to its wire form.
func Marshal(b Block) ([]byte, error) {
	out, err := sonic.Marshal(b)
	if err != nil {
		return nil, lmerr.Wrap("block.Marshal", err)
	}
	return out, nil
}

// Unmarshal decodes a block from its wire form.
func Unmarshal(data []byte) (Block, error) {
	var b Block
	if err := sonic.Unmarshal(data, &b); err != nil {
		return Block{}, lmerr.Wrap("block.Unmarshal", err)
	}
	return b, nil
}
