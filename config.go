// Package lensmerge provides the history-replaying engine: the top-level
// object a peer constructs to read and write one schema's view of a
// shared document while exchanging changes with peers on other schemas,
// translating on the fly via the lens graph.
//
// NewEngine(schema) returns a *EngineBuilder, configured via With...
// calls, finished with Build().
package lensmerge

import (
	"io"
	"log/slog"
	"os"

	"github.com/latticedoc/lensmerge/internal/lmlog"
	"github.com/latticedoc/lensmerge/internal/shadow"
	"github.com/latticedoc/lensmerge/pkg/backend"
	"github.com/latticedoc/lensmerge/pkg/backend/memdoc"
	"github.com/latticedoc/lensmerge/pkg/block"
	"github.com/latticedoc/lensmerge/pkg/lmerr"
	"github.com/latticedoc/lensmerge/pkg/schema"
)

// EngineBuilder accumulates construction options for an Engine.
type EngineBuilder struct {
	schemaName string
	graph      *schema.Graph
	backend    backend.Backend
	lenses     []block.LensReg
	logWriter  io.Writer
	logHandler slog.Handler
	logLevel   string
	logFormat  string
	buildErr   error
}

// NewEngine begins building an Engine reading/writing schemaName.
func NewEngine(schemaName string) *EngineBuilder {
	return &EngineBuilder{
		schemaName: schemaName,
		logWriter:  os.Stderr,
		logFormat:  string(lmlog.FormatLogfmt),
		logLevel:   "info",
	}
}

// WithGraph sets the lens graph the engine composes translations from. Must
// already contain schemaName, reachable from schema.Mu, before Build.
func (b *EngineBuilder) WithGraph(g *schema.Graph) *EngineBuilder {
	b.graph = g
	return b
}

// WithBackend sets the CRDT backend. Defaults to an in-memory
// memdoc.Backend if not set.
func (b *EngineBuilder) WithBackend(bk backend.Backend) *EngineBuilder {
	b.backend = bk
	return b
}

// WithLenses sets the full lens registration list this engine attaches to
// its first outgoing block while its own schema's lenses aren't yet
// published in the document.
func (b *EngineBuilder) WithLenses(lenses []block.LensReg) *EngineBuilder {
	b.lenses = lenses
	return b
}

// WithLogHandler sets a specific slog.Handler, overriding WithLogLevel/
// WithLogFormat.
func (b *EngineBuilder) WithLogHandler(h slog.Handler) *EngineBuilder {
	b.logHandler = h
	return b
}

// WithLogWriter sets where the default handler writes (ignored if
// WithLogHandler is also used). Defaults to os.Stderr.
func (b *EngineBuilder) WithLogWriter(w io.Writer) *EngineBuilder {
	b.logWriter = w
	return b
}

// WithLogLevel sets the default handler's level ("debug", "info", "warn",
// "error"). Defaults to "info".
func (b *EngineBuilder) WithLogLevel(level string) *EngineBuilder {
	b.logLevel = level
	return b
}

// WithLogFormat sets the default handler's encoding ("json" or "logfmt").
// Defaults to "logfmt".
func (b *EngineBuilder) WithLogFormat(format string) *EngineBuilder {
	b.logFormat = format
	return b
}

// Build validates the configuration and constructs the Engine, asserting
// a lens path exists from mu to the engine's schema.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	if b.schemaName == "" {
		return nil, &lmerr.ConstructionError{Op: "Build", Msg: "schema name is required"}
	}
	g := b.graph
	if g == nil {
		g = schema.NewGraph()
	}
	if !g.Has(b.schemaName) {
		return nil, &lmerr.ConstructionError{Op: "Build", Msg: "unknown schema " + b.schemaName}
	}
	if _, err := g.Compose(schema.Mu, b.schemaName); err != nil {
		return nil, lmerr.Wrap("Build", err)
	}

	bk := b.backend
	if bk == nil {
		bk = memdoc.NewBackend()
	}

	var handler slog.Handler
	if b.logHandler != nil {
		handler = b.logHandler
	} else {
		h, err := lmlog.CreateHandlerWithStrings(b.logWriter, b.logLevel, b.logFormat)
		if err != nil {
			return nil, lmerr.Wrap("Build", err)
		}
		handler = h
	}

	e := &Engine{
		schemaName: b.schemaName,
		graph:      g,
		backend:    bk,
		lenses:     append([]block.LensReg(nil), b.lenses...),
		shadows:    map[string]*shadow.Instance{},
		inDoc:      map[string]bool{},
		log:        slog.New(handler),
	}
	e.ensureShadow(b.schemaName)
	return e, nil
}
