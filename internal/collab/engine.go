package collab

import (
	"context"
	"fmt"
	"log"

	"formloom/api/internal/crdt"
	"formloom/api/internal/schema"
)

// Engine wires the gate, the live-document registry, the change observer and
// the byte store into the collaboration core.
type Engine struct {
	gate     *Gate
	registry *Registry
	observer *Observer
	state    StateStore
}

func NewEngine(gate *Gate, registry *Registry, observer *Observer, state StateStore) *Engine {
	return &Engine{gate: gate, registry: registry, observer: observer, state: state}
}

// Connect authenticates a new connection and returns it together with the
// form's live document, loading persisted state on first use.
func (e *Engine) Connect(ctx context.Context, formID string, params ConnectParams) (Connection, *crdt.Doc, error) {
	conn, err := e.gate.Authenticate(ctx, formID, params)
	if err != nil {
		return Connection{}, nil, err
	}
	return conn, e.registry.Load(ctx, formID), nil
}

// ApplyClientUpdate merges a client's encoded update into the live document
// and reports the mutation to the observer. Updates from read-only
// connections are rejected before they touch the document, so a viewer's
// edit can never reach the shared state or ride along with a later flush.
// The returned flag tells the transport whether anything changed and is
// worth rebroadcasting.
func (e *Engine) ApplyClientUpdate(formID string, doc *crdt.Doc, update []byte, conn Connection) (bool, error) {
	if !conn.Permission.CanWrite() {
		return false, fmt.Errorf("update from %s on form %s: %w", conn.UserID, formID, ErrWriteDenied)
	}
	changed, err := doc.ApplyUpdate(update, conn.UserID)
	if err != nil {
		return false, fmt.Errorf("apply client update: %w", err)
	}
	if changed {
		e.observer.DocumentChanged(formID, doc, conn)
	}
	return changed, nil
}

// InitializeForm builds the replicated structure from a canonical schema
// (template instantiation) and persists it immediately. Unlike the debounced
// flush, a persistence failure here surfaces to the caller.
func (e *Engine) InitializeForm(ctx context.Context, formID string, s schema.Schema) error {
	doc := e.registry.Load(ctx, formID)
	schema.Initialize(doc, s)

	state, err := doc.EncodeState()
	if err != nil {
		return fmt.Errorf("encode initialized form: %w", err)
	}
	if err := e.state.Store(ctx, formID, state); err != nil {
		return fmt.Errorf("persist initialized form: %w", err)
	}
	return nil
}

// CurrentSchema projects the live document into the canonical schema. It
// returns nil when the document holds no form structure; consumers must then
// fall back to the last persisted canonical schema.
func (e *Engine) CurrentSchema(ctx context.Context, formID string) *schema.Schema {
	return schema.Project(e.registry.Load(ctx, formID))
}

// CurrentStats reduces the live document to its metadata summary.
func (e *Engine) CurrentStats(ctx context.Context, formID string) (schema.Stats, bool) {
	return schema.Summarize(e.registry.Load(ctx, formID))
}

// ReleaseForm flushes any pending projection and evicts the live document.
// Called by the transport when the last session on a form disconnects.
func (e *Engine) ReleaseForm(formID string) {
	doc, ok := e.registry.Peek(formID)
	if !ok {
		return
	}
	e.observer.Flush(formID, doc)
	e.registry.Evict(formID)
	log.Printf("collab: released form %s", formID)
}
