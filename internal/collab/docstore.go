package collab

import (
	"context"
	"errors"
	"log"
	"sync"

	"formloom/api/internal/crdt"
	"formloom/api/internal/store"
)

// StateStore is the byte-persistence port for replicated document state. The
// engine deliberately does not distinguish a form that has never been
// persisted from a failed read: Fetch reports both as absent, and a fresh
// document is built either way. Store returns its error so that callers can
// choose between surfacing it (explicit initialization) and logging it
// (debounced flush).
type StateStore interface {
	Fetch(ctx context.Context, formID string) ([]byte, bool)
	Store(ctx context.Context, formID string, state []byte) error
}

// TableFunc derives the storage location for a form's state from its ID. It
// must be a pure function.
type TableFunc func(formID string) string

// PGStateStore adapts the Postgres store to the StateStore port.
type PGStateStore struct {
	store    *store.PostgresStore
	tableFor TableFunc
}

func NewPGStateStore(pg *store.PostgresStore, tableFor TableFunc) *PGStateStore {
	if tableFor == nil {
		tableFor = func(string) string { return store.DefaultStateTable }
	}
	return &PGStateStore{store: pg, tableFor: tableFor}
}

func (s *PGStateStore) Fetch(ctx context.Context, formID string) ([]byte, bool) {
	state, err := s.store.FetchFormState(ctx, formID, s.tableFor)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("collab: fetch state for %s: %v", formID, err)
		}
		return nil, false
	}
	return state, true
}

func (s *PGStateStore) Store(ctx context.Context, formID string, state []byte) error {
	return s.store.StoreFormState(ctx, formID, state, s.tableFor)
}

// Registry owns the live replicated documents, one per form, created lazily
// on first connection from persisted bytes when any exist.
type Registry struct {
	mu    sync.Mutex
	docs  map[string]*docEntry
	state StateStore
	actor string
}

// docEntry guards the one-time load of a form's document so that the
// registry mutex is never held across storage I/O. A slow fetch for one
// form must not block connections to any other form.
type docEntry struct {
	once sync.Once
	doc  *crdt.Doc
}

func NewRegistry(state StateStore) *Registry {
	return &Registry{
		docs:  make(map[string]*docEntry),
		state: state,
		actor: "server",
	}
}

// Load returns the live document for a form, creating it from persisted
// state on first use. A corrupt or missing persisted state yields an empty
// document; projection of that document returns nil and consumers fall back
// to the last persisted canonical schema.
func (r *Registry) Load(ctx context.Context, formID string) *crdt.Doc {
	r.mu.Lock()
	entry, ok := r.docs[formID]
	if !ok {
		entry = &docEntry{}
		r.docs[formID] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		doc := crdt.NewDoc(r.actor)
		if state, ok := r.state.Fetch(ctx, formID); ok {
			if err := doc.DecodeState(state); err != nil {
				log.Printf("collab: decode persisted state for %s: %v", formID, err)
				doc = crdt.NewDoc(r.actor)
			}
		}
		// Published under the registry mutex so Peek never observes a
		// half-initialized entry.
		r.mu.Lock()
		entry.doc = doc
		r.mu.Unlock()
	})
	return entry.doc
}

// Peek returns the live document only if one is already fully loaded.
func (r *Registry) Peek(formID string) (*crdt.Doc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.docs[formID]
	if !ok || entry.doc == nil {
		return nil, false
	}
	return entry.doc, true
}

// Evict drops the live document, e.g. when the last connection leaves. The
// next Load rebuilds it from persisted bytes.
func (r *Registry) Evict(formID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, formID)
}
