package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"formloom/api/internal/crdt"
	"formloom/api/internal/schema"
)

// MetadataUpdater persists the metadata summary of a form. It may fail; the
// observer catches and logs, it never lets the failure reach the session.
type MetadataUpdater interface {
	UpdateMetadata(ctx context.Context, formID string, stats schema.Stats) error
}

// MetadataFunc adapts a function to MetadataUpdater. It lets the composition
// root close over a service that is constructed after the observer.
type MetadataFunc func(ctx context.Context, formID string, stats schema.Stats) error

func (f MetadataFunc) UpdateMetadata(ctx context.Context, formID string, stats schema.Stats) error {
	return f(ctx, formID, stats)
}

// DefaultDebounce is the quiet period after the last qualifying change
// before the metadata projection and state flush fire.
const DefaultDebounce = time.Second

// Observer watches document mutation events. Events from viewers are
// discarded; qualifying events (re)arm a per-form debounce timer, so exactly
// one projection fires per quiet period however many changes occurred.
type Observer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	window time.Duration
	meta   MetadataUpdater
	state  StateStore
}

func NewObserver(window time.Duration, meta MetadataUpdater, state StateStore) *Observer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Observer{
		timers: make(map[string]*time.Timer),
		window: window,
		meta:   meta,
		state:  state,
	}
}

// DocumentChanged handles one mutation event on a form's live document.
func (o *Observer) DocumentChanged(formID string, doc *crdt.Doc, conn Connection) {
	if !conn.Permission.CanWrite() {
		log.Printf("collab: dropping change to %s from %s: permission %s cannot write", formID, conn.UserID, conn.Permission)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Coalescing, not queuing: a newer qualifying change replaces the
	// pending timer for this form. Timers for other forms are independent.
	if timer, ok := o.timers[formID]; ok {
		timer.Stop()
	}
	o.timers[formID] = time.AfterFunc(o.window, func() {
		o.fire(formID, doc)
	})
}

func (o *Observer) fire(formID string, doc *crdt.Doc) {
	o.mu.Lock()
	delete(o.timers, formID)
	o.mu.Unlock()

	ctx := context.Background()

	if stats, ok := schema.Summarize(doc); ok {
		if err := o.meta.UpdateMetadata(ctx, formID, stats); err != nil {
			log.Printf("collab: update metadata for %s: %v", formID, err)
		}
	}

	state, err := doc.EncodeState()
	if err != nil {
		log.Printf("collab: encode state for %s: %v", formID, err)
		return
	}
	if err := o.state.Store(ctx, formID, state); err != nil {
		log.Printf("collab: persist state for %s: %v", formID, err)
	}
}

// Flush cancels any pending timer for the form and runs the projection
// immediately. Used on shutdown and when the last session leaves a form.
func (o *Observer) Flush(formID string, doc *crdt.Doc) {
	o.mu.Lock()
	timer, ok := o.timers[formID]
	if ok {
		timer.Stop()
		delete(o.timers, formID)
	}
	o.mu.Unlock()

	if ok {
		o.fire(formID, doc)
	}
}
