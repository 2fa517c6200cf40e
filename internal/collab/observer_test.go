package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"formloom/api/internal/access"
	"formloom/api/internal/crdt"
	"formloom/api/internal/schema"
)

type recordingUpdater struct {
	mu    sync.Mutex
	calls []string
	stats schema.Stats
	err   error
}

func (r *recordingUpdater) UpdateMetadata(_ context.Context, formID string, stats schema.Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, formID)
	r.stats = stats
	return r.err
}

func (r *recordingUpdater) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string][]byte
	stores int
	failOn error
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string][]byte)}
}

func (m *memoryStateStore) Fetch(_ context.Context, formID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[formID]
	return state, ok
}

func (m *memoryStateStore) Store(_ context.Context, formID string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	m.states[formID] = state
	m.stores++
	return nil
}

func (m *memoryStateStore) storeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores
}

func editedDoc(t *testing.T) *crdt.Doc {
	t.Helper()
	doc := crdt.NewDoc("server")
	schema.Initialize(doc, schema.Schema{Pages: []schema.Page{{
		ID:     "p1",
		Fields: []schema.Field{schema.RichTextField{ID: "f1", Content: "<p>Hi</p>"}},
	}}})
	return doc
}

func editorConn(formID string) Connection {
	return Connection{UserID: "alice", Email: "a@example.com", Permission: access.Editor, FormID: formID}
}

func viewerConn(formID string) Connection {
	return Connection{UserID: "bob", Email: "b@example.com", Permission: access.Viewer, FormID: formID}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestViewerChangesNeverProject(t *testing.T) {
	meta := &recordingUpdater{}
	observer := NewObserver(5*time.Millisecond, meta, newMemoryStateStore())

	doc := editedDoc(t)
	observer.DocumentChanged("form-1", doc, viewerConn("form-1"))

	time.Sleep(30 * time.Millisecond)
	if got := meta.callCount(); got != 0 {
		t.Fatalf("viewer change produced %d metadata updates, want 0", got)
	}
}

func TestDebounceCoalescesChanges(t *testing.T) {
	meta := &recordingUpdater{}
	state := newMemoryStateStore()
	observer := NewObserver(20*time.Millisecond, meta, state)

	doc := editedDoc(t)
	for i := 0; i < 5; i++ {
		observer.DocumentChanged("form-1", doc, editorConn("form-1"))
		time.Sleep(2 * time.Millisecond)
	}

	if !waitFor(t, time.Second, func() bool { return meta.callCount() >= 1 }) {
		t.Fatal("debounce never fired")
	}
	// Give a stray second timer a chance to fire before counting.
	time.Sleep(50 * time.Millisecond)
	if got := meta.callCount(); got != 1 {
		t.Fatalf("5 changes inside the window produced %d metadata updates, want 1", got)
	}
	if state.storeCount() != 1 {
		t.Fatalf("state stored %d times, want 1", state.storeCount())
	}
	if meta.stats.PageCount != 1 || meta.stats.FieldCount != 1 {
		t.Fatalf("projected stats = %+v", meta.stats)
	}
}

func TestDebounceTimersPerFormAreIndependent(t *testing.T) {
	meta := &recordingUpdater{}
	observer := NewObserver(10*time.Millisecond, meta, newMemoryStateStore())

	docA := editedDoc(t)
	docB := editedDoc(t)
	observer.DocumentChanged("form-a", docA, editorConn("form-a"))
	observer.DocumentChanged("form-b", docB, editorConn("form-b"))

	if !waitFor(t, time.Second, func() bool { return meta.callCount() == 2 }) {
		t.Fatalf("expected 2 metadata updates, got %d", meta.callCount())
	}
}

func TestMetadataFailureDoesNotBlockStateFlush(t *testing.T) {
	meta := &recordingUpdater{err: errors.New("index down")}
	state := newMemoryStateStore()
	observer := NewObserver(5*time.Millisecond, meta, state)

	observer.DocumentChanged("form-1", editedDoc(t), editorConn("form-1"))

	if !waitFor(t, time.Second, func() bool { return state.storeCount() == 1 }) {
		t.Fatal("state flush never happened after metadata failure")
	}
}

func TestFlushFiresPendingTimerImmediately(t *testing.T) {
	meta := &recordingUpdater{}
	observer := NewObserver(time.Hour, meta, newMemoryStateStore())

	doc := editedDoc(t)
	observer.DocumentChanged("form-1", doc, editorConn("form-1"))
	observer.Flush("form-1", doc)

	if got := meta.callCount(); got != 1 {
		t.Fatalf("flush produced %d metadata updates, want 1", got)
	}

	// No pending timer means Flush is a no-op.
	observer.Flush("form-1", doc)
	if got := meta.callCount(); got != 1 {
		t.Fatalf("idle flush produced extra update (%d total)", got)
	}
}
