package crdt

import (
	"reflect"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	doc := NewDoc("actor-a")
	doc.Put("form", map[string]any{
		"title": "Survey",
		"pages": []any{
			map[string]any{"id": "p1", "order": 0},
		},
		"isShuffleEnabled": true,
	})

	got, ok := doc.Get("form")
	if !ok {
		t.Fatal("expected form key to exist")
	}
	want := map[string]any{
		"title": "Survey",
		"pages": []any{
			map[string]any{"id": "p1", "order": float64(0)},
		},
		"isShuffleEnabled": true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("materialized = %#v, want %#v", got, want)
	}
}

func TestGetMissingKey(t *testing.T) {
	doc := NewDoc("actor-a")
	if _, ok := doc.Get("form"); ok {
		t.Fatal("expected missing key")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := NewDoc("actor-a")
	doc.Put("form", map[string]any{
		"pages":  []any{map[string]any{"id": "p1", "title": "Intro"}},
		"layout": map[string]any{"theme": "dark"},
	})

	state, err := doc.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}

	restored := NewDoc("actor-b")
	if err := restored.DecodeState(state); err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}

	want, _ := doc.Get("form")
	got, ok := restored.Get("form")
	if !ok {
		t.Fatal("restored doc missing form key")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("restored = %#v, want %#v", got, want)
	}

	// Second encode of the restored doc must be byte-stable content-wise.
	state2, err := restored.EncodeState()
	if err != nil {
		t.Fatalf("second EncodeState failed: %v", err)
	}
	roundTwice := NewDoc("actor-c")
	if err := roundTwice.DecodeState(state2); err != nil {
		t.Fatalf("second DecodeState failed: %v", err)
	}
	got2, _ := roundTwice.Get("form")
	if !reflect.DeepEqual(got2, want) {
		t.Fatalf("double round-trip = %#v, want %#v", got2, want)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	doc := NewDoc("actor-a")
	if err := doc.DecodeState([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed state")
	}
	if err := doc.DecodeState([]byte(`{"v":99,"root":null}`)); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestMergeConvergesRegardlessOfOrder(t *testing.T) {
	a := NewDoc("actor-a")
	b := NewDoc("actor-b")
	a.Put("form", map[string]any{"title": "From A"})
	b.Put("fallback", map[string]any{"note": "from B"})
	b.Put("form", map[string]any{"title": "From B"})

	stateA, _ := a.EncodeState()
	stateB, _ := b.EncodeState()

	if _, err := a.ApplyUpdate(stateB, "actor-b"); err != nil {
		t.Fatalf("a.ApplyUpdate failed: %v", err)
	}
	if _, err := b.ApplyUpdate(stateA, "actor-a"); err != nil {
		t.Fatalf("b.ApplyUpdate failed: %v", err)
	}

	gotA, _ := a.Get("form")
	gotB, _ := b.Get("form")
	if !reflect.DeepEqual(gotA, gotB) {
		t.Fatalf("replicas diverged: %#v vs %#v", gotA, gotB)
	}
	gotFallbackA, okA := a.Get("fallback")
	gotFallbackB, _ := b.Get("fallback")
	if !okA || !reflect.DeepEqual(gotFallbackA, gotFallbackB) {
		t.Fatalf("fallback key diverged: %#v vs %#v", gotFallbackA, gotFallbackB)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	a := NewDoc("actor-a")
	a.Put("form", map[string]any{"title": "Once"})

	b := NewDoc("actor-b")
	state, _ := a.EncodeState()
	if changed, err := b.ApplyUpdate(state, "actor-a"); err != nil || !changed {
		t.Fatalf("first apply: changed=%v err=%v", changed, err)
	}
	if changed, err := b.ApplyUpdate(state, "actor-a"); err != nil || changed {
		t.Fatalf("second apply should be a no-op: changed=%v err=%v", changed, err)
	}
}

func TestKeyedListMergesElementEdits(t *testing.T) {
	a := NewDoc("actor-a")
	a.Put("form", map[string]any{
		"pages": []any{
			map[string]any{"id": "p1", "title": "One"},
			map[string]any{"id": "p2", "title": "Two"},
		},
	})
	state, _ := a.EncodeState()

	b := NewDoc("actor-b")
	if _, err := b.ApplyUpdate(state, "actor-a"); err != nil {
		t.Fatalf("seed apply failed: %v", err)
	}

	// b reorders pages while a renames one; both replicas must agree on the
	// winner after exchanging states.
	b.Put("form", map[string]any{
		"pages": []any{
			map[string]any{"id": "p2", "title": "Two"},
			map[string]any{"id": "p1", "title": "One"},
		},
	})
	a.Put("form", map[string]any{
		"pages": []any{
			map[string]any{"id": "p1", "title": "One (renamed)"},
			map[string]any{"id": "p2", "title": "Two"},
		},
	})

	stateA, _ := a.EncodeState()
	stateB, _ := b.EncodeState()
	if _, err := a.ApplyUpdate(stateB, "actor-b"); err != nil {
		t.Fatalf("a merge failed: %v", err)
	}
	if _, err := b.ApplyUpdate(stateA, "actor-a"); err != nil {
		t.Fatalf("b merge failed: %v", err)
	}

	gotA, _ := a.Get("form")
	gotB, _ := b.Get("form")
	if !reflect.DeepEqual(gotA, gotB) {
		t.Fatalf("replicas diverged: %#v vs %#v", gotA, gotB)
	}
}

func TestOnUpdateReportsOrigin(t *testing.T) {
	doc := NewDoc("actor-a")
	var actors []string
	doc.OnUpdate(func(ev UpdateEvent) {
		actors = append(actors, ev.Actor)
	})

	doc.Put("form", map[string]any{"title": "Local"})

	other := NewDoc("actor-b")
	other.Put("form", map[string]any{"title": "Remote"})
	state, _ := other.EncodeState()
	if _, err := doc.ApplyUpdate(state, "actor-b"); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	want := []string{"actor-a", "actor-b"}
	if !reflect.DeepEqual(actors, want) {
		t.Fatalf("actors = %v, want %v", actors, want)
	}
}
