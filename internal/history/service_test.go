package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"formloom/api/internal/schema"
)

func sampleSnapshot(title string) *schema.Schema {
	return &schema.Schema{
		Pages: []schema.Page{
			{
				ID:    "page-1",
				Title: title,
				Fields: []schema.Field{
					schema.RichTextField{ID: "fld-1", Content: "Welcome"},
					schema.InputField{ID: "fld-2", Kind: schema.FieldTypeEmail, Label: "Email"},
				},
			},
		},
		Layout: schema.DefaultLayout(),
	}
}

func TestFormRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureFormRepo("form-1", sampleSnapshot("Intro"), "Avery"); err != nil {
		t.Fatalf("EnsureFormRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "form-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	commit, err := svc.CommitSnapshot("form-1", sampleSnapshot("Intro v2"), "Avery", "Publish v2")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	entries, err := svc.History("form-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Message, "Publish v2") {
		t.Fatalf("unexpected head message %q", entries[0].Message)
	}

	snap, err := svc.SnapshotByHash("form-1", commit.Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash() error = %v", err)
	}
	if snap.Pages[0].Title != "Intro v2" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEnsureFormRepoIsIdempotent(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureFormRepo("form-1", sampleSnapshot("Intro"), "Avery"); err != nil {
		t.Fatalf("EnsureFormRepo() error = %v", err)
	}
	if err := svc.EnsureFormRepo("form-1", sampleSnapshot("Other"), "Avery"); err != nil {
		t.Fatalf("EnsureFormRepo() second call error = %v", err)
	}

	snap, _, err := svc.HeadSnapshot("form-1")
	if err != nil {
		t.Fatalf("HeadSnapshot() error = %v", err)
	}
	if snap.Pages[0].Title != "Intro" {
		t.Fatalf("baseline overwritten: %+v", snap)
	}
}

func TestSnapshotRoundTripPreservesFieldVariants(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	min := 1.0
	max := 10.0
	snap := &schema.Schema{
		Pages: []schema.Page{
			{
				ID:    "page-1",
				Title: "Survey",
				Fields: []schema.Field{
					schema.InputField{ID: "fld-n", Kind: schema.FieldTypeNumber, Label: "Age", Min: &min, Max: &max},
					schema.ChoiceField{ID: "fld-c", Kind: schema.FieldTypeCheckbox, Label: "Topics", Options: []string{"Go", "Rust"}, Multiple: true},
				},
			},
		},
		Layout:        schema.DefaultLayout(),
		ShuffleFields: true,
	}

	if err := svc.EnsureFormRepo("form-1", snap, "Avery"); err != nil {
		t.Fatalf("EnsureFormRepo() error = %v", err)
	}

	got, _, err := svc.HeadSnapshot("form-1")
	if err != nil {
		t.Fatalf("HeadSnapshot() error = %v", err)
	}
	if !got.ShuffleFields {
		t.Fatal("shuffle flag lost")
	}
	num, ok := got.Pages[0].Fields[0].(schema.InputField)
	if !ok || num.Min == nil || *num.Min != 1.0 || *num.Max != 10.0 {
		t.Fatalf("number field mangled: %+v", got.Pages[0].Fields[0])
	}
	choice, ok := got.Pages[0].Fields[1].(schema.ChoiceField)
	if !ok || !choice.Multiple || len(choice.Options) != 2 {
		t.Fatalf("choice field mangled: %+v", got.Pages[0].Fields[1])
	}
}

func TestConcurrentSnapshotsSameForm(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureFormRepo("form-1", sampleSnapshot("Intro"), "Avery"); err != nil {
		t.Fatalf("EnsureFormRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if _, err := svc.CommitSnapshot("form-1", sampleSnapshot(fmt.Sprintf("rev-%02d", idx)), "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	entries, err := svc.History("form-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) < writers+1 {
		t.Fatalf("expected at least %d commits, got %d", writers+1, len(entries))
	}

	head, _, err := svc.HeadSnapshot("form-1")
	if err != nil {
		t.Fatalf("HeadSnapshot() error = %v", err)
	}
	if !strings.HasPrefix(head.Pages[0].Title, "rev-") {
		t.Fatalf("unexpected head after concurrent commits: %+v", head)
	}
}
