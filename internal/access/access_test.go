package access

import (
	"context"
	"errors"
	"testing"
)

func TestAtLeast(t *testing.T) {
	cases := []struct {
		name  string
		p     Permission
		min   Permission
		allow bool
	}{
		{name: "viewer at least viewer", p: Viewer, min: Viewer, allow: true},
		{name: "viewer not editor", p: Viewer, min: Editor, allow: false},
		{name: "editor at least viewer", p: Editor, min: Viewer, allow: true},
		{name: "owner at least editor", p: Owner, min: Editor, allow: true},
		{name: "no access below viewer", p: NoAccess, min: Viewer, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.AtLeast(tc.min); got != tc.allow {
				t.Fatalf("%q.AtLeast(%q) = %v, want %v", tc.p, tc.min, got, tc.allow)
			}
		})
	}
}

func TestCanWrite(t *testing.T) {
	if Viewer.CanWrite() {
		t.Fatal("viewer must not write")
	}
	if !Editor.CanWrite() || !Owner.CanWrite() {
		t.Fatal("editor and owner must write")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("editor"); got != Editor {
		t.Fatalf("Normalize(editor) = %q", got)
	}
	if got := Normalize("superuser"); got != NoAccess {
		t.Fatalf("Normalize(superuser) = %q, want no access", got)
	}
	if got := Normalize(""); got != NoAccess {
		t.Fatalf("Normalize(empty) = %q, want no access", got)
	}
}

type fakeMemberships struct {
	roles map[string]string
	err   error
}

func (f *fakeMemberships) GetFormMemberRole(_ context.Context, formID, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.roles[formID+"/"+userID], nil
}

func TestCheckAccess(t *testing.T) {
	checker := NewChecker(&fakeMemberships{roles: map[string]string{
		"form-1/alice": "owner",
		"form-1/bob":   "viewer",
	}})
	ctx := context.Background()

	decision, err := checker.CheckAccess(ctx, "alice", "form-1", Viewer)
	if err != nil {
		t.Fatalf("CheckAccess failed: %v", err)
	}
	if !decision.HasAccess || decision.Permission != Owner || decision.FormID != "form-1" {
		t.Fatalf("unexpected decision %+v", decision)
	}

	decision, err = checker.CheckAccess(ctx, "bob", "form-1", Editor)
	if err != nil {
		t.Fatalf("CheckAccess failed: %v", err)
	}
	if decision.HasAccess {
		t.Fatalf("viewer granted editor access: %+v", decision)
	}

	decision, err = checker.CheckAccess(ctx, "mallory", "form-1", Viewer)
	if err != nil {
		t.Fatalf("CheckAccess failed: %v", err)
	}
	if decision.HasAccess || decision.Permission != NoAccess {
		t.Fatalf("non-member granted access: %+v", decision)
	}
}

func TestCheckAccessPropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	checker := NewChecker(&fakeMemberships{err: boom})
	if _, err := checker.CheckAccess(context.Background(), "alice", "form-1", Viewer); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
