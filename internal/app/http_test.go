package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"formloom/api/internal/access"
	"formloom/api/internal/collab"
	"formloom/api/internal/history"
	"formloom/api/internal/schema"
	"formloom/api/internal/session"
	"formloom/api/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	byEmail   map[string]string
	forms     map[string]store.Form
	members   map[string]string // formID/userID -> role
	canonical map[string][]byte
	stats     map[string]store.FormStats
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]store.User),
		byEmail:   make(map[string]string),
		forms:     make(map[string]store.Form),
		members:   make(map[string]string),
		canonical: make(map[string][]byte),
		stats:     make(map[string]store.FormStats),
	}
}

func memberKey(formID, userID string) string { return formID + "/" + userID }

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) CreateForm(ctx context.Context, form store.Form) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	form.CreatedAt = time.Now()
	form.UpdatedAt = form.CreatedAt
	f.forms[form.ID] = form
	return nil
}

func (f *fakeStore) GetForm(ctx context.Context, formID string) (store.Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[formID]
	if !ok {
		return store.Form{}, store.ErrNotFound
	}
	return form, nil
}

func (f *fakeStore) ListFormsForUser(ctx context.Context, userID string) ([]store.Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var forms []store.Form
	for id, form := range f.forms {
		if f.members[memberKey(id, userID)] != "" {
			forms = append(forms, form)
		}
	}
	return forms, nil
}

func (f *fakeStore) TouchForm(ctx context.Context, formID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[formID]
	if !ok {
		return store.ErrNotFound
	}
	form.UpdatedAt = at
	f.forms[formID] = form
	return nil
}

func (f *fakeStore) AddFormMember(ctx context.Context, formID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[memberKey(formID, userID)] = role
	return nil
}

func (f *fakeStore) GetFormMemberRole(ctx context.Context, formID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[memberKey(formID, userID)], nil
}

func (f *fakeStore) SaveCanonicalSchema(ctx context.Context, formID string, schemaJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canonical[formID] = schemaJSON
	return nil
}

func (f *fakeStore) GetCanonicalSchema(ctx context.Context, formID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.canonical[formID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return raw, nil
}

func (f *fakeStore) UpdateFormStats(ctx context.Context, formID string, pageCount, fieldCount int, backgroundImage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[formID] = store.FormStats{
		FormID:          formID,
		PageCount:       pageCount,
		FieldCount:      fieldCount,
		BackgroundImage: backgroundImage,
	}
	return nil
}

type memStateStore struct {
	mu     sync.Mutex
	states map[string][]byte
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string][]byte)}
}

func (m *memStateStore) Fetch(ctx context.Context, formID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[formID]
	return state, ok
}

func (m *memStateStore) Store(ctx context.Context, formID string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[formID] = state
	return nil
}

func newTestServer(t *testing.T) (*HTTPServer, *fakeStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := session.NewRedisStoreWithClient(client)

	fs := newFakeStore()
	state := newMemStateStore()
	checker := access.NewChecker(fs)
	gate := collab.NewGate(sessions, checker)
	registry := collab.NewRegistry(state)

	var svc *Service
	observer := collab.NewObserver(10*time.Millisecond, collab.MetadataFunc(func(ctx context.Context, formID string, stats schema.Stats) error {
		return svc.UpdateMetadata(ctx, formID, stats)
	}), state)
	engine := collab.NewEngine(gate, registry, observer, state)

	svc = NewService(Deps{
		Store:       fs,
		Sessions:    sessions,
		Engine:      engine,
		History:     history.New(t.TempDir()),
		TokenSecret: "test-secret",
		SessionTTL:  time.Hour,
	})

	return NewHTTPServer(svc, collab.NewHub(engine), "*"), fs
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if len(rr.Body.Bytes()) > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	}
	return rr, payload
}

func signUp(t *testing.T, server *HTTPServer, email string) string {
	t.Helper()
	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":       email,
		"password":    "correct-horse",
		"displayName": "Test User",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rr.Code, rr.Body.String())
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("signup returned no token")
	}
	return token
}

func createForm(t *testing.T, server *HTTPServer, token, title, template string) string {
	t.Helper()
	rr, payload := doJSON(t, server, http.MethodPost, "/api/forms", token, map[string]string{
		"title":    title,
		"template": template,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create form returned %d: %s", rr.Code, rr.Body.String())
	}
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatal("create form returned no id")
	}
	return id
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rr, payload := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	server, fs := newTestServer(t)

	rr, _ := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when healthy, got %d", rr.Code)
	}

	fs.pingErr = errors.New("connection refused")
	rr, payload := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if payload["ok"] != false {
		t.Fatalf("expected ok=false, got %v", payload["ok"])
	}
}

func TestSignUpSignInSignOutFlow(t *testing.T) {
	server, _ := newTestServer(t)
	token := signUp(t, server, "avery@example.com")

	rr, payload := doJSON(t, server, http.MethodGet, "/api/session", token, nil)
	if rr.Code != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "avery@example.com",
		"password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "avery@example.com",
		"password": "correct-horse",
	})
	if rr.Code != http.StatusOK || payload["token"] == "" {
		t.Fatalf("expected sign-in token, got %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/signout", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("signout returned %d", rr.Code)
	}
	rr, payload = doJSON(t, server, http.MethodGet, "/api/session", token, nil)
	if payload["authenticated"] != false {
		t.Fatalf("expected revoked session, got %v", payload)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	server, _ := newTestServer(t)
	rr, _ := doJSON(t, server, http.MethodGet, "/api/forms", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateFormFromTemplateAndReadSchema(t *testing.T) {
	server, fs := newTestServer(t)
	token := signUp(t, server, "avery@example.com")
	formID := createForm(t, server, token, "Contact", "contact")

	rr, payload := doJSON(t, server, http.MethodGet, "/api/forms/"+formID+"/schema", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get schema returned %d: %s", rr.Code, rr.Body.String())
	}
	raw, _ := json.Marshal(payload["schema"])
	var got schema.Schema
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(got.Pages) != 1 || len(got.Pages[0].Fields) != 4 {
		t.Fatalf("unexpected template projection: %+v", got)
	}

	if len(fs.canonical[formID]) == 0 {
		t.Fatal("canonical record not persisted on creation")
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/forms", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list forms returned %d", rr.Code)
	}
	forms, _ := payload["forms"].([]any)
	if len(forms) != 1 {
		t.Fatalf("expected 1 form, got %v", payload["forms"])
	}
}

func TestSchemaRequiresMembership(t *testing.T) {
	server, _ := newTestServer(t)
	owner := signUp(t, server, "owner@example.com")
	stranger := signUp(t, server, "stranger@example.com")
	formID := createForm(t, server, owner, "Private", "")

	rr, _ := doJSON(t, server, http.MethodGet, "/api/forms/"+formID+"/schema", stranger, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestSchemaFallsBackToCanonicalRecord(t *testing.T) {
	server, fs := newTestServer(t)
	token := signUp(t, server, "avery@example.com")

	// A form whose live document was never initialized.
	fs.forms["form-x"] = store.Form{ID: "form-x", Title: "Legacy"}
	var userID string
	for id := range fs.users {
		userID = id
	}
	fs.members[memberKey("form-x", userID)] = "viewer"

	canonical, _ := json.Marshal(schema.Schema{
		Pages:  []schema.Page{{ID: "page-legacy", Title: "Legacy page"}},
		Layout: schema.DefaultLayout(),
	})
	fs.canonical["form-x"] = canonical

	rr, payload := doJSON(t, server, http.MethodGet, "/api/forms/form-x/schema", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get schema returned %d", rr.Code)
	}
	raw, _ := json.Marshal(payload["schema"])
	var got schema.Schema
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(got.Pages) != 1 || got.Pages[0].Title != "Legacy page" {
		t.Fatalf("expected canonical record, got %+v", got)
	}

	// No canonical record either: consumers still get a renderable default.
	delete(fs.canonical, "form-x")
	rr, payload = doJSON(t, server, http.MethodGet, "/api/forms/form-x/schema", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get schema returned %d", rr.Code)
	}
	raw, _ = json.Marshal(payload["schema"])
	got = schema.Schema{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(got.Pages) != 1 || got.Pages[0].Title != schema.DefaultPageTitle {
		t.Fatalf("expected fallback schema, got %+v", got)
	}
}

func TestAddMemberRequiresOwner(t *testing.T) {
	server, _ := newTestServer(t)
	owner := signUp(t, server, "owner@example.com")
	editor := signUp(t, server, "editor@example.com")
	formID := createForm(t, server, owner, "Shared", "")

	rr, _ := doJSON(t, server, http.MethodPost, "/api/forms/"+formID+"/members", owner, map[string]string{
		"email": "editor@example.com",
		"role":  "editor",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("owner add member returned %d: %s", rr.Code, rr.Body.String())
	}

	// Editors can read but not manage membership.
	rr, _ = doJSON(t, server, http.MethodGet, "/api/forms/"+formID+"/schema", editor, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("editor schema read returned %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/forms/"+formID+"/members", editor, map[string]string{
		"email": "owner@example.com",
		"role":  "viewer",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("editor add member returned %d", rr.Code)
	}
}

func TestPublishAndHistory(t *testing.T) {
	server, _ := newTestServer(t)
	token := signUp(t, server, "avery@example.com")
	formID := createForm(t, server, token, "Survey", "survey")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/forms/"+formID+"/publish", token, map[string]string{
		"message": "First publish",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("publish returned %d: %s", rr.Code, rr.Body.String())
	}
	commit, _ := payload["commit"].(map[string]any)
	hash, _ := commit["hash"].(string)
	if hash == "" {
		t.Fatalf("publish returned no commit hash: %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/forms/"+formID+"/history", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history returned %d", rr.Code)
	}
	entries, _ := payload["history"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected baseline + publish, got %d entries", len(entries))
	}
}
