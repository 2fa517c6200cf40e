package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"formloom/api/internal/access"
	"formloom/api/internal/assets"
	"formloom/api/internal/auth"
	"formloom/api/internal/authpw"
	"formloom/api/internal/collab"
	"formloom/api/internal/export"
	"formloom/api/internal/history"
	"formloom/api/internal/schema"
	"formloom/api/internal/search"
	"formloom/api/internal/session"
	"formloom/api/internal/store"
	"formloom/api/internal/util"
)

// Store is the persistence surface the service consumes.
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateForm(ctx context.Context, form store.Form) error
	GetForm(ctx context.Context, formID string) (store.Form, error)
	ListFormsForUser(ctx context.Context, userID string) ([]store.Form, error)
	TouchForm(ctx context.Context, formID string, at time.Time) error
	AddFormMember(ctx context.Context, formID, userID, role string) error
	GetFormMemberRole(ctx context.Context, formID, userID string) (string, error)
	SaveCanonicalSchema(ctx context.Context, formID string, schemaJSON []byte) error
	GetCanonicalSchema(ctx context.Context, formID string) ([]byte, error)
	UpdateFormStats(ctx context.Context, formID string, pageCount, fieldCount int, backgroundImage string) error
}

// Service owns the application use cases behind the HTTP surface: accounts
// and sessions, form lifecycle, schema reads, exports and memberships.
type Service struct {
	store    Store
	sessions *session.RedisStore
	accounts *authpw.Service
	checker  *access.Checker
	engine   *collab.Engine
	history  *history.Service
	search   *search.Service
	exporter *export.Service
	assets   *assets.Service

	tokenSecret []byte
	sessionTTL  time.Duration
}

// Deps bundles the service dependencies. Assets may be nil when object
// storage is not configured.
type Deps struct {
	Store       Store
	Sessions    *session.RedisStore
	Engine      *collab.Engine
	History     *history.Service
	Search      *search.Service
	Assets      *assets.Service
	TokenSecret string
	SessionTTL  time.Duration
}

func NewService(deps Deps) *Service {
	s := &Service{
		store:       deps.Store,
		sessions:    deps.Sessions,
		accounts:    authpw.NewService(deps.Store),
		checker:     access.NewChecker(deps.Store),
		engine:      deps.Engine,
		history:     deps.History,
		search:      deps.Search,
		assets:      deps.Assets,
		tokenSecret: []byte(deps.TokenSecret),
		sessionTTL:  deps.SessionTTL,
	}
	s.exporter = export.NewService(s)
	return s
}

// Ping reports database connectivity for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthResult is a signed-in identity plus its session token.
type AuthResult struct {
	User  store.User
	Token string
}

// SignUp registers an account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (AuthResult, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return AuthResult{}, domainError(http.StatusBadRequest, "SIGNUP_FAILED", err.Error())
	}
	return s.openSession(ctx, user)
}

// SignIn authenticates an account and opens a session for it.
func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (AuthResult, error) {
	user, err := s.accounts.SignIn(ctx, req)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return AuthResult{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		}
		return AuthResult{}, domainError(http.StatusBadRequest, "SIGNIN_FAILED", err.Error())
	}
	return s.openSession(ctx, user)
}

func (s *Service) openSession(ctx context.Context, user store.User) (AuthResult, error) {
	expiresAt := time.Now().Add(s.sessionTTL)
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   util.NewID(""),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	if err := s.sessions.Save(ctx, token, session.Session{UserID: user.ID, Email: user.Email}, expiresAt); err != nil {
		return AuthResult{}, fmt.Errorf("save session: %w", err)
	}
	return AuthResult{User: user, Token: token}, nil
}

// SignOut revokes the session behind a token. Unknown tokens are a no-op.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// SessionFromToken resolves a token into its live session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (session.Session, bool) {
	return s.sessions.Resolve(ctx, token)
}

// CreateFormRequest describes a new form. Template names an initial schema
// shape; empty or unrecognized names start blank.
type CreateFormRequest struct {
	Title    string
	Template string
}

// CreateForm creates the form record, grants the creator ownership, writes
// the template into a fresh replicated document and records the baseline
// snapshot.
func (s *Service) CreateForm(ctx context.Context, sess session.Session, req CreateFormRequest) (store.Form, error) {
	title := req.Title
	if title == "" {
		title = "Untitled form"
	}

	form := store.Form{
		ID:      util.NewID("form"),
		Title:   title,
		OwnerID: sess.UserID,
	}
	if err := s.store.CreateForm(ctx, form); err != nil {
		return store.Form{}, fmt.Errorf("create form: %w", err)
	}
	if err := s.store.AddFormMember(ctx, form.ID, sess.UserID, string(access.Owner)); err != nil {
		return store.Form{}, fmt.Errorf("add owner membership: %w", err)
	}

	tmpl := TemplateSchema(req.Template)
	if err := s.engine.InitializeForm(ctx, form.ID, tmpl); err != nil {
		return store.Form{}, fmt.Errorf("initialize form document: %w", err)
	}

	// The initializer may have synthesized pages; snapshot what the document
	// actually holds.
	snap := s.engine.CurrentSchema(ctx, form.ID)
	if snap == nil {
		snap = fallbackSchema()
	}
	if err := s.saveCanonical(ctx, form.ID, snap); err != nil {
		return store.Form{}, err
	}
	if err := s.history.EnsureFormRepo(form.ID, snap, sess.Email); err != nil {
		return store.Form{}, fmt.Errorf("init form history: %w", err)
	}

	s.indexForm(ctx, form.ID)
	return form, nil
}

// ListForms returns the forms the user is a member of.
func (s *Service) ListForms(ctx context.Context, userID string) ([]store.Form, error) {
	return s.store.ListFormsForUser(ctx, userID)
}

// GetSchema returns the schema consumers render: the live projection when
// the document holds a form, otherwise the persisted canonical record,
// otherwise the default fallback.
func (s *Service) GetSchema(ctx context.Context, formID string) *schema.Schema {
	if live := s.engine.CurrentSchema(ctx, formID); live != nil {
		return live
	}

	raw, err := s.store.GetCanonicalSchema(ctx, formID)
	if err == nil && len(raw) > 0 {
		var snap schema.Schema
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap
		}
		log.Printf("app: corrupt canonical schema for %s, serving fallback", formID)
	}
	return fallbackSchema()
}

// fallbackSchema is what consumers get when neither the live document nor
// the canonical record yields a schema.
func fallbackSchema() *schema.Schema {
	return &schema.Schema{
		Pages: []schema.Page{
			{ID: util.NewID("page"), Title: schema.DefaultPageTitle},
		},
		Layout: schema.DefaultLayout(),
	}
}

func (s *Service) saveCanonical(ctx context.Context, formID string, snap *schema.Schema) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal canonical schema: %w", err)
	}
	if err := s.store.SaveCanonicalSchema(ctx, formID, raw); err != nil {
		return fmt.Errorf("save canonical schema: %w", err)
	}
	return nil
}

// PublishForm persists the current projection as the canonical record and
// commits a history snapshot.
func (s *Service) PublishForm(ctx context.Context, sess session.Session, formID, message string) (history.CommitInfo, error) {
	snap := s.engine.CurrentSchema(ctx, formID)
	if snap == nil {
		return history.CommitInfo{}, domainError(http.StatusConflict, "NOTHING_TO_PUBLISH", "Form document holds no schema")
	}
	if err := s.saveCanonical(ctx, formID, snap); err != nil {
		return history.CommitInfo{}, err
	}
	if message == "" {
		message = "Publish form"
	}
	commit, err := s.history.CommitSnapshot(formID, snap, sess.Email, message)
	if err != nil {
		return history.CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}
	s.indexForm(ctx, formID)
	return commit, nil
}

// FormHistory lists published snapshots, newest first.
func (s *Service) FormHistory(formID string, limit int) ([]history.CommitInfo, error) {
	return s.history.History(formID, limit)
}

// GetForm implements export.DataSource.
func (s *Service) GetForm(ctx context.Context, id string) (export.FormInfo, error) {
	form, err := s.store.GetForm(ctx, id)
	if err != nil {
		return export.FormInfo{}, err
	}
	info := export.FormInfo{ID: form.ID, Title: form.Title, UpdatedAt: form.UpdatedAt}
	if owner, err := s.store.GetUserByID(ctx, form.OwnerID); err == nil {
		info.Author = owner.DisplayName
	}
	return info, nil
}

// GetSchemaVersion implements export.DataSource's GetSchema.
func (s *Service) GetSchemaVersion(ctx context.Context, formID, version string) (*schema.Schema, error) {
	if version == "" || version == "latest" {
		return s.GetSchema(ctx, formID), nil
	}
	return s.history.SnapshotByHash(formID, version)
}

// ExportForm renders a form to the requested format.
func (s *Service) ExportForm(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

// UpdateMetadata implements collab.MetadataUpdater: it upserts the stats
// row, bumps the form's updated-at and refreshes the search index.
func (s *Service) UpdateMetadata(ctx context.Context, formID string, stats schema.Stats) error {
	if err := s.store.UpdateFormStats(ctx, formID, stats.PageCount, stats.FieldCount, stats.BackgroundImage); err != nil {
		return fmt.Errorf("update form stats: %w", err)
	}
	if err := s.store.TouchForm(ctx, formID, time.Now()); err != nil {
		log.Printf("app: touch form %s: %v", formID, err)
	}
	s.indexForm(ctx, formID)
	return nil
}

func (s *Service) indexForm(ctx context.Context, formID string) {
	if s.search == nil {
		return
	}
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		log.Printf("app: load form %s for indexing: %v", formID, err)
		return
	}
	stats, _ := s.engine.CurrentStats(ctx, formID)
	s.search.IndexForm(search.FormRecord{
		ID:              form.ID,
		Title:           form.Title,
		OwnerID:         form.OwnerID,
		PageCount:       stats.PageCount,
		FieldCount:      stats.FieldCount,
		BackgroundImage: stats.BackgroundImage,
		UpdatedAt:       form.UpdatedAt.Unix(),
	})
}

// SearchForms queries the form index with the Postgres fallback.
func (s *Service) SearchForms(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.FormRecord{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// RequireAccess checks the user's permission on a form and maps denial to
// domain errors.
func (s *Service) RequireAccess(ctx context.Context, userID, formID string, min access.Permission) (access.Decision, error) {
	decision, err := s.checker.CheckAccess(ctx, userID, formID, min)
	if err != nil {
		return access.Decision{}, fmt.Errorf("check access: %w", err)
	}
	if !decision.HasAccess {
		return access.Decision{}, errForbidden()
	}
	return decision, nil
}

// AddMember grants a user a role on a form. Only owners may manage members.
func (s *Service) AddMember(ctx context.Context, sess session.Session, formID, email, role string) error {
	if _, err := s.RequireAccess(ctx, sess.UserID, formID, access.Owner); err != nil {
		return err
	}
	if access.Normalize(role) == access.NoAccess {
		return domainError(http.StatusBadRequest, "INVALID_ROLE", fmt.Sprintf("Unknown role %q", role))
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email")
		}
		return fmt.Errorf("lookup member: %w", err)
	}
	if err := s.store.AddFormMember(ctx, formID, user.ID, role); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// UploadBackground stores a background image and returns its object key.
// Requires editor access.
func (s *Service) UploadBackground(ctx context.Context, sess session.Session, formID string, r io.Reader, size int64, contentType string) (string, error) {
	if s.assets == nil {
		return "", errAssetsDisabled()
	}
	if _, err := s.RequireAccess(ctx, sess.UserID, formID, access.Editor); err != nil {
		return "", err
	}
	if !assets.Allowed(contentType) {
		return "", domainError(http.StatusBadRequest, "UNSUPPORTED_IMAGE", fmt.Sprintf("Unsupported content type %q", contentType))
	}
	key, err := s.assets.UploadBackground(ctx, formID, r, size, contentType)
	if err != nil {
		return "", fmt.Errorf("upload background: %w", err)
	}
	return key, nil
}

// BackgroundURL returns a time-limited download URL for a background key.
func (s *Service) BackgroundURL(ctx context.Context, key string) (string, error) {
	if s.assets == nil {
		return "", errAssetsDisabled()
	}
	return s.assets.PresignedURL(ctx, key, 15*time.Minute)
}
