package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formloom/api/internal/access"
	"formloom/api/internal/authpw"
	"formloom/api/internal/collab"
	"formloom/api/internal/export"
	"formloom/api/internal/search"
	"formloom/api/internal/session"
	"formloom/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	hub        *collab.Hub
	corsOrigin string
}

func NewHTTPServer(service *Service, hub *collab.Hub, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, hub: hub, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		if token := bearerToken(r); token != "" {
			_ = s.service.SignOut(r.Context(), token)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, ok := s.service.SessionFromToken(r.Context(), token)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"email":         sess.Email,
		})
		return
	}

	// The collaboration endpoint authenticates through the gate, which also
	// accepts the token query parameter.
	if parts := splitPath(r.URL.Path); len(parts) == 4 && parts[0] == "api" && parts[1] == "forms" && parts[3] == "collab" {
		s.hub.HandleConnection(w, r, parts[2])
		return
	}

	// Everything below requires a session.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, sess)
		return
	}

	if r.URL.Path == "/api/forms" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateForm(w, r, sess)
		case http.MethodGet:
			s.handleListForms(w, r, sess)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
		return
	}

	if parts := splitPath(r.URL.Path); len(parts) == 4 && parts[0] == "api" && parts[1] == "forms" {
		formID := parts[2]
		switch {
		case r.Method == http.MethodGet && parts[3] == "schema":
			s.handleGetSchema(w, r, sess, formID)
		case r.Method == http.MethodGet && parts[3] == "history":
			s.handleHistory(w, r, sess, formID)
		case r.Method == http.MethodGet && parts[3] == "export":
			s.handleExport(w, r, sess, formID)
		case r.Method == http.MethodPost && parts[3] == "publish":
			s.handlePublish(w, r, sess, formID)
		case r.Method == http.MethodPost && parts[3] == "members":
			s.handleAddMember(w, r, sess, formID)
		case r.Method == http.MethodPost && parts[3] == "background":
			s.handleUploadBackground(w, r, sess, formID)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	result, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authPayload(result))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	result, err := s.service.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authPayload(result))
}

func authPayload(result AuthResult) map[string]any {
	return map[string]any{
		"token":       result.Token,
		"userId":      result.User.ID,
		"email":       result.User.Email,
		"displayName": result.User.DisplayName,
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess session.Session) {
	q := search.Query{
		Text:   r.URL.Query().Get("q"),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	}
	if r.URL.Query().Get("mine") == "true" {
		q.FilterOwnerID = sess.UserID
	}
	writeJSON(w, http.StatusOK, s.service.SearchForms(q))
}

func (s *HTTPServer) handleCreateForm(w http.ResponseWriter, r *http.Request, sess session.Session) {
	var body struct {
		Title    string `json:"title"`
		Template string `json:"template"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	form, err := s.service.CreateForm(r.Context(), sess, CreateFormRequest{Title: body.Title, Template: body.Template})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, formPayload(form))
}

func (s *HTTPServer) handleListForms(w http.ResponseWriter, r *http.Request, sess session.Session) {
	forms, err := s.service.ListForms(r.Context(), sess.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(forms))
	for _, form := range forms {
		payload = append(payload, formPayload(form))
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": payload})
}

func formPayload(form store.Form) map[string]any {
	return map[string]any{
		"id":        form.ID,
		"title":     form.Title,
		"ownerId":   form.OwnerID,
		"createdAt": form.CreatedAt,
		"updatedAt": form.UpdatedAt,
	}
}

func (s *HTTPServer) handleGetSchema(w http.ResponseWriter, r *http.Request, sess session.Session, formID string) {
	if _, err := s.service.RequireAccess(r.Context(), sess.UserID, formID, access.Viewer); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": s.service.GetSchema(r.Context(), formID)})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, sess session.Session, formID string) {
	if _, err := s.service.RequireAccess(r.Context(), sess.UserID, formID, access.Viewer); err != nil {
		s.writeServiceError(w, err)
		return
	}
	entries, err := s.service.FormHistory(formID, queryInt(r, "limit", 50))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, sess session.Session, formID string) {
	if _, err := s.service.RequireAccess(r.Context(), sess.UserID, formID, access.Viewer); err != nil {
		s.writeServiceError(w, err)
		return
	}
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatPDF
	}
	result, err := s.service.ExportForm(r.Context(), export.Request{
		FormID:  formID,
		Version: r.URL.Query().Get("version"),
		Format:  format,
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			writeError(w, http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error())
			return
		}
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handlePublish(w http.ResponseWriter, r *http.Request, sess session.Session, formID string) {
	if _, err := s.service.RequireAccess(r.Context(), sess.UserID, formID, access.Editor); err != nil {
		s.writeServiceError(w, err)
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	commit, err := s.service.PublishForm(r.Context(), sess, formID, body.Message)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commit": commit})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request, sess session.Session, formID string) {
	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.service.AddMember(r.Context(), sess, formID, body.Email, body.Role); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUploadBackground(w http.ResponseWriter, r *http.Request, sess session.Session, formID string) {
	key, err := s.service.UploadBackground(r.Context(), sess, formID, r.Body, r.ContentLength, r.Header.Get("Content-Type"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": key})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
		return session.Session{}, false
	}
	sess, ok := s.service.SessionFromToken(r.Context(), token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Session expired or revoked")
		return session.Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	writeError(w, status, code, message)
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	}
	log.Printf("app: internal error: %v", err)
	return http.StatusInternalServerError, "INTERNAL", "Internal server error"
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack forwards to the wrapped writer so the websocket upgrade works
// through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
