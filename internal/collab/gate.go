// Package collab is the collaborative form-schema engine: it authenticates
// connections, keeps one live replicated document per form, gates mutation by
// permission and schedules the debounced metadata projection.
package collab

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"formloom/api/internal/access"
	"formloom/api/internal/session"
)

// SessionResolver resolves a collaboration token into a session, or reports
// that none exists.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (session.Session, bool)
}

// AccessChecker evaluates a user's permission level on a form.
type AccessChecker interface {
	CheckAccess(ctx context.Context, userID, formID string, min access.Permission) (access.Decision, error)
}

// ConnectParams carries the credential material a client may present. Token
// resolution order: explicit token, then the token query parameter, then the
// Authorization header; first non-empty wins.
type ConnectParams struct {
	Token  string
	Query  url.Values
	Header http.Header
}

func (p ConnectParams) token() string {
	if p.Token != "" {
		return p.Token
	}
	if p.Query != nil {
		if t := p.Query.Get("token"); t != "" {
			return t
		}
	}
	if p.Header != nil {
		if h := p.Header.Get("Authorization"); h != "" {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	return ""
}

// Connection is the bound actor context for one authenticated connection.
// It is immutable for the connection's lifetime.
type Connection struct {
	UserID     string
	Email      string
	Permission access.Permission
	FormID     string
}

// Gate authenticates and authorizes incoming collaboration connections.
type Gate struct {
	sessions SessionResolver
	checker  AccessChecker
}

func NewGate(sessions SessionResolver, checker AccessChecker) *Gate {
	return &Gate{sessions: sessions, checker: checker}
}

// Authenticate resolves the presented token into a user and requires at
// least viewer access on the form. It makes a single attempt; callers that
// need retries implement them outside the engine.
func (g *Gate) Authenticate(ctx context.Context, formID string, params ConnectParams) (Connection, error) {
	if strings.TrimSpace(formID) == "" {
		return Connection{}, ErrFormIDRequired
	}

	sess, ok := g.sessions.Resolve(ctx, params.token())
	if !ok {
		return Connection{}, ErrUnauthenticated
	}

	decision, err := g.checker.CheckAccess(ctx, sess.UserID, formID, access.Viewer)
	if err != nil {
		return Connection{}, err
	}
	if !decision.HasAccess {
		return Connection{}, ErrAccessDenied
	}

	return Connection{
		UserID:     sess.UserID,
		Email:      sess.Email,
		Permission: decision.Permission,
		FormID:     decision.FormID,
	}, nil
}
