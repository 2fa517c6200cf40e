// Package access resolves per-form permission levels. Only editors and
// owners may durably affect form content.
package access

import (
	"context"
	"fmt"
)

type Permission string

const (
	NoAccess Permission = "no_access"
	Viewer   Permission = "viewer"
	Editor   Permission = "editor"
	Owner    Permission = "owner"
)

func rank(p Permission) int {
	switch p {
	case Viewer:
		return 1
	case Editor:
		return 2
	case Owner:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether p grants at least the given level.
func (p Permission) AtLeast(min Permission) bool {
	return rank(p) >= rank(min)
}

// CanWrite reports whether p may durably mutate form content.
func (p Permission) CanWrite() bool {
	return p.AtLeast(Editor)
}

// Normalize maps a stored role string onto a permission level. Unknown
// strings mean no access.
func Normalize(role string) Permission {
	switch Permission(role) {
	case Viewer, Editor, Owner:
		return Permission(role)
	default:
		return NoAccess
	}
}

// Decision is the outcome of one access check.
type Decision struct {
	HasAccess  bool
	Permission Permission
	FormID     string
}

// MembershipStore looks up the stored role of a user on a form. An empty
// role means no membership.
type MembershipStore interface {
	GetFormMemberRole(ctx context.Context, formID, userID string) (string, error)
}

// Checker evaluates (form, user) permissions against stored memberships.
type Checker struct {
	store MembershipStore
}

func NewChecker(store MembershipStore) *Checker {
	return &Checker{store: store}
}

// CheckAccess resolves the user's permission on the form and compares it to
// the minimum level.
func (c *Checker) CheckAccess(ctx context.Context, userID, formID string, min Permission) (Decision, error) {
	role, err := c.store.GetFormMemberRole(ctx, formID, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup form member: %w", err)
	}
	permission := Normalize(role)
	return Decision{
		HasAccess:  permission.AtLeast(min),
		Permission: permission,
		FormID:     formID,
	}, nil
}
