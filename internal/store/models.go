package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Form struct {
	ID        string
	Title     string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FormMember binds a user to a form with a role (viewer, editor, owner).
type FormMember struct {
	FormID    string
	UserID    string
	Role      string
	CreatedAt time.Time
}

// FormDocument is the persisted replicated-document state. The state blob is
// opaque to the store; only the collaboration engine interprets it.
type FormDocument struct {
	FormID    string
	State     []byte
	UpdatedAt time.Time
}

// FormStats is the metadata summary maintained by the debounced projection.
type FormStats struct {
	FormID          string
	PageCount       int
	FieldCount      int
	BackgroundImage string
	UpdatedAt       time.Time
}

// FormSchemaRecord is the last explicitly persisted canonical schema. It is
// the fallback consumers read when live projection yields nothing.
type FormSchemaRecord struct {
	FormID    string
	Schema    []byte
	UpdatedAt time.Time
}
