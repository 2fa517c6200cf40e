package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DefaultStateTable is the storage location used when no table function is
// supplied for form state.
const DefaultStateTable = "form_documents"

var validTableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// stateTable derives the storage location for a form's replicated-document
// bytes. Reads and writes must agree on it, otherwise state persisted by a
// non-default table function becomes unloadable. The derived name must be a
// plain lowercase identifier since it is spliced into the statement.
func stateTable(formID string, tableFor func(string) string) (string, error) {
	table := DefaultStateTable
	if tableFor != nil {
		table = tableFor(formID)
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// FetchFormState reads the persisted replicated-document bytes for a form.
// tableFor must be the same function the state was stored with; nil means
// the default table.
func (s *PostgresStore) FetchFormState(ctx context.Context, formID string, tableFor func(string) string) ([]byte, error) {
	table, err := stateTable(formID, tableFor)
	if err != nil {
		return nil, fmt.Errorf("fetch form state: %w", err)
	}

	var state []byte
	query := fmt.Sprintf(`SELECT state FROM %s WHERE form_id=$1`, table)
	err = s.db.QueryRowContext(ctx, query, formID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch form state: %w", err)
	}
	return state, nil
}

// StoreFormState upserts the replicated-document bytes. tableFor derives the
// storage location from the form ID; nil means the default table.
func (s *PostgresStore) StoreFormState(ctx context.Context, formID string, state []byte, tableFor func(string) string) error {
	table, err := stateTable(formID, tableFor)
	if err != nil {
		return fmt.Errorf("store form state: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (form_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (form_id) DO UPDATE SET state=EXCLUDED.state, updated_at=NOW()
	`, table)
	if _, err := s.db.ExecContext(ctx, query, formID, state); err != nil {
		return fmt.Errorf("store form state: %w", err)
	}
	return nil
}

// UpdateFormStats upserts the metadata summary for a form.
func (s *PostgresStore) UpdateFormStats(ctx context.Context, formID string, pageCount, fieldCount int, backgroundImage string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO form_stats (form_id, page_count, field_count, background_image, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (form_id) DO UPDATE SET
			page_count=EXCLUDED.page_count,
			field_count=EXCLUDED.field_count,
			background_image=EXCLUDED.background_image,
			updated_at=NOW()
	`, formID, pageCount, fieldCount, backgroundImage)
	if err != nil {
		return fmt.Errorf("update form stats: %w", err)
	}
	return nil
}

// SaveCanonicalSchema persists the canonical schema JSON that consumers fall
// back to when live projection yields nothing.
func (s *PostgresStore) SaveCanonicalSchema(ctx context.Context, formID string, schemaJSON []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO form_schemas (form_id, schema, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (form_id) DO UPDATE SET schema=EXCLUDED.schema, updated_at=NOW()
	`, formID, schemaJSON)
	if err != nil {
		return fmt.Errorf("save canonical schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCanonicalSchema(ctx context.Context, formID string) ([]byte, error) {
	var schemaJSON []byte
	err := s.db.QueryRowContext(ctx, `SELECT schema FROM form_schemas WHERE form_id=$1`, formID).Scan(&schemaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical schema: %w", err)
	}
	return schemaJSON, nil
}

// GetFormMemberRole returns the stored role of a user on a form, or "" when
// the user is not a member.
func (s *PostgresStore) GetFormMemberRole(ctx context.Context, formID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM form_members WHERE form_id=$1 AND user_id=$2`, formID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read form member role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) AddFormMember(ctx context.Context, formID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO form_members (form_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (form_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, formID, userID, role)
	if err != nil {
		return fmt.Errorf("add form member: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateForm(ctx context.Context, form Form) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forms (id, title, owner_id)
		VALUES ($1, $2, $3)
	`, form.ID, form.Title, form.OwnerID)
	if err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForm(ctx context.Context, formID string) (Form, error) {
	var form Form
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM forms
		WHERE id=$1
	`, formID).Scan(&form.ID, &form.Title, &form.OwnerID, &form.CreatedAt, &form.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Form{}, ErrNotFound
	}
	if err != nil {
		return Form{}, fmt.Errorf("get form: %w", err)
	}
	return form, nil
}

func (s *PostgresStore) ListFormsForUser(ctx context.Context, userID string) ([]Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.owner_id, f.created_at, f.updated_at
		FROM forms f
		JOIN form_members m ON m.form_id = f.id
		WHERE m.user_id = $1
		ORDER BY f.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := make([]Form, 0)
	for rows.Next() {
		var item Form
		if err := rows.Scan(&item.ID, &item.Title, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchForm(ctx context.Context, formID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forms SET updated_at=$2 WHERE id=$1`, formID, at)
	if err != nil {
		return fmt.Errorf("touch form: %w", err)
	}
	return nil
}
