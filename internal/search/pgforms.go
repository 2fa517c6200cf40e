package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgForms implements Searcher against PostgreSQL as a fallback when
// Meilisearch is down or not configured.
type PgForms struct {
	db *sql.DB
}

// NewPgForms creates a PostgreSQL-backed form searcher.
func NewPgForms(db *sql.DB) *PgForms {
	return &PgForms{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgForms) Healthy() bool {
	return true
}

// Search matches form titles case-insensitively, newest first.
func (p *PgForms) Search(q Query) ([]FormRecord, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "1=1"
	args := []any{}
	argN := 1

	if strings.TrimSpace(q.Text) != "" {
		where += fmt.Sprintf(" AND f.title ILIKE $%d", argN)
		args = append(args, "%"+strings.TrimSpace(q.Text)+"%")
		argN++
	}
	if q.FilterOwnerID != "" {
		where += fmt.Sprintf(" AND f.owner_id = $%d", argN)
		args = append(args, q.FilterOwnerID)
		argN++
	}

	countQuery := "SELECT count(*) FROM forms f WHERE " + where
	var total int
	if err := p.db.QueryRowContext(context.Background(), countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT f.id, f.title, f.owner_id,
			coalesce(s.page_count, 0), coalesce(s.field_count, 0),
			coalesce(s.background_image, ''),
			extract(epoch FROM f.updated_at)::bigint
		FROM forms f
		LEFT JOIN form_stats s ON s.form_id = f.id
		WHERE %s
		ORDER BY f.updated_at DESC
		LIMIT $%d OFFSET $%d`, where, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search forms: %w", err)
	}
	defer rows.Close()

	var results []FormRecord
	for rows.Next() {
		var r FormRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.OwnerID, &r.PageCount, &r.FieldCount, &r.BackgroundImage, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan form row: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every form for reindexing into Meilisearch.
func (p *PgForms) LoadAllRecords(ctx context.Context) ([]FormRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.owner_id,
			coalesce(s.page_count, 0), coalesce(s.field_count, 0),
			coalesce(s.background_image, ''),
			extract(epoch FROM f.updated_at)::bigint
		FROM forms f
		LEFT JOIN form_stats s ON s.form_id = f.id`)
	if err != nil {
		return nil, fmt.Errorf("load forms for reindex: %w", err)
	}
	defer rows.Close()

	var records []FormRecord
	for rows.Next() {
		var r FormRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.OwnerID, &r.PageCount, &r.FieldCount, &r.BackgroundImage, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan form row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
