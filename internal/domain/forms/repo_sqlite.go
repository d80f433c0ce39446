package forms

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteSchema is applied on open. Ordering uses rowid, which follows
// insertion order.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS form_template (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT,
	sections    TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_form_template_active ON form_template (active);

CREATE TABLE IF NOT EXISTS form_instance (
	id             TEXT PRIMARY KEY,
	patient_id     TEXT NOT NULL,
	template_id    TEXT NOT NULL,
	field_values   TEXT NOT NULL DEFAULT '{}',
	completed_date TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_form_instance_patient ON form_instance (patient_id);
`

// NewSQLiteRepos creates the tables if needed and returns repositories backed
// by db, which should come from db.OpenSQLite.
func NewSQLiteRepos(ctx context.Context, db *sql.DB) (TemplateRepository, InstanceRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, nil, fmt.Errorf("create forms tables: %w", err)
	}
	return &templateRepoSQLite{db: db}, &instanceRepoSQLite{db: db}, nil
}

func sqliteNow() string { return time.Now().UTC().Format(time.RFC3339Nano) }

type rowScanner interface {
	Scan(dest ...any) error
}

// =========== Template Repository ===========

type templateRepoSQLite struct{ db *sql.DB }

func (r *templateRepoSQLite) scanTemplate(row rowScanner) (*Template, error) {
	var (
		t                    Template
		id, sections         string
		desc                 sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &t.Name, &desc, &sections, &t.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if desc.Valid {
		t.Description = &desc.String
	}
	if err := json.Unmarshal([]byte(sections), &t.Sections); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *templateRepoSQLite) Create(ctx context.Context, t *Template) error {
	sections, err := json.Marshal(t.Sections)
	if err != nil {
		return err
	}
	now := sqliteNow()
	id := uuid.New()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO form_template (id, name, description, sections, active, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		id.String(), t.Name, t.Description, string(sections), t.Active, now, now); err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	t.UpdatedAt = t.CreatedAt
	return nil
}

func (r *templateRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := r.scanTemplate(r.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM form_template WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "template", ID: id}
	}
	return t, err
}

func (r *templateRepoSQLite) Patch(ctx context.Context, id uuid.UUID, p TemplatePatch) (*Template, error) {
	var sections any
	if p.Sections != nil {
		b, err := json.Marshal(*p.Sections)
		if err != nil {
			return nil, err
		}
		sections = string(b)
	}
	var desc any
	if p.Description != nil {
		desc = *p.Description
	}
	var name any
	if p.Name != nil {
		name = *p.Name
	}
	var active any
	if p.Active != nil {
		active = *p.Active
	}
	t, err := r.scanTemplate(r.db.QueryRowContext(ctx, `
		UPDATE form_template SET
			name = COALESCE(?1, name),
			description = CASE WHEN ?2 IS NULL THEN description ELSE NULLIF(?2, '') END,
			sections = COALESCE(?3, sections),
			active = COALESCE(?4, active),
			updated_at = ?5
		WHERE id = ?6
		RETURNING `+templateCols,
		name, desc, sections, active, sqliteNow(), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "template", ID: id}
	}
	return t, err
}

func (r *templateRepoSQLite) List(ctx context.Context, includeRetired bool, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_template WHERE active OR ?`, includeRetired).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateCols+` FROM form_template WHERE active OR ? ORDER BY rowid DESC LIMIT ? OFFSET ?`, includeRetired, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()
	var items []*Template
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Instance Repository ===========

type instanceRepoSQLite struct{ db *sql.DB }

func (r *instanceRepoSQLite) scanInstance(row rowScanner) (*Instance, error) {
	var (
		i                            Instance
		id, patientID, templateID    string
		values, createdAt, updatedAt string
	)
	if err := row.Scan(&id, &patientID, &templateID, &values, &i.CompletedDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if i.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if i.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, err
	}
	if i.TemplateID, err = uuid.Parse(templateID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(values), &i.Values); err != nil {
		return nil, err
	}
	if i.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *instanceRepoSQLite) Create(ctx context.Context, i *Instance) error {
	values, err := marshalValues(i.Values)
	if err != nil {
		return err
	}
	now := sqliteNow()
	id := uuid.New()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO form_instance (id, patient_id, template_id, field_values, completed_date, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		id.String(), i.PatientID.String(), i.TemplateID.String(), string(values), i.CompletedDate, now, now); err != nil {
		return err
	}
	i.ID = id
	i.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	i.UpdatedAt = i.CreatedAt
	return nil
}

func (r *instanceRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	i, err := r.scanInstance(r.db.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM form_instance WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "instance", ID: id}
	}
	return i, err
}

func (r *instanceRepoSQLite) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM form_instance WHERE patient_id = ?`, patientID.String()).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+instanceCols+` FROM form_instance WHERE patient_id = ? ORDER BY rowid DESC LIMIT ? OFFSET ?`, patientID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()
	var items []*Instance
	for rows.Next() {
		i, err := r.scanInstance(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

func (r *instanceRepoSQLite) ReplaceValues(ctx context.Context, id uuid.UUID, values Values) error {
	b, err := marshalValues(values)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE form_instance SET field_values = ?, updated_at = ? WHERE id = ?`, string(b), sqliteNow(), id.String())
	if err != nil {
		return err
	}
	return expectOneRow(res, "instance", id)
}

func (r *instanceRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM form_instance WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return expectOneRow(res, "instance", id)
}

func expectOneRow(res sql.Result, kind string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
