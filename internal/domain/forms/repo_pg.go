package forms

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daniilsirbu/medical-records-management-system/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func pgConn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

func (r *templateRepoPG) conn(ctx context.Context) queryable { return pgConn(ctx, r.pool) }

const templateCols = `id, name, description, sections, active, created_at, updated_at`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var sections []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &sections, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sections, &t.Sections); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	sections, err := json.Marshal(t.Sections)
	if err != nil {
		return err
	}
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO form_template (id, name, description, sections, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Description, sections, t.Active).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := r.scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM form_template WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "template", ID: id}
	}
	return t, err
}

func (r *templateRepoPG) Patch(ctx context.Context, id uuid.UUID, p TemplatePatch) (*Template, error) {
	var sections []byte
	if p.Sections != nil {
		b, err := json.Marshal(*p.Sections)
		if err != nil {
			return nil, err
		}
		sections = b
	}
	// an empty description clears it
	t, err := r.scanTemplate(r.conn(ctx).QueryRow(ctx, `
		UPDATE form_template SET
			name = COALESCE($2, name),
			description = CASE WHEN $3::text IS NULL THEN description ELSE NULLIF($3::text, '') END,
			sections = COALESCE($4::jsonb, sections),
			active = COALESCE($5, active),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+templateCols,
		id, p.Name, p.Description, sections, p.Active))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "template", ID: id}
	}
	return t, err
}

func (r *templateRepoPG) List(ctx context.Context, includeRetired bool, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM form_template WHERE active OR $1`, includeRetired).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM form_template WHERE active OR $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`, includeRetired, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
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

type instanceRepoPG struct{ pool *pgxpool.Pool }

func NewInstanceRepoPG(pool *pgxpool.Pool) InstanceRepository {
	return &instanceRepoPG{pool: pool}
}

func (r *instanceRepoPG) conn(ctx context.Context) queryable { return pgConn(ctx, r.pool) }

const instanceCols = `id, patient_id, template_id, field_values, completed_date, created_at, updated_at`

func (r *instanceRepoPG) scanInstance(row pgx.Row) (*Instance, error) {
	var i Instance
	var values []byte
	if err := row.Scan(&i.ID, &i.PatientID, &i.TemplateID, &values, &i.CompletedDate, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(values, &i.Values); err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *instanceRepoPG) Create(ctx context.Context, i *Instance) error {
	values, err := marshalValues(i.Values)
	if err != nil {
		return err
	}
	i.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO form_instance (id, patient_id, template_id, field_values, completed_date)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		i.ID, i.PatientID, i.TemplateID, values, i.CompletedDate).Scan(&i.CreatedAt, &i.UpdatedAt)
}

func (r *instanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	i, err := r.scanInstance(r.conn(ctx).QueryRow(ctx, `SELECT `+instanceCols+` FROM form_instance WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "instance", ID: id}
	}
	return i, err
}

func (r *instanceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM form_instance WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+instanceCols+` FROM form_instance WHERE patient_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
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

func (r *instanceRepoPG) ReplaceValues(ctx context.Context, id uuid.UUID, values Values) error {
	b, err := marshalValues(values)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE form_instance SET field_values = $2, updated_at = NOW() WHERE id = $1`, id, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "instance", ID: id}
	}
	return nil
}

func (r *instanceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM form_instance WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "instance", ID: id}
	}
	return nil
}

// marshalValues encodes a value map, writing {} for nil.
func marshalValues(vs Values) ([]byte, error) {
	if vs == nil {
		vs = Values{}
	}
	return json.Marshal(vs)
}
