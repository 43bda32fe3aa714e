package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrack/caretrack/internal/domain/schedule"
	"github.com/caretrack/caretrack/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the Postgres-backed enrollment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const enrollmentCols = `id, subject_id, schedule_name, current_milestone,
	preferred_alert_time, reference_date, reference_time,
	enrolled_on_date, enrolled_on_time, status, metadata, created_at, updated_at`

func scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var (
		e         Enrollment
		preferred *string
		refTime   string
		enrTime   string
		meta      []byte
	)
	err := row.Scan(&e.ID, &e.SubjectID, &e.ScheduleName, &e.CurrentMilestone,
		&preferred, &e.ReferenceDate, &refTime,
		&e.EnrolledOnDate, &enrTime, &e.Status, &meta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if preferred != nil {
		t, err := schedule.ParseTimeOfDay(*preferred)
		if err != nil {
			return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
		}
		e.PreferredAlertTime = &t
	}
	if e.ReferenceTime, err = schedule.ParseTimeOfDay(refTime); err != nil {
		return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
	}
	if e.EnrolledOnTime, err = schedule.ParseTimeOfDay(enrTime); err != nil {
		return nil, fmt.Errorf("enrollment %s: %w", e.ID, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("enrollment %s metadata: %w", e.ID, err)
		}
	}
	return &e, nil
}

func timeOfDayArg(t *schedule.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func metadataArg(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func (r *repoPG) Create(ctx context.Context, e *Enrollment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	meta, err := metadataArg(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO enrollment (id, subject_id, schedule_name, current_milestone,
			preferred_alert_time, reference_date, reference_time,
			enrolled_on_date, enrolled_on_time, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.SubjectID, e.ScheduleName, e.CurrentMilestone,
		timeOfDayArg(e.PreferredAlertTime), e.ReferenceDate, e.ReferenceTime.String(),
		e.EnrolledOnDate, e.EnrolledOnTime.String(), e.Status, meta)
	return err
}

func (r *repoPG) Update(ctx context.Context, e *Enrollment) error {
	meta, err := metadataArg(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE enrollment SET current_milestone=$2, preferred_alert_time=$3,
			reference_date=$4, reference_time=$5, status=$6, metadata=$7, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.CurrentMilestone, timeOfDayArg(e.PreferredAlertTime),
		e.ReferenceDate, e.ReferenceTime.String(), e.Status, meta)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := scanEnrollment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) GetActive(ctx context.Context, subjectID, scheduleName string) (*Enrollment, error) {
	e, err := scanEnrollment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment
		 WHERE subject_id = $1 AND schedule_name = $2 AND status = $3`,
		subjectID, scheduleName, StatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) GetLatest(ctx context.Context, subjectID, scheduleName string) (*Enrollment, error) {
	e, err := scanEnrollment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment
		 WHERE subject_id = $1 AND schedule_name = $2
		 ORDER BY updated_at DESC LIMIT 1`,
		subjectID, scheduleName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Enrollment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM enrollment WHERE subject_id = $1`, subjectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment WHERE subject_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Enrollment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment WHERE status = $1
		 ORDER BY created_at`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM enrollment WHERE id = $1`, id)
	return err
}
