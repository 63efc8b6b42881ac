package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

const rescheduledFromConstraint = "appointments_rescheduled_from_key"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var appointmentColumns = []string{
	"id", "patient_id", "professional_id", "room_id", "start_at", "end_at",
	"duration_minutes", "status", "kind", "notes",
	"cancellation_reason", "cancelled_at", "cancelled_by",
	"checked_in_at", "started_at", "completed_at",
	"rescheduled_from_id", "created_by", "created_at", "updated_at",
}

var historyColumns = []string{
	"id", "appointment_id", "previous_status", "new_status", "note", "actor_id", "created_at",
}

var blockColumns = []string{
	"id", "professional_id", "room_id", "start_at", "end_at", "kind", "reason",
	"active", "created_by", "created_at", "updated_at",
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// pgTransactor adapts db.TxManager and reports PostgreSQL write conflicts,
// including those raised at commit, as ErrConflict.
type pgTransactor struct {
	tm *db.TxManager
}

func NewPgTransactor(tm *db.TxManager) Transactor {
	return &pgTransactor{tm: tm}
}

func (t *pgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return mapWriteError(t.tm.WithinTx(ctx, fn))
}

func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyRescheduled):
		return err
	case db.IsUniqueViolation(err, rescheduledFromConstraint):
		return fmt.Errorf("%w: %v", ErrAlreadyRescheduled, err)
	case db.IsWriteConflict(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProfessionalID,
		&a.RoomID,
		&a.StartAt,
		&a.EndAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Kind,
		&a.Notes,
		&a.CancellationReason,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CheckedInAt,
		&a.StartedAt,
		&a.CompletedAt,
		&a.RescheduledFromID,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanHistory(row pgx.Row) (*StatusHistoryEntry, error) {
	var e StatusHistoryEntry

	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.PreviousStatus,
		&e.NewStatus,
		&e.Note,
		&e.ActorID,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

func scanBlock(row pgx.Row) (*ScheduleBlock, error) {
	var b ScheduleBlock

	err := row.Scan(
		&b.ID,
		&b.ProfessionalID,
		&b.RoomID,
		&b.StartAt,
		&b.EndAt,
		&b.Kind,
		&b.Reason,
		&b.Active,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	return &b, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Query builders

func buildOverlapQuery(q OverlapQuery) squirrel.SelectBuilder {
	sb := psql.Select(appointmentColumns...).
		From("appointments").
		Where(squirrel.Lt{"start_at": q.End}).
		Where(squirrel.Gt{"end_at": q.Start})

	if q.ProfessionalID != nil {
		sb = sb.Where(squirrel.Eq{"professional_id": *q.ProfessionalID})
	}
	if q.RoomID != nil {
		sb = sb.Where(squirrel.Eq{"room_id": *q.RoomID})
	}
	if len(q.Statuses) > 0 {
		sb = sb.Where(squirrel.Eq{"status": statusStrings(q.Statuses)})
	}

	sb = sb.OrderBy("start_at", "id")
	if q.Limit > 0 {
		sb = sb.Limit(uint64(q.Limit))
	}
	return sb
}

func buildListAppointmentsQuery(f AppointmentFilter) squirrel.SelectBuilder {
	sb := psql.Select(appointmentColumns...).From("appointments")

	if f.ProfessionalID != nil {
		sb = sb.Where(squirrel.Eq{"professional_id": *f.ProfessionalID})
	}
	if f.RoomID != nil {
		sb = sb.Where(squirrel.Eq{"room_id": *f.RoomID})
	}
	if f.PatientID != nil {
		sb = sb.Where(squirrel.Eq{"patient_id": *f.PatientID})
	}
	if f.RescheduledFromID != nil {
		sb = sb.Where(squirrel.Eq{"rescheduled_from_id": *f.RescheduledFromID})
	}
	if len(f.Statuses) > 0 {
		sb = sb.Where(squirrel.Eq{"status": statusStrings(f.Statuses)})
	}
	if f.From != nil {
		sb = sb.Where(squirrel.Gt{"end_at": *f.From})
	}
	if f.To != nil {
		sb = sb.Where(squirrel.Lt{"start_at": *f.To})
	}
	if f.WithoutSuccessor {
		sb = sb.Where("NOT EXISTS (SELECT 1 FROM appointments s WHERE s.rescheduled_from_id = appointments.id)")
	}
	if f.WithoutDecline {
		sb = sb.Where("NOT EXISTS (SELECT 1 FROM reschedule_declines d WHERE d.appointment_id = appointments.id)")
	}

	sb = sb.OrderBy("start_at", "id")
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		sb = sb.Offset(uint64(f.Offset))
	}
	return sb
}

func buildListBlocksQuery(f BlockFilter) squirrel.SelectBuilder {
	sb := psql.Select(blockColumns...).From("schedule_blocks")

	if f.ProfessionalID != nil {
		sb = sb.Where(squirrel.Eq{"professional_id": *f.ProfessionalID})
	}
	if f.RoomID != nil {
		sb = sb.Where(squirrel.Eq{"room_id": *f.RoomID})
	}
	if f.From != nil {
		sb = sb.Where(squirrel.Gt{"end_at": *f.From})
	}
	if f.To != nil {
		sb = sb.Where(squirrel.Lt{"start_at": *f.To})
	}
	if f.ActiveOnly {
		sb = sb.Where(squirrel.Eq{"active": true})
	}

	sb = sb.OrderBy("start_at", "id")
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		sb = sb.Offset(uint64(f.Offset))
	}
	return sb
}

func (r *PgRepository) queryAppointments(ctx context.Context, sb squirrel.SelectBuilder) ([]Appointment, error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appointments query: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Interface methods

// LockCalendars takes transaction-scoped advisory locks in sorted key order so
// concurrent bookings touching the same calendars queue instead of deadlocking.
func (r *PgRepository) LockCalendars(ctx context.Context, keys ...string) error {
	tx, ok := db.TxFromContext(ctx)
	if !ok {
		return errors.New("calendar locks require a transaction")
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	for _, k := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return fmt.Errorf("advisory lock %s: %w", k, err)
		}
	}
	return nil
}

func (r *PgRepository) FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error) {
	return r.queryAppointments(ctx, buildOverlapQuery(q))
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	query, args, err := psql.Insert("appointments").
		Columns(appointmentColumns...).
		Values(
			a.ID,
			a.PatientID,
			a.ProfessionalID,
			a.RoomID,
			a.StartAt,
			a.EndAt,
			a.DurationMinutes,
			string(a.Status),
			string(a.Kind),
			a.Notes,
			a.CancellationReason,
			a.CancelledAt,
			a.CancelledBy,
			a.CheckedInAt,
			a.StartedAt,
			a.CompletedAt,
			a.RescheduledFromID,
			a.CreatedBy,
			a.CreatedAt,
			a.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert appointment: %w", err)
	}

	_, err = db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	return mapWriteError(err)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := psql.Select(appointmentColumns...).
		From("appointments").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select appointment: %w", err)
	}
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
}

func (r *PgRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := psql.Select(appointmentColumns...).
		From("appointments").
		Where(squirrel.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select appointment for update: %w", err)
	}
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	query, args, err := psql.Update("appointments").
		Set("status", string(a.Status)).
		Set("notes", a.Notes).
		Set("cancellation_reason", a.CancellationReason).
		Set("cancelled_at", a.CancelledAt).
		Set("cancelled_by", a.CancelledBy).
		Set("checked_in_at", a.CheckedInAt).
		Set("started_at", a.StartedAt).
		Set("completed_at", a.CompletedAt).
		Set("updated_at", a.UpdatedAt).
		Where(squirrel.Eq{"id": a.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update appointment: %w", err)
	}

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	return r.queryAppointments(ctx, buildListAppointmentsQuery(f))
}

func (r *PgRepository) DeclineReschedule(ctx context.Context, appointmentID, actorID uuid.UUID) error {
	query, args, err := psql.Insert("reschedule_declines").
		Columns("appointment_id", "declined_by").
		Values(appointmentID, actorID).
		Suffix("ON CONFLICT (appointment_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert decline: %w", err)
	}

	if _, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert decline: %w", err)
	}
	return nil
}

func (r *PgRepository) AppendHistory(ctx context.Context, e *StatusHistoryEntry) error {
	var prev *string
	if e.PreviousStatus != nil {
		s := string(*e.PreviousStatus)
		prev = &s
	}

	query, args, err := psql.Insert("appointment_status_history").
		Columns(historyColumns...).
		Values(e.ID, e.AppointmentID, prev, string(e.NewStatus), e.Note, e.ActorID, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert history: %w", err)
	}

	_, err = db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	return err
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	query, args, err := psql.Select(historyColumns...).
		From("appointment_status_history").
		Where(squirrel.Eq{"appointment_id": appointmentID}).
		OrderBy("created_at", "seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select history: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusHistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateBlock(ctx context.Context, b *ScheduleBlock) error {
	query, args, err := psql.Insert("schedule_blocks").
		Columns(blockColumns...).
		Values(
			b.ID,
			b.ProfessionalID,
			b.RoomID,
			b.StartAt,
			b.EndAt,
			string(b.Kind),
			b.Reason,
			b.Active,
			b.CreatedBy,
			b.CreatedAt,
			b.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert block: %w", err)
	}

	_, err = db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	return err
}

func (r *PgRepository) GetBlock(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	query, args, err := psql.Select(blockColumns...).
		From("schedule_blocks").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select block: %w", err)
	}
	return scanBlock(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
}

func (r *PgRepository) ListBlocks(ctx context.Context, f BlockFilter) ([]ScheduleBlock, error) {
	query, args, err := buildListBlocksQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build blocks query: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *PgRepository) SetBlockActive(ctx context.Context, id uuid.UUID, active bool) (*ScheduleBlock, error) {
	query, args, err := psql.Update("schedule_blocks").
		Set("active", active).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(blockColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update block: %w", err)
	}
	return scanBlock(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
}
