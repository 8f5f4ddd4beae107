package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const sessionColumns = `id, assignment_id, teacher_id, bound_device_id, started_at, ended_at, is_closed`

const deviceColumns = `id, address, secret_hash, name, location, last_heartbeat_at, created_at`

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sqlx.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// CreateSession relies on the partial unique index uniq_open_session_per_assignment,
// so the "no open session" check and the insert are one statement.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	var out Session
	err := r.db.GetContext(ctx, &out, `
		INSERT INTO class_sessions (id, assignment_id, teacher_id, bound_device_id, started_at, is_closed)
		VALUES ($1, $2, $3, (
			SELECT bound_device_id FROM class_sessions
			WHERE teacher_id = $3 AND NOT is_closed AND bound_device_id IS NOT NULL
			ORDER BY started_at DESC
			LIMIT 1
		), $4, FALSE)
		ON CONFLICT (assignment_id) WHERE NOT is_closed DO NOTHING
		RETURNING `+sessionColumns, s.ID, s.AssignmentID, s.TeacherID, s.StartedAt.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errorf(KindConflict, "a session is already open for teaching assignment %s", s.AssignmentID)
		}
		return Session{}, translate(err)
	}
	return out, nil
}

// CloseSession closes only an open session; the WHERE clause is the state check.
func (r *Repository) CloseSession(ctx context.Context, id string, at time.Time) (Session, error) {
	var out Session
	err := r.db.GetContext(ctx, &out, `
		UPDATE class_sessions SET is_closed = TRUE, ended_at = $2
		WHERE id = $1 AND NOT is_closed
		RETURNING `+sessionColumns, id, at.UTC())
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}
	if _, gerr := r.GetSession(ctx, id); gerr != nil {
		return Session{}, gerr
	}
	return Session{}, errorf(KindConflict, "session %s is already closed", id)
}

// GetSession returns a single session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	err := r.db.GetContext(ctx, &out, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, errorf(KindNotFound, "session %s not found", id)
	}
	return out, err
}

// ListOpenSessions returns open sessions, optionally for one teacher.
func (r *Repository) ListOpenSessions(ctx context.Context, teacherID string) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM class_sessions WHERE NOT is_closed`
	args := []any{}
	if teacherID != "" {
		query += ` AND teacher_id = $1`
		args = append(args, teacherID)
	}
	query += ` ORDER BY started_at DESC`

	out := []Session{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// BindTeacherSessions points every open session of the teacher at deviceID.
func (r *Repository) BindTeacherSessions(ctx context.Context, teacherID, deviceID string) ([]Session, error) {
	out := []Session{}
	err := r.db.SelectContext(ctx, &out, `
		UPDATE class_sessions SET bound_device_id = $2
		WHERE teacher_id = $1 AND NOT is_closed
		RETURNING `+sessionColumns, teacherID, deviceID)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// BindIfUnbound is the compare-and-swap used by the scan self-heal path.
func (r *Repository) BindIfUnbound(ctx context.Context, sessionID, deviceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions SET bound_device_id = $2
		WHERE id = $1 AND bound_device_id IS NULL AND NOT is_closed
	`, sessionID, deviceID)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// InsertRecord writes a record only while the session is open. The session row is read
// FOR SHARE, so a concurrent close either waits for the insert or makes it select nothing.
// UNIQUE (session_id, student_id) rejects repeats.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now()
	}
	rec.CapturedAt = rec.CapturedAt.UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, device_id, device_address, captured_at)
		SELECT $1::text, cs.id, $3::text, $4::text, $5::text, $6::timestamptz
		FROM class_sessions cs
		WHERE cs.id = $2 AND NOT cs.is_closed
		FOR SHARE
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.StudentID, rec.DeviceID, rec.DeviceAddress, rec.CapturedAt)
	if err != nil {
		return Record{}, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 1 {
		return rec, nil
	}
	return Record{}, r.insertRejected(ctx, rec)
}

// insertRejected explains a zero-row InsertRecord. Records are never deleted, so an
// existing row means a duplicate regardless of the session's later state.
func (r *Repository) insertRejected(ctx context.Context, rec Record) error {
	var dup bool
	err := r.db.GetContext(ctx, &dup, `
		SELECT EXISTS (SELECT 1 FROM attendance_records WHERE session_id = $1 AND student_id = $2)
	`, rec.SessionID, rec.StudentID)
	if err != nil {
		return err
	}
	if dup {
		return errorf(KindConflict, "student %s already marked present for session %s", rec.StudentID, rec.SessionID)
	}
	if _, err := r.GetSession(ctx, rec.SessionID); err != nil {
		return err
	}
	return errorf(KindInvalidState, "session %s is closed", rec.SessionID)
}

// ListRecords returns a session's records in capture order.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	out := []Record{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, session_id, student_id, device_id, device_address, captured_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY captured_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDevice inserts a reader; the address is unique.
func (r *Repository) CreateDevice(ctx context.Context, d Device) (Device, error) {
	var out Device
	err := r.db.GetContext(ctx, &out, `
		INSERT INTO devices (id, address, secret_hash, name, location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO NOTHING
		RETURNING `+deviceColumns, d.ID, d.Address, d.SecretHash, d.Name, d.Location, d.CreatedAt.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errorf(KindConflict, "device with address %s already exists", d.Address)
	}
	return out, err
}

// DeviceByAddress resolves a reader.
func (r *Repository) DeviceByAddress(ctx context.Context, address string) (Device, error) {
	var out Device
	err := r.db.GetContext(ctx, &out, `SELECT `+deviceColumns+` FROM devices WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errorf(KindNotFound, "device %s not found", address)
	}
	return out, err
}

// DeviceByID resolves a reader by primary key.
func (r *Repository) DeviceByID(ctx context.Context, id string) (Device, error) {
	var out Device
	err := r.db.GetContext(ctx, &out, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errorf(KindNotFound, "device %s not found", id)
	}
	return out, err
}

// TouchHeartbeat updates the liveness timestamp.
func (r *Repository) TouchHeartbeat(ctx context.Context, address string, at time.Time) (Device, error) {
	var out Device
	err := r.db.GetContext(ctx, &out, `
		UPDATE devices SET last_heartbeat_at = $2 WHERE address = $1
		RETURNING `+deviceColumns, address, at.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errorf(KindNotFound, "device %s not found", address)
	}
	return out, err
}

// ListDevices returns all readers.
func (r *Repository) ListDevices(ctx context.Context) ([]Device, error) {
	out := []Device{}
	if err := r.db.SelectContext(ctx, &out, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	return out, nil
}

// Assignment returns a teaching assignment.
func (r *Repository) Assignment(ctx context.Context, id string) (Assignment, error) {
	var out Assignment
	err := r.db.GetContext(ctx, &out, `
		SELECT id, subject_id, section_id, teacher_id FROM teaching_assignments WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, errorf(KindNotFound, "teaching assignment %s not found", id)
	}
	return out, err
}

// SectionRoster returns every student of the assignment's section ordered by name.
func (r *Repository) SectionRoster(ctx context.Context, assignmentID string) ([]Student, error) {
	out := []Student{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT st.id, st.name, st.enrollment_no, COALESCE(st.rfid_tag, '') AS rfid_tag, st.section_id
		FROM students st
		JOIN teaching_assignments ta ON ta.section_id = st.section_id
		WHERE ta.id = $1
		ORDER BY st.name ASC
	`, assignmentID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StudentByTag resolves a provisioned student card.
func (r *Repository) StudentByTag(ctx context.Context, tag string) (Student, error) {
	var out Student
	err := r.db.GetContext(ctx, &out, `
		SELECT id, name, enrollment_no, rfid_tag, section_id FROM students WHERE rfid_tag = $1
	`, tag)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, errorf(KindNotFound, "student with RFID tag %s not found", tag)
	}
	return out, err
}

// TeacherByTag resolves a faculty card.
func (r *Repository) TeacherByTag(ctx context.Context, tag string) (Teacher, error) {
	var out Teacher
	err := r.db.GetContext(ctx, &out, `
		SELECT id, name, employee_id, rfid_tag FROM teachers WHERE rfid_tag = $1
	`, tag)
	if errors.Is(err, sql.ErrNoRows) {
		return Teacher{}, errorf(KindNotFound, "teacher with RFID tag %s not found", tag)
	}
	return out, err
}

// Teacher returns a faculty member by id.
func (r *Repository) Teacher(ctx context.Context, id string) (Teacher, error) {
	var out Teacher
	err := r.db.GetContext(ctx, &out, `
		SELECT id, name, employee_id, COALESCE(rfid_tag, '') AS rfid_tag FROM teachers WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Teacher{}, errorf(KindNotFound, "teacher %s not found", id)
	}
	return out, err
}

// translate maps constraint violations that slipped past the conditional writes.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return errorf(KindConflict, "%s", pgErr.Detail)
	case "23503": // foreign_key_violation
		return errorf(KindNotFound, "referenced row does not exist (%s)", pgErr.ConstraintName)
	}
	return err
}
