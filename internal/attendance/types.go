package attendance

import (
	"context"
	"strings"
	"time"
)

// Device is a registered RFID reader.
type Device struct {
	ID            string     `json:"id" db:"id"`
	Address       string     `json:"address" db:"address"`
	SecretHash    string     `json:"-" db:"secret_hash"`
	Name          string     `json:"name" db:"name"`
	Location      string     `json:"location" db:"location"`
	LastHeartbeat *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Teacher is a faculty member as seen by the roster.
type Teacher struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	EmployeeID string `json:"employee_id" db:"employee_id"`
	RFIDTag    string `json:"-" db:"rfid_tag"`
}

// Student is a roster entry.
type Student struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	EnrollmentNo string `json:"enrollment_no" db:"enrollment_no"`
	RFIDTag      string `json:"-" db:"rfid_tag"`
	SectionID    string `json:"section_id" db:"section_id"`
}

// Assignment is a (subject, section, teacher) teaching assignment.
type Assignment struct {
	ID        string `json:"id" db:"id"`
	SubjectID string `json:"subject_id" db:"subject_id"`
	SectionID string `json:"section_id" db:"section_id"`
	TeacherID string `json:"teacher_id" db:"teacher_id"`
}

// Session is one live occurrence of a teaching assignment.
type Session struct {
	ID            string     `json:"id" db:"id"`
	AssignmentID  string     `json:"assignment_id" db:"assignment_id"`
	TeacherID     string     `json:"teacher_id" db:"teacher_id"`
	BoundDeviceID *string    `json:"bound_device_id,omitempty" db:"bound_device_id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Closed        bool       `json:"closed" db:"is_closed"`
}

// Open reports whether scans may still be recorded against the session.
func (s Session) Open() bool { return !s.Closed }

// Bound reports whether a device is attributed to the session.
func (s Session) Bound() bool { return s.BoundDeviceID != nil && *s.BoundDeviceID != "" }

// Record is a single accepted tap. Immutable once stored.
type Record struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	StudentID     string    `json:"student_id" db:"student_id"`
	DeviceID      string    `json:"device_id" db:"device_id"`
	DeviceAddress string    `json:"device_address" db:"device_address"`
	CapturedAt    time.Time `json:"captured_at" db:"captured_at"`
}

// SessionStore owns class sessions. Every mutating method is a single conditional write.
type SessionStore interface {
	// CreateSession inserts s as open, inheriting the bound device of another open bound
	// session of the same teacher. Returns ErrConflict if the assignment already has an
	// open session.
	CreateSession(ctx context.Context, s Session) (Session, error)
	CloseSession(ctx context.Context, id string, at time.Time) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	// ListOpenSessions returns open sessions of teacherID, or of everyone when teacherID is empty.
	ListOpenSessions(ctx context.Context, teacherID string) ([]Session, error)
	BindTeacherSessions(ctx context.Context, teacherID, deviceID string) ([]Session, error)
	// BindIfUnbound sets the bound device only when the session is open and has none.
	BindIfUnbound(ctx context.Context, sessionID, deviceID string) (bool, error)
}

// RecordStore owns attendance records.
type RecordStore interface {
	// InsertRecord returns ErrConflict when (session, student) already has a record.
	InsertRecord(ctx context.Context, r Record) (Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
}

// DeviceStore owns the device registry.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d Device) (Device, error)
	DeviceByAddress(ctx context.Context, address string) (Device, error)
	DeviceByID(ctx context.Context, id string) (Device, error)
	TouchHeartbeat(ctx context.Context, address string, at time.Time) (Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
}

// Roster is the read-only directory maintained outside this service.
type Roster interface {
	Assignment(ctx context.Context, id string) (Assignment, error)
	SectionRoster(ctx context.Context, assignmentID string) ([]Student, error)
	StudentByTag(ctx context.Context, tag string) (Student, error)
	TeacherByTag(ctx context.Context, tag string) (Teacher, error)
	Teacher(ctx context.Context, id string) (Teacher, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	SessionStore
	RecordStore
	DeviceStore
	Roster
}

// NormalizeAddress canonicalizes a device address (MACs are compared upper-case).
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// NormalizeTag strips separators readers put between UID bytes.
func NormalizeTag(tag string) string {
	r := strings.NewReplacer(" ", "", ":", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(tag)))
}
