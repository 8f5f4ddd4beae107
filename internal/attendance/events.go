package attendance

import "time"

// EventKind tags a live notification.
type EventKind string

const (
	EventAuthUpdate      EventKind = "auth-update"
	EventAttendanceDelta EventKind = "attendance-delta"
	EventSessionUpdate   EventKind = "session-update"
)

// Event is emitted after a successful write. Delivery is best-effort.
type Event struct {
	Kind      EventKind
	SessionID string
	Data      any
	At        time.Time
}

// AuthUpdate is the payload of EventAuthUpdate.
type AuthUpdate struct {
	DeviceID      string `json:"device_id"`
	DeviceAddress string `json:"device_address"`
	TeacherID     string `json:"teacher_id"`
	TeacherName   string `json:"teacher_name"`
}

// AttendanceDelta is the payload of EventAttendanceDelta.
type AttendanceDelta struct {
	StudentID    string    `json:"student_id"`
	Name         string    `json:"name"`
	EnrollmentNo string    `json:"enrollment_no"`
	Timestamp    time.Time `json:"timestamp"`
}

// SessionUpdate is the payload of EventSessionUpdate.
type SessionUpdate struct {
	SessionID     string     `json:"session_id"`
	TeacherID     string     `json:"teacher_id"`
	Closed        bool       `json:"closed"`
	BoundDeviceID *string    `json:"bound_device_id,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Notifier receives events. Implementations must not block the caller.
type Notifier interface {
	Notify(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
