package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for development and tests. Each method holds the
// lock for its whole read-check-write, which gives it the same atomicity as the
// conditional statements in Repository.
type MemoryStore struct {
	mu          sync.RWMutex
	devices     map[string]*Device // by id
	sessions    map[string]*Session
	records     map[string][]Record // by session id
	teachers    map[string]Teacher
	students    map[string]Student
	assignments map[string]Assignment
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[string]*Device),
		sessions:    make(map[string]*Session),
		records:     make(map[string][]Record),
		teachers:    make(map[string]Teacher),
		students:    make(map[string]Student),
		assignments: make(map[string]Assignment),
	}
}

// AddTeacher seeds the roster.
func (m *MemoryStore) AddTeacher(t Teacher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.RFIDTag = NormalizeTag(t.RFIDTag)
	m.teachers[t.ID] = t
}

// AddStudent seeds the roster.
func (m *MemoryStore) AddStudent(st Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.RFIDTag = NormalizeTag(st.RFIDTag)
	m.students[st.ID] = st
}

// AddAssignment seeds a teaching assignment.
func (m *MemoryStore) AddAssignment(a Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
}

func (m *MemoryStore) CreateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inherit *Session
	for _, existing := range m.sessions {
		if existing.Closed {
			continue
		}
		if existing.AssignmentID == s.AssignmentID {
			return Session{}, errorf(KindConflict, "a session is already open for teaching assignment %s", s.AssignmentID)
		}
		if existing.TeacherID == s.TeacherID && existing.Bound() {
			if inherit == nil || existing.StartedAt.After(inherit.StartedAt) {
				inherit = existing
			}
		}
	}

	s.Closed = false
	s.EndedAt = nil
	s.BoundDeviceID = nil
	s.StartedAt = s.StartedAt.UTC()
	if inherit != nil {
		s.BoundDeviceID = copyString(inherit.BoundDeviceID)
	}
	stored := s
	m.sessions[s.ID] = &stored
	return cloneSession(&stored), nil
}

func (m *MemoryStore) CloseSession(_ context.Context, id string, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, errorf(KindNotFound, "session %s not found", id)
	}
	if s.Closed {
		return Session{}, errorf(KindConflict, "session %s is already closed", id)
	}
	end := at.UTC()
	s.Closed = true
	s.EndedAt = &end
	return cloneSession(s), nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, errorf(KindNotFound, "session %s not found", id)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) ListOpenSessions(_ context.Context, teacherID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Session{}
	for _, s := range m.sessions {
		if s.Closed || (teacherID != "" && s.TeacherID != teacherID) {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) BindTeacherSessions(_ context.Context, teacherID, deviceID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		return nil, errorf(KindNotFound, "device %s not found", deviceID)
	}
	out := []Session{}
	for _, s := range m.sessions {
		if s.Closed || s.TeacherID != teacherID {
			continue
		}
		id := deviceID
		s.BoundDeviceID = &id
		out = append(out, cloneSession(s))
	}
	return out, nil
}

func (m *MemoryStore) BindIfUnbound(_ context.Context, sessionID, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Closed || s.Bound() {
		return false, nil
	}
	id := deviceID
	s.BoundDeviceID = &id
	return true, nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[rec.SessionID]
	if !ok {
		return Record{}, errorf(KindNotFound, "session %s not found", rec.SessionID)
	}
	for _, existing := range m.records[rec.SessionID] {
		if existing.StudentID == rec.StudentID {
			return Record{}, errorf(KindConflict, "student %s already marked present for session %s", rec.StudentID, rec.SessionID)
		}
	}
	if sess.Closed {
		return Record{}, errorf(KindInvalidState, "session %s is closed", rec.SessionID)
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now()
	}
	rec.CapturedAt = rec.CapturedAt.UTC()
	m.records[rec.SessionID] = append(m.records[rec.SessionID], rec)
	return rec, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records[sessionID]))
	copy(out, m.records[sessionID])
	return out, nil
}

func (m *MemoryStore) CreateDevice(_ context.Context, d Device) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.Address == d.Address {
			return Device{}, errorf(KindConflict, "device with address %s already exists", d.Address)
		}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	stored := d
	m.devices[d.ID] = &stored
	return stored, nil
}

func (m *MemoryStore) DeviceByAddress(_ context.Context, address string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.Address == address {
			return *d, nil
		}
	}
	return Device{}, errorf(KindNotFound, "device %s not found", address)
}

func (m *MemoryStore) DeviceByID(_ context.Context, id string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return Device{}, errorf(KindNotFound, "device %s not found", id)
	}
	return *d, nil
}

func (m *MemoryStore) TouchHeartbeat(_ context.Context, address string, at time.Time) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Address == address {
			ts := at.UTC()
			d.LastHeartbeat = &ts
			return *d, nil
		}
	}
	return Device{}, errorf(KindNotFound, "device %s not found", address)
}

func (m *MemoryStore) ListDevices(_ context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Assignment(_ context.Context, id string) (Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, errorf(KindNotFound, "teaching assignment %s not found", id)
	}
	return a, nil
}

func (m *MemoryStore) SectionRoster(_ context.Context, assignmentID string) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[assignmentID]
	if !ok {
		return []Student{}, nil
	}
	out := []Student{}
	for _, st := range m.students {
		if st.SectionID == a.SectionID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) StudentByTag(_ context.Context, tag string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.students {
		if st.RFIDTag != "" && st.RFIDTag == tag {
			return st, nil
		}
	}
	return Student{}, errorf(KindNotFound, "student with RFID tag %s not found", tag)
}

func (m *MemoryStore) TeacherByTag(_ context.Context, tag string) (Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.teachers {
		if t.RFIDTag != "" && t.RFIDTag == tag {
			return t, nil
		}
	}
	return Teacher{}, errorf(KindNotFound, "teacher with RFID tag %s not found", tag)
}

func (m *MemoryStore) Teacher(_ context.Context, id string) (Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teachers[id]
	if !ok {
		return Teacher{}, errorf(KindNotFound, "teacher %s not found", id)
	}
	return t, nil
}

func cloneSession(s *Session) Session {
	out := *s
	out.BoundDeviceID = copyString(s.BoundDeviceID)
	if s.EndedAt != nil {
		end := *s.EndedAt
		out.EndedAt = &end
	}
	return out
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
