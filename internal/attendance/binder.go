package attendance

import (
	"context"
	"errors"
	"fmt"
)

const notApplicable = "N/A"

// TeacherAuth is the outcome of a teacher tapping their card on a reader.
type TeacherAuth struct {
	Teacher    Teacher  `json:"teacher"`
	Device     Device   `json:"device"`
	SessionIDs []string `json:"session_ids"`
}

// AuthStatus reports whether a session currently has a trusted reader.
type AuthStatus struct {
	SessionID       string `json:"session_id"`
	Authenticated   bool   `json:"authenticated"`
	AuthenticatedBy string `json:"authenticated_by"`
	DeviceID        string `json:"device_id,omitempty"`
	DeviceAddress   string `json:"device_address"`
	Message         string `json:"message"`
}

// AuthenticateTeacher binds the reader at deviceAddress to every open session of the
// teacher owning teacherTag. The binding is recomputed on each call and overwrites any
// previous one; sessions opened later inherit it through CreateSession.
func (s *Service) AuthenticateTeacher(ctx context.Context, deviceAddress, teacherTag string) (TeacherAuth, error) {
	addr := NormalizeAddress(deviceAddress)
	tag := NormalizeTag(teacherTag)
	if addr == "" || tag == "" {
		return TeacherAuth{}, errorf(KindInvalidArgument, "device address and teacher RFID tag are required")
	}

	dev, err := s.resolveDevice(ctx, addr)
	if err != nil {
		s.metrics.DeviceAuth("unknown_device")
		return TeacherAuth{}, err
	}
	teacher, err := s.store.TeacherByTag(ctx, tag)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.DeviceAuth("unknown_teacher")
			return TeacherAuth{}, errorf(KindUnauthorized, "teacher with this RFID tag is not registered")
		}
		return TeacherAuth{}, fmt.Errorf("resolve teacher: %w", err)
	}

	bound, err := s.store.BindTeacherSessions(ctx, teacher.ID, dev.ID)
	if err != nil {
		return TeacherAuth{}, fmt.Errorf("bind sessions: %w", err)
	}

	ids := make([]string, 0, len(bound))
	update := AuthUpdate{
		DeviceID:      dev.ID,
		DeviceAddress: dev.Address,
		TeacherID:     teacher.ID,
		TeacherName:   teacher.Name,
	}
	for _, sess := range bound {
		ids = append(ids, sess.ID)
		s.emit(EventAuthUpdate, sess.ID, update)
	}

	s.metrics.DeviceAuth("ok")
	s.log.Info("device authenticated by teacher",
		"device", dev.Address, "teacher", teacher.ID, "sessions", len(ids))
	return TeacherAuth{Teacher: teacher, Device: dev, SessionIDs: ids}, nil
}

// DeviceAuthStatus is authenticated iff the session is open and has a bound device.
func (s *Service) DeviceAuthStatus(ctx context.Context, sessionID string) (AuthStatus, error) {
	status := AuthStatus{
		SessionID:       sessionID,
		AuthenticatedBy: notApplicable,
		DeviceAddress:   notApplicable,
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			status.Message = "Session not found"
		}
		return status, err
	}
	if sess.Closed {
		status.Message = "Session is closed"
		return status, nil
	}
	if !sess.Bound() {
		status.Message = "Device not authenticated - teacher needs to scan RFID card"
		return status, nil
	}

	dev, err := s.store.DeviceByID(ctx, *sess.BoundDeviceID)
	if err != nil {
		return status, fmt.Errorf("load bound device: %w", err)
	}
	teacherName := notApplicable
	if t, err := s.store.Teacher(ctx, sess.TeacherID); err == nil {
		teacherName = t.Name
	} else if !errors.Is(err, ErrNotFound) {
		return status, fmt.Errorf("load teacher: %w", err)
	}

	name := dev.Name
	if name == "" {
		name = "Unnamed Device"
	}
	status.Authenticated = true
	status.AuthenticatedBy = teacherName
	status.DeviceID = dev.ID
	status.DeviceAddress = dev.Address
	status.Message = fmt.Sprintf("Device authenticated and ready (%s)", name)
	return status, nil
}
