package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ScanResult describes an accepted tap.
type ScanResult struct {
	Record     Record  `json:"record"`
	Student    Student `json:"student"`
	SelfHealed bool    `json:"self_healed"`
}

// RecordScan records a student's tap on deviceAddress against sessionID. A second tap by
// the same student in the same session is rejected with ErrConflict; the insert itself is
// the uniqueness check, so concurrent duplicates resolve to exactly one record.
func (s *Service) RecordScan(ctx context.Context, studentTag, deviceAddress, sessionID string) (ScanResult, error) {
	addr := NormalizeAddress(deviceAddress)
	tag := NormalizeTag(studentTag)
	if addr == "" || tag == "" || sessionID == "" {
		s.metrics.Scan("bad_request")
		return ScanResult{}, errorf(KindInvalidArgument, "RFID tag, device address and session id are required")
	}

	dev, err := s.resolveDevice(ctx, addr)
	if err != nil {
		s.metrics.Scan("unknown_device")
		return ScanResult{}, err
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ScanResult{}, fmt.Errorf("load session: %w", err)
	}
	if err != nil || sess.Closed {
		s.metrics.Scan("inactive_session")
		return ScanResult{}, errorf(KindInvalidState, "session %s is not active or does not exist", sessionID)
	}

	student, err := s.store.StudentByTag(ctx, tag)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.Scan("unknown_student")
			return ScanResult{}, errorf(KindNotFound, "student with RFID tag %s not found", tag)
		}
		return ScanResult{}, fmt.Errorf("resolve student: %w", err)
	}

	rec, err := s.store.InsertRecord(ctx, Record{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		StudentID:     student.ID,
		DeviceID:      dev.ID,
		DeviceAddress: dev.Address,
		CapturedAt:    s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			s.metrics.Scan("duplicate")
			return ScanResult{}, errorf(KindConflict, "student %s already marked present for this session", student.Name)
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound):
			s.metrics.Scan("inactive_session")
			return ScanResult{}, errorf(KindInvalidState, "session %s is not active or does not exist", sessionID)
		}
		return ScanResult{}, fmt.Errorf("insert record: %w", err)
	}

	healed := false
	if !sess.Bound() {
		// The conditional write loses cleanly to a concurrent teacher authentication.
		healed, err = s.store.BindIfUnbound(ctx, sess.ID, dev.ID)
		if err != nil {
			s.log.Warn("self-heal binding failed", "session", sess.ID, "device", dev.Address, "error", err)
		} else if healed {
			s.log.Info("session bound from first scan", "session", sess.ID, "device", dev.Address)
		}
	}

	s.metrics.Scan("ok")
	s.emit(EventAttendanceDelta, sess.ID, AttendanceDelta{
		StudentID:    student.ID,
		Name:         student.Name,
		EnrollmentNo: student.EnrollmentNo,
		Timestamp:    rec.CapturedAt,
	})
	return ScanResult{Record: rec, Student: student, SelfHealed: healed}, nil
}
