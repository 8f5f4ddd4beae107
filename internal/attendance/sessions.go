package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	closeReasonManual = "manual"
	closeReasonSweep  = "sweep"
)

// OpenSession starts a class session for a teaching assignment owned by teacherID.
func (s *Service) OpenSession(ctx context.Context, teacherID, assignmentID string) (Session, error) {
	if teacherID == "" || assignmentID == "" {
		return Session{}, errorf(KindInvalidArgument, "teacher id and teaching assignment id are required")
	}
	a, err := s.store.Assignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, errorf(KindNotFound, "teaching assignment %s not found", assignmentID)
		}
		return Session{}, fmt.Errorf("load assignment: %w", err)
	}
	if a.TeacherID != teacherID {
		// An already-running class is reported as such whoever asks.
		if open, lerr := s.openSessionFor(ctx, a.ID); lerr == nil && open {
			return Session{}, errorf(KindConflict, "a session is already open for teaching assignment %s", a.ID)
		}
		return Session{}, errorf(KindNotFound, "teaching assignment %s is not assigned to teacher %s", assignmentID, teacherID)
	}

	created, err := s.store.CreateSession(ctx, Session{
		ID:           uuid.NewString(),
		AssignmentID: a.ID,
		TeacherID:    teacherID,
		StartedAt:    s.now(),
	})
	if err != nil {
		return Session{}, err
	}

	s.metrics.SessionOpened()
	s.log.Info("session opened",
		"session", created.ID, "assignment", created.AssignmentID,
		"teacher", teacherID, "inherited_device", created.Bound())
	s.emit(EventSessionUpdate, created.ID, sessionUpdate(created))
	return created, nil
}

// CloseSession ends an open session. Closing twice is a Conflict, never a no-op.
func (s *Service) CloseSession(ctx context.Context, sessionID string) (Session, error) {
	return s.closeSession(ctx, sessionID, closeReasonManual)
}

func (s *Service) closeSession(ctx context.Context, sessionID, reason string) (Session, error) {
	if sessionID == "" {
		return Session{}, errorf(KindInvalidArgument, "session id is required")
	}
	closed, err := s.store.CloseSession(ctx, sessionID, s.now())
	if err != nil {
		return Session{}, err
	}
	s.metrics.SessionClosed(reason)
	s.log.Info("session closed", "session", closed.ID, "reason", reason)
	s.emit(EventSessionUpdate, closed.ID, sessionUpdate(closed))
	return closed, nil
}

// Session returns a session by id.
func (s *Service) Session(ctx context.Context, sessionID string) (Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// OpenSessionsForTeacher lists the teacher's open sessions, newest first.
func (s *Service) OpenSessionsForTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	if teacherID == "" {
		return nil, errorf(KindInvalidArgument, "teacher id is required")
	}
	return s.store.ListOpenSessions(ctx, teacherID)
}

func (s *Service) openSessionFor(ctx context.Context, assignmentID string) (bool, error) {
	open, err := s.store.ListOpenSessions(ctx, "")
	if err != nil {
		return false, err
	}
	for _, sess := range open {
		if sess.AssignmentID == assignmentID {
			return true, nil
		}
	}
	return false, nil
}

// OpenSessions lists every open session.
func (s *Service) OpenSessions(ctx context.Context) ([]Session, error) {
	return s.store.ListOpenSessions(ctx, "")
}
