package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rfidattendance/internal/attendance"
	"rfidattendance/internal/auth"
)

func isTeacher(claims auth.Claims) bool {
	return strings.EqualFold(claims.Role, auth.RoleTeacher)
}

type openSessionRequest struct {
	AssignmentID string `json:"teaching_assignment_id" binding:"required"`
	TeacherID    string `json:"teacher_id"`
}

// openSession lets a teacher open their own class; coordinators and admins name the teacher.
func (s *Server) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	teacherID := req.TeacherID
	if isTeacher(claims) {
		if teacherID != "" && teacherID != claims.Subject {
			forbidden(c, "teachers can only open their own sessions")
			return
		}
		teacherID = claims.Subject
	} else if teacherID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "teacher_id is required", "kind": "bad_request"})
		return
	}

	sess, err := s.svc.OpenSession(c.Request.Context(), teacherID, req.AssignmentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (s *Server) closeSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.svc.Session(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if isTeacher(claims) && sess.TeacherID != claims.Subject {
		forbidden(c, "session belongs to another teacher")
		return
	}
	closed, err := s.svc.CloseSession(ctx, sess.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": closed})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.svc.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if isTeacher(claims) && sess.TeacherID != claims.Subject {
		forbidden(c, "session belongs to another teacher")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (s *Server) activeSessions(c *gin.Context) {
	sessions, err := s.svc.OpenSessions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) teacherSessions(c *gin.Context) {
	teacherID := c.Param("teacherId")
	claims, _ := auth.ClaimsFrom(c)
	if isTeacher(claims) && teacherID != claims.Subject {
		forbidden(c, "teachers can only list their own sessions")
		return
	}
	sessions, err := s.svc.OpenSessionsForTeacher(c.Request.Context(), teacherID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) snapshot(c *gin.Context) {
	snap, err := s.svc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type authStatusError struct {
	attendance.AuthStatus
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// authStatus answers 200 for unauthenticated devices; only an unknown session is an error,
// and even then the N/A payload is returned alongside it.
func (s *Server) authStatus(c *gin.Context) {
	status, err := s.svc.DeviceAuthStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, authStatusError{AuthStatus: status, Error: err.Error(), Kind: string(attendance.KindNotFound)})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
