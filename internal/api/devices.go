package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"rfidattendance/internal/attendance"
	"rfidattendance/internal/auth"
)

type registerDeviceRequest struct {
	Address  string `json:"device_address" binding:"required,mac"`
	Secret   string `json:"secret" binding:"required,min=8"`
	Name     string `json:"name" binding:"max=100"`
	Location string `json:"location" binding:"max=200"`
}

func (s *Server) registerDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	dev, err := s.svc.RegisterDevice(c.Request.Context(), attendance.NewDevice{
		Address:  req.Address,
		Secret:   req.Secret,
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": dev})
}

func (s *Server) listDevices(c *gin.Context) {
	devices, err := s.svc.Devices(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

type deviceTokenRequest struct {
	Address string `json:"device_address" binding:"required"`
	Secret  string `json:"secret" binding:"required"`
}

func (s *Server) deviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	dev, err := s.svc.AuthenticateDevice(c.Request.Context(), req.Address, req.Secret)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.issueDeviceTokens(c, dev.Address, http.StatusCreated)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) refreshDeviceToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, s.cfg.JWTSigningKey, s.cfg.JWTIssuer)
	if err != nil || claims.Role != auth.RoleDevice {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token", "kind": "unauthorized"})
		return
	}
	// A deregistered reader cannot refresh its way back in.
	if _, err := s.svc.ResolveDevice(c.Request.Context(), claims.Subject); err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "device is no longer registered", "kind": "unauthorized"})
			return
		}
		s.writeError(c, err)
		return
	}
	s.issueDeviceTokens(c, claims.Subject, http.StatusOK)
}

func (s *Server) issueDeviceTokens(c *gin.Context, address string, status int) {
	tokens, err := auth.Issue(address, auth.RoleDevice, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.DeviceAccessTTL, s.cfg.DeviceRefreshTTL)
	if err != nil {
		s.writeError(c, fmt.Errorf("issue device token: %w", err))
		return
	}
	c.JSON(status, tokens)
}

// deviceAddress resolves the address a device request acts for. An address in the body
// must match the token subject.
func deviceAddress(c *gin.Context, fromBody string) (string, bool) {
	claims, _ := auth.ClaimsFrom(c)
	subject := attendance.NormalizeAddress(claims.Subject)
	addr := attendance.NormalizeAddress(fromBody)
	if addr == "" {
		return subject, true
	}
	if addr != subject {
		forbidden(c, "device mismatch")
		return "", false
	}
	return addr, true
}

type heartbeatRequest struct {
	Address string `json:"device_address"`
}

func (s *Server) deviceHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return
	}
	addr, ok := deviceAddress(c, req.Address)
	if !ok {
		return
	}
	dev, err := s.svc.Heartbeat(c.Request.Context(), addr)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_address": dev.Address, "last_heartbeat_at": dev.LastHeartbeat})
}

type teacherAuthRequest struct {
	Address string `json:"device_address"`
	RFIDTag string `json:"rfid_tag" binding:"required,rfidtag"`
}

func (s *Server) teacherAuth(c *gin.Context) {
	var req teacherAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	addr, ok := deviceAddress(c, req.Address)
	if !ok {
		return
	}
	res, err := s.svc.AuthenticateTeacher(c.Request.Context(), addr, req.RFIDTag)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     fmt.Sprintf("Device authenticated by %s for %d active session(s)", res.Teacher.Name, len(res.SessionIDs)),
		"teacher":     res.Teacher,
		"device":      res.Device,
		"session_ids": res.SessionIDs,
	})
}

type scanRequest struct {
	Address   string `json:"device_address"`
	RFIDTag   string `json:"rfid_tag" binding:"required,rfidtag"`
	SessionID string `json:"session_id" binding:"required"`
}

func (s *Server) recordScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	addr, ok := deviceAddress(c, req.Address)
	if !ok {
		return
	}
	res, err := s.svc.RecordScan(c.Request.Context(), req.RFIDTag, addr, req.SessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":     "Attendance marked for " + res.Student.Name,
		"record":      res.Record,
		"student":     res.Student,
		"self_healed": res.SelfHealed,
	})
}

func (s *Server) deviceTeacherSessions(c *gin.Context) {
	sessions, err := s.svc.OpenSessionsForTeacher(c.Request.Context(), c.Param("teacherId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
