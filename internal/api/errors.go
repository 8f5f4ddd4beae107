package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"rfidattendance/internal/attendance"
)

func statusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindConflict:
		return http.StatusConflict
	case attendance.KindInvalidState, attendance.KindInvalidArgument:
		return http.StatusBadRequest
	case attendance.KindUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError is the only place service errors become HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := attendance.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal server error", "kind": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(kind)})
}

func forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": msg, "kind": "forbidden"})
}

func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = translate(fe)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "kind": "bad_request", "fields": fields})
		return
	}
	msg := "invalid request body"
	if errors.Is(err, io.EOF) {
		msg = "request body is required"
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "bad_request"})
}
