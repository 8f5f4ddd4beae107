package mqttingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rfidattendance/internal/attendance"
)

// Topic kinds a reader publishes on, as rfid/<device address>/<kind>.
const (
	KindScan        = "scan"
	KindTeacherAuth = "teacher-auth"
	KindHeartbeat   = "heartbeat"
	KindResult      = "result"

	topicRoot = "rfid"
)

// Subscriptions lists the filters the worker listens on.
var Subscriptions = []string{
	topicRoot + "/+/" + KindScan,
	topicRoot + "/+/" + KindTeacherAuth,
	topicRoot + "/+/" + KindHeartbeat,
}

// Services is the subset of attendance.Service the handler drives.
type Services interface {
	AuthenticateDevice(ctx context.Context, address, secret string) (attendance.Device, error)
	AuthenticateTeacher(ctx context.Context, deviceAddress, teacherTag string) (attendance.TeacherAuth, error)
	RecordScan(ctx context.Context, studentTag, deviceAddress, sessionID string) (attendance.ScanResult, error)
	Heartbeat(ctx context.Context, address string) (attendance.Device, error)
}

// PublishFunc sends a reply to the reader.
type PublishFunc func(topic string, payload []byte) error

// Request is the JSON payload readers publish.
type Request struct {
	Secret    string `json:"secret"`
	RFIDTag   string `json:"rfid_tag,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Result is published on rfid/<address>/result after every request.
type Result struct {
	RequestID  string   `json:"request_id,omitempty"`
	Kind       string   `json:"kind"`
	OK         bool     `json:"ok"`
	Message    string   `json:"message"`
	ErrorKind  string   `json:"error_kind,omitempty"`
	SessionIDs []string `json:"session_ids,omitempty"`
	StudentID  string   `json:"student_id,omitempty"`
	At         string   `json:"at"`
}

// Handler turns reader messages into service calls.
type Handler struct {
	svc     Services
	publish PublishFunc
	log     *slog.Logger
	now     func() time.Time
}

// NewHandler creates a handler replying through publish.
func NewHandler(svc Services, publish PublishFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, publish: publish, log: logger, now: time.Now}
}

// ResultTopic is where replies for address are published.
func ResultTopic(address string) string {
	return topicRoot + "/" + address + "/" + KindResult
}

func parseTopic(topic string) (address, kind string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicRoot || parts[1] == "" {
		return "", "", fmt.Errorf("unexpected topic %q", topic)
	}
	return parts[1], parts[2], nil
}

// Handle processes one message. Failures are logged and reported to the reader; they never
// propagate to the subscription.
func (h *Handler) Handle(ctx context.Context, topic string, payload []byte) {
	address, kind, err := parseTopic(topic)
	if err != nil {
		h.log.Warn("mqtt: ignoring message", "topic", topic, "error", err)
		return
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reply(address, Result{Kind: kind, Message: "payload is not valid JSON", ErrorKind: string(attendance.KindInvalidArgument)})
		return
	}

	res := h.dispatch(ctx, address, kind, req)
	res.RequestID = req.RequestID
	res.Kind = kind
	h.reply(address, res)
}

func (h *Handler) dispatch(ctx context.Context, address, kind string, req Request) Result {
	if _, err := h.svc.AuthenticateDevice(ctx, address, req.Secret); err != nil {
		h.log.Warn("mqtt: device rejected", "device", address, "error", err)
		return failure(err)
	}

	switch kind {
	case KindScan:
		res, err := h.svc.RecordScan(ctx, req.RFIDTag, address, req.SessionID)
		if err != nil {
			h.log.Info("mqtt: scan rejected", "device", address, "session", req.SessionID, "error", err)
			return failure(err)
		}
		return Result{OK: true, Message: "Attendance marked for " + res.Student.Name, StudentID: res.Student.ID}
	case KindTeacherAuth:
		res, err := h.svc.AuthenticateTeacher(ctx, address, req.RFIDTag)
		if err != nil {
			return failure(err)
		}
		return Result{
			OK:         true,
			Message:    fmt.Sprintf("Device authenticated by %s for %d active session(s)", res.Teacher.Name, len(res.SessionIDs)),
			SessionIDs: res.SessionIDs,
		}
	case KindHeartbeat:
		if _, err := h.svc.Heartbeat(ctx, address); err != nil {
			return failure(err)
		}
		return Result{OK: true, Message: "ok"}
	}
	return Result{Message: "unknown message kind " + kind, ErrorKind: string(attendance.KindInvalidArgument)}
}

func failure(err error) Result {
	kind := attendance.KindOf(err)
	if kind == "" {
		return Result{Message: "internal error", ErrorKind: "internal"}
	}
	return Result{Message: err.Error(), ErrorKind: string(kind)}
}

func (h *Handler) reply(address string, res Result) {
	res.At = h.now().UTC().Format(time.RFC3339Nano)
	raw, err := json.Marshal(res)
	if err != nil {
		h.log.Error("mqtt: encode result", "error", err)
		return
	}
	if err := h.publish(ResultTopic(address), raw); err != nil {
		h.log.Warn("mqtt: publish result failed", "device", address, "error", err)
	}
}
