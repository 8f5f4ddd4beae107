package mqttingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfidattendance/internal/attendance"
)

const (
	addr   = "1C:69:20:A3:8A:4C"
	secret = "reader-secret"
)

type sink struct {
	mu      sync.Mutex
	topics  []string
	results []Result
	err     error
}

func (s *sink) publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return err
	}
	s.topics = append(s.topics, topic)
	s.results = append(s.results, res)
	return s.err
}

func (s *sink) last(t *testing.T) Result {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.results)
	return s.results[len(s.results)-1]
}

func setup(t *testing.T) (*Handler, *sink, *attendance.Service, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := attendance.NewMemoryStore()
	store.AddTeacher(attendance.Teacher{ID: "T1", Name: "Asha Rao", RFIDTag: "AA01"})
	store.AddStudent(attendance.Student{ID: "S1", Name: "Charlie", RFIDTag: "C1C1", SectionID: "SEC"})
	store.AddAssignment(attendance.Assignment{ID: "a1", SectionID: "SEC", TeacherID: "T1"})
	svc := attendance.NewService(store, nil, logger, nil)

	ctx := context.Background()
	_, err := svc.RegisterDevice(ctx, attendance.NewDevice{Address: addr, Secret: secret})
	require.NoError(t, err)
	sess, err := svc.OpenSession(ctx, "T1", "a1")
	require.NoError(t, err)

	out := &sink{}
	return NewHandler(svc, out.publish, logger), out, svc, sess.ID
}

func payload(t *testing.T, req Request) []byte {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return raw
}

func TestHandleTeacherAuthThenScan(t *testing.T) {
	h, out, svc, sessionID := setup(t)
	ctx := context.Background()

	h.Handle(ctx, "rfid/"+addr+"/teacher-auth", payload(t, Request{Secret: secret, RFIDTag: "aa01", RequestID: "r1"}))
	res := out.last(t)
	assert.True(t, res.OK, res.Message)
	assert.Equal(t, KindTeacherAuth, res.Kind)
	assert.Equal(t, "r1", res.RequestID)
	assert.Equal(t, []string{sessionID}, res.SessionIDs)
	assert.Equal(t, "rfid/"+addr+"/result", out.topics[0])

	h.Handle(ctx, "rfid/"+addr+"/scan", payload(t, Request{Secret: secret, RFIDTag: "c1c1", SessionID: sessionID}))
	res = out.last(t)
	assert.True(t, res.OK, res.Message)
	assert.Equal(t, "S1", res.StudentID)

	h.Handle(ctx, "rfid/"+addr+"/scan", payload(t, Request{Secret: secret, RFIDTag: "c1c1", SessionID: sessionID}))
	res = out.last(t)
	assert.False(t, res.OK)
	assert.Equal(t, string(attendance.KindConflict), res.ErrorKind)

	snap, err := svc.Snapshot(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PresentCount)
}

func TestHandleRejections(t *testing.T) {
	h, out, _, sessionID := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		topic    string
		body     []byte
		wantKind string
	}{
		{name: "wrong secret", topic: "rfid/" + addr + "/scan", body: payload(t, Request{Secret: "nope", RFIDTag: "c1c1", SessionID: sessionID}), wantKind: "unauthorized"},
		{name: "unknown device", topic: "rfid/00:00:00:00:00:01/heartbeat", body: payload(t, Request{Secret: secret}), wantKind: "unauthorized"},
		{name: "bad json", topic: "rfid/" + addr + "/scan", body: []byte("{"), wantKind: "bad_request"},
		{name: "unknown kind", topic: "rfid/" + addr + "/reboot", body: payload(t, Request{Secret: secret}), wantKind: "bad_request"},
		{name: "inactive session", topic: "rfid/" + addr + "/scan", body: payload(t, Request{Secret: secret, RFIDTag: "c1c1", SessionID: "gone"}), wantKind: "invalid_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.Handle(ctx, tt.topic, tt.body)
			res := out.last(t)
			assert.False(t, res.OK)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
		})
	}

	before := len(out.results)
	h.Handle(ctx, "other/topic", payload(t, Request{Secret: secret}))
	assert.Len(t, out.results, before, "foreign topics are ignored without a reply")
}

func TestHandleHeartbeatSurvivesPublishFailure(t *testing.T) {
	h, out, svc, _ := setup(t)
	out.err = errors.New("broker gone")

	h.Handle(context.Background(), "rfid/"+addr+"/heartbeat", payload(t, Request{Secret: secret}))
	assert.True(t, out.last(t).OK)

	devices, err := svc.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.NotNil(t, devices[0].LastHeartbeat)
}
