package attendance

import (
	"log/slog"
	"time"

	"rfidattendance/internal/metrics"
)

// Service coordinates class sessions, device trust binding, scan ingestion and snapshots.
// It holds no per-session state; every decision is made against the store.
type Service struct {
	store   Store
	notify  Notifier
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a service backed by store. notify may be nil.
func NewService(store Store, notify Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if notify == nil {
		notify = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		notify:  notify,
		log:     logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) emit(kind EventKind, sessionID string, data any) {
	s.notify.Notify(Event{Kind: kind, SessionID: sessionID, Data: data, At: s.now()})
}

func sessionUpdate(sess Session) SessionUpdate {
	return SessionUpdate{
		SessionID:     sess.ID,
		TeacherID:     sess.TeacherID,
		Closed:        sess.Closed,
		BoundDeviceID: sess.BoundDeviceID,
		EndedAt:       sess.EndedAt,
	}
}
