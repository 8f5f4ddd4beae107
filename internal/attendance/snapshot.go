package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const (
	StatusPresent = "PRESENT"
	StatusAbsent  = "ABSENT"
)

// SnapshotEntry is one student in a snapshot. Timestamp is nil for absent students.
type SnapshotEntry struct {
	StudentID    string     `json:"id"`
	Name         string     `json:"name"`
	EnrollmentNo string     `json:"enrollment_no"`
	Status       string     `json:"status"`
	Timestamp    *time.Time `json:"timestamp"`
}

// Snapshot is the derived present/absent view of a session.
type Snapshot struct {
	SessionID    string          `json:"session_id"`
	Closed       bool            `json:"closed"`
	Present      []SnapshotEntry `json:"present"`
	Absent       []SnapshotEntry `json:"absent"`
	RosterSize   int             `json:"roster_size"`
	PresentCount int             `json:"present_count"`
	AbsentCount  int             `json:"absent_count"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Snapshot diffs the session's records against its section roster. Nothing is cached;
// dashboards poll this as the source of truth.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	roster, err := s.store.SectionRoster(ctx, sess.AssignmentID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load roster: %w", err)
	}
	records, err := s.store.ListRecords(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load records: %w", err)
	}
	return reconcile(sess, roster, records, s.now()), nil
}

func reconcile(sess Session, roster []Student, records []Record, now time.Time) Snapshot {
	byID := make(map[string]Student, len(roster))
	for _, st := range roster {
		byID[st.ID] = st
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CapturedAt.Before(records[j].CapturedAt)
	})

	present := make([]SnapshotEntry, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		st, ok := byID[rec.StudentID]
		if !ok {
			// Moved out of the section after scanning; not part of this roster any more.
			continue
		}
		ts := rec.CapturedAt.UTC()
		present = append(present, SnapshotEntry{
			StudentID:    st.ID,
			Name:         st.Name,
			EnrollmentNo: st.EnrollmentNo,
			Status:       StatusPresent,
			Timestamp:    &ts,
		})
		seen[st.ID] = struct{}{}
	}

	absent := make([]SnapshotEntry, 0, len(roster)-len(present))
	for _, st := range roster {
		if _, ok := seen[st.ID]; ok {
			continue
		}
		absent = append(absent, SnapshotEntry{
			StudentID:    st.ID,
			Name:         st.Name,
			EnrollmentNo: st.EnrollmentNo,
			Status:       StatusAbsent,
		})
	}
	sort.SliceStable(absent, func(i, j int) bool { return absent[i].Name < absent[j].Name })

	return Snapshot{
		SessionID:    sess.ID,
		Closed:       sess.Closed,
		Present:      present,
		Absent:       absent,
		RosterSize:   len(roster),
		PresentCount: len(present),
		AbsentCount:  len(absent),
		GeneratedAt:  now,
	}
}
