package attendance

import (
	"encoding/json"
	"fmt"
	"io"
)

// RosterSeed is the on-disk shape of a development roster.
type RosterSeed struct {
	Teachers    []seedTeacher `json:"teachers"`
	Students    []seedStudent `json:"students"`
	Assignments []Assignment  `json:"assignments"`
}

// The roster types hide rfid_tag from API output, so the seed file needs its own shape.
type seedTeacher struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EmployeeID string `json:"employee_id"`
	RFIDTag    string `json:"rfid_tag"`
}

type seedStudent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no"`
	RFIDTag      string `json:"rfid_tag"`
	SectionID    string `json:"section_id"`
}

// SeedRoster loads teachers, students and assignments from JSON into m.
func SeedRoster(m *MemoryStore, r io.Reader) error {
	var seed RosterSeed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode roster seed: %w", err)
	}
	teachers := make(map[string]struct{}, len(seed.Teachers))
	for _, t := range seed.Teachers {
		if t.ID == "" {
			return fmt.Errorf("roster seed: teacher without id")
		}
		m.AddTeacher(Teacher{ID: t.ID, Name: t.Name, EmployeeID: t.EmployeeID, RFIDTag: t.RFIDTag})
		teachers[t.ID] = struct{}{}
	}
	for _, st := range seed.Students {
		if st.ID == "" || st.SectionID == "" {
			return fmt.Errorf("roster seed: student %q needs an id and a section", st.Name)
		}
		m.AddStudent(Student{ID: st.ID, Name: st.Name, EnrollmentNo: st.EnrollmentNo, RFIDTag: st.RFIDTag, SectionID: st.SectionID})
	}
	for _, a := range seed.Assignments {
		if _, ok := teachers[a.TeacherID]; !ok {
			return fmt.Errorf("roster seed: assignment %s references unknown teacher %s", a.ID, a.TeacherID)
		}
		m.AddAssignment(a)
	}
	return nil
}
