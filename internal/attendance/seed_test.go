package attendance

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedRoster(t *testing.T) {
	m := NewMemoryStore()
	err := SeedRoster(m, strings.NewReader(`{
		"teachers": [{"id": "T1", "name": "Asha Rao", "employee_id": "EMP1", "rfid_tag": "aa:01"}],
		"students": [
			{"id": "S1", "name": "Charlie", "enrollment_no": "E1", "rfid_tag": "c1-c1", "section_id": "SEC"},
			{"id": "S2", "name": "Alice", "enrollment_no": "E2", "section_id": "SEC"}
		],
		"assignments": [{"id": "a1", "subject_id": "DBMS", "section_id": "SEC", "teacher_id": "T1"}]
	}`))
	require.NoError(t, err)

	ctx := context.Background()
	teacher, err := m.TeacherByTag(ctx, "AA01")
	require.NoError(t, err)
	assert.Equal(t, "T1", teacher.ID)

	student, err := m.StudentByTag(ctx, "C1C1")
	require.NoError(t, err)
	assert.Equal(t, "S1", student.ID)

	roster, err := m.SectionRoster(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "Alice", roster[0].Name)
}

func TestSeedRosterRejectsDanglingAssignment(t *testing.T) {
	err := SeedRoster(NewMemoryStore(), strings.NewReader(`{"assignments": [{"id": "a1", "teacher_id": "nobody"}]}`))
	assert.ErrorContains(t, err, "unknown teacher")

	err = SeedRoster(NewMemoryStore(), strings.NewReader(`not json`))
	assert.Error(t, err)
}
