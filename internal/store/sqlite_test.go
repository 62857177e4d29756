package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTeacherGroup(t *testing.T, s *SQLiteStore, available bool) (*User, *Teacher, *Group) {
	t.Helper()
	ctx := context.Background()
	user := &User{Name: "Grace", Email: fmt.Sprintf("grace-%p@school.edu", t), PasswordHash: "x"}
	teacher := &Teacher{IsAvailable: available}
	require.NoError(t, s.CreateTeacherAccount(ctx, user, teacher))

	group := &Group{SubjectName: "Operating Systems", TeacherID: teacher.ID, SemesterID: "semester-3", GroupType: GroupTypeGroup}
	require.NoError(t, s.CreateGroup(ctx, group, ""))
	return user, teacher, group
}

func TestAccountsAndLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, teacher, _ := seedTeacherGroup(t, s, false)
	assert.Equal(t, RoleTeacher, user.Role)

	got, err := s.GetUserByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	byUser, err := s.GetTeacherByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, byUser.ID)
	assert.False(t, byUser.IsAvailable)

	require.NoError(t, s.SetTeacherAvailability(ctx, teacher.ID, true))
	byID, err := s.GetTeacherByID(ctx, teacher.ID)
	require.NoError(t, err)
	assert.True(t, byID.IsAvailable)

	assert.ErrorIs(t, s.SetTeacherAvailability(ctx, "missing", true), ErrNotFound)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateEmailRollsBackProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &User{Name: "Ada", Email: "ada@school.edu", PasswordHash: "x"}
	require.NoError(t, s.CreateStudentAccount(ctx, first, &Student{Semester: 2}))

	second := &User{Name: "Ada Again", Email: "ada@school.edu", PasswordHash: "y"}
	err := s.CreateStudentAccount(ctx, second, &Student{Semester: 2})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetStudentByUserID(ctx, second.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, teacher, group := seedTeacherGroup(t, s, true)

	studentUser := &User{Name: "Linus", Email: "linus@school.edu", PasswordHash: "x"}
	student := &Student{Semester: 3}
	require.NoError(t, s.CreateStudentAccount(ctx, studentUser, student))

	_, err := s.AddGroupMember(ctx, group.ID, student.ID)
	require.NoError(t, err)
	_, err = s.AddGroupMember(ctx, group.ID, student.ID)
	assert.ErrorIs(t, err, ErrDuplicate)

	count, err := s.CountGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	students, err := s.ListGroupStudents(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "Linus", students[0].Name)

	member, err := s.IsGroupMember(ctx, group.ID, student.ID)
	require.NoError(t, err)
	assert.True(t, member)

	personal := &Group{SubjectName: "Mentoring", TeacherID: teacher.ID, SemesterID: "semester-3", GroupType: GroupTypePersonal}
	require.NoError(t, s.CreateGroup(ctx, personal, student.ID))

	studentGroups, err := s.ListGroupsByStudentID(ctx, student.ID)
	require.NoError(t, err)
	assert.Len(t, studentGroups, 2)

	teacherGroups, err := s.ListGroupsByTeacherID(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Len(t, teacherGroups, 2)
}

func TestSemestersAreSeeded(t *testing.T) {
	s := newTestStore(t)
	semesters, err := s.ListSemesters(context.Background())
	require.NoError(t, err)
	require.Len(t, semesters, 8)
	assert.Equal(t, 1, semesters[0].SemesterNumber)

	sem, err := s.GetSemesterByID(context.Background(), "semester-5")
	require.NoError(t, err)
	assert.Equal(t, 5, sem.SemesterNumber)
}

func TestMessageOrderingAndEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, group := seedTeacherGroup(t, s, false)

	for i := 1; i <= 25; i++ {
		msg := &Message{GroupID: group.ID, SenderID: "u1", SenderRole: RoleStudent, Content: fmt.Sprintf("m%d", i)}
		if i%5 == 0 {
			msg.Embedding = []float32{float32(i), 0.5}
		}
		require.NoError(t, s.CreateMessage(ctx, msg))
	}

	last, err := s.GetLastNMessagesByGroupID(ctx, group.ID, 20)
	require.NoError(t, err)
	require.Len(t, last, 20)
	assert.Equal(t, "m25", last[0].Content)
	assert.Equal(t, "m6", last[19].Content)

	all, err := s.GetMessagesByGroupID(ctx, group.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, all, 25)
	assert.Equal(t, "m1", all[0].Content)
	assert.Nil(t, all[0].Embedding)
	assert.Equal(t, []float32{5, 0.5}, all[4].Embedding)

	embedded, err := s.GetEmbeddedMessagesByGroupID(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, embedded, 5)

	count, err := s.CountMessagesByGroupID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestAnswersKeepFirstRowPerQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAnswerByQuery(ctx, "What is a deadlock?")
	assert.ErrorIs(t, err, ErrNotFound)

	first := &Answer{Query: "What is a deadlock?", Answers: "first"}
	inserted, err := s.CreateAnswer(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	inserted, err = s.CreateAnswer(ctx, &Answer{Query: "What is a deadlock?", Answers: "second"})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetAnswerByQuery(ctx, "What is a deadlock?")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Answers)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.GetAnswerByQuery(ctx, "what is a deadlock?")
	assert.ErrorIs(t, err, ErrNotFound, "lookup is exact, not case-insensitive")
}

type discardLog struct{}

func (discardLog) Info(string, ...interface{}) {}
func (discardLog) Warn(string, ...interface{}) {}

func TestIngestCourseMaterial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _, group := seedTeacherGroup(t, s, false)

	path := filepath.Join(t.TempDir(), "material.md")
	table := "| text |\n|------|\n| Deadlock needs four conditions. |\n| bad row\n| |\n| Semaphores guard shared state. |\n"
	require.NoError(t, os.WriteFile(path, []byte(table), 0o600))

	calls := 0
	embed := func(_ context.Context, text string) ([]float32, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("rate limited")
		}
		return []float32{1, 2, 3}, nil
	}

	n, err := s.IngestCourseMaterial(ctx, path, group.ID, user.ID, embed, discardLog{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)

	msgs, err := s.GetMessagesByGroupID(ctx, group.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Deadlock needs four conditions.", msgs[0].Content)
	assert.Equal(t, RoleTeacher, msgs[0].SenderRole)

	_, err = s.IngestCourseMaterial(ctx, path, "missing-group", user.ID, embed, discardLog{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIngestRejectsSenderOtherThanGroupTeacher(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, group := seedTeacherGroup(t, s, false)
	otherTeacher := &User{Name: "Barbara", Email: "barbara@school.edu", PasswordHash: "x"}
	require.NoError(t, s.CreateTeacherAccount(ctx, otherTeacher, &Teacher{}))

	studentUser := &User{Name: "Linus", Email: "linus@school.edu", PasswordHash: "x"}
	require.NoError(t, s.CreateStudentAccount(ctx, studentUser, &Student{Semester: 3}))

	path := filepath.Join(t.TempDir(), "material.md")
	require.NoError(t, os.WriteFile(path, []byte("| text |\n|---|\n| Paging splits memory into frames. |\n"), 0o600))
	embed := func(context.Context, string) ([]float32, error) { return []float32{1}, nil }

	for _, sender := range []string{studentUser.ID, otherTeacher.ID, "missing-user"} {
		n, err := s.IngestCourseMaterial(ctx, path, group.ID, sender, embed, discardLog{})
		assert.ErrorIs(t, err, ErrNotGroupTeacher, sender)
		assert.Zero(t, n)
	}

	count, err := s.CountMessagesByGroupID(ctx, group.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestParseMaterialTable(t *testing.T) {
	chunks := ParseMaterialTable("| content |\n| --- |\n| a |\nplain line\n|b|\n")
	assert.Equal(t, []string{"a", "b"}, chunks)
}
