package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

type fakeLLM struct {
	mu         sync.Mutex
	answer     string
	embedErr   error
	genErr     error
	gate       chan struct{} // Generate blocks until closed when set
	prompts    []string
	embedCalls int
}

func (f *fakeLLM) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.answer, nil
}

func (f *fakeLLM) generateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type classroom struct {
	store       *store.SQLiteStore
	teacherUser *store.User
	teacher     *store.Teacher
	studentUser *store.User
	student     *store.Student
	group       *store.Group
}

func newClassroom(t *testing.T, teacherAvailable bool) *classroom {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c := &classroom{store: s}
	c.teacherUser = &store.User{Name: "Edsger", Email: "edsger@school.edu", PasswordHash: "x"}
	c.teacher = &store.Teacher{IsAvailable: teacherAvailable}
	require.NoError(t, s.CreateTeacherAccount(ctx, c.teacherUser, c.teacher))

	c.studentUser = &store.User{Name: "Barbara", Email: "barbara@school.edu", PasswordHash: "x"}
	c.student = &store.Student{Semester: 3}
	require.NoError(t, s.CreateStudentAccount(ctx, c.studentUser, c.student))

	c.group = &store.Group{SubjectName: "Operating Systems", TeacherID: c.teacher.ID, SemesterID: "semester-3", GroupType: store.GroupTypeGroup}
	require.NoError(t, s.CreateGroup(ctx, c.group, c.student.ID))
	return c
}

func (c *classroom) seedMessages(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		msg := &store.Message{GroupID: c.group.ID, SenderID: c.studentUser.ID, SenderRole: store.RoleStudent, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, c.store.CreateMessage(context.Background(), msg))
	}
}

func (c *classroom) messagesByRole(t *testing.T, role string) []store.Message {
	t.Helper()
	all, err := c.store.GetMessagesByGroupID(context.Background(), c.group.ID, -1, 0)
	require.NoError(t, err)
	var out []store.Message
	for _, m := range all {
		if m.SenderRole == role {
			out = append(out, m)
		}
	}
	return out
}

func (c *classroom) pipeline(llm *fakeLLM, opts PipelineOptions, tiers ...AnswerTier) *ResponsePipeline {
	log := logger.Nop()
	return NewResponsePipeline(
		c.store,
		NewAvailabilityResolver(c.store, log),
		NewContextRetriever(c.store),
		NewAnswerCache(c.store, log, tiers...),
		llm,
		llm,
		opts,
		log,
	)
}

func (c *classroom) request(content string) SendMessageRequest {
	return SendMessageRequest{
		Content:    content,
		GroupID:    c.group.ID,
		UserID:     c.studentUser.ID,
		SenderRole: store.RoleStudent,
	}
}
