package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classroom-relay/relay/internal/cache"
	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

const deadlockQuery = "What is a deadlock?"

func TestHandleTeacherAvailable(t *testing.T) {
	c := newClassroom(t, true)
	llm := &fakeLLM{answer: "unused"}
	p := c.pipeline(llm, PipelineOptions{})

	res, err := p.Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	assert.True(t, res.TeacherAvailable)
	assert.Nil(t, res.AIResponse)
	assert.Nil(t, res.AIMessage)
	assert.Equal(t, deadlockQuery, res.Message.Content)
	assert.NotEmpty(t, res.Message.Embedding)
	assert.Zero(t, llm.generateCalls())
	assert.Len(t, c.messagesByRole(t, store.RoleStudent), 1)
}

func TestHandleRejectsInvalidRequest(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "unused"}
	p := c.pipeline(llm, PipelineOptions{})

	valid := c.request(deadlockQuery)
	tests := []struct {
		name   string
		mutate func(r *SendMessageRequest)
	}{
		{"missing content", func(r *SendMessageRequest) { r.Content = "" }},
		{"missing group", func(r *SendMessageRequest) { r.GroupID = "" }},
		{"missing user", func(r *SendMessageRequest) { r.UserID = "" }},
		{"missing role", func(r *SendMessageRequest) { r.SenderRole = "" }},
		{"ai role", func(r *SendMessageRequest) { r.SenderRole = store.RoleAI }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := p.Handle(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	count, err := c.store.CountMessagesByGroupID(context.Background(), c.group.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, llm.embedCalls)
}

func TestHandleCacheMissUsesLatestTwentyMessages(t *testing.T) {
	c := newClassroom(t, false)
	c.seedMessages(t, 25)
	llm := &fakeLLM{answer: "A deadlock is a cycle of processes waiting on each other."}
	p := c.pipeline(llm, PipelineOptions{})

	res, err := p.Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	assert.False(t, res.TeacherAvailable)
	require.NotNil(t, res.AIResponse)
	assert.Equal(t, llm.answer, *res.AIResponse)

	// The inbound question is already stored, so it closes the window.
	var window []string
	for i := 7; i <= 25; i++ {
		window = append(window, fmt.Sprintf("m%d", i))
	}
	window = append(window, deadlockQuery)
	require.Equal(t, 1, llm.generateCalls())
	assert.Equal(t, BuildPrompt(deadlockQuery, strings.Join(window, "\n\n")), llm.prompts[0])

	aiMessages := c.messagesByRole(t, store.RoleAI)
	require.Len(t, aiMessages, 1)
	assert.Equal(t, llm.answer, aiMessages[0].Content)
	assert.Equal(t, c.studentUser.ID, aiMessages[0].SenderID)
	assert.NotEmpty(t, aiMessages[0].Embedding)
	assert.Equal(t, aiMessages[0].ID, res.AIMessage.ID)

	answer, err := c.store.GetAnswerByQuery(context.Background(), deadlockQuery)
	require.NoError(t, err)
	assert.Equal(t, llm.answer, answer.Answers)
}

func TestHandleCacheHitSkipsGeneration(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "cached answer"}
	p := c.pipeline(llm, PipelineOptions{}, cache.NewMemoryAnswerCache(time.Minute, time.Minute))

	first, err := p.Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	second, err := p.Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)

	assert.Equal(t, 1, llm.generateCalls())
	require.NotNil(t, second.AIResponse)
	assert.Equal(t, *first.AIResponse, *second.AIResponse)
	assert.Len(t, c.messagesByRole(t, store.RoleAI), 2, "every turn is kept in history")
}

func TestHandleCacheHitFromStoreOnly(t *testing.T) {
	c := newClassroom(t, false)
	_, err := c.store.CreateAnswer(context.Background(), &store.Answer{Query: deadlockQuery, Answers: "from an earlier term"})
	require.NoError(t, err)

	llm := &fakeLLM{answer: "fresh"}
	res, err := c.pipeline(llm, PipelineOptions{}).Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	assert.Equal(t, "from an earlier term", *res.AIResponse)
	assert.Zero(t, llm.generateCalls())
}

func TestHandleTeacherBecomesAvailable(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "ai answer"}
	p := c.pipeline(llm, PipelineOptions{})

	first, err := p.Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	require.NotNil(t, first.AIResponse)

	require.NoError(t, c.store.SetTeacherAvailability(context.Background(), c.teacher.ID, true))

	second, err := p.Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	assert.True(t, second.TeacherAvailable)
	assert.Nil(t, second.AIResponse)
}

type failingWriter struct{}

func (failingWriter) CreateMessage(context.Context, *store.Message) error {
	return errors.New("database is down")
}

type countingAvailabilityStore struct {
	AvailabilityStore
	groupLookups int
}

func (s *countingAvailabilityStore) GetGroupByID(ctx context.Context, id string) (*store.Group, error) {
	s.groupLookups++
	return s.AvailabilityStore.GetGroupByID(ctx, id)
}

func TestHandlePersistFailureIsFatal(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "unused"}
	log := logger.Nop()
	avail := &countingAvailabilityStore{AvailabilityStore: c.store}
	p := NewResponsePipeline(
		failingWriter{},
		NewAvailabilityResolver(avail, log),
		NewContextRetriever(c.store),
		NewAnswerCache(c.store, log),
		llm, llm, PipelineOptions{}, log,
	)

	_, err := p.Handle(context.Background(), c.request(deadlockQuery))
	assert.ErrorIs(t, err, ErrPersistMessage)
	assert.Zero(t, avail.groupLookups)
	assert.Zero(t, llm.generateCalls())
}

func TestHandleEmbeddingFailureIsNotFatal(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "still answered", embedErr: errors.New("quota exceeded")}

	res, err := c.pipeline(llm, PipelineOptions{}).Handle(context.Background(), c.request(deadlockQuery))
	require.NoError(t, err)
	assert.Nil(t, res.Message.Embedding)
	assert.Equal(t, "still answered", *res.AIResponse)
	assert.Nil(t, res.AIMessage.Embedding)
}

func TestHandleGenerationFailureKeepsInboundMessage(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{genErr: errors.New("model overloaded")}

	_, err := c.pipeline(llm, PipelineOptions{}).Handle(context.Background(), c.request(deadlockQuery))
	assert.ErrorIs(t, err, ErrGeneration)

	assert.Len(t, c.messagesByRole(t, store.RoleStudent), 1)
	assert.Empty(t, c.messagesByRole(t, store.RoleAI))
	_, err = c.store.GetAnswerByQuery(context.Background(), deadlockQuery)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleGenerationTimeout(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "too late", gate: make(chan struct{})}

	_, err := c.pipeline(llm, PipelineOptions{GenerationTimeout: 20 * time.Millisecond}).Handle(context.Background(), c.request(deadlockQuery))
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentMissesShareOneGeneration(t *testing.T) {
	c := newClassroom(t, false)
	llm := &fakeLLM{answer: "shared answer", gate: make(chan struct{})}
	p := c.pipeline(llm, PipelineOptions{})

	var wg sync.WaitGroup
	results := make([]*SendMessageResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.Handle(context.Background(), c.request(deadlockQuery))
		}()
	}

	require.Eventually(t, func() bool { return llm.generateCalls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(llm.gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared answer", *results[i].AIResponse)
	}
	assert.Equal(t, 1, llm.generateCalls())
	assert.Len(t, c.messagesByRole(t, store.RoleAI), 2)
}
