package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

var (
	ErrInvalidRequest = errors.New("invalid message request")
	ErrPersistMessage = errors.New("failed to persist message")
	ErrGeneration     = errors.New("failed to produce ai response")
)

const DefaultGenerationTimeout = 60 * time.Second

type SendMessageRequest struct {
	Content    string `json:"content" validate:"required"`
	GroupID    string `json:"groupId" validate:"required"`
	UserID     string `json:"userId" validate:"required"`
	SenderRole string `json:"senderRole" validate:"required,oneof=student teacher"`
}

// SendMessageResult carries the stored inbound message and, when the AI
// answered, both the answer text and the message row it was stored as.
type SendMessageResult struct {
	Message          *store.Message `json:"message"`
	AIResponse       *string        `json:"aiResponse"`
	AIMessage        *store.Message `json:"aiMessage,omitempty"`
	TeacherAvailable bool           `json:"teacherAvailable"`
}

type MessageWriter interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
}

type PipelineOptions struct {
	GenerationTimeout time.Duration
}

// ResponsePipeline stores an inbound group message and, when the teacher is
// away, answers it from the answer cache or the model.
type ResponsePipeline struct {
	messages     MessageWriter
	availability *AvailabilityResolver
	history      *ContextRetriever
	answers      *AnswerCache
	embedder     Embedder
	generator    Generator
	timeout      time.Duration

	validate *validator.Validate
	flight   singleflight.Group
	log      *logger.Logger
}

func NewResponsePipeline(
	messages MessageWriter,
	availability *AvailabilityResolver,
	history *ContextRetriever,
	answers *AnswerCache,
	embedder Embedder,
	generator Generator,
	opts PipelineOptions,
	log *logger.Logger,
) *ResponsePipeline {
	timeout := opts.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &ResponsePipeline{
		messages:     messages,
		availability: availability,
		history:      history,
		answers:      answers,
		embedder:     embedder,
		generator:    generator,
		timeout:      timeout,
		validate:     validator.New(),
		log:          log,
	}
}

func (p *ResponsePipeline) Handle(ctx context.Context, req SendMessageRequest) (*SendMessageResult, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	msg := &store.Message{
		GroupID:    req.GroupID,
		SenderID:   req.UserID,
		SenderRole: req.SenderRole,
		Content:    req.Content,
		Embedding:  p.embed(ctx, req.Content),
	}
	if err := p.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistMessage, err)
	}

	result := &SendMessageResult{
		Message:          msg,
		TeacherAvailable: p.availability.IsTeacherAvailable(ctx, req.GroupID),
	}
	if result.TeacherAvailable {
		return result, nil
	}

	aiMsg, err := p.respond(ctx, req)
	if err != nil {
		p.log.Error("AI fallback failed", "group_id", req.GroupID, "message_id", msg.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	result.AIResponse = &aiMsg.Content
	result.AIMessage = aiMsg
	return result, nil
}

func (p *ResponsePipeline) respond(ctx context.Context, req SendMessageRequest) (*store.Message, error) {
	answer, cached, err := p.answerFor(ctx, req.GroupID, req.Content)
	if err != nil {
		return nil, err
	}

	aiMsg := &store.Message{
		GroupID:    req.GroupID,
		SenderID:   req.UserID,
		SenderRole: store.RoleAI,
		Content:    answer,
		Embedding:  p.embed(ctx, answer),
	}
	if err := p.messages.CreateMessage(ctx, aiMsg); err != nil {
		return nil, fmt.Errorf("failed to store ai message: %w", err)
	}

	if !cached {
		if err := p.answers.Store(ctx, req.Content, answer); err != nil {
			return nil, err
		}
	}
	p.log.Info("AI answered in place of teacher", "group_id", req.GroupID, "cached", cached)
	return aiMsg, nil
}

// answerFor reports whether the answer came from the cache. Concurrent misses
// for the same query share one generation.
func (p *ResponsePipeline) answerFor(ctx context.Context, groupID, query string) (string, bool, error) {
	answer, found, err := p.answers.Lookup(ctx, query)
	if err != nil {
		return "", false, err
	}
	if found {
		return answer, true, nil
	}

	v, err, shared := p.flight.Do(query, func() (interface{}, error) {
		return p.generate(context.WithoutCancel(ctx), groupID, query)
	})
	if err != nil {
		return "", false, err
	}
	if shared {
		p.log.Debug("Shared in-flight generation", "group_id", groupID)
	}
	return v.(string), false, nil
}

func (p *ResponsePipeline) generate(ctx context.Context, groupID, query string) (string, error) {
	history, err := p.history.Retrieve(ctx, groupID)
	if err != nil {
		return "", err
	}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	answer, err := p.generator.Generate(genCtx, BuildPrompt(query, history))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return answer, nil
}

// embed returns nil on failure; a missing embedding never blocks a message.
func (p *ResponsePipeline) embed(ctx context.Context, text string) []float32 {
	embedding, err := p.embedder.Embed(ctx, text)
	if err != nil {
		p.log.Warn("Failed to embed text, storing without embedding", "error", err)
		return nil
	}
	return embedding
}
