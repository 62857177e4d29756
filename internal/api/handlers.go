package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/classroom-relay/relay/internal/core"
	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

type MessagePipeline interface {
	Handle(ctx context.Context, req core.SendMessageRequest) (*core.SendMessageResult, error)
}

type Classroom interface {
	AuthorizeSender(ctx context.Context, userID, groupID string) (string, error)
	SignUp(ctx context.Context, in core.SignUpInput) (*store.User, error)
	Login(ctx context.Context, email, password string) (string, *store.User, error)
	Semesters(ctx context.Context) ([]store.Semester, error)
	CreateGroup(ctx context.Context, userID string, in core.CreateGroupInput) (*store.Group, error)
	JoinGroup(ctx context.Context, userID, groupID string) (*store.GroupMember, error)
	ListGroups(ctx context.Context, userID string) (*core.GroupOverview, error)
	GroupDetails(ctx context.Context, userID, groupID string) (*core.GroupDetails, error)
	Messages(ctx context.Context, userID, groupID string) ([]store.Message, error)
	Search(ctx context.Context, userID, groupID, query string) ([]core.SearchHit, error)
	SetAvailability(ctx context.Context, userID string, available bool) (*store.Teacher, error)
}

type APIHandler struct {
	pipeline  MessagePipeline
	classroom Classroom
	validate  *validator.Validate
	log       *logger.Logger
}

func NewAPIHandler(pipeline MessagePipeline, classroom Classroom, log *logger.Logger) *APIHandler {
	return &APIHandler{
		pipeline:  pipeline,
		classroom: classroom,
		validate:  validator.New(),
		log:       log,
	}
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// SendMessageHandler stores a group message and lets the AI answer when the
// teacher is away.
func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req core.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	userID := userIDFrom(r.Context())
	if req.UserID != "" && req.UserID != userID {
		writeError(w, http.StatusForbidden, "userId does not match the authenticated user")
		return
	}
	req.UserID = userID

	// An empty groupId is left to the pipeline's request validation.
	if req.GroupID != "" {
		role, err := h.classroom.AuthorizeSender(r.Context(), userID, req.GroupID)
		if err != nil {
			h.writeServiceError(w, r, err, "Failed to process message")
			return
		}
		if req.SenderRole != "" && req.SenderRole != role {
			writeError(w, http.StatusForbidden, "senderRole does not match the authenticated user")
			return
		}
		req.SenderRole = role
	}

	result, err := h.pipeline.Handle(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type SignupRequest struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=student teacher"`
	Semester    int    `json:"semester"`
	IsAvailable bool   `json:"isAvailable"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.classroom.SignUp(r.Context(), core.SignUpInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		Semester:    req.Semester,
		IsAvailable: req.IsAvailable,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, user, err := h.classroom.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to log in")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (h *APIHandler) ListSemestersHandler(w http.ResponseWriter, r *http.Request) {
	semesters, err := h.classroom.Semesters(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list semesters")
		return
	}
	writeJSON(w, http.StatusOK, semesters)
}

type CreateGroupRequest struct {
	SubjectName string `json:"subjectName" validate:"required"`
	SemesterID  string `json:"semesterId" validate:"required"`
	GroupType   string `json:"groupType" validate:"omitempty,oneof=group personal"`
	StudentID   string `json:"studentId" validate:"required_if=GroupType personal"`
}

func (h *APIHandler) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}

	group, err := h.classroom.CreateGroup(r.Context(), userIDFrom(r.Context()), core.CreateGroupInput{
		SubjectName: req.SubjectName,
		SemesterID:  req.SemesterID,
		GroupType:   req.GroupType,
		StudentID:   req.StudentID,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *APIHandler) JoinGroupHandler(w http.ResponseWriter, r *http.Request) {
	member, err := h.classroom.JoinGroup(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to join group")
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *APIHandler) ListGroupsHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := h.classroom.ListGroups(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *APIHandler) GroupDetailsHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.classroom.GroupDetails(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get group details")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *APIHandler) GroupMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.classroom.Messages(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	hits, err := h.classroom.Search(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "groupID"), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to search messages")
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

type AvailabilityRequest struct {
	IsAvailable *bool `json:"isAvailable" validate:"required"`
}

func (h *APIHandler) SetAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	teacher, err := h.classroom.SetAvailability(r.Context(), userIDFrom(r.Context()), *req.IsAvailable)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to update availability")
		return
	}
	writeJSON(w, http.StatusOK, teacher)
}
