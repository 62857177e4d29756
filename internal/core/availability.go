package core

import (
	"context"

	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

type AvailabilityStore interface {
	GetGroupByID(ctx context.Context, id string) (*store.Group, error)
	GetTeacherByID(ctx context.Context, id string) (*store.Teacher, error)
}

// AvailabilityResolver decides whether a group's teacher will answer in person.
type AvailabilityResolver struct {
	store AvailabilityStore
	log   *logger.Logger
}

func NewAvailabilityResolver(s AvailabilityStore, log *logger.Logger) *AvailabilityResolver {
	return &AvailabilityResolver{store: s, log: log}
}

// IsTeacherAvailable never fails: when the group or its teacher cannot be
// resolved the teacher is assumed available and the AI stays silent.
func (r *AvailabilityResolver) IsTeacherAvailable(ctx context.Context, groupID string) bool {
	group, err := r.store.GetGroupByID(ctx, groupID)
	if err != nil {
		r.log.Warn("Could not resolve group, assuming teacher is available", "group_id", groupID, "error", err)
		return true
	}

	teacher, err := r.store.GetTeacherByID(ctx, group.TeacherID)
	if err != nil {
		r.log.Warn("Could not resolve teacher, assuming available", "group_id", groupID, "teacher_id", group.TeacherID, "error", err)
		return true
	}
	return teacher.IsAvailable
}
