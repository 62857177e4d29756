package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/classroom-relay/relay/internal/store"
)

// ContextWindowSize is how many recent group messages ground an AI answer.
const ContextWindowSize = 20

type MessageHistory interface {
	GetLastNMessagesByGroupID(ctx context.Context, groupID string, n int) ([]store.Message, error)
}

type ContextRetriever struct {
	messages MessageHistory
}

func NewContextRetriever(messages MessageHistory) *ContextRetriever {
	return &ContextRetriever{messages: messages}
}

// Retrieve returns the recent conversation of a group, oldest first, one
// message per paragraph.
func (r *ContextRetriever) Retrieve(ctx context.Context, groupID string) (string, error) {
	recent, err := r.messages.GetLastNMessagesByGroupID(ctx, groupID, ContextWindowSize)
	if err != nil {
		return "", fmt.Errorf("failed to get recent messages for group %s: %w", groupID, err)
	}

	contents := make([]string, len(recent))
	for i, msg := range recent {
		contents[len(recent)-1-i] = msg.Content
	}
	return strings.Join(contents, "\n\n"), nil
}
