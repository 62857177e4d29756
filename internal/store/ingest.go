package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Embedder turns text into a vector. Satisfied by the LLM providers in core.
type Embedder func(ctx context.Context, text string) ([]float32, error)

type IngestLogger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// ParseMaterialTable extracts the cell text of a single-column markdown table
// ("| text |" header, "|---|" separator, one row per chunk).
func ParseMaterialTable(fileContent string) []string {
	lines := strings.Split(fileContent, "\n")

	var chunks []string
	for i, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" {
			continue
		}

		// Skip table header and separator
		lower := strings.ToLower(trimmedLine)
		if i == 0 && strings.Contains(trimmedLine, "|") && (strings.Contains(lower, "text") || strings.Contains(lower, "content")) {
			continue
		}
		if strings.Contains(trimmedLine, "|") && strings.Contains(trimmedLine, "---") {
			continue
		}

		if !strings.HasPrefix(trimmedLine, "|") || !strings.HasSuffix(trimmedLine, "|") {
			continue
		}
		parts := strings.Split(trimmedLine, "|")
		if len(parts) < 3 {
			continue
		}
		if cell := strings.TrimSpace(parts[1]); cell != "" {
			chunks = append(chunks, cell)
		}
	}
	return chunks
}

// IngestCourseMaterial loads a markdown table of course material into a group
// as teacher messages carrying embeddings, which makes it reachable through
// group search. Only the newest chunks fall inside the AI fallback's context
// window. senderID must be the user account of the group's teacher.
func (s *SQLiteStore) IngestCourseMaterial(ctx context.Context, filePath, groupID, senderID string, embed Embedder, log IngestLogger) (int, error) {
	group, err := s.GetGroupByID(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to load group %s: %w", groupID, err)
	}
	teacher, err := s.GetTeacherByUserID(ctx, senderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("failed to load sender %s: %w", senderID, err)
	}
	if teacher == nil || teacher.ID != group.TeacherID {
		return 0, fmt.Errorf("%w: user %s, group %s", ErrNotGroupTeacher, senderID, groupID)
	}

	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read material file %s: %w", filePath, err)
	}

	chunks := ParseMaterialTable(string(contentBytes))
	if len(chunks) == 0 {
		log.Warn("No chunks found in material file; expected a one-column markdown table", "file", filePath)
		return 0, nil
	}
	log.Info("Embedding course material", "file", filePath, "chunks", len(chunks), "group_id", groupID)

	ticker := time.NewTicker(40 * time.Millisecond) // stay under the provider rate limit (1500/min)
	defer ticker.Stop()

	count := 0
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case <-ticker.C:
		}

		embedding, err := embed(ctx, chunk)
		if err != nil {
			log.Warn("Failed to embed chunk, skipping", "index", i+1, "error", err)
			continue
		}

		msg := Message{
			GroupID:    groupID,
			SenderID:   senderID,
			SenderRole: RoleTeacher,
			Content:    chunk,
			Embedding:  embedding,
		}
		if err := s.CreateMessage(ctx, &msg); err != nil {
			log.Warn("Failed to store chunk, skipping", "index", i+1, "error", err)
			continue
		}
		count++
		if count%10 == 0 || count == len(chunks) {
			log.Info("Ingested chunks", "done", count, "total", len(chunks))
		}
	}
	return count, nil
}
