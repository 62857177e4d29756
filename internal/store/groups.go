package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Semester methods
func (s *SQLiteStore) ListSemesters(ctx context.Context) ([]Semester, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, semester_number FROM semesters ORDER BY semester_number ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query semesters: %w", err)
	}
	defer rows.Close()

	var semesters []Semester
	for rows.Next() {
		var sem Semester
		if err := rows.Scan(&sem.ID, &sem.SemesterNumber); err != nil {
			return nil, fmt.Errorf("failed to scan semester row: %w", err)
		}
		semesters = append(semesters, sem)
	}
	return semesters, rows.Err()
}

func (s *SQLiteStore) GetSemesterByID(ctx context.Context, id string) (*Semester, error) {
	var sem Semester
	err := s.db.QueryRowContext(ctx, "SELECT id, semester_number FROM semesters WHERE id = ?", id).Scan(&sem.ID, &sem.SemesterNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query semester: %w", err)
	}
	return &sem, nil
}

// Group methods

// CreateGroup inserts the group and, when memberStudentID is set, enrolls that
// student in the same transaction (personal chats are created this way).
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group, memberStudentID string) error {
	group.ID = uuid.NewString()
	group.CreatedAt = time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chat_groups (id, subject_name, teacher_id, semester_id, group_type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			group.ID, group.SubjectName, group.TeacherID, group.SemesterID, group.GroupType, group.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		if memberStudentID == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO group_members (id, group_id, student_id, joined_at) VALUES (?, ?, ?, ?)",
			uuid.NewString(), group.ID, memberStudentID, group.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
		return nil
	})
}

const groupColumns = "g.id, g.subject_name, g.teacher_id, g.semester_id, g.group_type, g.created_at"

func (s *SQLiteStore) GetGroupByID(ctx context.Context, id string) (*Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM chat_groups g WHERE g.id = ?", id).
		Scan(&g.ID, &g.SubjectName, &g.TeacherID, &g.SemesterID, &g.GroupType, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	return &g, nil
}

func (s *SQLiteStore) ListGroupsByTeacherID(ctx context.Context, teacherID string) ([]Group, error) {
	return s.listGroups(ctx, "SELECT "+groupColumns+" FROM chat_groups g WHERE g.teacher_id = ? ORDER BY g.created_at ASC", teacherID)
}

func (s *SQLiteStore) ListGroupsByStudentID(ctx context.Context, studentID string) ([]Group, error) {
	return s.listGroups(ctx, `
        SELECT `+groupColumns+`
        FROM chat_groups g
        JOIN group_members m ON m.group_id = g.id
        WHERE m.student_id = ?
        ORDER BY g.created_at ASC
    `, studentID)
}

func (s *SQLiteStore) listGroups(ctx context.Context, query string, arg string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.SubjectName, &g.TeacherID, &g.SemesterID, &g.GroupType, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Group member methods
func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID, studentID string) (*GroupMember, error) {
	member := &GroupMember{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		StudentID: studentID,
		JoinedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO group_members (id, group_id, student_id, joined_at) VALUES (?, ?, ?, ?)",
		member.ID, member.GroupID, member.StudentID, member.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert group member: %w", err)
	}
	return member, nil
}

func (s *SQLiteStore) ListGroupStudents(ctx context.Context, groupID string) ([]GroupStudent, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT st.id, u.id, u.name, u.email
        FROM group_members m
        JOIN students st ON st.id = m.student_id
        JOIN users u ON u.id = st.user_id
        WHERE m.group_id = ?
        ORDER BY m.joined_at ASC
    `, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	var students []GroupStudent
	for rows.Next() {
		var gs GroupStudent
		if err := rows.Scan(&gs.StudentID, &gs.UserID, &gs.Name, &gs.Email); err != nil {
			return nil, fmt.Errorf("failed to scan group member row: %w", err)
		}
		students = append(students, gs)
	}
	return students, rows.Err()
}

func (s *SQLiteStore) CountGroupMembers(ctx context.Context, groupID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM group_members WHERE group_id = ?", groupID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count group members: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) IsGroupMember(ctx context.Context, groupID, studentID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM group_members WHERE group_id = ? AND student_id = ?", groupID, studentID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query group membership: %w", err)
	}
	return true, nil
}
