package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("record already exists")
	// ErrNotGroupTeacher marks course material attributed to someone other
	// than the group's teacher.
	ErrNotGroupTeacher = errors.New("sender is not the group's teacher")
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAI      = "ai"

	GroupTypeGroup    = "group"
	GroupTypePersonal = "personal"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Teacher struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	IsAvailable bool   `json:"is_available"`
}

type Student struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Semester int    `json:"semester"`
}

type Semester struct {
	ID             string `json:"id"`
	SemesterNumber int    `json:"semester_number"`
}

type Group struct {
	ID          string    `json:"id"`
	SubjectName string    `json:"subject_name"`
	TeacherID   string    `json:"teacher_id"`
	SemesterID  string    `json:"semester_id"`
	GroupType   string    `json:"group_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type GroupMember struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	StudentID string    `json:"student_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// GroupStudent is a group member joined with the owning user's profile.
type GroupStudent struct {
	StudentID string `json:"student_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type Message struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"` // "student", "teacher" or "ai"
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"` // nil when embedding failed; internal
	Timestamp  time.Time `json:"timestamp"`
}

// Answer is a cached AI answer keyed by the exact question text.
type Answer struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	Answers   string    `json:"answers"`
	CreatedAt time.Time `json:"created_at"`
}
