package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTeacherAccount inserts the user and its teacher profile in one transaction.
func (s *SQLiteStore) CreateTeacherAccount(ctx context.Context, user *User, teacher *Teacher) error {
	user.Role = RoleTeacher
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		teacher.ID = uuid.NewString()
		teacher.UserID = user.ID
		_, err := tx.ExecContext(ctx, "INSERT INTO teachers (id, user_id, is_available) VALUES (?, ?, ?)", teacher.ID, teacher.UserID, teacher.IsAvailable)
		if err != nil {
			return fmt.Errorf("failed to insert teacher: %w", err)
		}
		return nil
	})
}

// CreateStudentAccount inserts the user and its student profile in one transaction.
func (s *SQLiteStore) CreateStudentAccount(ctx context.Context, user *User, student *Student) error {
	user.Role = RoleStudent
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		student.ID = uuid.NewString()
		student.UserID = user.ID
		_, err := tx.ExecContext(ctx, "INSERT INTO students (id, user_id, semester) VALUES (?, ?, ?)", student.ID, student.UserID, student.Semester)
		if err != nil {
			return fmt.Errorf("failed to insert student: %w", err)
		}
		return nil
	})
}

func insertUser(ctx context.Context, tx *sql.Tx, user *User) error {
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		"INSERT INTO users (id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT id, name, email, password_hash, role, created_at FROM users WHERE email = ?", email)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT id, name, email, password_hash, role, created_at FROM users WHERE id = ?", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Teacher methods
func (s *SQLiteStore) GetTeacherByID(ctx context.Context, id string) (*Teacher, error) {
	return s.getTeacher(ctx, "SELECT id, user_id, is_available FROM teachers WHERE id = ?", id)
}

func (s *SQLiteStore) GetTeacherByUserID(ctx context.Context, userID string) (*Teacher, error) {
	return s.getTeacher(ctx, "SELECT id, user_id, is_available FROM teachers WHERE user_id = ?", userID)
}

func (s *SQLiteStore) getTeacher(ctx context.Context, query string, arg string) (*Teacher, error) {
	var teacher Teacher
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&teacher.ID, &teacher.UserID, &teacher.IsAvailable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query teacher: %w", err)
	}
	return &teacher, nil
}

func (s *SQLiteStore) SetTeacherAvailability(ctx context.Context, teacherID string, available bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE teachers SET is_available = ? WHERE id = ?", available, teacherID)
	if err != nil {
		return fmt.Errorf("failed to update teacher availability: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Student methods
func (s *SQLiteStore) GetStudentByUserID(ctx context.Context, userID string) (*Student, error) {
	return s.getStudent(ctx, "SELECT id, user_id, semester FROM students WHERE user_id = ?", userID)
}

func (s *SQLiteStore) GetStudentByID(ctx context.Context, id string) (*Student, error) {
	return s.getStudent(ctx, "SELECT id, user_id, semester FROM students WHERE id = ?", id)
}

func (s *SQLiteStore) getStudent(ctx context.Context, query string, arg string) (*Student, error) {
	var student Student
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&student.ID, &student.UserID, &student.Semester)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query student: %w", err)
	}
	return &student, nil
}
