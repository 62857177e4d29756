package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        name TEXT NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('student', 'teacher')),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS teachers (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT UNIQUE NOT NULL,
        is_available BOOLEAN NOT NULL DEFAULT FALSE,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS students (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT UNIQUE NOT NULL,
        semester INTEGER NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS semesters (
        id TEXT PRIMARY KEY,
        semester_number INTEGER UNIQUE NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chat_groups (
        id TEXT PRIMARY KEY, -- UUID
        subject_name TEXT NOT NULL,
        teacher_id TEXT NOT NULL,
        semester_id TEXT NOT NULL,
        group_type TEXT NOT NULL CHECK (group_type IN ('group', 'personal')),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (teacher_id) REFERENCES teachers (id),
        FOREIGN KEY (semester_id) REFERENCES semesters (id)
    );

    CREATE TABLE IF NOT EXISTS group_members (
        id TEXT PRIMARY KEY, -- UUID
        group_id TEXT NOT NULL,
        student_id TEXT NOT NULL,
        joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (group_id, student_id),
        FOREIGN KEY (group_id) REFERENCES chat_groups (id),
        FOREIGN KEY (student_id) REFERENCES students (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT, -- insertion order, breaks timestamp ties
        id TEXT UNIQUE NOT NULL, -- UUID
        group_id TEXT NOT NULL,
        sender_id TEXT NOT NULL,
        sender_role TEXT NOT NULL CHECK (sender_role IN ('student', 'teacher', 'ai')),
        content TEXT NOT NULL,
        embedding TEXT, -- pgvector text form, e.g. [0.1,0.2]
        timestamp DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_messages_group_ts ON messages (group_id, timestamp, seq);

    CREATE TABLE IF NOT EXISTS answers (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        query TEXT UNIQUE NOT NULL,
        answers TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.seedSemesters()
}

func (s *SQLiteStore) seedSemesters() error {
	for n := 1; n <= 8; n++ {
		_, err := s.db.Exec("INSERT OR IGNORE INTO semesters (id, semester_number) VALUES (?, ?)", fmt.Sprintf("semester-%d", n), n)
		if err != nil {
			return fmt.Errorf("failed to seed semester %d: %w", n, err)
		}
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
