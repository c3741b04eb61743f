// Package storage is the SQLite persistence layer: users, rooms and chat
// history.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codefionn/scee/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Roles a user may hold
const (
	RoleProfesor = "profesor"
	RoleAlumno   = "alumno"
)

// TimestampLayout is how message timestamps are rendered for clients
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrNotFound is returned when a looked up row does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials is returned for an unknown user or a wrong password
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a row of usuarios without the password hash
type User struct {
	ID       int64
	Username string
	Role     string
}

// Room is a row of salas
type Room struct {
	ID   int64
	Name string
}

// Message is a persisted chat message joined with its author
type Message struct {
	ID        int64
	Username  string
	Content   string
	Timestamp time.Time
}

type seedUser struct {
	username, password, role string
}

var (
	seedUsers = []seedUser{
		{"profe", "123", RoleProfesor},
		{"alumno", "456", RoleAlumno},
	}
	seedRooms = []string{"General", "Física Cuántica"}
)

// Store handles SQLite operations
type Store struct {
	db     *sql.DB
	dbPath string
	hasher *PasswordHasher
}

// Option configures a Store
type Option func(*Store)

// WithBcryptCost sets the cost used when hashing seeded passwords
func WithBcryptCost(cost int) Option {
	return func(s *Store) {
		s.hasher = NewPasswordHasher(cost)
	}
}

// Open opens (creating if needed) the database at dbPath. It does not touch
// the schema; call InitSchema for that.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers inside this process; other
	// processes are handled by the busy timeout.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	s := &Store{db: db, dbPath: dbPath, hasher: NewPasswordHasher(0)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

// InitSchema creates missing tables and inserts the seed users and rooms.
// It is safe to call on every start.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usuarios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		rol TEXT NOT NULL CHECK(rol IN ('profesor', 'alumno'))
	);

	CREATE TABLE IF NOT EXISTS salas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nombre TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mensajes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contenido TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		usuario_id INTEGER NOT NULL,
		sala_id INTEGER NOT NULL,
		FOREIGN KEY (usuario_id) REFERENCES usuarios (id),
		FOREIGN KEY (sala_id) REFERENCES salas (id)
	);

	CREATE INDEX IF NOT EXISTS idx_mensajes_sala ON mensajes(sala_id, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.seed(ctx); err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}

	logger.Info("Database initialized at %s", s.dbPath)
	return nil
}

func (s *Store) seed(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range seedUsers {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM usuarios WHERE username = ?", u.username).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		hash, err := s.hasher.Hash(u.password)
		if err != nil {
			return fmt.Errorf("failed to hash password for %s: %w", u.username, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO usuarios (username, password, rol) VALUES (?, ?, ?)",
			u.username, hash, u.role); err != nil {
			return err
		}
		logger.Debug("Seeded user %s (%s)", u.username, u.role)
	}

	for _, name := range seedRooms {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO salas (nombre) VALUES (?)", name); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// VerifyCredentials returns the user when password matches. Unknown users
// and wrong passwords both yield ErrInvalidCredentials.
func (s *Store) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	var (
		u    User
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password, rol FROM usuarios WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &hash, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !s.hasher.Verify(password, hash) {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// ListRooms returns every room ordered by id
func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, nombre FROM salas ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// RoomByID returns one room or ErrNotFound
func (s *Store) RoomByID(ctx context.Context, id int64) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, "SELECT id, nombre FROM salas WHERE id = ?", id).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Room{}, fmt.Errorf("failed to look up room %d: %w", id, err)
	}
	return r, nil
}

// AppendMessage persists one chat message with a server assigned timestamp
func (s *Store) AppendMessage(ctx context.Context, userID, roomID int64, content string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO mensajes (contenido, usuario_id, sala_id) VALUES (?, ?, ?)",
		content, userID, roomID)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecentMessages returns at most limit of the newest messages of a room,
// ordered oldest first.
func (s *Store) RecentMessages(ctx context.Context, roomID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, username, contenido, timestamp FROM (
		SELECT m.id, u.username, m.contenido, m.timestamp
		FROM mensajes m
		JOIN usuarios u ON u.id = m.usuario_id
		WHERE m.sala_id = ?
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ?
	) ORDER BY timestamp ASC, id ASC`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			m  Message
			ts any
		)
		if err := rows.Scan(&m.ID, &m.Username, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("message %d: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// parseTimestamp accepts what the driver hands back for a DATETIME column:
// time.Time when the declared type survives the query, text otherwise.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTimestampText(t)
	case []byte:
		return parseTimestampText(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseTimestampText(s string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
