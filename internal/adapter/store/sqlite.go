package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"megagym/internal/domain"
)

// SQLiteStore implements the gym persistence interfaces on a single
// SQLite database: conversation history, members, plans, classes and
// bookings.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open gym db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate gym db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS members (
			id         TEXT PRIMARY KEY,
			phone      TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			dni        TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			plan       TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'prospect',
			join_date  TEXT NOT NULL DEFAULT '',
			end_date   TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS plans (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			months      INTEGER NOT NULL DEFAULT 0,
			price_cents INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS classes (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			instructor TEXT NOT NULL DEFAULT '',
			days       TEXT NOT NULL DEFAULT '[]',
			times      TEXT NOT NULL DEFAULT '[]',
			capacity   INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS bookings (
			id         TEXT PRIMARY KEY,
			member_id  TEXT NOT NULL,
			class_id   TEXT NOT NULL,
			date       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'confirmed',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			content         TEXT NOT NULL,
			direction       TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_members_end_date
			ON members (end_date);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const dateLayout = "2006-01-02"

func newID() string { return ulid.Make().String() }

// --- domain.HistoryStore ---

// LoadRecent returns at most limit turns for a conversation, ordered
// oldest to newest.
func (s *SQLiteStore) LoadRecent(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, content, direction, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, domain.WrapOp("history.load", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Content, &t.Direction, &createdAt); err != nil {
			return nil, domain.WrapOp("history.load", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapOp("history.load", err)
	}

	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Append persists a conversation turn. A missing ID or timestamp is
// filled in.
func (s *SQLiteStore) Append(ctx context.Context, turn domain.Turn) error {
	if turn.ID == "" {
		turn.ID = newID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, content, direction, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, turn.Content, string(turn.Direction),
		turn.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.WrapOp("history.append", err)
	}
	return nil
}

// --- domain.MemberStore ---

func (s *SQLiteStore) GetByPhone(ctx context.Context, phone string) (*domain.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone, name, dni, email, plan, status, join_date, end_date, created_at, updated_at
		FROM members WHERE phone = ?`, phone)
	m, err := scanMember(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("members.get", domain.ErrMemberNotFound, phone)
	}
	if err != nil {
		return nil, domain.WrapOp("members.get", err)
	}
	return m, nil
}

// Upsert inserts a member keyed by phone, or updates the existing row.
func (s *SQLiteStore) Upsert(ctx context.Context, m *domain.Member) error {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, phone, name, dni, email, plan, status, join_date, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = excluded.name,
			dni = excluded.dni,
			email = excluded.email,
			plan = excluded.plan,
			status = excluded.status,
			join_date = excluded.join_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at`,
		m.ID, m.Phone, m.Name, m.DNI, m.Email, m.Plan, string(m.Status),
		formatDate(m.JoinDate), formatDate(m.EndDate),
		m.CreatedAt.Format(time.RFC3339Nano), m.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.WrapOp("members.upsert", err)
	}
	return nil
}

// ListExpiring returns active members whose membership ends exactly on
// endDate (YYYY-MM-DD).
func (s *SQLiteStore) ListExpiring(ctx context.Context, endDate string) ([]*domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone, name, dni, email, plan, status, join_date, end_date, created_at, updated_at
		FROM members WHERE status = ? AND end_date = ?`,
		string(domain.MemberStatusActive), endDate)
	if err != nil {
		return nil, domain.WrapOp("members.expiring", err)
	}
	defer rows.Close()

	var members []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows.Scan)
		if err != nil {
			return nil, domain.WrapOp("members.expiring", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Activate marks a member active with the given plan and membership window.
// Called by the payment confirmation path once Culqi reports a charge.
func (s *SQLiteStore) Activate(ctx context.Context, phone, plan, joinDate, endDate string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET plan = ?, status = ?, join_date = ?, end_date = ?, updated_at = ?
		WHERE phone = ?`,
		plan, string(domain.MemberStatusActive), joinDate, endDate, now, phone)
	if err != nil {
		return domain.WrapOp("members.activate", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("members.activate", domain.ErrMemberNotFound, phone)
	}
	return nil
}

func scanMember(scan func(...any) error) (*domain.Member, error) {
	var m domain.Member
	var status, joinDate, endDate, createdAt, updatedAt string
	if err := scan(&m.ID, &m.Phone, &m.Name, &m.DNI, &m.Email, &m.Plan,
		&status, &joinDate, &endDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Status = domain.MemberStatus(status)
	m.JoinDate = parseDate(joinDate)
	m.EndDate = parseDate(endDate)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &m, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(dateLayout, s)
	return t
}

// --- domain.PlanStore ---

func (s *SQLiteStore) ListPlans(ctx context.Context) ([]domain.MembershipPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, months, price_cents, description FROM plans ORDER BY price_cents")
	if err != nil {
		return nil, domain.WrapOp("plans.list", err)
	}
	defer rows.Close()

	var plans []domain.MembershipPlan
	for rows.Next() {
		var p domain.MembershipPlan
		if err := rows.Scan(&p.ID, &p.Name, &p.Months, &p.PriceCents, &p.Description); err != nil {
			return nil, domain.WrapOp("plans.list", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// --- domain.ClassStore ---

func (s *SQLiteStore) ListClasses(ctx context.Context) ([]domain.GymClass, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, instructor, days, times, capacity FROM classes ORDER BY id")
	if err != nil {
		return nil, domain.WrapOp("classes.list", err)
	}
	defer rows.Close()

	var classes []domain.GymClass
	for rows.Next() {
		c, err := scanClass(rows.Scan)
		if err != nil {
			return nil, domain.WrapOp("classes.list", err)
		}
		classes = append(classes, *c)
	}
	return classes, rows.Err()
}

func (s *SQLiteStore) GetClass(ctx context.Context, id string) (*domain.GymClass, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, instructor, days, times, capacity FROM classes WHERE id = ?", id)
	c, err := scanClass(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("classes.get", domain.ErrClassNotFound, id)
	}
	if err != nil {
		return nil, domain.WrapOp("classes.get", err)
	}
	return c, nil
}

func (s *SQLiteStore) AddBooking(ctx context.Context, b *domain.Booking) error {
	if b.ID == "" {
		b.ID = newID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, member_id, class_id, date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.MemberID, b.ClassID, b.Date, string(b.Status),
		b.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.WrapOp("bookings.add", err)
	}
	return nil
}

func scanClass(scan func(...any) error) (*domain.GymClass, error) {
	var c domain.GymClass
	var days, times string
	if err := scan(&c.ID, &c.Name, &c.Instructor, &days, &times, &c.Capacity); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(days), &c.Days); err != nil {
		return nil, fmt.Errorf("decode class days: %w", err)
	}
	if err := json.Unmarshal([]byte(times), &c.Times); err != nil {
		return nil, fmt.Errorf("decode class times: %w", err)
	}
	return &c, nil
}

// Compile-time interface checks.
var (
	_ domain.HistoryStore = (*SQLiteStore)(nil)
	_ domain.MemberStore  = (*SQLiteStore)(nil)
	_ domain.PlanStore    = (*SQLiteStore)(nil)
	_ domain.ClassStore   = (*SQLiteStore)(nil)
)
