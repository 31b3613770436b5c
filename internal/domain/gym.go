package domain

import (
	"context"
	"time"
)

// MemberStatus is the membership lifecycle state.
type MemberStatus string

const (
	MemberStatusProspect MemberStatus = "prospect"
	MemberStatusActive   MemberStatus = "active"
	MemberStatusExpired  MemberStatus = "expired"
	MemberStatusFrozen   MemberStatus = "frozen"
)

// Member is a gym member or registered prospect, keyed by phone number.
type Member struct {
	ID        string       `json:"id"`
	Phone     string       `json:"phone"`
	Name      string       `json:"name"`
	DNI       string       `json:"dni,omitempty"`
	Email     string       `json:"email,omitempty"`
	Plan      string       `json:"plan,omitempty"`
	Status    MemberStatus `json:"status"`
	JoinDate  time.Time    `json:"join_date,omitempty"`
	EndDate   time.Time    `json:"end_date,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MembershipPlan is a purchasable plan. PriceCents is in céntimos of PEN.
type MembershipPlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Months      int    `json:"months"`
	PriceCents  int    `json:"price_cents"`
	Description string `json:"description,omitempty"`
}

// GymClass is a recurring group class (e.g. aerobics).
type GymClass struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Instructor string   `json:"instructor,omitempty"`
	Days       []string `json:"days"`  // Spanish weekday names, e.g. "Lunes"
	Times      []string `json:"times"` // e.g. "08:00"
	Capacity   int      `json:"capacity,omitempty"`
}

// BookingStatus is the reservation state.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking records a member's reservation for a class on a date.
type Booking struct {
	ID        string        `json:"id"`
	MemberID  string        `json:"member_id"`
	ClassID   string        `json:"class_id"`
	Date      string        `json:"date"` // YYYY-MM-DD
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Direction tells which side of the conversation a turn belongs to.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Turn is one persisted message in a conversation. Inbound turns map to the
// user role, outbound turns to the assistant role.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Direction      Direction `json:"direction"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryStore persists conversation turns. LoadRecent returns at most limit
// turns ordered oldest to newest.
type HistoryStore interface {
	LoadRecent(ctx context.Context, conversationID string, limit int) ([]Turn, error)
	Append(ctx context.Context, turn Turn) error
}

// MemberStore persists members. Activate flips a member to active with the
// given plan and membership window (dates in YYYY-MM-DD).
type MemberStore interface {
	GetByPhone(ctx context.Context, phone string) (*Member, error)
	Upsert(ctx context.Context, m *Member) error
	ListExpiring(ctx context.Context, endDate string) ([]*Member, error)
	Activate(ctx context.Context, phone, plan, joinDate, endDate string) error
}

// PlanStore lists membership plans.
type PlanStore interface {
	ListPlans(ctx context.Context) ([]MembershipPlan, error)
}

// ClassStore lists classes and persists bookings.
type ClassStore interface {
	ListClasses(ctx context.Context) ([]GymClass, error)
	GetClass(ctx context.Context, id string) (*GymClass, error)
	AddBooking(ctx context.Context, b *Booking) error
}

// PaymentLinkRequest carries the customer data required to create a
// checkout link. All fields are mandatory.
type PaymentLinkRequest struct {
	Phone        string
	PlanName     string
	CustomerName string
	DNI          string
	Email        string
}

// PaymentLinker creates shareable checkout links against the payment
// gateway. It is the narrow interface the agent core consumes.
type PaymentLinker interface {
	CreateLink(ctx context.Context, req PaymentLinkRequest) (string, error)
}
