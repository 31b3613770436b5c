package domain

import (
	"testing"
	"time"
)

func TestMemberStatusValues(t *testing.T) {
	cases := []struct {
		status MemberStatus
		want   string
	}{
		{MemberStatusProspect, "prospect"},
		{MemberStatusActive, "active"},
		{MemberStatusExpired, "expired"},
		{MemberStatusFrozen, "frozen"},
	}
	for _, c := range cases {
		if string(c.status) != c.want {
			t.Errorf("status %v: got %q, want %q", c.status, string(c.status), c.want)
		}
	}
	// Stored values round-trip through plain strings.
	if got := MemberStatus("active"); got != MemberStatusActive {
		t.Errorf("conversion from string: got %v", got)
	}
}

func TestMemberDatesAreTimes(t *testing.T) {
	var m Member
	if !m.EndDate.IsZero() {
		t.Fatal("zero member should have zero EndDate")
	}
	m.JoinDate = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	m.EndDate = m.JoinDate.AddDate(0, 1, 0)
	if got := m.EndDate.Format("2006-01-02"); got != "2026-10-01" {
		t.Errorf("EndDate = %s, want 2026-10-01", got)
	}
}

func TestBookingStatusValues(t *testing.T) {
	if string(BookingStatusConfirmed) != "confirmed" {
		t.Errorf("confirmed = %q", string(BookingStatusConfirmed))
	}
	if string(BookingStatusCancelled) != "cancelled" {
		t.Errorf("cancelled = %q", string(BookingStatusCancelled))
	}
}

func TestDirectionValues(t *testing.T) {
	if string(DirectionInbound) != "inbound" || string(DirectionOutbound) != "outbound" {
		t.Errorf("directions = %q, %q", DirectionInbound, DirectionOutbound)
	}
	turn := Turn{Direction: Direction("inbound")}
	if turn.Direction != DirectionInbound {
		t.Error("conversion from string should compare equal to the constant")
	}
}

func TestClassScheduleSlices(t *testing.T) {
	c := GymClass{
		Name:  "Aeróbicos",
		Days:  []string{"Lunes", "Miércoles", "Viernes"},
		Times: []string{"08:00", "20:00"},
	}
	if len(c.Days) != 3 || len(c.Times) != 2 {
		t.Errorf("schedule = %v %v", c.Days, c.Times)
	}
}
