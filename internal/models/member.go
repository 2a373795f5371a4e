package models

import (
	"time"

	"gorm.io/gorm"
)

// Position is the binary slot a member occupies under its sponsor.
// Values are stored as-is and are part of the public API.
type Position string

const (
	PositionLeft  Position = "Left"
	PositionRight Position = "Right"
)

func (p Position) Valid() bool {
	return p == PositionLeft || p == PositionRight
}

// Member is one node of the sponsor graph. idx_sponsor_slot holds one member
// per (sponsor_code, position); roots have no sponsor and are exempt.
type Member struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	MemberID      string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"member_id"`
	SponsorCode   string     `gorm:"type:varchar(32);index;uniqueIndex:idx_sponsor_slot,priority:1,where:sponsor_code <> '';not null;default:''" json:"sponsor_code"`
	Position      Position   `gorm:"type:varchar(8);uniqueIndex:idx_sponsor_slot,priority:2,where:sponsor_code <> ''" json:"position,omitempty"`
	Name          string     `gorm:"type:varchar(100);not null" json:"name"`
	Email         string     `gorm:"type:varchar(255);index" json:"email,omitempty"`
	Mobile        string     `gorm:"type:varchar(20)" json:"mobile,omitempty"`
	PasswordHash  string     `gorm:"type:varchar(100)" json:"-"`
	ActiveStatus  bool       `gorm:"not null;default:false" json:"active_status"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DateOfJoining time.Time  `json:"date_of_joining"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.DateOfJoining.IsZero() {
		m.DateOfJoining = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return nil
}

// StatusLabel is the display form of ActiveStatus used by reports.
func (m *Member) StatusLabel() string {
	if m.ActiveStatus {
		return "Active"
	}
	return "Inactive"
}
