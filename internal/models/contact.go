package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Opt-in status values
const (
	OptInStatusOptedIn  = "opted_in"
	OptInStatusOptedOut = "opted_out"
	OptInStatusPending  = "pending"
)

// DefaultTimezone is assigned to contacts created from an inbound touch.
const DefaultTimezone = "America/New_York"

// Contact is an SMS counterpart, keyed by its E.164 phone number
type Contact struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty" gorm:"type:uuid;index"`
	PhoneNumber string     `json:"phone_number" gorm:"size:20;uniqueIndex;not null"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Timezone    string     `json:"timezone" gorm:"size:50;default:'America/New_York'"`
	OptInStatus string     `json:"opt_in_status" gorm:"size:20;index;default:'pending'"`
	OptInDate   *time.Time `json:"opt_in_date"`
	OptOutDate  *time.Time `json:"opt_out_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id and normalizes defaults
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.OptInStatus == "" {
		c.OptInStatus = OptInStatusPending
	}
	return nil
}

// IsOptedOut reports whether automated messages must be suppressed
func (c *Contact) IsOptedOut() bool {
	return c.OptInStatus == OptInStatusOptedOut
}

// OptOut records an opt-out at the given time
func (c *Contact) OptOut(at time.Time) {
	c.OptInStatus = OptInStatusOptedOut
	c.OptOutDate = &at
}

// OptIn records an opt-in at the given time
func (c *Contact) OptIn(at time.Time) {
	c.OptInStatus = OptInStatusOptedIn
	c.OptInDate = &at
}

// Location resolves the contact's timezone, falling back to UTC
func (c *Contact) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
