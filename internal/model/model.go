// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// Frequency controls how often held mail is released in a digest.
type Frequency string

// Supported delivery frequencies.
const (
	FrequencyRealtime Frequency = "realtime"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyNone     Frequency = "none"
)

// Label returns the capitalized frequency for display ("Weekly").
// Empty, "none" and unknown values produce an empty label.
func (f Frequency) Label() string {
	switch f {
	case FrequencyRealtime, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		s := string(f)
		return strings.ToUpper(s[:1]) + s[1:]
	}
	return ""
}

// DeliveryPreference describes when held mail becomes due.
// DayOfWeek is only meaningful for weekly delivery; TimeOfDay is "HH:MM" local
// to Timezone, an IANA zone name.
type DeliveryPreference struct {
	Frequency Frequency
	DayOfWeek string
	TimeOfDay string
	Timezone  string
}

// User owns every other entity.
type User struct {
	ID            int64
	Username      string
	Email         string
	DeliveryEmail string
	Preference    DeliveryPreference
	CreatedAt     time.Time
}

// Recipient returns the address digests are delivered to.
func (u *User) Recipient() string {
	if u.DeliveryEmail != "" {
		return u.DeliveryEmail
	}
	return u.Email
}

// Sender is an originating address as seen by one user. Its preference, when
// it has a frequency, overrides the user's (except for the timezone).
type Sender struct {
	ID         int64
	UserID     int64
	Email      string
	Name       string
	Preference DeliveryPreference
	TagIDs     []int64
	CreatedAt  time.Time
}

// Tag is a user-defined label. Position in a sender's tag list matters: the
// first one is the primary tag.
type Tag struct {
	ID        int64
	UserID    int64
	Name      string
	Color     string
	CreatedAt time.Time
}

// Email is one received message held for delivery.
// A nil ScheduledFor means the message is not batched.
type Email struct {
	ID           int64
	UserID       int64
	SenderID     *int64
	FromEmail    string
	FromName     string
	To           string
	Subject      string
	TextBody     string
	HTMLBody     string
	Date         string
	MessageID    string
	Read         bool
	ScheduledFor *time.Time
	Delivered    bool
	CreatedAt    time.Time
}

// Digest is the immutable receipt of one delivered digest.
type Digest struct {
	ID         int64
	UserID     int64
	EmailIDs   []int64
	Subject    string
	HTMLBody   string
	EmailCount int
	SentAt     time.Time
}

// Link is a saved URL with optional page metadata.
type Link struct {
	ID            int64
	UserID        int64
	URL           string
	Title         string
	Description   string
	OGTitle       string
	OGDescription string
	OGImage       string
	OGSiteName    string
	Favicon       string
	CreatedAt     time.Time
}
