package domain

import "time"

type User struct {
	ID           string
	ChannelID    int64
	Username     string
	FirstName    string
	LastName     string
	Preferences  Preferences
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Event is an immutable catalog record. Seq is the insertion order assigned
// by the store and breaks ties between equal start dates.
type Event struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Type        string     `json:"type" yaml:"type"`
	Location    string     `json:"location" yaml:"location"`
	Venue       string     `json:"venue,omitempty" yaml:"venue,omitempty"`
	StartDate   time.Time  `json:"startDate" yaml:"startDate"`
	EndDate     *time.Time `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Price       *float64   `json:"price,omitempty" yaml:"price,omitempty"`
	URL         string     `json:"url,omitempty" yaml:"url,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`
	Seq         int64      `json:"-" yaml:"-"`
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Origin string

const (
	OriginAuto   Origin = "auto"
	OriginManual Origin = "manual"
)

// Notification is a ledger row. (UserID, EventID) is unique.
type Notification struct {
	ID      string
	UserID  string
	EventID string
	SentAt  time.Time
	Status  Status
	Origin  Origin
}

// EventQuery is the store-side catalog prefilter. Matching still applies
// the full criteria to whatever the store returns.
type EventQuery struct {
	StartFrom time.Time
	Types     []string
}
