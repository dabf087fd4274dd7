package source

import (
	"errors"
	"time"
)

var ErrAccountNotFound = errors.New("linked account not found")

type Capability string

const (
	CapabilityEmail    Capability = "email"
	CapabilityCalendar Capability = "calendar"
)

type Account struct {
	ID               string `json:"id"`
	UserID           string `json:"userId"`
	Provider         string `json:"provider"`
	Email            string `json:"email"`
	SupportsEmail    bool   `json:"supportsEmail"`
	SupportsCalendar bool   `json:"supportsCalendar"`
}

func (a Account) Supports(c Capability) bool {
	switch c {
	case CapabilityEmail:
		return a.SupportsEmail
	case CapabilityCalendar:
		return a.SupportsCalendar
	}
	return false
}

type NoteKind string

const (
	KindNote       NoteKind = "note"
	KindTranscript NoteKind = "transcript"
)

// Note is a written note or a meeting transcript.
type Note struct {
	ID           string
	Kind         NoteKind
	Title        string
	Body         string
	Participants []string
	OccurredAt   *time.Time
	UpdatedAt    time.Time
}

type Message struct {
	ID     string
	Sender string
	Body   string
	SentAt time.Time
}

type Thread struct {
	ID            string
	AccountID     string
	Subject       string
	Participants  []string
	LastMessageAt *time.Time
	UpdatedAt     time.Time
	Messages      []Message
}

type Event struct {
	ID          string
	AccountID   string
	Title       string
	Description string
	Location    string
	Attendees   []string
	StartsAt    *time.Time
	EndsAt      *time.Time
	UpdatedAt   time.Time
}

// Counts is the number of source records a user has per kind.
type Counts struct {
	Notes       int `json:"notes"`
	Transcripts int `json:"transcripts"`
	Threads     int `json:"threads"`
	Events      int `json:"events"`
}
