package document

import (
	"time"
)

type SourceType string

const (
	NoteSummary     SourceType = "note-summary"
	NoteChunk       SourceType = "note-chunk"
	TranscriptChunk SourceType = "transcript-chunk"
	EmailSummary    SourceType = "email-summary"
	EmailChunk      SourceType = "email-chunk"
	CalendarSummary SourceType = "calendar-summary"
	CalendarChunk   SourceType = "calendar-chunk"
)

var sourceTypes = map[SourceType]struct{}{
	NoteSummary: {}, NoteChunk: {}, TranscriptChunk: {},
	EmailSummary: {}, EmailChunk: {},
	CalendarSummary: {}, CalendarChunk: {},
}

func (t SourceType) Valid() bool {
	_, ok := sourceTypes[t]
	return ok
}

// Families group the document types produced from one kind of source record.
var (
	NoteFamily       = []SourceType{NoteSummary, NoteChunk}
	TranscriptFamily = []SourceType{TranscriptChunk}
	EmailFamily      = []SourceType{EmailSummary, EmailChunk}
	CalendarFamily   = []SourceType{CalendarSummary, CalendarChunk}
)

// Document is immutable once written: a changed source soft-deletes its
// documents and inserts new ones.
type Document struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	SourceType  SourceType             `json:"sourceType"`
	SourceID    string                 `json:"sourceId"`
	ChunkIndex  int                    `json:"chunkIndex"`
	Title       string                 `json:"title"`
	SummaryText string                 `json:"summaryText,omitempty"`
	ChunkText   string                 `json:"chunkText,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
	ContentHash string                 `json:"contentHash"`
	IsDeleted   bool                   `json:"isDeleted"`
	OccurredAt  *time.Time             `json:"occurredAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Text is what gets embedded for the document.
func (d Document) Text() string {
	if d.SummaryText != "" {
		return d.SummaryText
	}
	return d.ChunkText
}

// AgeFrom is measured from when the source happened, falling back to when the
// document was indexed.
func (d Document) AgeFrom(now time.Time) time.Duration {
	at := d.CreatedAt
	if d.OccurredAt != nil && !d.OccurredAt.IsZero() {
		at = *d.OccurredAt
	}
	if at.After(now) {
		return 0
	}
	return now.Sub(at)
}

// SourceUnit is everything derived from one source record: the documents that
// replace the record's previous documents, plus side-table signals.
type SourceUnit struct {
	SourceID    string
	Family      []SourceType
	Documents   []Document
	People      []string
	ActionItems []string
}

// Hashes returns the content hashes of the unit's documents.
func (u SourceUnit) Hashes() []string {
	out := make([]string, len(u.Documents))
	for i, d := range u.Documents {
		out[i] = d.ContentHash
	}
	return out
}

// Hit is a document with the score a single lookup gave it.
type Hit struct {
	Document Document
	Score    float64
}

// Embedding is the vector of one document, keyed by the document id.
type Embedding struct {
	DocumentID  string
	UserID      string
	SourceType  SourceType
	SourceID    string
	ChunkIndex  int
	ContentHash string
	Vector      []float32
}
