package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recall/backend/features/document"
	"recall/backend/features/source"
	"recall/backend/internal/text"
)

// builder derives the documents of one source record. It reports false for a
// record with nothing worth indexing.
type builder struct {
	limits Limits
	newID  func() string
}

func newBuilder(l Limits) *builder {
	return &builder{limits: l.withDefaults(), newID: uuid.NewString}
}

func (b *builder) note(n source.Note) (document.SourceUnit, bool) {
	body := text.CleanNote(n.Body)
	if text.IsBlank(body) {
		return document.SourceUnit{}, false
	}

	header := text.ContextHeader{Title: n.Title, Participants: n.Participants, Date: dateOf(n.OccurredAt, n.UpdatedAt)}
	rev := text.Revision(n.UpdatedAt)
	meta := map[string]interface{}{
		"kind":         string(n.Kind),
		"participants": n.Participants,
		"updated_at":   n.UpdatedAt.UTC().Format(time.RFC3339),
	}
	u := document.SourceUnit{
		SourceID:    n.ID,
		People:      text.ExtractPeople(n.Participants, body),
		ActionItems: text.ExtractActionItems(body),
	}

	chunkType := document.NoteChunk
	if n.Kind == source.KindTranscript {
		u.Family = document.TranscriptFamily
		chunkType = document.TranscriptChunk
	} else {
		u.Family = document.NoteFamily
		summary := text.BuildSummary(header, nil, body, b.limits.SummarySentences)
		u.Documents = append(u.Documents, b.summary(document.NoteSummary, n.ID, n.Title, summary, rev, meta, n.OccurredAt))
	}

	u.Documents = append(u.Documents, b.chunks(chunkType, n.ID, n.Title, body, header, rev, meta, n.OccurredAt)...)
	return u, true
}

func (b *builder) thread(t source.Thread) (document.SourceUnit, bool) {
	var parts []string
	for _, m := range t.Messages {
		body := text.CleanEmailBody(m.Body)
		if text.IsBlank(body) {
			continue
		}
		parts = append(parts, fmt.Sprintf("From: %s (%s)\n%s", m.Sender, m.SentAt.UTC().Format("2006-01-02 15:04"), body))
	}
	body := strings.Join(parts, "\n\n")
	if text.IsBlank(body) {
		return document.SourceUnit{}, false
	}

	header := text.ContextHeader{Title: t.Subject, Participants: t.Participants, Date: dateOf(t.LastMessageAt, t.UpdatedAt)}
	rev := text.Revision(t.UpdatedAt)
	meta := map[string]interface{}{
		"account_id":    t.AccountID,
		"participants":  t.Participants,
		"message_count": len(t.Messages),
	}
	facts := []string{fmt.Sprintf("Messages: %d", len(t.Messages))}
	if t.LastMessageAt != nil {
		facts = append(facts, "Last message: "+t.LastMessageAt.UTC().Format("2006-01-02"))
	}

	u := document.SourceUnit{
		SourceID:    t.ID,
		Family:      document.EmailFamily,
		People:      text.ExtractPeople(t.Participants, body),
		ActionItems: text.ExtractActionItems(body),
	}
	summary := text.BuildSummary(header, facts, body, b.limits.SummarySentences)
	u.Documents = append(u.Documents, b.summary(document.EmailSummary, t.ID, t.Subject, summary, rev, meta, t.LastMessageAt))
	u.Documents = append(u.Documents, b.chunks(document.EmailChunk, t.ID, t.Subject, body, header, rev, meta, t.LastMessageAt)...)
	return u, true
}

func (b *builder) event(e source.Event) (document.SourceUnit, bool) {
	description := text.CleanNote(e.Description)
	if text.IsBlank(e.Title) && text.IsBlank(description) {
		return document.SourceUnit{}, false
	}

	header := text.ContextHeader{Title: e.Title, Participants: e.Attendees, Date: dateOf(e.StartsAt, e.UpdatedAt)}
	rev := text.Revision(e.UpdatedAt)
	meta := map[string]interface{}{
		"account_id": e.AccountID,
		"attendees":  e.Attendees,
		"location":   e.Location,
	}

	var facts []string
	if e.StartsAt != nil {
		when := "When: " + e.StartsAt.UTC().Format("2006-01-02 15:04")
		if e.EndsAt != nil {
			when += " to " + e.EndsAt.UTC().Format("2006-01-02 15:04")
		}
		facts = append(facts, when)
	}
	if loc := strings.TrimSpace(e.Location); loc != "" {
		facts = append(facts, "Location: "+loc)
	}

	u := document.SourceUnit{
		SourceID:    e.ID,
		Family:      document.CalendarFamily,
		People:      text.ExtractPeople(e.Attendees, description),
		ActionItems: text.ExtractActionItems(description),
	}
	summary := text.BuildSummary(header, facts, description, b.limits.SummarySentences)
	u.Documents = append(u.Documents, b.summary(document.CalendarSummary, e.ID, e.Title, summary, rev, meta, e.StartsAt))
	u.Documents = append(u.Documents, b.chunks(document.CalendarChunk, e.ID, e.Title, description, header, rev, meta, e.StartsAt)...)
	return u, true
}

func (b *builder) summary(t document.SourceType, sourceID, title, summary, rev string, meta map[string]interface{}, at *time.Time) document.Document {
	return document.Document{
		ID:          b.newID(),
		SourceType:  t,
		SourceID:    sourceID,
		Title:       title,
		SummaryText: summary,
		Metadata:    meta,
		ContentHash: text.ContentHash(string(t), sourceID, text.Role("summary", rev), nil),
		OccurredAt:  at,
	}
}

func (b *builder) chunks(t document.SourceType, sourceID, title, body string, header text.ContextHeader, rev string, meta map[string]interface{}, at *time.Time) []document.Document {
	chunks := text.SentenceAwareChunks(body, header, b.limits.ChunkMaxChars, b.limits.ChunkOverlapChars)
	docs := make([]document.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = document.Document{
			ID:          b.newID(),
			SourceType:  t,
			SourceID:    sourceID,
			ChunkIndex:  i,
			Title:       title,
			ChunkText:   c,
			Metadata:    meta,
			ContentHash: text.ContentHash(string(t), sourceID, text.Role("chunk", rev), text.Index(i)),
			OccurredAt:  at,
		}
	}
	return docs
}

func dateOf(at *time.Time, fallback time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return *at
	}
	return fallback
}
