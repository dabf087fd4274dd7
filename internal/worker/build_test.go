package worker

import (
	"fmt"
	"strings"
	"time"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/backend/features/document"
	"recall/backend/features/source"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("doc-%d", n)
	}
}

func TestBuilder_Note(t *testing.T) {
	b := newBuilder(DefaultLimits)
	b.newID = seqIDs()

	u, ok := b.note(sampleNote("n1"))
	require.True(t, ok)
	assert.Equal(t, "n1", u.SourceID)
	assert.Equal(t, document.NoteFamily, u.Family)
	require.GreaterOrEqual(t, len(u.Documents), 2)

	summary := u.Documents[0]
	assert.Equal(t, document.NoteSummary, summary.SourceType)
	assert.NotEmpty(t, summary.SummaryText)
	assert.Empty(t, summary.ChunkText)
	assert.Equal(t, "doc-1", summary.ID)

	for i, d := range u.Documents[1:] {
		assert.Equal(t, document.NoteChunk, d.SourceType)
		assert.Equal(t, i, d.ChunkIndex)
		assert.NotEmpty(t, d.ChunkText)
		assert.Equal(t, "n1", d.SourceID)
		require.NotNil(t, d.OccurredAt)
	}
}

func TestBuilder_TranscriptHasOnlyChunks(t *testing.T) {
	b := newBuilder(DefaultLimits)
	n := sampleNote("tr1")
	n.Kind = source.KindTranscript

	u, ok := b.note(n)
	require.True(t, ok)
	assert.Equal(t, document.TranscriptFamily, u.Family)
	for _, d := range u.Documents {
		assert.Equal(t, document.TranscriptChunk, d.SourceType)
	}
}

func TestBuilder_BlankNoteIsEmpty(t *testing.T) {
	b := newBuilder(DefaultLimits)
	n := sampleNote("n1")
	n.Body = "   \n\t "
	_, ok := b.note(n)
	assert.False(t, ok)
}

func TestBuilder_HashesFollowRevision(t *testing.T) {
	b := newBuilder(DefaultLimits)
	n := sampleNote("n1")

	first, _ := b.note(n)
	again, _ := b.note(n)
	assert.Equal(t, first.Hashes(), again.Hashes())
	assert.NotEqual(t, first.Documents[0].ID, again.Documents[0].ID)

	n.UpdatedAt = n.UpdatedAt.Add(time.Minute)
	changed, _ := b.note(n)
	assert.NotEqual(t, first.Documents[0].ContentHash, changed.Documents[0].ContentHash)
}

func TestBuilder_LongNoteIsChunked(t *testing.T) {
	b := newBuilder(Limits{ChunkMaxChars: 200, ChunkOverlapChars: 20})
	n := sampleNote("n1")
	n.Body = strings.Repeat("The quarterly numbers look stable across every region we track. ", 20)

	u, ok := b.note(n)
	require.True(t, ok)
	assert.Greater(t, len(u.Documents), 3)

	seen := map[string]bool{}
	for _, h := range u.Hashes() {
		assert.False(t, seen[h], "duplicate hash %s", h)
		seen[h] = true
	}
}

func TestBuilder_Thread(t *testing.T) {
	b := newBuilder(DefaultLimits)
	th := source.Thread{
		ID:            "th1",
		AccountID:     "acc1",
		Subject:       "Contract renewal",
		Participants:  []string{"carol@example.com"},
		LastMessageAt: ptr(t0),
		UpdatedAt:     t0,
		Messages: []source.Message{
			{ID: "m1", Sender: "carol@example.com", Body: "Can you send the signed contract by Friday?", SentAt: t0},
			{ID: "m2", Sender: "me@example.com", Body: "   ", SentAt: t0},
		},
	}

	u, ok := b.thread(th)
	require.True(t, ok)
	assert.Equal(t, document.EmailFamily, u.Family)
	assert.Equal(t, document.EmailSummary, u.Documents[0].SourceType)
	assert.Contains(t, u.Documents[0].SummaryText, "Messages: 2")
	require.Len(t, u.Documents, 2)
	assert.Contains(t, u.Documents[1].ChunkText, "From: carol@example.com")
	assert.NotContains(t, u.Documents[1].ChunkText, "me@example.com")
	assert.Equal(t, "acc1", u.Documents[0].Metadata["account_id"])
}

func TestBuilder_ThreadWithoutContent(t *testing.T) {
	b := newBuilder(DefaultLimits)
	_, ok := b.thread(source.Thread{ID: "th1", Messages: []source.Message{{Body: ""}}})
	assert.False(t, ok)
}

func TestBuilder_Event(t *testing.T) {
	b := newBuilder(DefaultLimits)
	ev := source.Event{
		ID:          "ev1",
		AccountID:   "acc1",
		Title:       "Design review",
		Description: "Walk through the new onboarding flow.",
		Location:    "Room 4",
		Attendees:   []string{"Dana"},
		StartsAt:    ptr(t0),
		EndsAt:      ptr(t0.Add(time.Hour)),
		UpdatedAt:   t0,
	}

	u, ok := b.event(ev)
	require.True(t, ok)
	assert.Equal(t, document.CalendarFamily, u.Family)
	assert.Contains(t, u.Documents[0].SummaryText, "Location: Room 4")
	assert.Contains(t, u.Documents[0].SummaryText, "When: 2026-01-05 09:00 to 2026-01-05 10:00")
	assert.Equal(t, t0, *u.Documents[0].OccurredAt)
}

func TestBuilder_BlankEvent(t *testing.T) {
	b := newBuilder(DefaultLimits)
	_, ok := b.event(source.Event{ID: "ev1", Title: " ", Description: ""})
	assert.False(t, ok)
}
