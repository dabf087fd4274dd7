package worker

import (
	"context"
	"fmt"

	"recall/backend/features/document"
	"recall/backend/features/job"
	"recall/backend/features/source"
	"recall/backend/internal/embed"
)

// ErrUnknownAccount marks a task whose account link is missing. It wraps
// job.ErrPermanent so the task fails without further attempts.
var ErrUnknownAccount = fmt.Errorf("unknown linked account: %w", job.ErrPermanent)

type Embedder interface {
	Embed(ctx context.Context, inputs []embed.Input) ([]embed.Output, error)
}

type VectorWriter interface {
	UpsertVectors(ctx context.Context, embeddings []document.Embedding) error
	DeleteVectors(ctx context.Context, documentIDs []string) error
}

type DocumentWriter interface {
	LiveHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error)
	ReplaceSources(ctx context.Context, userID string, units []document.SourceUnit) ([]string, error)
}

type NoteReader interface {
	ListNotes(ctx context.Context, userID string) ([]source.Note, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, userID, accountID string) (*source.Account, error)
}

type MailReader interface {
	AccountReader
	ListThreadIDs(ctx context.Context, userID, accountID string) ([]string, error)
	FetchThreads(ctx context.Context, userID string, ids []string) ([]source.Thread, error)
}

type CalendarReader interface {
	AccountReader
	ListEventIDs(ctx context.Context, userID, accountID string) ([]string, error)
	FetchEvents(ctx context.Context, userID string, ids []string) ([]source.Event, error)
}

// Sources is every read the executors need; source.PostgresRepo satisfies it.
type Sources interface {
	NoteReader
	MailReader
	CalendarReader
}

type Limits struct {
	EmailPageSize      int
	CalendarPageSize   int
	CalendarFlushEvery int
	ChunkMaxChars      int
	ChunkOverlapChars  int
	SummarySentences   int
}

var DefaultLimits = Limits{
	EmailPageSize:      30,
	CalendarPageSize:   80,
	CalendarFlushEvery: 25,
	ChunkMaxChars:      1200,
	ChunkOverlapChars:  200,
	SummarySentences:   3,
}

func (l Limits) withDefaults() Limits {
	if l.EmailPageSize <= 0 {
		l.EmailPageSize = DefaultLimits.EmailPageSize
	}
	if l.CalendarPageSize <= 0 {
		l.CalendarPageSize = DefaultLimits.CalendarPageSize
	}
	if l.CalendarFlushEvery <= 0 {
		l.CalendarFlushEvery = DefaultLimits.CalendarFlushEvery
	}
	if l.ChunkMaxChars <= 0 {
		l.ChunkMaxChars = DefaultLimits.ChunkMaxChars
	}
	if l.ChunkOverlapChars < 0 || l.ChunkOverlapChars >= l.ChunkMaxChars {
		l.ChunkOverlapChars = 0
	}
	if l.SummarySentences <= 0 {
		l.SummarySentences = DefaultLimits.SummarySentences
	}
	return l
}
