package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"recall/backend/features/document"
	"recall/backend/internal/middleware"
)

// overfetch widens the vector lookup so results dropped by the live-document
// check do not starve the list.
const overfetch = 2

type Service struct {
	embedder QueryEmbedder
	vectors  VectorIndex
	docs     DocumentStore
	defaults Defaults
	logger   *QueryLogger
	fusion   FusionParams
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Service)

func WithFusion(p FusionParams) Option {
	return func(s *Service) { s.fusion = p }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithQueryLogger(l *QueryLogger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(e QueryEmbedder, v VectorIndex, d DocumentStore, defaults Defaults, opts ...Option) *Service {
	s := &Service{
		embedder: e,
		vectors:  v,
		docs:     d,
		defaults: defaults,
		fusion:   DefaultFusion,
		timeout:  8 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the semantic and lexical lookups in parallel and fuses them.
// Either lookup failing or running out of time fails the whole query.
func (s *Service) Search(ctx context.Context, q Query) (results []ScoredDocument, err error) {
	start := time.Now()
	var semantic, lexical []document.Hit
	defer func() {
		s.log(ctx, "hybrid", q, len(semantic), len(lexical), len(results), time.Since(start), err)
	}()

	q, minScore, err := s.prepare(ctx, q)
	if err != nil {
		return nil, err
	}

	budget, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(budget)
	g.Go(func() error {
		hits, err := s.semantic(gctx, q, minScore)
		if err != nil {
			return fmt.Errorf("semantic lookup: %w", err)
		}
		semantic = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.docs.SearchLexical(gctx, q.UserID, q.Text, q.SourceTypes, q.Limit, s.timeout)
		if err != nil {
			return fmt.Errorf("lexical lookup: %w", err)
		}
		lexical = hits
		return nil
	})
	if err = g.Wait(); err != nil {
		return nil, s.classify(budget, err)
	}

	results = Fuse(semantic, lexical, s.now(), s.fusion, q.Limit)
	return results, nil
}

// MatchDocuments is the semantic lookup alone, ordered by similarity.
func (s *Service) MatchDocuments(ctx context.Context, q Query) (results []ScoredDocument, err error) {
	start := time.Now()
	var semantic []document.Hit
	defer func() {
		s.log(ctx, "semantic", q, len(semantic), 0, len(results), time.Since(start), err)
	}()

	q, minScore, err := s.prepare(ctx, q)
	if err != nil {
		return nil, err
	}

	budget, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	semantic, err = s.semantic(budget, q, minScore)
	if err != nil {
		return nil, s.classify(budget, fmt.Errorf("semantic lookup: %w", err))
	}

	results = make([]ScoredDocument, len(semantic))
	for i, h := range semantic {
		sd := newScored(h.Document)
		sd.SemanticScore = h.Score
		sd.SemanticRank = i + 1
		sd.LexicalRank = MissingRank
		results[i] = *sd
	}
	return results, nil
}

// prepare fills defaults and embeds the query text when no vector was given.
// Embedding happens outside the query time budget.
func (s *Service) prepare(ctx context.Context, q Query) (Query, float64, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.UserID == "" {
		return q, 0, ErrMissingUser
	}
	if q.Text == "" && len(q.Vector) == 0 {
		return q, 0, ErrEmptyQuery
	}

	limit, minScore := 30, 0.28
	if s.defaults != nil {
		limit, minScore = s.defaults.Search(ctx)
	}
	if q.Limit <= 0 {
		q.Limit = limit
	}
	if q.MinSemanticScore != nil {
		minScore = *q.MinSemanticScore
	}

	if len(q.Vector) == 0 {
		vec, err := s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return q, 0, fmt.Errorf("embed query: %w", err)
		}
		q.Vector = vec
	}
	return q, minScore, nil
}

// semantic looks up vectors and keeps only hits whose document is still live,
// in similarity order.
func (s *Service) semantic(ctx context.Context, q Query, minScore float64) ([]document.Hit, error) {
	matches, err := s.vectors.SearchVectors(ctx, q.UserID, q.Vector, q.SourceTypes, q.Limit*overfetch, minScore)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.DocumentID
	}
	live, err := s.docs.LiveByIDs(ctx, q.UserID, ids, s.timeout)
	if err != nil {
		return nil, err
	}

	hits := make([]document.Hit, 0, min(len(matches), q.Limit))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		d, ok := live[m.DocumentID]
		if !ok {
			continue
		}
		hits = append(hits, document.Hit{Document: d, Score: m.Score})
		if len(hits) == q.Limit {
			break
		}
	}
	return hits, nil
}

func (s *Service) classify(budget context.Context, err error) error {
	if errors.Is(err, document.ErrStatementTimeout) || errors.Is(budget.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}
	return err
}

func (s *Service) log(ctx context.Context, mode string, q Query, semantic, lexical, results int, d time.Duration, err error) {
	attrs := []any{"mode", mode, "user_id", q.UserID, "results", results, "duration", d}
	if err != nil {
		slog.WarnContext(ctx, "retrieval failed", append(attrs, "error", err)...)
	} else {
		slog.DebugContext(ctx, "retrieval done", attrs...)
	}

	if s.logger == nil {
		return
	}
	entry := QueryLogEntry{
		Query:         q.Text,
		Mode:          mode,
		UserID:        q.UserID,
		SemanticHits:  semantic,
		LexicalHits:   lexical,
		NumResults:    results,
		Duration:      d,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.logger.Log(entry)
}
