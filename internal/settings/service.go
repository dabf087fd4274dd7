package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	ID               int     `json:"-"`
	GeminiAPIKey     string  `json:"gemini_api_key"`
	OpenAIAPIKey     string  `json:"openai_api_key"`
	SearchLimit      int     `json:"search_limit"`
	MinSemanticScore float64 `json:"min_semantic_score"`
}

func (s *Settings) Validate() error {
	if s.SearchLimit < 1 || s.SearchLimit > 200 {
		return fmt.Errorf("%w: search_limit must be between 1 and 200", ErrInvalidSettings)
	}
	if s.MinSemanticScore < 0 || s.MinSemanticScore > 1 {
		return fmt.Errorf("%w: min_semantic_score must be between 0 and 1", ErrInvalidSettings)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

// SearchDefaults are used when the settings row cannot be read.
type SearchDefaults struct {
	Limit            int
	MinSemanticScore float64
}

type Service struct {
	repo     Repository
	defaults SearchDefaults
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, defaults: SearchDefaults{Limit: 30, MinSemanticScore: 0.28}}
}

func (s *Service) WithDefaults(d SearchDefaults) *Service {
	s.defaults = d
	return s
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// Search returns the configured result limit and semantic score floor.
func (s *Service) Search(ctx context.Context) (int, float64) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "settings unavailable, using search defaults", "error", err)
		return s.defaults.Limit, s.defaults.MinSemanticScore
	}
	limit, score := set.SearchLimit, set.MinSemanticScore
	if limit <= 0 {
		limit = s.defaults.Limit
	}
	if score < 0 || score > 1 {
		score = s.defaults.MinSemanticScore
	}
	return limit, score
}
