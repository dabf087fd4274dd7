package retrieval

import (
	"sort"
	"time"

	"recall/backend/features/document"
)

// MissingRank is the rank reported for a document absent from one list.
const MissingRank = 9999

type FusionParams struct {
	K         float64
	DecayRate float64
}

var DefaultFusion = FusionParams{K: 60, DecayRate: 0.003}

// Decay discounts by age in days; it is 1 at age zero and never reaches zero.
func Decay(age time.Duration, rate float64) float64 {
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	return 1 / (1 + days*rate)
}

// Fuse joins two ranked lists on document id, scores each document with
// reciprocal rank fusion times recency decay, and returns the top limit.
// Rank is the 1-based position in each input list. A list a document is
// absent from contributes nothing to its score.
func Fuse(semantic, lexical []document.Hit, now time.Time, p FusionParams, limit int) []ScoredDocument {
	byID := make(map[string]*ScoredDocument, len(semantic)+len(lexical))
	order := make([]string, 0, len(semantic)+len(lexical))

	entry := func(d document.Document) *ScoredDocument {
		if sd, ok := byID[d.ID]; ok {
			return sd
		}
		sd := newScored(d)
		sd.SemanticRank = MissingRank
		sd.LexicalRank = MissingRank
		byID[d.ID] = sd
		order = append(order, d.ID)
		return sd
	}

	for i, h := range semantic {
		sd := entry(h.Document)
		if sd.SemanticRank != MissingRank {
			continue
		}
		sd.SemanticRank = i + 1
		sd.SemanticScore = h.Score
	}
	for i, h := range lexical {
		sd := entry(h.Document)
		if sd.LexicalRank != MissingRank {
			continue
		}
		sd.LexicalRank = i + 1
		sd.LexicalScore = h.Score
	}

	out := make([]ScoredDocument, 0, len(order))
	for _, id := range order {
		sd := byID[id]
		var rrf float64
		if sd.SemanticRank != MissingRank {
			rrf += 1 / (p.K + float64(sd.SemanticRank))
		}
		if sd.LexicalRank != MissingRank {
			rrf += 1 / (p.K + float64(sd.LexicalRank))
		}
		sd.FusedScore = rrf * Decay(sd.age(now), p.DecayRate)
		out = append(out, *sd)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].SemanticScore != out[j].SemanticScore {
			return out[i].SemanticScore > out[j].SemanticScore
		}
		return out[i].DocumentID < out[j].DocumentID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
