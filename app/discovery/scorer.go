package discovery

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ScoringWeights holds the heuristic constants of the quality formulas.
type ScoringWeights struct {
	ScoreDivisor    float64
	ScoreCap        float64
	CommentsDivisor float64
	CommentsCap     float64
	MediaBonus      float64
	SocialRecency   time.Duration

	NewsBase       float64
	ImageBonus     float64
	ReputableBonus float64
	NewsRecency    time.Duration

	RecencyBonus float64
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		ScoreDivisor:    1000,
		ScoreCap:        0.4,
		CommentsDivisor: 100,
		CommentsCap:     0.3,
		MediaBonus:      0.2,
		SocialRecency:   24 * time.Hour,

		NewsBase:       0.5,
		ImageBonus:     0.2,
		ReputableBonus: 0.2,
		NewsRecency:    48 * time.Hour,

		RecencyBonus: 0.1,
	}
}

// Scorer maps source signals to a quality score in [0, 1]. Reddit items use
// the engagement formula; news, feed and web items use the editorial one.
type Scorer struct {
	weights   ScoringWeights
	reputable []string
}

func NewScorer(weights ScoringWeights, reputableSources []string) *Scorer {
	return &Scorer{
		weights:   weights,
		reputable: foldAll(reputableSources),
	}
}

func (s *Scorer) Score(item Item, now time.Time) float64 {
	switch item.SourceKind {
	case SourceReddit:
		return s.scoreSocial(item, now)
	default:
		return s.scoreEditorial(item, now)
	}
}

func (s *Scorer) scoreSocial(item Item, now time.Time) float64 {
	w := s.weights

	score := math.Min(float64(item.RawScore)/w.ScoreDivisor, w.ScoreCap)
	score += math.Min(float64(item.EngagementCount)/w.CommentsDivisor, w.CommentsCap)
	if item.HasMedia() {
		score += w.MediaBonus
	}
	score += recencyBonus(item.AgeAt(now), w.SocialRecency, w.RecencyBonus)

	return clamp(score, 0, 1)
}

func (s *Scorer) scoreEditorial(item Item, now time.Time) float64 {
	w := s.weights

	score := w.NewsBase
	if item.HasMedia() {
		score += w.ImageBonus
	}
	if s.IsReputable(item.SourceLabel) {
		score += w.ReputableBonus
	}
	score += recencyBonus(item.AgeAt(now), w.NewsRecency, w.RecencyBonus)

	return clamp(score, 0, 1)
}

// IsReputable reports whether label contains any allowlisted source name,
// ignoring case.
func (s *Scorer) IsReputable(label string) bool {
	if label == "" {
		return false
	}
	folded := fold(label)
	for _, r := range s.reputable {
		if strings.Contains(folded, r) {
			return true
		}
	}
	return false
}

func recencyBonus(age, window time.Duration, limit float64) float64 {
	if window <= 0 || age >= window {
		return 0
	}
	bonus := limit * (1 - age.Hours()/window.Hours())
	return clamp(bonus, 0, limit)
}

// fold returns the case-folded form of s. Casers keep state, so a fresh one
// is used per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
