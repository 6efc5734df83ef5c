// Package scoring implements the importance, decay, reinforcement, and
// privacy-risk algebra that governs a record's lifetime.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// ErrInvalidScoreInput is returned when factor inputs are out of range or the
// weights fail to normalize.
var ErrInvalidScoreInput = fmt.Errorf("%w: invalid score input", domain.ErrInvalidInput)

// Weights over the four importance factors. Must sum to 1.0.
type Weights struct {
	Recency   float64
	Frequency float64
	Salience  float64
	Relevance float64
}

// DefaultWeights match the production tuning.
func DefaultWeights() Weights {
	return Weights{Recency: 0.25, Frequency: 0.20, Salience: 0.35, Relevance: 0.20}
}

const (
	recencyLambda      = 0.05
	frequencyCeiling   = 100
	reinforcementBoost = 0.15

	baseDecayRate           = 0.1
	importanceDecayDiscount = 0.9
)

// Engine computes record scores. Zero-value weights are replaced by defaults.
type Engine struct {
	weights Weights
}

func NewEngine(w Weights) *Engine {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Engine{weights: w}
}

// ImportanceInputs are the factor inputs for one importance computation.
// Relevance is optional; when nil its weight is redistributed proportionally
// across the remaining factors.
type ImportanceInputs struct {
	AgeDays     float64
	AccessCount int
	Salience    *domain.Salience
	Relevance   *float64
}

// Importance returns the weighted factor sum in [0,1].
func (e *Engine) Importance(in ImportanceInputs) (float64, error) {
	if in.AgeDays < 0 || in.AccessCount < 0 {
		return 0, fmt.Errorf("%w: negative age or access count", ErrInvalidScoreInput)
	}

	recency := math.Exp(-recencyLambda * in.AgeDays)
	frequency := math.Log(1+float64(in.AccessCount)) / math.Log(1+frequencyCeiling)
	if frequency > 1 {
		frequency = 1
	}

	salience := 0.5
	if in.Salience != nil {
		for _, sub := range []float64{in.Salience.Emotional, in.Salience.Novelty, in.Salience.Actionable, in.Salience.Personal} {
			if sub < 0 || sub > 10 {
				return 0, fmt.Errorf("%w: salience sub-score %v out of [0,10]", ErrInvalidScoreInput, sub)
			}
		}
		salience = (in.Salience.Emotional + in.Salience.Novelty + in.Salience.Actionable + in.Salience.Personal) / 40
	}

	w := e.weights
	var relevance float64
	if in.Relevance != nil {
		relevance = *in.Relevance
		if relevance < 0 || relevance > 1 {
			return 0, fmt.Errorf("%w: relevance %v out of [0,1]", ErrInvalidScoreInput, relevance)
		}
	} else {
		// Redistribute the relevance weight proportionally.
		rest := w.Recency + w.Frequency + w.Salience
		if rest <= 0 {
			return 0, fmt.Errorf("%w: weights do not normalize", ErrInvalidScoreInput)
		}
		scale := (rest + w.Relevance) / rest
		w.Recency *= scale
		w.Frequency *= scale
		w.Salience *= scale
		w.Relevance = 0
	}

	sum := w.Recency + w.Frequency + w.Salience + w.Relevance
	if math.Abs(sum-1.0) > 1e-6 {
		return 0, fmt.Errorf("%w: weights sum to %v after renormalization", ErrInvalidScoreInput, sum)
	}

	importance := w.Recency*recency + w.Frequency*frequency + w.Salience*salience + w.Relevance*relevance
	return clamp01(importance), nil
}

// ContextRelevance maps a cosine similarity in [-1,1] onto the [0,1]
// relevance factor.
func ContextRelevance(embedding, context []float32) float64 {
	return (Cosine(embedding, context) + 1) / 2
}

// DecayRate returns the per-day strength loss for a record at now.
func (e *Engine) DecayRate(r *domain.Record, now time.Time) float64 {
	importanceMod := 1 - importanceDecayDiscount*r.Importance

	accessMod := 1.0
	switch {
	case r.LastAccessed.IsZero():
		accessMod = 1.5
	case now.Sub(r.LastAccessed) <= 24*time.Hour:
		accessMod = 0.5
	case now.Sub(r.LastAccessed) <= 7*24*time.Hour:
		accessMod = 0.7
	}

	typeMod := 1.0
	switch r.Type {
	case domain.MemoryTypeEpisodic:
		typeMod = 1.0
	case domain.MemoryTypeSemantic:
		typeMod = 0.7
	case domain.MemoryTypeProcedural:
		typeMod = 0.5
	case domain.MemoryTypeEmotional:
		typeMod = 0.6
	case domain.MemoryTypeSystem:
		typeMod = 0.3
	}

	return baseDecayRate * importanceMod * accessMod * typeMod
}

// Decay returns the new strength after the elapsed time since last_decayed.
func (e *Engine) Decay(r *domain.Record, now time.Time) float64 {
	last := r.LastDecayed
	if last.IsZero() {
		last = r.CreatedAt
	}
	days := now.Sub(last).Hours() / 24
	if days <= 0 {
		return r.Strength
	}
	return clamp01(r.Strength - e.DecayRate(r, now)*days)
}

// Reinforce applies the access boost in place: strength moves a fixed
// fraction of the remaining headroom toward 1.
func (e *Engine) Reinforce(r *domain.Record, now time.Time) {
	r.Strength = math.Min(1, r.Strength+reinforcementBoost*(1-r.Strength))
	r.AccessCount++
	r.LastAccessed = now
}

// PrivacyRisk combines the detection markers with an age factor. Younger
// records carry more risk.
func PrivacyRisk(p domain.PrivacyMarkers, ageDays float64) float64 {
	ageScore := math.Max(0, 1-ageDays/365)
	return clamp01(0.4*p.PIIScore + 0.4*p.FinancialScore + 0.2*ageScore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
