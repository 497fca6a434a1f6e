package scoring

import (
	"math"
	"sort"

	"github.com/sentiment-ranker/comment-ranker/internal/models"
)

const (
	engagementWeight = 0.1
	sizeWeight       = 0.05
)

// SentimentWeight is the base score of a sentiment.
func SentimentWeight(s models.Sentiment) float64 {
	switch s {
	case models.SentimentPositive:
		return 2
	case models.SentimentNegative:
		return -2
	default:
		return 0
	}
}

// Contribution is one fact's share of its product's score. ln(x+1) keeps zero engagement
// and size from producing a negative or undefined term.
func Contribution(f models.ExtractedFact) float64 {
	interaction := math.Log(float64(f.ThreadEngagement)+1) * engagementWeight
	sizeBonus := math.Log(float64(f.ThreadSize)+1) * sizeWeight
	return SentimentWeight(f.Sentiment) * (1 + interaction + sizeBonus)
}

// Engine folds facts into per-product statistics. Products keep the order in which
// they were first seen, which breaks score ties in the ranking.
type Engine struct {
	order    []string
	products map[string]*models.ProductScore
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{products: make(map[string]*models.ProductScore)}
}

// Add folds one fact into its product's totals.
func (e *Engine) Add(f models.ExtractedFact) {
	p, ok := e.products[f.ProductName]
	if !ok {
		p = &models.ProductScore{ProductName: f.ProductName}
		e.products[f.ProductName] = p
		e.order = append(e.order, f.ProductName)
	}

	p.Score += Contribution(f)
	switch f.Sentiment {
	case models.SentimentPositive:
		p.PositiveCount++
	case models.SentimentNegative:
		p.NegativeCount++
	default:
		p.NeutralCount++
	}
	p.TotalEngagement += f.ThreadEngagement
	p.MentionCount++
}

// AddAll folds facts in order.
func (e *Engine) AddAll(facts []models.ExtractedFact) {
	for _, f := range facts {
		e.Add(f)
	}
}

// Ranking returns products by score descending, ties in first-seen order.
func (e *Engine) Ranking() []models.ProductScore {
	ranking := make([]models.ProductScore, 0, len(e.order))
	for _, name := range e.order {
		p := *e.products[name]
		if p.MentionCount > 0 {
			p.PositiveRate = float64(p.PositiveCount) / float64(p.MentionCount) * 100
		}
		ranking = append(ranking, p)
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Score > ranking[j].Score
	})
	return ranking
}

// Rank is a convenience for scoring a complete fact list.
func Rank(facts []models.ExtractedFact) []models.ProductScore {
	e := NewEngine()
	e.AddAll(facts)
	return e.Ranking()
}
