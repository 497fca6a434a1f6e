package scoring

import (
	"context"
	"sort"
	"strings"

	"github.com/sentiment-ranker/comment-ranker/internal/models"
)

// FeatureSeparator joins feature tags in output tables
const FeatureSeparator = "、"

// FeatureSummarizer produces a feature description for the leading products of a ranking
type FeatureSummarizer interface {
	Summarize(ctx context.Context, ranking []models.ProductScore, facts []models.ExtractedFact, n int) (map[string]string, error)
}

// TagFrequencySummarizer lists the most frequent feature tags per product
type TagFrequencySummarizer struct {
	MaxTags int
}

var _ FeatureSummarizer = (*TagFrequencySummarizer)(nil)

// NewTagFrequencySummarizer keeps up to maxTags tags per product (0 keeps all).
func NewTagFrequencySummarizer(maxTags int) *TagFrequencySummarizer {
	return &TagFrequencySummarizer{MaxTags: maxTags}
}

// Summarize counts tags across each top-n product's facts. Ties keep the order tags were first seen.
func (s *TagFrequencySummarizer) Summarize(ctx context.Context, ranking []models.ProductScore, facts []models.ExtractedFact, n int) (map[string]string, error) {
	if n > len(ranking) {
		n = len(ranking)
	}

	wanted := make(map[string]bool, n)
	for _, p := range ranking[:n] {
		wanted[p.ProductName] = true
	}

	type tally struct {
		order  []string
		counts map[string]int
	}
	tallies := make(map[string]*tally, n)

	for _, f := range facts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !wanted[f.ProductName] {
			continue
		}
		t, ok := tallies[f.ProductName]
		if !ok {
			t = &tally{counts: make(map[string]int)}
			tallies[f.ProductName] = t
		}
		for _, tag := range f.FeatureTags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if t.counts[tag] == 0 {
				t.order = append(t.order, tag)
			}
			t.counts[tag]++
		}
	}

	out := make(map[string]string, n)
	for name := range wanted {
		t, ok := tallies[name]
		if !ok || len(t.order) == 0 {
			out[name] = ""
			continue
		}
		tags := append([]string(nil), t.order...)
		sort.SliceStable(tags, func(i, j int) bool {
			return t.counts[tags[i]] > t.counts[tags[j]]
		})
		if s.MaxTags > 0 && len(tags) > s.MaxTags {
			tags = tags[:s.MaxTags]
		}
		out[name] = strings.Join(tags, FeatureSeparator)
	}
	return out, nil
}

// ApplyFeatures copies summaries onto the ranking entries they belong to.
func ApplyFeatures(ranking []models.ProductScore, features map[string]string) {
	for i := range ranking {
		if f, ok := features[ranking[i].ProductName]; ok {
			ranking[i].Features = f
		}
	}
}

// JoinTags renders a fact's tags for a detail row.
func JoinTags(tags []string) string {
	return strings.Join(tags, FeatureSeparator)
}
