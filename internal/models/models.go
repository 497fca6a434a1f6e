package models

import (
	"strings"
	"time"
)

// Sentiment is the attitude a thread expresses toward a product
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
)

// ParseSentiment maps a free-form label onto a Sentiment. Unknown labels are Neutral.
func ParseSentiment(label string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive", "pos", "肯定", "正面":
		return SentimentPositive
	case "negative", "neg", "否定", "负面":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// CommentRecord is one comment in canonical shape
type CommentRecord struct {
	CommentID string `json:"comment_id"`
	RootID    string `json:"root_id"`
	ParentID  string `json:"parent_id"` // empty for candidate roots
	NoteID    string `json:"note_id"`   // container id, only used by degraded grouping
	Author    string `json:"author"`
	Body      string `json:"body"`
	LikeCount int    `json:"like_count"`
	Timestamp string `json:"timestamp"` // lexically sortable
}

// ConversationThread is one reconstructed discussion, root first
type ConversationThread struct {
	RootID  string          `json:"root_id"`
	Records []CommentRecord `json:"records"`
}

// Engagement returns the sum of like counts in the thread.
func (t ConversationThread) Engagement() int {
	total := 0
	for _, r := range t.Records {
		total += r.LikeCount
	}
	return total
}

// ExtractedFact is one (product, attitude) pair mined from a thread
type ExtractedFact struct {
	ProductName      string    `json:"product_name"`
	Sentiment        Sentiment `json:"sentiment"`
	Evidence         string    `json:"evidence"`
	FeatureTags      []string  `json:"feature_tags"`
	ThreadEngagement int       `json:"thread_engagement"`
	ThreadSize       int       `json:"thread_size"`
	RootID           string    `json:"root_id"`
	Preview          string    `json:"preview"`
	Conversation     string    `json:"-"` // full text block, kept for feature summaries
}

// ProductScore aggregates all facts sharing a product name
type ProductScore struct {
	ProductName     string  `json:"product_name"`
	Score           float64 `json:"score"`
	PositiveCount   int     `json:"positive_count"`
	NegativeCount   int     `json:"negative_count"`
	NeutralCount    int     `json:"neutral_count"`
	TotalEngagement int     `json:"total_engagement"`
	MentionCount    int     `json:"mention_count"`
	PositiveRate    float64 `json:"positive_rate"` // percent, 0-100
	Features        string  `json:"features"`      // filled for the top-N products only
}

// RunReport summarizes one batch run
type RunReport struct {
	RunID        string          `json:"run_id"`
	Input        string          `json:"input"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Grouping     string          `json:"grouping"`
	Records      int             `json:"records"`
	Threads      int             `json:"threads"`
	Skipped      int             `json:"skipped"` // threads that failed recoverably
	Ranking      []ProductScore  `json:"ranking"`
	Facts        []ExtractedFact `json:"facts"`
	Artifacts    []string        `json:"artifacts,omitempty"`
	OutputTarget string          `json:"output_target,omitempty"`
}

// Alert reports a run that could not complete
type Alert struct {
	Type      string    `json:"type"` // "auth", "failure"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Input     string    `json:"input"`
	CreatedAt time.Time `json:"created_at"`
}
