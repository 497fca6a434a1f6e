package threads

import (
	"fmt"
	"strings"

	"github.com/sentiment-ranker/comment-ranker/internal/models"
)

// Serialized is a thread rendered for the extraction service plus the context
// that travels with every fact mined from it
type Serialized struct {
	RootID     string
	Text       string
	Engagement int
	Size       int
}

// Serialize renders a thread as annotated lines. A single comment is "<author>: <body>";
// longer threads tag the first line [ROOT] and the rest [REPLY k] in thread order.
func Serialize(t models.ConversationThread) Serialized {
	out := Serialized{
		RootID:     t.RootID,
		Engagement: t.Engagement(),
		Size:       len(t.Records),
	}

	if len(t.Records) == 1 {
		r := t.Records[0]
		out.Text = fmt.Sprintf("%s: %s", authorName(r, 0), r.Body)
		return out
	}

	lines := make([]string, 0, len(t.Records))
	for i, r := range t.Records {
		if i == 0 {
			lines = append(lines, fmt.Sprintf("[ROOT] %s: %s", authorName(r, i), r.Body))
			continue
		}
		lines = append(lines, fmt.Sprintf("[REPLY %d] %s: %s", i, authorName(r, i), r.Body))
	}
	out.Text = strings.Join(lines, "\n")
	return out
}

func authorName(r models.CommentRecord, pos int) string {
	if r.Author != "" {
		return r.Author
	}
	return fmt.Sprintf("User%d", pos+1)
}
