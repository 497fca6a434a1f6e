package sources

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sirupsen/logrus"
)

// SchemaError is returned when the input table has no usable comment identity column.
// It aborts the run before any extraction happens.
type SchemaError struct {
	Headers []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no comment id column found among headers %q", e.Headers)
}

// Recognized header synonyms per logical field, compared after trimming and lower-casing.
var synonyms = map[string][]string{
	"comment_id": {"评论id", "comment_id", "commentid", "comment id", "id"},
	"root_id":    {"主评论id", "root_comment_id", "root_id", "rootid", "root comment id"},
	"parent_id":  {"父评论id", "parent_comment_id", "parent_id", "parentid", "parent comment id", "reply_to"},
	"note_id":    {"笔记id", "note_id", "noteid", "post_id", "thread_id"},
	"author":     {"昵称", "nickname", "author", "user", "username", "用户名"},
	"body":       {"评论内容", "content", "body", "text", "comment", "内容"},
	"like_count": {"点赞数量", "like_count", "likes", "like count", "点赞数"},
	"timestamp":  {"上传时间", "upload_time", "timestamp", "created_at", "time", "评论时间"},
}

// ColumnMapping holds the column index of each logical field, -1 when absent
type ColumnMapping struct {
	CommentID int
	RootID    int
	ParentID  int
	NoteID    int
	Author    int
	Body      int
	LikeCount int
	Timestamp int
}

// Threaded reports whether explicit root ids are available.
func (m ColumnMapping) Threaded() bool {
	return m.RootID >= 0
}

// HasNote reports whether rows carry a container (note/post) id.
func (m ColumnMapping) HasNote() bool {
	return m.NoteID >= 0
}

// DetectColumns maps headers onto logical fields. The first matching header wins.
func DetectColumns(headers []string) ColumnMapping {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}

	find := func(field string) int {
		for _, name := range synonyms[field] {
			if i, ok := index[name]; ok {
				return i
			}
		}
		return -1
	}

	return ColumnMapping{
		CommentID: find("comment_id"),
		RootID:    find("root_id"),
		ParentID:  find("parent_id"),
		NoteID:    find("note_id"),
		Author:    find("author"),
		Body:      find("body"),
		LikeCount: find("like_count"),
		Timestamp: find("timestamp"),
	}
}

// Normalize converts a table into canonical comment records. Missing text fields become
// empty strings and missing counts become 0.
func Normalize(t *Table) ([]models.CommentRecord, ColumnMapping, error) {
	mapping := DetectColumns(t.Headers)
	if mapping.CommentID < 0 {
		return nil, mapping, &SchemaError{Headers: t.Headers}
	}
	if mapping.Body < 0 {
		logrus.Warn("No comment content column found, bodies will be empty")
	}

	records := make([]models.CommentRecord, 0, len(t.Rows))
	for i := range t.Rows {
		records = append(records, models.CommentRecord{
			CommentID: textCell(t, i, mapping.CommentID),
			RootID:    textCell(t, i, mapping.RootID),
			ParentID:  textCell(t, i, mapping.ParentID),
			NoteID:    textCell(t, i, mapping.NoteID),
			Author:    textCell(t, i, mapping.Author),
			Body:      textCell(t, i, mapping.Body),
			LikeCount: ParseCount(textCell(t, i, mapping.LikeCount)),
			Timestamp: textCell(t, i, mapping.Timestamp),
		})
	}
	return records, mapping, nil
}

func textCell(t *Table, row, col int) string {
	v := strings.TrimSpace(t.Cell(row, col))
	switch strings.ToLower(v) {
	case "nan", "none", "null", "<na>":
		return ""
	}
	return v
}

// ParseCount reads like counts as exported by crawlers: "12", "12.0", "1.2万", "3k", "10+".
// Unparsable or negative values yield 0.
func ParseCount(raw string) int {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	s = strings.TrimSuffix(s, "+")
	if s == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "万"):
		multiplier = 10000
		s = strings.TrimSuffix(s, "万")
	case strings.HasSuffix(s, "w"), strings.HasSuffix(s, "W"):
		multiplier = 10000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		multiplier = 1000
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int(math.Round(f * multiplier))
}
