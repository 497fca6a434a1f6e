package threads

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sirupsen/logrus"
)

// Grouping selects how records are partitioned into conversations
type Grouping int

const (
	// GroupByRoot uses explicit root and parent ids
	GroupByRoot Grouping = iota
	// GroupByNote walks each note chronologically and attaches replies by marker
	GroupByNote
	// GroupSingle treats every record as its own conversation
	GroupSingle
)

func (g Grouping) String() string {
	switch g {
	case GroupByRoot:
		return "root"
	case GroupByNote:
		return "note"
	default:
		return "single"
	}
}

// Builder reconstructs conversation threads from canonical records
type Builder struct {
	replyMarkers []string
}

// NewBuilder creates a builder. Reply markers only matter for GroupByNote.
func NewBuilder(replyMarkers []string) *Builder {
	return &Builder{replyMarkers: replyMarkers}
}

// Build partitions records into threads. Output order follows the first appearance of
// each thread's key in the input.
func (b *Builder) Build(records []models.CommentRecord, grouping Grouping) []models.ConversationThread {
	switch grouping {
	case GroupByRoot:
		return BuildThreads(records)
	case GroupByNote:
		logrus.Warn("No root comment id column, grouping replies by note using reply markers")
		return GroupByNoteMarkers(records, b.replyMarkers)
	default:
		logrus.Info("No threading columns, analyzing every comment on its own")
		return GroupSingleRecords(records)
	}
}

// BuildThreads groups records by root id and orders each group parent-first, depth-first,
// siblings by timestamp. Groups whose reply graph cannot be fully walked from a single
// root (orphans, cycles) fall back to chronological order.
func BuildThreads(records []models.CommentRecord) []models.ConversationThread {
	var order []string
	groups := make(map[string][]models.CommentRecord)
	for _, r := range withRoots(records) {
		if _, ok := groups[r.RootID]; !ok {
			order = append(order, r.RootID)
		}
		groups[r.RootID] = append(groups[r.RootID], r)
	}

	threads := make([]models.ConversationThread, 0, len(order))
	for _, rootID := range order {
		threads = append(threads, models.ConversationThread{
			RootID:  rootID,
			Records: orderGroup(rootID, dedupe(rootID, groups[rootID])),
		})
	}
	return threads
}

// withRoots fills empty root ids. Exports leave the root column blank on top-level
// comments: such a comment roots its own thread and a reply inherits the root of the
// comment it answers. A reply whose parent is missing from the input is keyed by that
// parent id so its siblings stay together.
func withRoots(records []models.CommentRecord) []models.CommentRecord {
	byID := make(map[string]int, len(records))
	for i, r := range records {
		if _, ok := byID[r.CommentID]; !ok {
			byID[r.CommentID] = i
		}
	}

	out := make([]models.CommentRecord, len(records))
	copy(out, records)
	for i := range out {
		if out[i].RootID == "" {
			out[i].RootID = rootOf(records, byID, i)
		}
	}
	return out
}

func rootOf(records []models.CommentRecord, byID map[string]int, i int) string {
	seen := make(map[int]bool)
	for {
		r := records[i]
		switch {
		case r.RootID != "":
			return r.RootID
		case r.ParentID == "" || r.ParentID == r.CommentID:
			return r.CommentID
		}
		seen[i] = true
		next, ok := byID[r.ParentID]
		if !ok || seen[next] {
			return r.ParentID
		}
		i = next
	}
}

func dedupe(rootID string, group []models.CommentRecord) []models.CommentRecord {
	seen := make(map[string]bool, len(group))
	out := group[:0:0]
	for _, r := range group {
		if seen[r.CommentID] {
			logrus.Warnf("Duplicate comment id %s in thread %s, keeping the first occurrence", r.CommentID, rootID)
			continue
		}
		seen[r.CommentID] = true
		out = append(out, r)
	}
	return out
}

func orderGroup(rootID string, group []models.CommentRecord) []models.CommentRecord {
	if len(group) <= 1 {
		return group
	}

	byID := make(map[string]int, len(group))
	for i, r := range group {
		byID[r.CommentID] = i
	}

	root := findRoot(group, byID)
	if root < 0 {
		logrus.Debugf("Thread %s has no structural root (cyclic parents), using chronological order", rootID)
		return chronological(group)
	}

	children := make(map[string][]int)
	for i, r := range group {
		if r.ParentID == "" || r.ParentID == r.CommentID {
			continue
		}
		children[r.ParentID] = append(children[r.ParentID], i)
	}
	for parent := range children {
		sortByTime(group, children[parent])
	}

	placed := make([]models.CommentRecord, 0, len(group))
	visited := make(map[string]bool, len(group))

	var walk func(i int)
	walk = func(i int) {
		r := group[i]
		if visited[r.CommentID] {
			return
		}
		visited[r.CommentID] = true
		placed = append(placed, r)
		for _, child := range children[r.CommentID] {
			walk(child)
		}
	}
	walk(root)

	if len(placed) < len(group) {
		logrus.Debugf("Thread %s: placed %d of %d comments, using chronological order", rootID, len(placed), len(group))
		return chronological(group)
	}
	return placed
}

// findRoot returns the earliest record whose parent is empty or unresolvable, or -1.
func findRoot(group []models.CommentRecord, byID map[string]int) int {
	var candidates []int
	for i, r := range group {
		if r.ParentID == "" {
			candidates = append(candidates, i)
			continue
		}
		if _, ok := byID[r.ParentID]; !ok {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	sortByTime(group, candidates)
	return candidates[0]
}

// sortByTime orders indexes by timestamp, ties by input position.
func sortByTime(group []models.CommentRecord, idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := group[idx[a]].Timestamp, group[idx[b]].Timestamp
		if ta != tb {
			return ta < tb
		}
		return idx[a] < idx[b]
	})
}

func chronological(group []models.CommentRecord) []models.CommentRecord {
	out := make([]models.CommentRecord, len(group))
	copy(out, group)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp < out[b].Timestamp
	})
	return out
}

// GroupByNoteMarkers walks each note's comments in timestamp order. A comment whose body
// contains a reply marker joins the current conversation, anything else starts a new one.
func GroupByNoteMarkers(records []models.CommentRecord, markers []string) []models.ConversationThread {
	var notes []string
	byNote := make(map[string][]models.CommentRecord)
	for _, r := range records {
		if _, ok := byNote[r.NoteID]; !ok {
			notes = append(notes, r.NoteID)
		}
		byNote[r.NoteID] = append(byNote[r.NoteID], r)
	}

	var threads []models.ConversationThread
	for _, note := range notes {
		current := -1
		for _, r := range chronological(byNote[note]) {
			if current < 0 || !isReply(r.Body, markers) {
				threads = append(threads, models.ConversationThread{
					RootID: fmt.Sprintf("%s_%s", note, r.CommentID),
				})
				current = len(threads) - 1
			}
			r.RootID = threads[current].RootID
			threads[current].Records = append(threads[current].Records, r)
		}
	}
	return threads
}

func isReply(body string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// GroupSingleRecords makes one thread per record, keyed by comment id.
func GroupSingleRecords(records []models.CommentRecord) []models.ConversationThread {
	threads := make([]models.ConversationThread, 0, len(records))
	for _, r := range records {
		r.RootID = r.CommentID
		threads = append(threads, models.ConversationThread{
			RootID:  r.CommentID,
			Records: []models.CommentRecord{r},
		})
	}
	return threads
}
