package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/extraction"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/sources"
	"github.com/sentiment-ranker/comment-ranker/internal/storage"
	"github.com/sentiment-ranker/comment-ranker/internal/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, s threads.Serialized) ([]models.ExtractedFact, error) {
	args := m.Called(ctx, s)
	facts, _ := args.Get(0).([]models.ExtractedFact)
	return facts, args.Error(1)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Store(ctx context.Context, name string, data []byte, contentType string) error {
	return m.Called(ctx, name, data, contentType).Error(0)
}

func (m *mockStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockStorage) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *mockStorage) Delete(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockStorage) Location(name string) string {
	return m.Called(name).String(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendReport(report *models.RunReport) error {
	return m.Called(report).Error(0)
}

func (m *mockNotifier) SendAlert(alert *models.Alert) error {
	return m.Called(alert).Error(0)
}

const threadedHeader = "评论id,主评论id,父评论id,昵称,评论内容,点赞数量,上传时间"

// writeThreadedCSV writes n single-comment threads c1..cn.
func writeThreadedCSV(t *testing.T, n int) string {
	t.Helper()
	lines := []string{threadedHeader}
	for i := 1; i <= n; i++ {
		lines = append(lines, fmt.Sprintf("c%d,c%d,,user%d,评论%d,%d,2024-01-01 10:%02d", i, i, i, i, i, i))
	}
	path := filepath.Join(t.TempDir(), "comments.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func testConfig() *config.Config {
	return &config.Config{
		OutputFormat: "csv",
		TopN:         5,
		ReplyMarkers: config.DefaultReplyMarkers,
	}
}

func forRoot(id string) interface{} {
	return mock.MatchedBy(func(s threads.Serialized) bool { return s.RootID == id })
}

func fact(product string, sentiment models.Sentiment, tags ...string) []models.ExtractedFact {
	return []models.ExtractedFact{{ProductName: product, Sentiment: sentiment, FeatureTags: tags}}
}

func TestService_Run(t *testing.T) {
	input := writeThreadedCSV(t, 10)

	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, forRoot("c2")).
		Return(nil, &extraction.ParseError{Raw: "not json", Err: errors.New("invalid character")})
	extractor.On("Extract", mock.Anything, forRoot("c5")).
		Return(nil, &extraction.TransportError{StatusCode: 500, Endpoint: "https://api.example.com/", Err: errors.New("boom")})
	extractor.On("Extract", mock.Anything, forRoot("c7")).Return([]models.ExtractedFact{}, nil)
	extractor.On("Extract", mock.Anything, forRoot("c9")).Return(fact("雅诗兰黛沁水", models.SentimentNegative, "卡粉"), nil)
	extractor.On("Extract", mock.Anything, mock.Anything).Return(fact("兰蔻菁纯", models.SentimentPositive, "持妆"), nil)

	store := &mockStorage{}
	store.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("Location", mock.Anything).Return("mem://artifact")

	notifier := &mockNotifier{}
	notifier.On("SendReport", mock.Anything).Return(nil)

	svc := NewService(testConfig(), extractor, store, notifier)
	rep, err := svc.Run(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "root", rep.Grouping)
	assert.Equal(t, 10, rep.Records)
	assert.Equal(t, 10, rep.Threads)
	assert.Equal(t, 2, rep.Skipped)
	assert.Len(t, rep.Facts, 7)

	require.Len(t, rep.Ranking, 2)
	assert.Equal(t, "兰蔻菁纯", rep.Ranking[0].ProductName)
	assert.InDelta(t, 12.0, rep.Ranking[0].Score, 1e-9)
	assert.Equal(t, 6, rep.Ranking[0].MentionCount)
	assert.InDelta(t, 100.0, rep.Ranking[0].PositiveRate, 1e-9)
	assert.Equal(t, "持妆", rep.Ranking[0].Features)
	assert.Equal(t, "雅诗兰黛沁水", rep.Ranking[1].ProductName)
	assert.InDelta(t, -2.0, rep.Ranking[1].Score, 1e-9)

	assert.Equal(t, []string{"mem://artifact", "mem://artifact"}, rep.Artifacts)
	assert.Equal(t, "mem://artifact", rep.OutputTarget)

	store.AssertCalled(t, "Store", mock.Anything, "comments_analysis_result_ranking.csv", mock.Anything, mock.Anything)
	store.AssertCalled(t, "Store", mock.Anything, "comments_analysis_result_details.csv", mock.Anything, mock.Anything)
	store.AssertCalled(t, "Store", mock.Anything, "runs/"+rep.RunID+".json", mock.Anything, "application/json")
	store.AssertNumberOfCalls(t, "Store", 3)
	extractor.AssertNumberOfCalls(t, "Extract", 10)
	notifier.AssertCalled(t, "SendReport", rep)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(svc.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.Runs)
	assert.Equal(t, 0, metrics.FailedRuns)
	assert.Equal(t, 7, metrics.Facts)
	assert.Equal(t, 2, metrics.SkippedThreads)
	assert.Equal(t, 6, metrics.SentimentBreakdown["Positive"])
	assert.Equal(t, 1, metrics.SentimentBreakdown["Negative"])
	assert.False(t, svc.LastRun().IsZero())
}

func TestService_RunStopsOnAuthError(t *testing.T) {
	authErr := &extraction.AuthError{StatusCode: 401, Err: errors.New("invalid api key")}

	tests := []struct {
		name        string
		keepPartial bool
	}{
		{"discard partial results", false},
		{"keep partial results", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := writeThreadedCSV(t, 10)

			extractor := &mockExtractor{}
			extractor.On("Extract", mock.Anything, forRoot("c3")).Return(nil, authErr)
			extractor.On("Extract", mock.Anything, mock.Anything).Return(fact("兰蔻菁纯", models.SentimentPositive), nil)

			store := &mockStorage{}
			notifier := &mockNotifier{}
			notifier.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool { return a.Type == "auth" })).Return(nil)

			cfg := testConfig()
			cfg.KeepPartialOnAuthError = tt.keepPartial

			svc := NewService(cfg, extractor, store, notifier)
			rep, err := svc.Run(context.Background(), input)

			require.Error(t, err)
			assert.True(t, extraction.IsAuthError(err))
			extractor.AssertNumberOfCalls(t, "Extract", 3)
			store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			notifier.AssertNumberOfCalls(t, "SendAlert", 1)

			if !tt.keepPartial {
				assert.Nil(t, rep)
				return
			}
			require.NotNil(t, rep)
			assert.Len(t, rep.Facts, 2)
			require.Len(t, rep.Ranking, 1)
			assert.Equal(t, 2, rep.Ranking[0].MentionCount)
			assert.Empty(t, rep.Artifacts)
		})
	}
}

func TestService_RunNoResults(t *testing.T) {
	input := writeThreadedCSV(t, 4)

	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything).Return(nil, nil)
	store := &mockStorage{}
	notifier := &mockNotifier{}

	svc := NewService(testConfig(), extractor, store, notifier)
	rep, err := svc.Run(context.Background(), input)

	assert.ErrorIs(t, err, ErrNoResults)
	require.NotNil(t, rep)
	assert.Equal(t, 4, rep.Threads)
	assert.Empty(t, rep.Ranking)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "SendAlert", mock.Anything)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(svc.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.Runs)
	assert.Equal(t, 0, metrics.FailedRuns)
}

func TestService_RunSchemaError(t *testing.T) {
	input := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(input, []byte("foo,bar\n1,2\n"), 0o644))

	extractor := &mockExtractor{}
	notifier := &mockNotifier{}
	notifier.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool { return a.Type == "failure" })).Return(nil)

	svc := NewService(testConfig(), extractor, nil, notifier)
	_, err := svc.Run(context.Background(), input)

	var schemaErr *sources.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"foo", "bar"}, schemaErr.Headers)
	extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	notifier.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestService_RunWithoutSinks(t *testing.T) {
	input := writeThreadedCSV(t, 2)

	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything).Return(fact("兰蔻菁纯", models.SentimentNeutral), nil)

	svc := NewService(testConfig(), extractor, nil, nil)
	rep, err := svc.Run(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, rep.Ranking, 1)
	assert.Equal(t, 2, rep.Ranking[0].NeutralCount)
	assert.Empty(t, rep.Artifacts)
}

func TestService_AnalyzeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, forRoot("r1")).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, &extraction.TransportError{Err: context.Canceled})

	svc := NewService(testConfig(), extractor, nil, nil)
	convs := []models.ConversationThread{
		{RootID: "r1", Records: []models.CommentRecord{{CommentID: "r1", RootID: "r1"}}},
		{RootID: "r2", Records: []models.CommentRecord{{CommentID: "r2", RootID: "r2"}}},
	}

	facts, skipped, err := svc.Analyze(ctx, convs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, facts)
	assert.Equal(t, 0, skipped)
	extractor.AssertNumberOfCalls(t, "Extract", 1)
}

func TestService_StoredRuns(t *testing.T) {
	ctx := context.Background()
	input := writeThreadedCSV(t, 2)

	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything).Return(fact("兰蔻菁纯", models.SentimentPositive), nil)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewService(testConfig(), extractor, store, nil)
	rep, err := svc.Run(ctx, input)
	require.NoError(t, err)

	ids, err := svc.StoredRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rep.RunID}, ids)

	stored, err := svc.StoredRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, stored.RunID)
	assert.Equal(t, rep.Ranking, stored.Ranking)
	assert.Len(t, stored.Artifacts, 2)

	require.NoError(t, svc.DeleteRun(ctx, rep.RunID))
	_, err = svc.StoredRun(ctx, rep.RunID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteRun(ctx, rep.RunID), storage.ErrNotFound)

	_, err = svc.StoredRun(ctx, "../comments")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ids, err = svc.StoredRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = NewService(testConfig(), extractor, nil, nil).StoredRuns(ctx)
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestService_AnalyzeKeepsMinimumDelay(t *testing.T) {
	const delay = 50 * time.Millisecond

	var calls []time.Time
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls = append(calls, time.Now()) }).
		Return(fact("兰蔻菁纯", models.SentimentPositive), nil)

	cfg := testConfig()
	cfg.Delay = delay
	svc := NewService(cfg, extractor, nil, nil)

	convs := []models.ConversationThread{
		{RootID: "r1", Records: []models.CommentRecord{{CommentID: "r1", RootID: "r1"}}},
		{RootID: "r2", Records: []models.CommentRecord{{CommentID: "r2", RootID: "r2"}}},
		{RootID: "r3", Records: []models.CommentRecord{{CommentID: "r3", RootID: "r3"}}},
	}

	start := time.Now()
	facts, skipped, err := svc.Analyze(context.Background(), convs)
	require.NoError(t, err)
	assert.Len(t, facts, 3)
	assert.Zero(t, skipped)

	require.Len(t, calls, 3)
	assert.Less(t, calls[0].Sub(start), delay/2, "first call is not delayed")
	// the limiter reserves from its own clock reading, so allow a little scheduling slack
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), delay-5*time.Millisecond,
			"calls %d and %d too close", i, i+1)
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-5*time.Millisecond)
}

func TestGroupingFor(t *testing.T) {
	tests := []struct {
		name     string
		headers  []string
		expected threads.Grouping
	}{
		{"root id column", []string{"评论id", "主评论id", "笔记id"}, threads.GroupByRoot},
		{"note id only", []string{"评论id", "笔记id"}, threads.GroupByNote},
		{"flat export", []string{"comment_id", "content"}, threads.GroupSingle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GroupingFor(sources.DetectColumns(tt.headers)))
		})
	}
}
