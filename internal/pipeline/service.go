package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/extraction"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/notifications"
	"github.com/sentiment-ranker/comment-ranker/internal/report"
	"github.com/sentiment-ranker/comment-ranker/internal/scoring"
	"github.com/sentiment-ranker/comment-ranker/internal/sources"
	"github.com/sentiment-ranker/comment-ranker/internal/storage"
	"github.com/sentiment-ranker/comment-ranker/internal/threads"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNoResults is returned when a batch completed but extracted no facts at all.
// It is an outcome, not a failure.
var ErrNoResults = errors.New("no product facts extracted from any thread")

// ErrNoStorage is returned by the stored-run accessors when no sink is configured.
var ErrNoStorage = errors.New("no storage configured")

const (
	progressEvery  = 10
	failurePreview = 200
	runReportDir   = "runs/"
)

// Extractor mines facts from one serialized thread
type Extractor interface {
	Extract(ctx context.Context, s threads.Serialized) ([]models.ExtractedFact, error)
}

// Service runs the read, thread, extract, score, persist batch
type Service struct {
	config              *config.Config
	extractor           Extractor
	storage             storage.StorageInterface
	notificationService notifications.NotificationInterface
	summarizer          scoring.FeatureSummarizer
	builder             *threads.Builder
	metrics             *Metrics
	mu                  sync.RWMutex
	runMu               sync.Mutex
}

// Metrics holds counters across runs
type Metrics struct {
	Runs               int            `json:"runs"`
	FailedRuns         int            `json:"failed_runs"`
	LastRun            time.Time      `json:"last_run"`
	LastRunDuration    string         `json:"last_run_duration"`
	LastRunID          string         `json:"last_run_id"`
	LastInput          string         `json:"last_input"`
	Records            int            `json:"records"`
	Threads            int            `json:"threads"`
	SkippedThreads     int            `json:"skipped_threads"`
	Facts              int            `json:"facts"`
	Products           int            `json:"products"`
	SentimentBreakdown map[string]int `json:"sentiment_breakdown"`
	ErrorCount         int            `json:"error_count"`
}

// NewService wires a pipeline. storage and notificationService may be nil, in which case
// results are only returned to the caller.
func NewService(cfg *config.Config, extractor Extractor, store storage.StorageInterface, notificationService notifications.NotificationInterface) *Service {
	return &Service{
		config:              cfg,
		extractor:           extractor,
		storage:             store,
		notificationService: notificationService,
		summarizer:          scoring.NewTagFrequencySummarizer(8),
		builder:             threads.NewBuilder(cfg.ReplyMarkers),
		metrics: &Metrics{
			SentimentBreakdown: make(map[string]int),
		},
	}
}

// SetSummarizer replaces the feature summarizer used for the top-N products.
func (s *Service) SetSummarizer(summarizer scoring.FeatureSummarizer) {
	s.summarizer = summarizer
}

// Run processes one input file end to end. On ErrNoResults the returned report carries
// the run counters. On an AuthError nothing is persisted; the partial report is returned
// only when KeepPartialOnAuthError is set.
func (s *Service) Run(ctx context.Context, input string) (*models.RunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	rep := &models.RunReport{
		RunID:       uuid.NewString(),
		Input:       input,
		GeneratedAt: start.UTC(),
	}
	logrus.WithField("run_id", rep.RunID).Infof("Starting analysis of %s", input)

	rep, err := s.run(ctx, rep)
	s.updateMetrics(rep, time.Since(start), err)

	switch {
	case err == nil:
		logrus.WithField("run_id", rep.RunID).Infof("Run completed in %v: %d products from %d facts",
			time.Since(start).Round(time.Millisecond), len(rep.Ranking), len(rep.Facts))
	case errors.Is(err, ErrNoResults):
		logrus.WithField("run_id", rep.RunID).Warn("No results: no thread produced a product fact")
	case extraction.IsAuthError(err):
		s.alert("auth", "Extraction credential rejected", err, input)
		if !s.config.KeepPartialOnAuthError {
			return nil, err
		}
	default:
		s.alert("failure", "Analysis run failed", err, input)
	}
	return rep, err
}

func (s *Service) run(ctx context.Context, rep *models.RunReport) (*models.RunReport, error) {
	table, err := sources.ReadTable(rep.Input)
	if err != nil {
		return rep, err
	}

	records, mapping, err := sources.Normalize(table)
	if err != nil {
		return rep, err
	}
	rep.Records = len(records)

	grouping := GroupingFor(mapping)
	rep.Grouping = grouping.String()
	convs := s.builder.Build(records, grouping)
	rep.Threads = len(convs)
	logrus.Infof("Read %d comments into %d conversations (%s grouping)", len(records), len(convs), grouping)

	facts, skipped, err := s.Analyze(ctx, convs)
	rep.Facts = facts
	rep.Skipped = skipped
	if err != nil {
		if extraction.IsAuthError(err) {
			rep.Ranking = scoring.Rank(facts)
		}
		return rep, err
	}
	if len(facts) == 0 {
		return rep, ErrNoResults
	}

	rep.Ranking = scoring.Rank(facts)
	if s.summarizer != nil && s.config.TopN > 0 {
		features, err := s.summarizer.Summarize(ctx, rep.Ranking, facts, s.config.TopN)
		if err != nil {
			logrus.Warnf("Feature summary failed, continuing without it: %v", err)
		} else {
			scoring.ApplyFeatures(rep.Ranking, features)
		}
	}

	if err := s.persist(ctx, rep); err != nil {
		return rep, err
	}

	if s.notificationService != nil {
		if err := s.notificationService.SendReport(rep); err != nil {
			logrus.Errorf("Failed to send run summary: %v", err)
		}
	}
	return rep, nil
}

// GroupingFor chooses the thread grouping the available columns allow.
func GroupingFor(m sources.ColumnMapping) threads.Grouping {
	switch {
	case m.Threaded():
		return threads.GroupByRoot
	case m.HasNote():
		return threads.GroupByNote
	default:
		return threads.GroupSingle
	}
}

// Analyze extracts facts thread by thread, in order, never faster than the configured delay.
// Parse and transport failures skip the thread; an AuthError or a cancelled context stops
// the batch and is returned with the facts collected so far.
func (s *Service) Analyze(ctx context.Context, convs []models.ConversationThread) ([]models.ExtractedFact, int, error) {
	limiter := rate.NewLimiter(rate.Every(s.config.Delay), 1)

	var facts []models.ExtractedFact
	skipped := 0
	total := len(convs)

	for i, conv := range convs {
		if err := limiter.Wait(ctx); err != nil {
			return facts, skipped, err
		}

		ser := threads.Serialize(conv)
		got, err := s.extractor.Extract(ctx, ser)
		if err != nil {
			if extraction.IsAuthError(err) {
				logrus.Errorf("Extraction service rejected the credential: %v", err)
				logrus.Error("Check the API key (RANKER_API_KEY / DEEPSEEK_API_KEY / OPENAI_API_KEY), that it has not expired, and that the base URL points at the right gateway")
				return facts, skipped, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return facts, skipped, ctxErr
			}
			skipped++
			logrus.WithField("root_id", conv.RootID).Warnf("Skipping thread: %v", err)
			logrus.WithField("root_id", conv.RootID).Warnf("Conversation: %s", truncate(ser.Text, failurePreview))
		} else {
			facts = append(facts, got...)
		}

		if done := i + 1; done%progressEvery == 0 || done == total {
			logrus.Infof("Progress: %d/%d (%.1f%%)", done, total, float64(done)/float64(total)*100)
		}
	}
	return facts, skipped, nil
}

func (s *Service) persist(ctx context.Context, rep *models.RunReport) error {
	if s.storage == nil {
		return nil
	}

	base := report.OutputBaseName(rep.Input, s.config.Output)
	artifacts, err := report.Encode(s.config.OutputFormat, base, rep.Ranking, rep.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	for _, a := range artifacts {
		if err := s.storage.Store(ctx, a.Name, a.Data, a.ContentType); err != nil {
			return fmt.Errorf("failed to store %s: %w", a.Name, err)
		}
		rep.Artifacts = append(rep.Artifacts, s.storage.Location(a.Name))
	}
	if len(rep.Artifacts) > 0 {
		rep.OutputTarget = rep.Artifacts[0]
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	name, err := runReportName(rep.RunID)
	if err != nil {
		return err
	}
	if err := s.storage.Store(ctx, name, data, "application/json"); err != nil {
		return fmt.Errorf("failed to store run report: %w", err)
	}
	return nil
}

// StoredRuns lists the ids of run reports kept in the sink, sorted.
func (s *Service) StoredRuns(ctx context.Context) ([]string, error) {
	if s.storage == nil {
		return nil, ErrNoStorage
	}
	names, err := s.storage.List(ctx, runReportDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list run reports: %w", err)
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		id := strings.TrimSuffix(strings.TrimPrefix(name, runReportDir), ".json")
		if _, err := uuid.Parse(id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// StoredRun loads a persisted run report.
func (s *Service) StoredRun(ctx context.Context, id string) (*models.RunReport, error) {
	if s.storage == nil {
		return nil, ErrNoStorage
	}
	name, err := runReportName(id)
	if err != nil {
		return nil, err
	}
	data, err := s.storage.Retrieve(ctx, name)
	if err != nil {
		return nil, err
	}

	var rep models.RunReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to decode run report %s: %w", id, err)
	}
	return &rep, nil
}

// DeleteRun removes a persisted run report. Result tables stay in place.
func (s *Service) DeleteRun(ctx context.Context, id string) error {
	if s.storage == nil {
		return ErrNoStorage
	}
	name, err := runReportName(id)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, name); err != nil {
		return err
	}
	logrus.WithField("run_id", id).Info("Deleted run report")
	return nil
}

// runReportName maps a run id onto its storage name. Anything that is not a uuid
// cannot name a stored run.
func runReportName(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("run %q: %w", id, storage.ErrNotFound)
	}
	return runReportDir + parsed.String() + ".json", nil
}

func (s *Service) alert(kind, title string, err error, input string) {
	if s.notificationService == nil {
		return
	}
	a := &models.Alert{
		Type:      kind,
		Title:     title,
		Message:   err.Error(),
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
	if sendErr := s.notificationService.SendAlert(a); sendErr != nil {
		logrus.Errorf("Failed to send alert: %v", sendErr)
	}
}

func (s *Service) updateMetrics(rep *models.RunReport, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Runs++
	if err != nil && !errors.Is(err, ErrNoResults) {
		s.metrics.FailedRuns++
		s.metrics.ErrorCount++
	}
	s.metrics.LastRun = time.Now()
	s.metrics.LastRunDuration = duration.String()
	if rep == nil {
		return
	}
	s.metrics.LastRunID = rep.RunID
	s.metrics.LastInput = rep.Input
	s.metrics.Records = rep.Records
	s.metrics.Threads = rep.Threads
	s.metrics.SkippedThreads = rep.Skipped
	s.metrics.Facts = len(rep.Facts)
	s.metrics.Products = len(rep.Ranking)

	breakdown := make(map[string]int)
	for _, f := range rep.Facts {
		breakdown[string(f.Sentiment)]++
	}
	s.metrics.SentimentBreakdown = breakdown
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}

// LastRun returns when the last run finished.
func (s *Service) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.LastRun
}

func truncate(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
