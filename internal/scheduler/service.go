package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrBusy is returned by Trigger while a run is in progress
var ErrBusy = errors.New("a run is already in progress")

// Job is one batch run
type Job func(ctx context.Context) error

// Service triggers batch runs on a cron schedule and on demand. Runs never overlap.
type Service struct {
	spec    string
	job     Job
	cron    *cron.Cron
	running sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a scheduler for a standard five-field cron spec (descriptors such as
// "@daily" and "@every 6h" are accepted too).
func NewService(spec string, job Job) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		spec:   spec,
		job:    job,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Validate parses a schedule without registering it.
func Validate(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// Start schedules the job and starts the cron loop.
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		logrus.Info("Starting scheduled run")
		if err := s.Trigger(); err != nil {
			if errors.Is(err, ErrBusy) {
				logrus.Warn("Skipping scheduled run, previous run still in progress")
				return
			}
			logrus.Errorf("Scheduled run failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with schedule %q", s.spec)
	return nil
}

// Trigger runs the job now unless a run is already in progress.
func (s *Service) Trigger() error {
	if !s.running.TryLock() {
		return ErrBusy
	}
	defer s.running.Unlock()
	return s.job(s.ctx)
}

// Next returns the next scheduled activation, zero before Start.
func (s *Service) Next() string {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return ""
	}
	return entries[0].Next.UTC().Format("2006-01-02 15:04:05 UTC")
}

// Stop cancels an in-flight run and waits for the cron loop to finish.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cancel()
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
