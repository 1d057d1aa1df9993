package insight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a five-field cron expression or descriptor.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Scheduler writes the recap for the current day on a cron schedule.
type Scheduler struct {
	generator *Generator
	cron      *cron.Cron
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun time.Time
	lastErr error
}

// NewScheduler creates a scheduler firing at expr in loc (nil for local
// time). Each report may take up to timeout.
func NewScheduler(gen *Generator, expr string, loc *time.Location, timeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if err := ValidateSchedule(expr); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		generator: gen,
		timeout:   timeout,
		logger:    logger.With().Str("component", "insight-scheduler").Logger(),
		now:       func() time.Time { return time.Now().In(loc) },
		ctx:       ctx,
		cancel:    cancel,
	}

	cronLogger := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
	)
	if _, err := s.cron.AddFunc(expr, func() { _, _ = s.RunNow(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule daily insight: %w", err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.logger.Info().Time("next_run", entries[0].Next).Msg("Daily insight scheduler started")
	}
}

// Stop stops scheduling, cancels a report in progress and waits for it.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Daily insight scheduler stopped")
}

// RunNow generates and writes today's report.
func (s *Scheduler) RunNow(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	path, err := s.run(ctx, now)

	s.mu.Lock()
	s.lastRun, s.lastErr = now, err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Msg("Daily insight failed")
		return "", err
	}
	s.logger.Info().Str("path", path).Msg("Daily insight written")
	return path, nil
}

func (s *Scheduler) run(ctx context.Context, date time.Time) (string, error) {
	report, err := s.generator.Generate(ctx, date)
	if err != nil {
		return "", err
	}
	return s.generator.Write(report)
}

// LastRun returns when the last report ran and how it ended.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
