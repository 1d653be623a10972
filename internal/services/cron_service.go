package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReservationSweeper expires unpaid holds
type ReservationSweeper interface {
	ExpireStaleReservations(ctx context.Context) SweepResult
}

// InvitationSweeper expires unanswered guide invitations
type InvitationSweeper interface {
	ExpireStale(ctx context.Context) SweepResult
}

// CronConfig holds the schedules of the background sweeps.
// Specs use robfig/cron syntax with seconds, or descriptors like "@every 1m".
type CronConfig struct {
	ReservationSweepSpec string
	InvitationSweepSpec  string
	JobTimeout           time.Duration
}

// CronService manages scheduled background jobs
type CronService struct {
	cron         *cron.Cron
	reservations ReservationSweeper
	invitations  InvitationSweeper
	logger       *logrus.Logger
	cfg          CronConfig
}

// NewCronService creates a new CronService
func NewCronService(reservations ReservationSweeper, invitations InvitationSweeper, logger *logrus.Logger, cfg CronConfig) *CronService {
	if cfg.ReservationSweepSpec == "" {
		cfg.ReservationSweepSpec = "@every 1m"
	}
	if cfg.InvitationSweepSpec == "" {
		cfg.InvitationSweepSpec = "@every 5m"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	// A sweep that is still running when its next tick fires is skipped
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)

	return &CronService{
		cron:         c,
		reservations: reservations,
		invitations:  invitations,
		logger:       logger,
		cfg:          cfg,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.cfg.ReservationSweepSpec, s.expireReservationsJob); err != nil {
		return fmt.Errorf("failed to schedule reservation expiry job: %w", err)
	}
	s.logger.WithField("spec", s.cfg.ReservationSweepSpec).Info("Scheduled: Expire stale reservation holds")

	if _, err := s.cron.AddFunc(s.cfg.InvitationSweepSpec, s.expireInvitationsJob); err != nil {
		return fmt.Errorf("failed to schedule invitation expiry job: %w", err)
	}
	s.logger.WithField("spec", s.cfg.InvitationSweepSpec).Info("Scheduled: Expire stale guide invitations")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) expireReservationsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	result := s.reservations.ExpireStaleReservations(ctx)
	s.logJob("expire_reservations", result, time.Since(start))
}

func (s *CronService) expireInvitationsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	result := s.invitations.ExpireStale(ctx)
	s.logJob("expire_invitations", result, time.Since(start))
}

func (s *CronService) logJob(job string, result SweepResult, took time.Duration) {
	if result.Scanned == 0 {
		return
	}
	entry := s.logger.WithFields(logrus.Fields{
		"job":       job,
		"scanned":   result.Scanned,
		"processed": result.Processed,
		"failed":    result.Failed,
		"duration":  took.String(),
	})
	if result.Failed > 0 {
		entry.Warn("[CRON] Job finished with failures")
		return
	}
	entry.Info("[CRON] Job finished")
}

// RunSweepsNow runs both sweeps immediately (admin trigger and tests)
func (s *CronService) RunSweepsNow(ctx context.Context) map[string]SweepResult {
	return map[string]SweepResult{
		"reservations": s.reservations.ExpireStaleReservations(ctx),
		"invitations":  s.invitations.ExpireStale(ctx),
	}
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
