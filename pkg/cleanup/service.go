// Package cleanup enforces data retention: terminal runs past the
// retention window are soft-deleted together with their transcripts.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper soft-deletes expired terminal runs.
type RunSweeper interface {
	SoftDeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Service periodically sweeps expired runs. Idempotent and safe to run
// from multiple replicas.
type Service struct {
	runs          RunSweeper
	retentionDays int
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(runs RunSweeper, retentionDays int, interval time.Duration) *Service {
	return &Service{
		runs:          runs,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.retentionDays, "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.runs.SoftDeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: soft-deleted expired runs", "count", count)
	}
}
