package background

import (
	"context"
	"log/slog"
	"time"
)

// StaleRateLimitPruner deletes rate limit records last touched before a cutoff
type StaleRateLimitPruner interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// ActivityPruner deletes login activity recorded before a cutoff
type ActivityPruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// ResetTokenPruner deletes password reset tokens that expired before a cutoff
type ResetTokenPruner interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupConfig controls what the cleanup manager removes
type CleanupConfig struct {
	Interval          time.Duration
	RateLimitHorizon  time.Duration // records idle longer than this can no longer limit anyone
	ActivityRetention time.Duration
}

// CleanupManager periodically prunes expired rate limit records and old
// login activity
type CleanupManager struct {
	rateLimits StaleRateLimitPruner // nil when records expire on their own
	activity   ActivityPruner
	resets     ResetTokenPruner
	config     CleanupConfig
	logger     *slog.Logger
	now        func() time.Time
	stopCh     chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	rateLimits StaleRateLimitPruner,
	activity ActivityPruner,
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		rateLimits: rateLimits,
		activity:   activity,
		config:     config,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// WithResetTokens also prunes expired password reset tokens
func (cm *CleanupManager) WithResetTokens(resets ResetTokenPruner) *CleanupManager {
	cm.resets = resets
	return cm
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()

	if cm.rateLimits != nil && cm.config.RateLimitHorizon > 0 {
		rows, err := cm.rateLimits.DeleteStale(cleanupCtx, now.Add(-cm.config.RateLimitHorizon))
		if err != nil {
			cm.logger.Error("failed to prune rate limit records", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.Info("stale rate limit records pruned", slog.Int64("rows_deleted", rows))
		}
	}

	if cm.activity != nil && cm.config.ActivityRetention > 0 {
		rows, err := cm.activity.DeleteOlderThan(cleanupCtx, now.Add(-cm.config.ActivityRetention))
		if err != nil {
			cm.logger.Error("failed to prune login activity", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.Info("old login activity pruned", slog.Int64("rows_deleted", rows))
		}
	}

	if cm.resets != nil {
		rows, err := cm.resets.DeleteExpired(cleanupCtx, now)
		if err != nil {
			cm.logger.Error("failed to prune password reset tokens", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.Info("expired password reset tokens pruned", slog.Int64("rows_deleted", rows))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
