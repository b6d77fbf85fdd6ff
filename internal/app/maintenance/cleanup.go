package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/models"
	"github.com/deskwise/deskwise/internal/monitoring"
	"github.com/deskwise/deskwise/internal/notifications"
	"github.com/deskwise/deskwise/pkg/logger"
	"github.com/deskwise/deskwise/pkg/metrics"
)

const (
	defaultReadRetentionDays   = 90
	defaultUnreadRetentionDays = 180
	defaultCleanupSpec         = "0 3 * * *"

	cleanupJobName = "notification_retention"
)

// CleanupStats counts the rows removed by one retention cycle. Skipped is set
// when the cycle was a no-op because another cycle was already running.
type CleanupStats struct {
	ReadDeleted   int64
	UnreadDeleted int64
	Skipped       bool
}

// Cleaner enforces notification retention. Read notifications expire after
// readRetentionDays, unread ones after unreadRetentionDays; both cutoffs are
// measured against createdAt, never readAt. It owns the only scheduler state
// in the system: an atomic running flag that makes overlapping cycles no-ops.
type Cleaner struct {
	db       *gorm.DB
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	errs     *notifications.ErrorLogger
	location *time.Location
	schedule string
	enabled  bool

	readRetentionDays   int
	unreadRetentionDays int

	running atomic.Bool
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cutoff computation.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithReadRetentionDays adjusts how long read notifications are retained.
func WithReadRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.readRetentionDays = days
		}
	}
}

// WithUnreadRetentionDays adjusts how long unread notifications are retained.
func WithUnreadRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.unreadRetentionDays = days
		}
	}
}

// WithSchedule overrides the cron specification for the daily trigger.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithLocation pins the timezone the daily trigger fires in. The default is
// the process's local zone.
func WithLocation(loc *time.Location) Option {
	return func(cleaner *Cleaner) {
		if loc != nil {
			cleaner.location = loc
		}
	}
}

// WithErrorLogger overrides the pipeline error logger.
func WithErrorLogger(errs *notifications.ErrorLogger) Option {
	return func(cleaner *Cleaner) {
		if errs != nil {
			cleaner.errs = errs
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil db disables
// scheduling entirely.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                  db,
		now:                 time.Now,
		log:                 logger.WithModule("maintenance"),
		errs:                notifications.NewErrorLogger(),
		location:            time.Local,
		schedule:            defaultCleanupSpec,
		readRetentionDays:   defaultReadRetentionDays,
		unreadRetentionDays: defaultUnreadRetentionDays,
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithLocation(cleaner.location),
		)
	}

	cleaner.enabled = cleaner.db != nil

	return cleaner
}

// Start registers the daily retention job and launches the scheduler.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		// Failures are already recorded at critical severity inside
		// RunOnce; the scheduler boundary only swallows them so the
		// next scheduled run still happens.
		_, _ = c.RunOnce(context.Background())
	}); err != nil {
		return err
	}

	c.cron.Start()
	c.log.Info("retention cleanup scheduled",
		zap.String("spec", c.schedule),
		zap.String("location", c.location.String()),
		zap.Int("read_retention_days", c.readRetentionDays),
		zap.Int("unread_retention_days", c.unreadRetentionDays),
	)
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes a single retention cycle. It is safe to call from any
// scheduler or by hand: if a cycle is already in progress the call is a
// logged no-op, and the running flag is always released on the way out.
func (c *Cleaner) RunOnce(ctx context.Context) (CleanupStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !c.running.CompareAndSwap(false, true) {
		c.log.Info("retention cleanup already running, skipping")
		return CleanupStats{Skipped: true}, nil
	}
	defer c.running.Store(false)

	started := time.Now()
	now := c.now()
	readCutoff := now.AddDate(0, 0, -c.readRetentionDays)
	unreadCutoff := now.AddDate(0, 0, -c.unreadRetentionDays)

	stats := CleanupStats{}
	var errs error

	// The two deletes are independent: readAt nullity makes the predicates
	// mutually exclusive, so no row can be counted twice.
	result := c.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND created_at < ?", readCutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		c.errs.Critical(notifications.OpCleanupRun, result.Error, map[string]any{
			"stage":  "read",
			"cutoff": readCutoff,
		})
		errs = multierr.Append(errs, result.Error)
	} else {
		stats.ReadDeleted = result.RowsAffected
		metrics.RetentionDeletions.WithLabelValues("read").Add(float64(result.RowsAffected))
	}

	result = c.db.WithContext(ctx).
		Where("read_at IS NULL AND created_at < ?", unreadCutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		c.errs.Critical(notifications.OpCleanupRun, result.Error, map[string]any{
			"stage":  "unread",
			"cutoff": unreadCutoff,
		})
		errs = multierr.Append(errs, result.Error)
	} else {
		stats.UnreadDeleted = result.RowsAffected
		metrics.RetentionDeletions.WithLabelValues("unread").Add(float64(result.RowsAffected))
	}

	if errs == nil {
		monitoring.RecordMaintenanceRun(cleanupJobName, "success", "", time.Since(started))
		c.log.Info("retention cleanup finished",
			zap.Int64("read_deleted", stats.ReadDeleted),
			zap.Int64("unread_deleted", stats.UnreadDeleted),
		)
	} else {
		monitoring.RecordMaintenanceRun(cleanupJobName, "failure", errs.Error(), time.Since(started))
	}

	return stats, errs
}
