package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/deskwise/deskwise/internal/app/maintenance"
)

// CleanerOptions converts the retention section into maintenance options.
// An unknown timezone name is a hard error: silently falling back would move
// the daily trigger to a different wall-clock hour.
func (c RetentionConfig) CleanerOptions() ([]maintenance.Option, error) {
	opts := []maintenance.Option{
		maintenance.WithReadRetentionDays(c.ReadDays),
		maintenance.WithUnreadRetentionDays(c.UnreadDays),
		maintenance.WithSchedule(strings.TrimSpace(c.Schedule)),
	}

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("retention: load timezone %q: %w", tz, err)
		}
		opts = append(opts, maintenance.WithLocation(loc))
	}

	return opts, nil
}
