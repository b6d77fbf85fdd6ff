package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deskwise/deskwise/internal/monitoring"
)

// Realtime evaluates the notification stream hub, surfacing failure counters
// captured by monitoring instrumentation. A hub that has dropped clients under
// backpressure is degraded, not down: persistence and web push still work.
func Realtime() monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()

		snapshot := monitoring.Snapshot()
		status := monitoring.StatusUp
		var details []string

		if snapshot.Realtime.Failures > 0 {
			status = monitoring.StatusDegraded
			details = append(details, fmt.Sprintf("%d failures", snapshot.Realtime.Failures))
		}
		if snapshot.Realtime.ActiveConnections < 0 {
			status = monitoring.StatusDegraded
			details = append(details, "negative connection count")
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(details, "; "),
			Duration: time.Since(start),
		}
	})
}
