package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the process holds more than max
// goroutines. A steadily growing count usually means leaked webhook or
// partner-call goroutines.
func GoroutineCountCheck(max int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > max {
			return errors.Errorf("%d goroutines running, limit %d", n, max)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when the most recent garbage collection pause
// exceeded threshold, a sign the process is under memory pressure.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(context.Context) error {
		stats := debug.GCStats{Pause: make([]time.Duration, 1)}
		debug.ReadGCStats(&stats)
		if len(stats.Pause) > 0 && stats.Pause[0] > threshold {
			return errors.Errorf("gc pause of %s exceeded %s", stats.Pause[0], threshold)
		}
		return nil
	}
}
