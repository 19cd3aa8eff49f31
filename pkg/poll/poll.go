// Package poll provides the blocking state-wait primitive used for
// simulator boot-state, process-appearance, and process-disappearance
// waits. All three uses share the same loop so they share the same
// tie-break: a match observed in the same cycle the deadline expires
// still wins.
package poll

import (
	"time"

	"github.com/devicelab-dev/simkeeper/pkg/core"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
)

// Options controls one wait.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration // 0 skips the inter-attempt sleep
	Strict   bool          // timeout becomes an error instead of false
	What     string        // label for log lines
}

// Until repeatedly invokes probe until its value equals target or the
// deadline elapses, measured from the first call. Probe errors count as
// non-matches; the probe is retried until the deadline.
//
// Returns (true, nil) on a match. On timeout it returns (false, nil) in
// lenient mode or (false, timeout error) in strict mode.
func Until[T comparable](probe func() (T, error), target T, opts Options) (bool, error) {
	start := time.Now()

	for {
		got, err := probe()
		if err != nil {
			logger.Debug("poll %s: probe error: %v", opts.What, err)
		} else if got == target {
			logger.Debug("poll %s: matched %v after %v", opts.What, target, time.Since(start))
			return true, nil
		}

		if time.Since(start) >= opts.Timeout {
			break
		}
		if opts.Interval > 0 {
			time.Sleep(opts.Interval)
		}
	}

	elapsed := time.Since(start)
	logger.Debug("poll %s: no match for %v after %v (timeout %v)",
		opts.What, target, elapsed, opts.Timeout)

	if opts.Strict {
		return false, core.ErrTimeout.WithMessage(
			"timed out waiting for " + opts.What + " after " + elapsed.Round(time.Millisecond).String())
	}
	return false, nil
}
