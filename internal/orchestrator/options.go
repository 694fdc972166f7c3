package orchestrator

import "time"

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*Orchestrator)

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPollInterval sets how often the dispatcher scans for pending tasks.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithSweepInterval sets how often the lease sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithLeaseDuration overrides how stale a heartbeat may be before the
// sweeper reclaims the task.
func WithLeaseDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
