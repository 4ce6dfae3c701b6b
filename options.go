package tbdr

import (
	"log/slog"

	"github.com/gogpu/tbdr/gpumem"
)

// Option configures a Scheduler during creation.
//
// Example:
//
//	s, err := tbdr.NewScheduler(dev,
//	    tbdr.WithProfile(tbdr.Gen5()),
//	    tbdr.WithLogger(logger),
//	)
type Option func(*options)

type options struct {
	profile   Profile
	logger    *slog.Logger
	mem       gpumem.SharedMemory
	cacheSize int
	hints     Hints
}

// DefaultCacheSize is the number of partitions a Scheduler keeps.
const DefaultCacheSize = 8

func defaultOptions() options {
	return options{
		profile:   Gen6(),
		cacheSize: DefaultCacheSize,
	}
}

// WithProfile selects the hardware profile. The default is Gen6.
func WithProfile(p Profile) Option {
	return func(o *options) {
		o.profile = p
	}
}

// WithLogger sets the scheduler's logger. The default is Logger() at the
// time NewScheduler runs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSharedMemory sets the control word accessor. It is only needed when
// the allocator passed to NewScheduler does not implement
// gpumem.SharedMemory itself.
func WithSharedMemory(m gpumem.SharedMemory) Option {
	return func(o *options) {
		o.mem = m
	}
}

// WithCacheSize sets how many partitions the scheduler keeps.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithHints sets debug overrides applied to every decision. Only
// ForceBypass and ForceTiled are honored.
func WithHints(h Hints) Option {
	return func(o *options) {
		o.hints = Hints{ForceBypass: h.ForceBypass, ForceTiled: h.ForceTiled}
	}
}
