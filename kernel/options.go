package kernel

// WaitForever and NoWait are the two sentinel timeout values every blocking
// kernel call accepts, per spec.md §6.
const (
	WaitForever uint32 = 0xFFFFFFFF
	NoWait      uint32 = 0
)

// Config holds the compile-time sizing constants of spec.md §6. Rather than
// the single hard-coded global instance the spec's pseudocode implies,
// SPEC_FULL.md §1.3 turns these into an explicit, validated value resolved by
// functional Options, following eventloop/options.go's LoopOption pattern.
type Config struct {
	MaxPriority int // priorities are 0 (highest) .. MaxPriority (lowest, excluding idle)
	MaxTasks    int

	StackSizes  []int // byte sizes of each stack size class, ascending
	StackCounts []int // slot count per class, parallel to StackSizes

	MaxQueues        int
	QueueBufSizes    []int // byte sizes of each queue-buffer size class, ascending
	QueueBufCounts   []int // slot count per class, parallel to QueueBufSizes
	MaxSemaphores    int
	MaxMutexes       int
	TickFrequencyHz  uint32
	IdleTaskStackIdx int // which StackSizes class backs the idle task
}

// DefaultConfig returns the sizing spec.md §6 gives as illustrative values.
func DefaultConfig() Config {
	return Config{
		MaxPriority:      7,
		MaxTasks:         8,
		StackSizes:       []int{512, 1024, 2048},
		StackCounts:      []int{4, 6, 2},
		MaxQueues:        4,
		QueueBufSizes:    []int{64, 256, 1024},
		QueueBufCounts:   []int{8, 4, 2},
		MaxSemaphores:    8,
		MaxMutexes:       4,
		TickFrequencyHz:  1000,
		IdleTaskStackIdx: 0,
	}
}

func (c Config) validate() error {
	if c.MaxPriority < 0 {
		return ErrInvalidArgument
	}
	if c.MaxTasks <= 0 {
		return ErrInvalidArgument
	}
	if len(c.StackSizes) == 0 || len(c.StackSizes) != len(c.StackCounts) {
		return ErrInvalidArgument
	}
	if len(c.QueueBufSizes) != len(c.QueueBufCounts) {
		return ErrInvalidArgument
	}
	if c.MaxQueues < 0 || c.MaxSemaphores < 0 || c.MaxMutexes < 0 {
		return ErrInvalidArgument
	}
	if c.TickFrequencyHz == 0 {
		return ErrInvalidArgument
	}
	if c.IdleTaskStackIdx < 0 || c.IdleTaskStackIdx >= len(c.StackSizes) {
		return ErrInvalidArgument
	}
	return nil
}

// Option configures a Kernel at construction time.
type Option interface {
	apply(*Config) error
}

type optionFunc func(*Config) error

func (f optionFunc) apply(c *Config) error { return f(c) }

// WithMaxPriority sets the lowest (numerically largest) user priority band.
func WithMaxPriority(n int) Option {
	return optionFunc(func(c *Config) error { c.MaxPriority = n; return nil })
}

// WithMaxTasks bounds the task pool's capacity.
func WithMaxTasks(n int) Option {
	return optionFunc(func(c *Config) error { c.MaxTasks = n; return nil })
}

// WithStackClasses replaces the stack size-class table; sizes and counts must
// be parallel slices of equal, non-zero length.
func WithStackClasses(sizes, counts []int) Option {
	return optionFunc(func(c *Config) error {
		c.StackSizes = append([]int(nil), sizes...)
		c.StackCounts = append([]int(nil), counts...)
		return nil
	})
}

// WithMaxQueues bounds the message queue control-block pool's capacity.
func WithMaxQueues(n int) Option {
	return optionFunc(func(c *Config) error { c.MaxQueues = n; return nil })
}

// WithQueueBufferClasses replaces the queue buffer size-class table.
func WithQueueBufferClasses(sizes, counts []int) Option {
	return optionFunc(func(c *Config) error {
		c.QueueBufSizes = append([]int(nil), sizes...)
		c.QueueBufCounts = append([]int(nil), counts...)
		return nil
	})
}

// WithMaxSemaphores bounds the semaphore control-block pool's capacity.
func WithMaxSemaphores(n int) Option {
	return optionFunc(func(c *Config) error { c.MaxSemaphores = n; return nil })
}

// WithMaxMutexes bounds the mutex control-block pool's capacity.
func WithMaxMutexes(n int) Option {
	return optionFunc(func(c *Config) error { c.MaxMutexes = n; return nil })
}

// WithTickFrequency sets the nominal SysTick rate recorded in Config; the
// core itself never reads it, being tick-count based, not wall-clock based
// (spec.md §4.2).
func WithTickFrequency(hz uint32) Option {
	return optionFunc(func(c *Config) error { c.TickFrequencyHz = hz; return nil })
}

func resolveOptions(opts []Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
