package outbox

import "time"

const (
	defaultBatchSize     = 20
	defaultRecoveryGrace = 5 * time.Minute
)

// EngineConfig defines how the Engine selects and delivers commands.
type EngineConfig struct {
	BatchSize        int
	Backoff          Backoff
	Clock            Clock
	Locker           Locker
	Network          NetworkMonitor
	Logger           Logger
	Metrics          Metrics
	RetryPolicy      RetryPolicy
	FailureHandler   FailureHandler
	TransportTimeout time.Duration
	BatchExecution   bool
	// DisableRecovery keeps orphaned IN_FLIGHT commands untouched at flush start.
	DisableRecovery bool
	// RecoveryGrace is how long a command must have been IN_FLIGHT before a flush holding a
	// LeaseLocker resets it. An expired lease does not prove the previous holder stopped.
	RecoveryGrace time.Duration
	// LeaseRenewal is the interval between lease renewals. Zero uses a third of the lease TTL.
	LeaseRenewal time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff{Base: defaultBaseDelay, Max: defaultMaxDelay}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Locker == nil {
		c.Locker = NewMemoryLocker()
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.RetryPolicy == nil {
		c.RetryPolicy = UnlimitedRetries
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = defaultRecoveryGrace
	}

	return c
}

// EngineOption configures Engine behavior.
type EngineOption func(*EngineConfig)

// WithBatchSize sets the maximum number of commands delivered per flush.
func WithBatchSize(size int) EngineOption {
	return func(c *EngineConfig) {
		c.BatchSize = size
	}
}

// WithBackoff sets the retry delay schedule.
func WithBackoff(b Backoff) EngineOption {
	return func(c *EngineConfig) {
		c.Backoff = b
	}
}

// WithExponentialBackoff sets an exponential schedule from base capped at maxDelay.
func WithExponentialBackoff(base, maxDelay time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.Backoff = ExponentialBackoff{Base: base, Max: maxDelay}
	}
}

// WithClock sets the engine clock.
func WithClock(clock Clock) EngineOption {
	return func(c *EngineConfig) {
		c.Clock = clock
	}
}

// WithLocker sets the per-workspace lock.
func WithLocker(locker Locker) EngineOption {
	return func(c *EngineConfig) {
		c.Locker = locker
	}
}

// WithNetworkMonitor enables skipping flushes while known offline.
func WithNetworkMonitor(monitor NetworkMonitor) EngineOption {
	return func(c *EngineConfig) {
		c.Network = monitor
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) EngineOption {
	return func(c *EngineConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(metrics Metrics) EngineOption {
	return func(c *EngineConfig) {
		c.Metrics = metrics
	}
}

// WithRetryPolicy sets the retry ceiling policy. The default never abandons.
func WithRetryPolicy(policy RetryPolicy) EngineOption {
	return func(c *EngineConfig) {
		c.RetryPolicy = policy
	}
}

// WithFailureHandler registers a callback for failed and conflicting commands.
func WithFailureHandler(handler FailureHandler) EngineOption {
	return func(c *EngineConfig) {
		c.FailureHandler = handler
	}
}

// WithTransportTimeout sets a per-call transport timeout.
func WithTransportTimeout(timeout time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.TransportTimeout = timeout
	}
}

// WithBatchExecution delivers each flush in a single call when the transport implements
// BatchTransport.
func WithBatchExecution(enabled bool) EngineOption {
	return func(c *EngineConfig) {
		c.BatchExecution = enabled
	}
}

// WithInFlightRecovery controls whether orphaned IN_FLIGHT commands are reset at flush start.
// Recovery is enabled by default.
func WithInFlightRecovery(enabled bool) EngineOption {
	return func(c *EngineConfig) {
		c.DisableRecovery = !enabled
	}
}

// WithRecoveryGrace sets how old an IN_FLIGHT command must be before a flush under an expiring
// lock lease resets it. Lockers that do not expire recover every IN_FLIGHT command.
func WithRecoveryGrace(grace time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.RecoveryGrace = grace
	}
}

// WithLeaseRenewal sets how often a held LeaseLocker lock is renewed during a flush.
func WithLeaseRenewal(interval time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.LeaseRenewal = interval
	}
}
