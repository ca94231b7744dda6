package resource

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/sampler"
)

// Monitor ties together the CPU sampler, the platform provider and the
// message pool. Build one per process and pass it to whoever takes
// snapshots.
type Monitor struct {
	provider Provider
	sampler  *sampler.Sampler
	pool     *mempool.Pool
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	coreMark  []CoreTimes
	closeOnce sync.Once
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithSamplerOptions forwards options to the CPU sampler.
func WithSamplerOptions(opts ...sampler.Option) MonitorOption {
	return func(m *Monitor) {
		m.sampler = sampler.New(m.provider, append([]sampler.Option{sampler.WithLogger(m.logger)}, opts...)...)
	}
}

// NewMonitor returns a monitor over provider. A nil provider is replaced by
// a Static provider that reports no usage.
func NewMonitor(provider Provider, pool *mempool.Pool, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		provider = &Static{}
	}
	if pool == nil {
		pool = mempool.New()
	}
	m := &Monitor{
		provider: provider,
		pool:     pool,
		logger:   logger,
		now:      time.Now,
	}
	m.sampler = sampler.New(provider, sampler.WithLogger(logger))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the CPU sampler.
func (m *Monitor) Start() error {
	if err := m.sampler.Start(); err != nil {
		return err
	}
	m.logger.Debug("resource monitor started", zap.String("provider", m.provider.Name()))
	return nil
}

// Close stops the sampler, then releases the provider.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.sampler.Stop()
		if c, ok := m.provider.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// Sampler exposes the CPU sampler for history recording and live views.
func (m *Monitor) Sampler() *sampler.Sampler { return m.sampler }

// Pool returns the message pool whose counters snapshots report.
func (m *Monitor) Pool() *mempool.Pool { return m.pool }

// Provider returns the platform provider.
func (m *Monitor) Provider() Provider { return m.provider }

// Snapshot takes the CPU peak since the previous snapshot together with
// pool and process memory counters. A failed memory read is logged and
// reported as zero counters.
func (m *Monitor) Snapshot() Snapshot {
	peak := m.sampler.TakePeakSinceLastQuery()
	mem, err := m.provider.ProcessMemory()
	if err != nil {
		m.logger.Warn("process memory read failed", zap.Error(err))
		mem = ProcessMemory{}
	}
	return NewSnapshot(m.now(), peak, m.pool.Stats(), mem)
}

// MarkCores records per-core clocks for a later CoreUsage call. It is a
// no-op when the provider has no per-core counters.
func (m *Monitor) MarkCores() {
	cp, ok := m.provider.(CoreProvider)
	if !ok {
		return
	}
	cores, err := cp.CoreTimes()
	if err != nil {
		m.logger.Warn("per-core read failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.coreMark = cores
	m.mu.Unlock()
}

// CoreUsage returns per-core busy percentages since the last MarkCores, or
// nil when unavailable.
func (m *Monitor) CoreUsage() []float64 {
	cp, ok := m.provider.(CoreProvider)
	if !ok {
		return nil
	}
	m.mu.Lock()
	mark := m.coreMark
	m.mu.Unlock()
	if mark == nil {
		return nil
	}
	cur, err := cp.CoreTimes()
	if err != nil {
		m.logger.Warn("per-core read failed", zap.Error(err))
		return nil
	}
	return CoreUsage(mark, cur)
}

// Static is a Provider returning fixed values. Its CPU clocks advance by
// Step on every read with the process share given by Usage percent.
type Static struct {
	mu     sync.Mutex
	Memory ProcessMemory
	Usage  float64
	Step   time.Duration
	clock  sampler.Times
}

func (s *Static) Name() string { return "static" }

func (s *Static) CPUTimes() (sampler.Times, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.Step
	if step <= 0 {
		step = 10 * time.Millisecond
	}
	s.clock.System += step
	s.clock.Process += time.Duration(float64(step) * s.Usage / 100)
	return s.clock, nil
}

func (s *Static) ProcessMemory() (ProcessMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Memory, nil
}

// SetMemory replaces the reported memory counters.
func (s *Static) SetMemory(mem ProcessMemory) {
	s.mu.Lock()
	s.Memory = mem
	s.mu.Unlock()
}
