// Package sampler estimates process CPU utilization on a background
// goroutine and exposes the peak observed between consecutive queries.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = 20 * time.Millisecond

// Times is a pair of cumulative CPU clocks read at the same instant.
// System is the time all CPUs spent busy or idle; Process is the time this
// process spent on CPU.
type Times struct {
	System  time.Duration
	Process time.Duration
}

// Source reads cumulative CPU clocks.
type Source interface {
	CPUTimes() (Times, error)
}

// ErrNoSource is returned by Start when the sampler has no clock source.
var ErrNoSource = errors.New("sampler: no cpu time source")

// Sampler is the background peak CPU sampler.
type Sampler struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger
	tracker  *PeakTracker

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	recMu     sync.Mutex
	recording bool
	history   []float64

	latest atomic.Uint64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval overrides the sampling cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger used for read failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a stopped sampler reading from source.
func New(source Source, opts ...Option) *Sampler {
	s := &Sampler{
		source:   source,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
		tracker:  NewPeakTracker(),
	}
	s.latest.Store(math.Float64bits(NoData))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start reads the initial clock pair, resets the peak to NoData and spawns
// the sampling goroutine. A failed initial read spawns nothing.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.source == nil {
		return ErrNoSource
	}
	prev, err := s.source.CPUTimes()
	if err != nil {
		return fmt.Errorf("sampler: initial cpu times: %w", err)
	}
	s.tracker.TakePeakSinceLastQuery()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.loop(prev, s.stop, s.done)
	return nil
}

// Stop ends the sampling goroutine and waits for it. It is safe to call
// more than once.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false
}

// Running reports whether the sampling goroutine is alive.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TakePeakSinceLastQuery returns the peak usage percentage since the last
// call, NoData when nothing was sampled, or MeasurementError.
func (s *Sampler) TakePeakSinceLastQuery() float64 {
	return s.tracker.TakePeakSinceLastQuery()
}

// Latest returns the most recent sample, or NoData.
func (s *Sampler) Latest() float64 {
	return math.Float64frombits(s.latest.Load())
}

// StartRecording begins capturing every sample into a history buffer.
func (s *Sampler) StartRecording() {
	s.recMu.Lock()
	s.recording = true
	s.history = s.history[:0]
	s.recMu.Unlock()
}

// StopRecording stops capturing and returns the samples taken since
// StartRecording.
func (s *Sampler) StopRecording() []float64 {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	s.recording = false
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Sampler) loop(prev Times, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		cur, err := s.source.CPUTimes()
		if err != nil {
			s.logger.Warn("cpu sample failed", zap.Error(err))
			continue
		}
		usage, ok := Usage(prev, cur)
		prev = cur
		if !ok {
			continue
		}
		s.record(usage)
	}
}

func (s *Sampler) record(usage float64) {
	s.tracker.Observe(usage)
	s.latest.Store(math.Float64bits(usage))

	s.recMu.Lock()
	if s.recording {
		s.history = append(s.history, usage)
	}
	s.recMu.Unlock()
}

// Usage computes the process share of system CPU time between two reads, in
// percent. ok is false when the system clock did not advance.
func Usage(prev, cur Times) (usage float64, ok bool) {
	sysDelta := cur.System - prev.System
	if sysDelta <= 0 {
		return 0, false
	}
	procDelta := cur.Process - prev.Process
	usage = 100 * float64(procDelta) / float64(sysDelta)
	if usage < 0 {
		usage = 0
	}
	return usage, true
}
