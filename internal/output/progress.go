package output

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/torosent/tpbench/internal/round"
)

// ProgressSource reports live per-controller progress. *runner.Runner
// implements it.
type ProgressSource interface {
	Progress() []round.Progress
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   ProgressSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source ProgressSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and terminates the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatProgress(p.source.Progress()))
		case <-p.done:
			return
		}
	}
}

// FormatProgress renders one status line for all controllers.
func FormatProgress(progress []round.Progress) string {
	if len(progress) == 0 {
		return "Waiting to start"
	}
	parts := make([]string, 0, len(progress))
	for _, pr := range progress {
		parts = append(parts, fmt.Sprintf("Round %d %s | Sent: %d/%d | Received: %d",
			pr.Round, pr.State, pr.Sent, pr.Expected, pr.Received))
	}
	return strings.Join(parts, " || ")
}
