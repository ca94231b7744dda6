package metrics

import (
	"bytes"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/resource"
	"github.com/torosent/tpbench/internal/round"
)

func result(idx int, history []float64, endPeak float64) round.Result {
	return round.Result{
		Profile:    "p",
		Role:       config.RoleSubscriber,
		Round:      idx,
		CPUHistory: history,
		End:        resource.Snapshot{CPUPeak: endPeak},
	}
}

func TestAddResultCPUPeak(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		endPeak float64
		want    float64
	}{
		{"max of history", []float64{3, 17.5, 9}, 1, 17.5},
		{"history wins over end", []float64{2}, 80, 2},
		{"nan in history", []float64{1, math.NaN(), 5}, 1, CPUPeakError},
		{"leading nan", []float64{math.NaN(), 5}, 1, CPUPeakError},
		{"infinite", []float64{1, math.Inf(1)}, 1, CPUPeakError},
		{"negative clamped", []float64{-3, -1}, 1, 0},
		{"empty uses end", nil, 42, 42},
		{"empty with no data end", nil, CPUPeakNoData, CPUPeakNoData},
		{"empty with nan end", nil, math.NaN(), CPUPeakNoData},
		{"empty with error end", nil, CPUPeakError, CPUPeakNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(nil)
			s := agg.AddResult(result(0, tt.history, tt.endPeak))
			assert.Equal(t, tt.want, s.CPUPeak)
		})
	}
}

func TestAddResultLogsDataQuality(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	agg := NewAggregator(zap.New(core))

	agg.AddResult(result(0, []float64{math.Inf(1)}, 0))
	agg.AddResult(result(1, []float64{-4}, 0))

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 2, logs.FilterMessage("realtime cpu").Len())
}

func TestMemoryDeltasClampOnRegression(t *testing.T) {
	agg := NewAggregator(nil)
	r := round.Result{
		Start: resource.Snapshot{MemoryCurrentKB: 500, WorkingSetKB: 9000, PagefileKB: 100},
		End: resource.Snapshot{
			MemoryCurrentKB:  700,
			MemoryPeakKB:     900,
			CurrentBlocks:    3,
			WorkingSetKB:     8000,
			PeakWorkingSetKB: 12000,
			PagefileKB:       150,
		},
	}
	s := agg.AddResult(r)

	assert.Equal(t, int64(200), s.PoolDeltaKB)
	assert.Equal(t, int64(900), s.PoolPeakKB)
	assert.Equal(t, int64(3), s.LiveBlocks)
	assert.Equal(t, uint64(0), s.WorkingSetDeltaKB)
	assert.Equal(t, uint64(12000), s.PeakWorkingSetKB)
	assert.Equal(t, uint64(50), s.PagefileDeltaKB)
}

func TestClampedDelta(t *testing.T) {
	assert.Equal(t, int64(0), clampedDelta[int64](5, 10))
	assert.Equal(t, int64(5), clampedDelta[int64](10, 5))
	assert.Equal(t, uint64(0), clampedDelta[uint64](1, math.MaxUint64))
}

func TestGenerateSummaryInInsertionOrder(t *testing.T) {
	agg := NewAggregator(nil)
	agg.AddResult(result(2, []float64{12.5}, 0))
	agg.AddResult(result(0, nil, CPUPeakNoData))
	agg.AddResult(result(1, []float64{math.NaN()}, 0))

	var buf bytes.Buffer
	agg.GenerateSummary(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[1], "Round 2")
	assert.Contains(t, lines[1], "CPU peak 12.50%")
	assert.Contains(t, lines[2], "Round 0")
	assert.Contains(t, lines[2], "CPU peak no data")
	assert.Contains(t, lines[3], "Round 1")
	assert.Contains(t, lines[3], "CPU peak error")
}

func TestGenerateSummaryEmptyOnlyLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	agg := NewAggregator(zap.New(core))

	var buf bytes.Buffer
	agg.GenerateSummary(&buf)
	assert.Zero(t, buf.Len())
	assert.Equal(t, 1, logs.Len())
}

func TestAggregatorConcurrentUse(t *testing.T) {
	agg := NewAggregator(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				agg.AddResult(result(i*25+j, []float64{float64(j)}, 0))
				_ = agg.Results()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, agg.Len())

	results := agg.Results()
	results[0].Profile = "mutated"
	assert.Equal(t, "p", agg.Results()[0].Profile)
}
