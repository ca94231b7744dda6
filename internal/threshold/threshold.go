package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/tpbench/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "loss", "throughput", "latency", "cpu"
	Aggregate string  // e.g., "rate", "pps", "p99", "peak"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold against one round.
type Result struct {
	Threshold Threshold
	Profile   string
	Role      string
	Round     int
	Actual    float64
	Pass      bool
	Skipped   bool // the round carries no data for this metric
	Message   string
}

// Evaluator evaluates thresholds against round summaries.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Len returns the number of configured thresholds.
func (e *Evaluator) Len() int { return len(e.thresholds) }

// Evaluate checks all thresholds against one round.
func (e *Evaluator) Evaluate(s metrics.RoundSummary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, s))
	}
	return results
}

// EvaluateAll checks every round in order.
func (e *Evaluator) EvaluateAll(summaries []metrics.RoundSummary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds)*len(summaries))
	for _, s := range summaries {
		results = append(results, e.Evaluate(s)...)
	}
	return results
}

// Passed reports whether no result failed. Skipped results count as passing.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Pass && !r.Skipped {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, s metrics.RoundSummary) Result {
	res := Result{
		Threshold: t,
		Profile:   s.Profile,
		Role:      string(s.Role),
		Round:     s.Round,
	}
	prefix := fmt.Sprintf("round %d [%s]", s.Round, s.Role)

	actual, ok, err := extractMetricValue(t, s)
	if err != nil {
		res.Message = fmt.Sprintf("✗ %s %s: error: %v", prefix, t.Raw, err)
		return res
	}
	if !ok {
		res.Skipped = true
		res.Message = fmt.Sprintf("- %s %s: no data", prefix, t.Raw)
		return res
	}

	res.Actual = actual
	res.Pass = compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !res.Pass {
		status = "✗"
	}
	res.Message = fmt.Sprintf("%s %s %s: %.2f %s %.2f", status, prefix, t.Raw, actual, t.Operator, t.Value)
	return res
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "loss:rate < 1"           (lost messages in percent)
// - "loss:count == 0"         (lost messages)
// - "throughput:pps > 10000"  (messages per second)
// - "throughput:mbps > 100"   (megabits per second)
// - "latency:p99 < 5"         (one-way latency in ms; also p50, p90, avg, max)
// - "cpu:peak < 80"           (peak process CPU in percent)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'loss:rate < 1')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: loss, throughput, latency, cpu)", metric)
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !contains([]string{"<", "<=", ">", ">=", "=="}, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var supported = map[string][]string{
	"loss":       {"rate", "count"},
	"throughput": {"pps", "mbps"},
	"latency":    {"p50", "p90", "p99", "avg", "max"},
	"cpu":        {"peak"},
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// extractMetricValue returns ok=false when the round has nothing to measure.
func extractMetricValue(t Threshold, s metrics.RoundSummary) (float64, bool, error) {
	switch t.Metric {
	case "loss":
		if t.Aggregate == "count" {
			return float64(s.Lost), true, nil
		}
		return s.LossRate, true, nil
	case "throughput":
		if t.Aggregate == "mbps" {
			return s.BandwidthMbps, true, nil
		}
		return s.Throughput, true, nil
	case "latency":
		return extractLatencyMetric(t.Aggregate, s)
	case "cpu":
		switch s.CPUPeak {
		case metrics.CPUPeakNoData:
			return 0, false, nil
		case metrics.CPUPeakError:
			return 0, false, fmt.Errorf("cpu measurement failed")
		}
		return s.CPUPeak, true, nil
	default:
		return 0, false, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, s metrics.RoundSummary) (float64, bool, error) {
	l := s.Latency
	if l.Count == 0 {
		return 0, false, nil
	}
	switch aggregate {
	case "p50":
		return l.P50Ms, true, nil
	case "p90":
		return l.P90Ms, true, nil
	case "p99":
		return l.P99Ms, true, nil
	case "avg":
		return l.MeanMs, true, nil
	case "max":
		return l.MaxMs, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
