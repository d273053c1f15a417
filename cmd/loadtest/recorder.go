package main

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
)

// series — вызовы одного метода.
type series struct {
	codes     map[codes.Code]int64
	latencies []time.Duration
}

// recorder собирает коды и задержки по методам.
type recorder struct {
	mu     sync.Mutex
	series map[string]*series
}

func newRecorder() *recorder {
	return &recorder{series: make(map[string]*series)}
}

func (r *recorder) observe(method string, latency time.Duration, code codes.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.series[method]
	if s == nil {
		s = &series{codes: make(map[codes.Code]int64)}
		r.series[method] = s
	}
	s.codes[code]++
	s.latencies = append(s.latencies, latency)
}

// report сводит накопленное в отчёт; scenario задаёт итог и RPS.
func (r *recorder) report(startedAt time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(r.series)),
	}
	for name, s := range r.series {
		out.Methods[name] = s.summary()
	}

	if scenario, ok := out.Methods[scenarioName]; ok {
		out.TotalScenarios = scenario.Calls
		out.SuccessScenarios = scenario.Success
		out.FailedScenarios = scenario.Failed
		out.ErrorRate = scenario.ErrorRate
		out.ScenarioLatencyMs = scenario.LatencyMs
		delete(out.Methods, scenarioName)
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

func (s *series) summary() methodReport {
	m := methodReport{Codes: make(map[string]int64, len(s.codes))}
	for code, n := range s.codes {
		m.Codes[code.String()] = n
		m.Calls += n
		if code == codes.OK {
			m.Success += n
		}
	}
	m.Failed = m.Calls - m.Success
	if m.Calls > 0 {
		m.ErrorRate = float64(m.Failed) / float64(m.Calls)
	}
	m.LatencyMs = summarize(s.latencies)
	return m
}

// summarize считает перцентили методом nearest-rank.
func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(latencies))

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	rank := func(p float64) float64 {
		i := int(math.Ceil(p/100*float64(len(sorted)))) - 1
		return millis(sorted[max(i, 0)])
	}
	return latencySummary{
		Min: millis(sorted[0]),
		Max: millis(sorted[len(sorted)-1]),
		Avg: millis(total / time.Duration(len(sorted))),
		P50: rank(50),
		P95: rank(95),
		P99: rank(99),
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func sortedMethods(methods map[string]methodReport) []string {
	return slices.Sorted(maps.Keys(methods))
}
