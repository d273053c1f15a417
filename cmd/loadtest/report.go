package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

func writeText(w io.Writer, r report, cfg config) {
	lat := r.ScenarioLatencyMs
	fmt.Fprintf(w, "loadtest mode=%s run=%s\n", cfg.mode, cfg.target())
	fmt.Fprintf(w, "scenarios total=%d ok=%d failed=%d error_rate=%.4f rps=%.2f duration=%.2fs\n",
		r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios, r.ErrorRate, r.RPS, r.DurationSeconds)
	fmt.Fprintf(w, "scenario ms min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, name := range sortedMethods(r.Methods) {
		m := r.Methods[name]
		fmt.Fprintf(w, "  %-15s calls=%d failed=%d p50=%.2fms p95=%.2fms codes=%v\n",
			name, m.Calls, m.Failed, m.LatencyMs.P50, m.LatencyMs.P95, m.Codes)
	}
}

// writeJSON пишет отчёт в файл. Относительный путь не должен выходить за рабочий каталог.
func writeJSON(path string, r report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("report path must name a file")
	}
	if !filepath.IsAbs(clean) && !filepath.IsLocal(clean) {
		return fmt.Errorf("report path %s escapes the working directory", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
