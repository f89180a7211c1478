// Package bench samples host resource usage while a monitored workload
// runs and reduces the samples to a single weighted score. It is a
// standalone profiler for comparing runs on the same machine, not part of
// the violation pipeline.
package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/roadwatch/internal/monitoring"
	"github.com/banshee-data/roadwatch/internal/timeutil"
)

// Metric keys in canonical output order.
var metricKeys = []string{
	"cpu", "core_imbalance", "freq_ratio",
	"proc_cpu", "proc_ram",
	"gpu_util", "gpu_mem", "gpu_temp",
}

// Weights turns per-metric averages into the final score. Hotter hosts
// score higher, so lower is better.
var Weights = map[string]float64{
	"cpu":            0.1,
	"core_imbalance": 0.1,
	"freq_ratio":     0.1,
	"proc_cpu":       0.2,
	"proc_ram":       0.2,
	"gpu_util":       0.2,
	"gpu_mem":        0.2,
	"gpu_temp":       0.1,
}

// Sample is one instant of host metrics. Every field is a percentage
// except gpu_temp (degrees C) and freq_ratio (0..1).
type Sample struct {
	CPU           float64
	CoreImbalance float64
	FreqRatio     float64
	ProcCPU       float64
	ProcRAM       float64
	GPUUtil       float64
	GPUMem        float64
	GPUTemp       float64
}

func (s Sample) value(key string) float64 {
	switch key {
	case "cpu":
		return s.CPU
	case "core_imbalance":
		return s.CoreImbalance
	case "freq_ratio":
		return s.FreqRatio
	case "proc_cpu":
		return s.ProcCPU
	case "proc_ram":
		return s.ProcRAM
	case "gpu_util":
		return s.GPUUtil
	case "gpu_mem":
		return s.GPUMem
	case "gpu_temp":
		return s.GPUTemp
	}
	return 0
}

// Report is the reduced result of a sampling run.
type Report struct {
	Team       string
	Averages   map[string]float64
	FinalScore float64
	Samples    int
	Duration   time.Duration
}

// Reduce averages the samples and applies the weights.
func Reduce(team string, samples []Sample, duration time.Duration) Report {
	r := Report{
		Team:     team,
		Averages: make(map[string]float64, len(metricKeys)),
		Samples:  len(samples),
		Duration: duration,
	}
	for _, key := range metricKeys {
		var sum float64
		for _, s := range samples {
			sum += s.value(key)
		}
		avg := 0.0
		if len(samples) > 0 {
			avg = round2(sum / float64(len(samples)))
		}
		r.Averages[key] = avg
		r.FinalScore += Weights[key] * avg
	}
	r.FinalScore = round2(r.FinalScore)
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WriteCSV emits the report as a one-row table, metric averages followed
// by the final score.
func (r Report) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create benchmark file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(append([]string{}, metricKeys...), "final_score")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write benchmark header: %w", err)
	}
	row := make([]string, 0, len(header))
	for _, key := range metricKeys {
		row = append(row, strconv.FormatFloat(r.Averages[key], 'f', 2, 64))
	}
	row = append(row, strconv.FormatFloat(r.FinalScore, 'f', 2, 64))
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write benchmark row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush benchmark file: %w", err)
	}
	return nil
}

// Sampler produces one Sample per call. HostSampler is the production
// implementation.
type Sampler interface {
	Sample() (Sample, error)

	// WorkloadAlive reports whether the monitored processes still exist.
	WorkloadAlive() bool
}

// Collector drives a Sampler on a fixed cadence until the workload exits
// or the context is cancelled.
type Collector struct {
	sampler  Sampler
	clock    timeutil.Clock
	interval time.Duration
}

// NewCollector returns a collector sampling every interval.
func NewCollector(s Sampler, clock timeutil.Clock, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Second
	}
	return &Collector{sampler: s, clock: clock, interval: interval}
}

// Run samples until the workload exits or ctx is cancelled and returns the
// reduced report. Individual failed samples are logged and skipped; the
// run keeps going.
func (c *Collector) Run(ctx context.Context, team string) (Report, error) {
	start := c.clock.Now()
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	var samples []Sample
	for {
		select {
		case <-ctx.Done():
			return Reduce(team, samples, c.clock.Since(start)), ctx.Err()
		case <-ticker.C():
			if !c.sampler.WorkloadAlive() {
				return Reduce(team, samples, c.clock.Since(start)), nil
			}
			s, err := c.sampler.Sample()
			if err != nil {
				monitoring.Logf("bench: sample failed: %v", err)
				continue
			}
			samples = append(samples, s)
		}
	}
}
