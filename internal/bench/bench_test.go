package bench

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/roadwatch/internal/timeutil"
)

func TestReduceAveragesAndScore(t *testing.T) {
	samples := []Sample{
		{CPU: 10, CoreImbalance: 20, FreqRatio: 0.5, ProcCPU: 30, ProcRAM: 40, GPUUtil: 50, GPUMem: 60, GPUTemp: 70},
		{CPU: 30, CoreImbalance: 40, FreqRatio: 1.5, ProcCPU: 50, ProcRAM: 60, GPUUtil: 70, GPUMem: 80, GPUTemp: 90},
	}
	r := Reduce("alpha", samples, time.Minute)

	wantAvg := map[string]float64{
		"cpu": 20, "core_imbalance": 30, "freq_ratio": 1,
		"proc_cpu": 40, "proc_ram": 50,
		"gpu_util": 60, "gpu_mem": 70, "gpu_temp": 80,
	}
	if diff := cmp.Diff(wantAvg, r.Averages); diff != "" {
		t.Errorf("averages mismatch (-want +got):\n%s", diff)
	}
	// 0.1*20 + 0.1*30 + 0.1*1 + 0.2*40 + 0.2*50 + 0.2*60 + 0.2*70 + 0.1*80
	want := 57.1
	if math.Abs(r.FinalScore-want) > 1e-9 {
		t.Errorf("final score = %v, want %v", r.FinalScore, want)
	}
	if r.Samples != 2 || r.Duration != time.Minute {
		t.Errorf("report bookkeeping = %d samples / %v", r.Samples, r.Duration)
	}
}

func TestReduceNoSamples(t *testing.T) {
	r := Reduce("alpha", nil, 0)
	if r.FinalScore != 0 {
		t.Errorf("final score = %v, want 0", r.FinalScore)
	}
	for key, avg := range r.Averages {
		if avg != 0 {
			t.Errorf("average %s = %v, want 0", key, avg)
		}
	}
}

func TestReportWriteCSV(t *testing.T) {
	r := Reduce("alpha", []Sample{{CPU: 12.345}}, time.Minute)
	path := filepath.Join(t.TempDir(), "alpha_benchmark.csv")
	if err := r.WriteCSV(path); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	wantHeader := []string{
		"cpu", "core_imbalance", "freq_ratio",
		"proc_cpu", "proc_ram",
		"gpu_util", "gpu_mem", "gpu_temp",
		"final_score",
	}
	if diff := cmp.Diff(wantHeader, recs[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if recs[1][0] != "12.35" {
		t.Errorf("cpu cell = %q, want 12.35 (rounded)", recs[1][0])
	}
}

func TestCoreImbalance(t *testing.T) {
	if got := coreImbalance([]float64{10, 90, 50}); got != 80 {
		t.Errorf("coreImbalance = %v, want 80", got)
	}
	if got := coreImbalance(nil); got != 0 {
		t.Errorf("coreImbalance(nil) = %v, want 0", got)
	}
}

func TestParseGPUQuery(t *testing.T) {
	raw := "50, 2048, 8192, 60\n70, 4096, 8192, 80\n"
	util, memPct, temp := parseGPUQuery(raw)
	if util != 60 {
		t.Errorf("util = %v, want 60", util)
	}
	if memPct != 37.5 { // (25 + 50) / 2
		t.Errorf("mem = %v, want 37.5", memPct)
	}
	if temp != 70 {
		t.Errorf("temp = %v, want 70", temp)
	}

	// Garbage in, zeros out.
	if u, m, tp := parseGPUQuery("not,a,gpu\n"); u != 0 || m != 0 || tp != 0 {
		t.Errorf("garbage parsed to %v %v %v", u, m, tp)
	}
}

// fakeSampler feeds canned samples and reports the workload dead after
// they run out.
type fakeSampler struct {
	mu      sync.Mutex
	samples []Sample
}

func (f *fakeSampler) Sample() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.samples[0]
	f.samples = f.samples[1:]
	return s, nil
}

func (f *fakeSampler) WorkloadAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples) > 0
}

func TestCollectorRunsUntilWorkloadExits(t *testing.T) {
	sampler := &fakeSampler{samples: []Sample{{CPU: 10}, {CPU: 30}}}
	clock := timeutil.NewMockClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	c := NewCollector(sampler, clock, time.Second)

	done := make(chan Report, 1)
	go func() {
		r, err := c.Run(context.Background(), "alpha")
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- r
	}()

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case r := <-done:
		if r.Samples != 2 {
			t.Errorf("samples = %d, want 2", r.Samples)
		}
		if r.Averages["cpu"] != 20 {
			t.Errorf("cpu average = %v, want 20", r.Averages["cpu"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop after workload exit")
	}
}

func TestCollectorStopsOnCancel(t *testing.T) {
	sampler := &fakeSampler{samples: make([]Sample, 100)}
	clock := timeutil.NewMockClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	c := NewCollector(sampler, clock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, "alpha")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not observe cancellation")
	}
}
