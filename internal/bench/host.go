package bench

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/banshee-data/roadwatch/internal/monitoring"
)

// HostSampler reads live host metrics for a set of monitored processes.
type HostSampler struct {
	procs      []*process.Process
	coreCount  int
	totalRAMMB float64
	nvidiaSMI  string // empty when not installed
}

// NewHostSampler builds a sampler monitoring the given PIDs. PIDs that
// have already exited are skipped.
func NewHostSampler(pids []int32) (*HostSampler, error) {
	cores, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("count cpu cores: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("read total memory: %w", err)
	}

	s := &HostSampler{
		coreCount:  cores,
		totalRAMMB: float64(vm.Total) / (1 << 20),
	}
	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			monitoring.Logf("bench: pid %d not found, skipping: %v", pid, err)
			continue
		}
		s.procs = append(s.procs, p)
	}
	if path, err := exec.LookPath("nvidia-smi"); err == nil {
		s.nvidiaSMI = path
	}
	return s, nil
}

// WorkloadAlive reports whether any monitored process still exists.
func (s *HostSampler) WorkloadAlive() bool {
	alive := s.procs[:0]
	for _, p := range s.procs {
		if running, err := p.IsRunning(); err == nil && running {
			alive = append(alive, p)
		}
	}
	s.procs = alive
	return len(s.procs) > 0
}

// Sample reads one instant of metrics.
func (s *HostSampler) Sample() (Sample, error) {
	var out Sample

	total, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(total) > 0 {
		out.CPU = total[0]
	}

	perCore, err := cpu.Percent(0, true)
	if err != nil {
		return Sample{}, fmt.Errorf("read per-core percent: %w", err)
	}
	out.CoreImbalance = coreImbalance(perCore)
	out.FreqRatio = freqRatio()

	var procCPU, procRAMMB float64
	for _, p := range s.procs {
		if pct, err := p.CPUPercent(); err == nil {
			procCPU += pct
		}
		if mi, err := p.MemoryInfo(); err == nil {
			procRAMMB += float64(mi.RSS) / (1 << 20)
		}
	}
	// Normalize to the whole machine so runs on different core counts and
	// RAM sizes are comparable.
	out.ProcCPU = procCPU / float64(s.coreCount)
	out.ProcRAM = procRAMMB / s.totalRAMMB * 100

	out.GPUUtil, out.GPUMem, out.GPUTemp = s.gpuMetrics()
	return out, nil
}

// coreImbalance is the spread between the busiest and idlest core.
func coreImbalance(perCore []float64) float64 {
	if len(perCore) == 0 {
		return 0
	}
	lo, hi := perCore[0], perCore[0]
	for _, v := range perCore[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

// freqRatio is current clock over max clock, 0 when unreadable.
func freqRatio() float64 {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return 0
	}
	var current float64
	for _, info := range infos {
		current += info.Mhz
	}
	current /= float64(len(infos))
	// gopsutil reports only the current clock; read the platform max from
	// sysfs where available.
	maxMHz := sysfsMaxFreqMHz()
	if maxMHz <= 0 {
		return 0
	}
	return current / maxMHz
}

// sysfsMaxFreqMHz reads the cpu0 max clock from sysfs (reported in kHz),
// 0 on any platform without it.
func sysfsMaxFreqMHz() float64 {
	raw, err := os.ReadFile("/sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_max_freq")
	if err != nil {
		return 0
	}
	khz, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0
	}
	return khz / 1000
}

func (s *HostSampler) gpuMetrics() (util, memPct, temp float64) {
	if s.nvidiaSMI == "" {
		return 0, 0, 0
	}
	raw, err := exec.Command(s.nvidiaSMI,
		"--query-gpu=utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		monitoring.Logf("bench: nvidia-smi failed: %v", err)
		return 0, 0, 0
	}
	return parseGPUQuery(string(raw))
}

// parseGPUQuery reduces nvidia-smi query output (one line per GPU) to
// fleet averages. Malformed lines are skipped.
func parseGPUQuery(raw string) (util, memPct, temp float64) {
	var count int
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			continue
		}
		vals := make([]float64, 4)
		ok := true
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok || vals[2] == 0 {
			continue
		}
		util += vals[0]
		memPct += vals[1] / vals[2] * 100
		temp += vals[3]
		count++
	}
	if count == 0 {
		return 0, 0, 0
	}
	n := float64(count)
	return util / n, memPct / n, temp / n
}
