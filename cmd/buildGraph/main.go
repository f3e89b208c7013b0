package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// BenchmarkResult is the subset of a bench result the graphs read.
type BenchmarkResult struct {
	Implementation string `json:"implementation"`
	Scenario       string `json:"scenario"`
	Consumed       uint64 `json:"consumed"`
	Torn           uint64 `json:"torn"`
	OutOfOrder     uint64 `json:"out_of_order"`
	Conserved      bool   `json:"conserved"`
	ActualElapsed  string `json:"actual_elapsed"`
}

func (r BenchmarkResult) valid() bool {
	return r.Consumed > 0 && r.Torn == 0 && r.OutOfOrder == 0 && r.Conserved
}

type SystemInfo struct {
	NumCPU            int `json:"num_cpu"`
	SimulatedCPUCount int `json:"simulated_cpu_count,omitempty"`
}

// cpus is the GOMAXPROCS the session ran with.
func (s SystemInfo) cpus() int {
	if s.SimulatedCPUCount != 0 {
		return s.SimulatedCPUCount
	}
	return s.NumCPU
}

type FullReport struct {
	SystemInfo SystemInfo        `json:"system_info"`
	Benchmarks []BenchmarkResult `json:"benchmarks"`
}

// samples maps CPU count -> implementation -> scenario -> ns per consumed message.
type samples map[int]map[string]map[string][]float64

// groupSamples converts sessions into ns-per-message samples. Runs that
// consumed nothing or failed integrity checks are left out.
func groupSamples(sessions []FullReport) samples {
	out := make(samples)
	for _, session := range sessions {
		byImpl := out[session.SystemInfo.cpus()]
		if byImpl == nil {
			byImpl = make(map[string]map[string][]float64)
			out[session.SystemInfo.cpus()] = byImpl
		}
		for _, b := range session.Benchmarks {
			if !b.valid() {
				continue
			}
			elapsed, err := time.ParseDuration(b.ActualElapsed)
			if err != nil {
				continue
			}
			if byImpl[b.Implementation] == nil {
				byImpl[b.Implementation] = make(map[string][]float64)
			}
			byImpl[b.Implementation][b.Scenario] = append(byImpl[b.Implementation][b.Scenario],
				float64(elapsed.Nanoseconds())/float64(b.Consumed))
		}
	}
	return out
}

// scenarioOrder returns the scenario names of one CPU group in sorted order.
func scenarioOrder(byImpl map[string]map[string][]float64) []string {
	seen := make(map[string]bool)
	var names []string
	for _, byScenario := range byImpl {
		for name := range byScenario {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// summary describes one sample set: the mean of the fastest and slowest 5%
// of runs around the median.
type summary struct {
	low, median, high float64
	runs              int
}

func summarize(vals []float64) summary {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return summary{}
	}
	tail := int(float64(n) * 0.05)
	if tail < 1 {
		tail = 1
	}
	med := sorted[n/2]
	if n%2 == 0 {
		med = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return summary{
		low:    mean(sorted[:tail]),
		median: med,
		high:   mean(sorted[n-tail:]),
		runs:   n,
	}
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// nsLabel renders a nanosecond count the way time.Duration prints it.
func nsLabel(ns float64) string {
	return time.Duration(math.Round(ns)).String()
}

// durationTicks places log-scale ticks and labels them as durations.
type durationTicks struct{}

func (durationTicks) Ticks(min, max float64) []plot.Tick {
	ticks := plot.LogTicks{}.Ticks(min, max)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = nsLabel(ticks[i].Value)
		}
	}
	return ticks
}

// buildPlot draws one box per implementation and scenario.
func buildPlot(cpus int, byImpl map[string]map[string][]float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Single-slot queues, time per consumed message, GOMAXPROCS=%d", cpus)
	p.Y.Label.Text = "ns per message (log)"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = durationTicks{}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	scenarios := scenarioOrder(byImpl)
	p.NominalX(scenarios...)

	impls := sortedKeys(byImpl)
	const groupWidth = 0.8
	slot := groupWidth / float64(len(impls))
	for i, impl := range impls {
		c := plotutil.Color(i)
		offset := -groupWidth/2 + slot*(float64(i)+0.5)
		for x, scenario := range scenarios {
			vals := byImpl[impl][scenario]
			if len(vals) == 0 {
				continue
			}
			box, err := plotter.NewBoxPlot(vg.Points(12), float64(x)+offset, plotter.Values(vals))
			if err != nil {
				return nil, fmt.Errorf("box for %s/%s: %w", impl, scenario, err)
			}
			box.FillColor = c
			p.Add(box)
		}
		swatch, err := plotter.NewLine(plotter.XYs{})
		if err != nil {
			return nil, err
		}
		swatch.Color = c
		swatch.Width = vg.Points(8)
		p.Legend.Add(impl, swatch)
	}
	return p, nil
}

func main() {
	jsonFile := flag.String("jsonfile", "test-results.json", "Path to JSON file containing test sessions")
	outputPrefix := flag.String("out", "benchmark_graph", "Output graph image filename prefix")
	flag.Parse()

	data, err := os.ReadFile(*jsonFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading JSON file: %v\n", err)
		os.Exit(1)
	}
	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshalling JSON: %v\n", err)
		os.Exit(1)
	}

	grouped := groupSamples(sessions)
	var cpuCounts []int
	for cpus := range grouped {
		cpuCounts = append(cpuCounts, cpus)
	}
	sort.Ints(cpuCounts)

	for _, cpus := range cpuCounts {
		byImpl := grouped[cpus]
		if len(byImpl) == 0 {
			continue
		}

		fmt.Printf("GOMAXPROCS=%d\n", cpus)
		for _, impl := range sortedKeys(byImpl) {
			for _, scenario := range sortedKeys(byImpl[impl]) {
				s := summarize(byImpl[impl][scenario])
				fmt.Printf("  %-24s %-12s runs=%-3d fast5%%=%-10s median=%-10s slow5%%=%s\n",
					impl, scenario, s.runs, nsLabel(s.low), nsLabel(s.median), nsLabel(s.high))
			}
		}

		p, err := buildPlot(cpus, byImpl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building plot for %d CPU(s): %v\n", cpus, err)
			continue
		}
		filename := fmt.Sprintf("%s_%d.png", *outputPrefix, cpus)
		if err := p.Save(12*vg.Inch, 8*vg.Inch, filename); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving plot for %d CPU(s): %v\n", cpus, err)
			continue
		}
		fmt.Printf("Graph for %d CPU(s) saved to %s\n", cpus, filename)
	}
}
