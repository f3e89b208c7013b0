package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/i5heu/GoSlotQueue/internal/queue"
	"github.com/i5heu/GoSlotQueue/internal/testbench"
	"github.com/i5heu/GoSlotQueue/pkg/buffered"
	"github.com/i5heu/GoSlotQueue/pkg/config"
	"github.com/i5heu/GoSlotQueue/pkg/lockedslot"
	"github.com/i5heu/GoSlotQueue/pkg/singleslot"
)

// BenchmarkResult holds results for one test run.
type BenchmarkResult struct {
	Implementation string  `json:"implementation"`
	Scenario       string  `json:"scenario"`
	Mode           string  `json:"mode"`
	OverwriteRatio float64 `json:"overwrite_ratio,omitempty"`
	Accepted       uint64  `json:"accepted"`
	Rejected       uint64  `json:"rejected"`
	Displaced      uint64  `json:"displaced"`
	Consumed       uint64  `json:"consumed"`
	Torn           uint64  `json:"torn"`
	OutOfOrder     uint64  `json:"out_of_order"`
	Conserved      bool    `json:"conserved"`
	TestDuration   string  `json:"test_duration"`       // e.g. "2s"
	ActualElapsed  string  `json:"actual_elapsed"`      // measured time
	Throughput     float64 `json:"throughput_msgs_sec"` // based on consumed count
	Timestamp      int64   `json:"timestamp"`
	GoVersion      string  `json:"go_version"`
}

// Valid reports whether the run passed every integrity check.
func (r BenchmarkResult) Valid() bool {
	return r.Torn == 0 && r.OutOfOrder == 0 && r.Conserved
}

// SystemInfo holds system information.
type SystemInfo struct {
	NumCPU            int     `json:"num_cpu"`
	TrueCPU           int     `json:"true_cpu,omitempty"`
	SimulatedCPUCount int     `json:"simulated_cpu_count,omitempty"`
	CPUModel          string  `json:"cpu_model,omitempty"`
	CPUSpeedMHz       float64 `json:"cpu_speed_mhz,omitempty"`
	GOARCH            string  `json:"go_arch"`
	TotalMemory       uint64  `json:"total_memory_bytes,omitempty"`
}

// FullReport represents a complete test session.
type FullReport struct {
	SessionTime string            `json:"session_time"`
	SystemInfo  SystemInfo        `json:"system_info"`
	Benchmarks  []BenchmarkResult `json:"benchmarks"`
}

type (
	testProducer = queue.ProducerValidationInterface[testbench.Payload]
	testConsumer = queue.ConsumerValidationInterface[testbench.Payload]
)

// Implementation represents a single-slot queue implementation.
type Implementation struct {
	name        string
	description string
	pkgName     string
	authors     []string
	features    []string
	newQueue    func() (testProducer, testConsumer)
}

// outputMarkdownTable loads the JSON file and outputs a Markdown table.
func outputMarkdownTable(jsonFile string) {
	data, err := os.ReadFile(jsonFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading JSON file %q: %v\n", jsonFile, err)
		os.Exit(1)
	}
	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshalling JSON: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stderr, "No sessions found in JSON.")
		os.Exit(1)
	}
	// Use the last session for the table.
	fmt.Print(markdownTable(sessions[len(sessions)-1]))
}

type tableRow struct {
	implementation string
	pkgName        string
	scenario       string
	throughput     float64
	violations     int
}

// markdownTable averages throughput per implementation and scenario and
// renders the rows sorted by throughput, fastest first.
func markdownTable(session FullReport) string {
	implMetaMap := make(map[string]Implementation)
	for _, impl := range getImplementations() {
		implMetaMap[impl.name] = impl
	}

	type key struct{ impl, scenario string }
	sums := make(map[key]float64)
	counts := make(map[key]int)
	violations := make(map[key]int)
	for _, bench := range session.Benchmarks {
		k := key{bench.Implementation, bench.Scenario}
		sums[k] += bench.Throughput
		counts[k]++
		if !bench.Valid() {
			violations[k]++
		}
	}

	var rows []tableRow
	for k, sum := range sums {
		rows = append(rows, tableRow{
			implementation: k.impl,
			pkgName:        implMetaMap[k.impl].pkgName,
			scenario:       k.scenario,
			throughput:     sum / float64(counts[k]),
			violations:     violations[k],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].throughput != rows[j].throughput {
			return rows[i].throughput > rows[j].throughput
		}
		return rows[i].implementation < rows[j].implementation
	})

	out := "## Last Session Benchmark Summary\n\n"
	out += "| Implementation           | Package         | Scenario        | Throughput (msgs/sec) | Violations |\n"
	out += "|--------------------------|-----------------|-----------------|-----------------------|------------|\n"
	for _, r := range rows {
		out += fmt.Sprintf("| %-24s | %-15s | %-15s | %21.0f | %10d |\n",
			r.implementation, r.pkgName, r.scenario, r.throughput, r.violations)
	}
	return out
}

func main() {
	// Flags.
	testIterations := flag.Int("iter", 0, "Number of test iterations per scenario (0 = use the plan)")
	cpuMaxFlag := flag.Int("cpu", 0, "If non-zero, test only that GOMAXPROCS value; if 0, use the plan or common CPU/vCPU values up to runtime.NumCPU()")
	durationFlag := flag.Duration("duration", 0, "Duration of each run (0 = use the plan)")
	planFile := flag.String("plan", "", "Path to a YAML benchmark plan")
	jsonExport := flag.Bool("json", false, "Export results as JSON to test-results.json")
	markdownTableFlag := flag.Bool("markdown-table", false, "Output markdown table from test-results.json and exit")
	jsonFileForMarkdown := flag.String("jsonfile", "test-results.json", "Path to JSON file for markdown table")
	progressFlag := flag.Bool("progress", false, "Display a progress bar with ETA")
	flag.Parse()

	if *markdownTableFlag {
		outputMarkdownTable(*jsonFileForMarkdown)
		return
	}

	plan := config.Default()
	if *planFile != "" {
		var err error
		if plan, err = config.Load(*planFile); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading plan:", err)
			os.Exit(1)
		}
	}
	if *testIterations > 0 {
		plan.Iterations = *testIterations
	}
	if *durationFlag > 0 {
		plan.Duration = *durationFlag
	}
	if err := plan.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid plan:", err)
		os.Exit(1)
	}

	trueCpuCount := runtime.NumCPU()
	cpuSettings := cpuSettingsFor(plan, *cpuMaxFlag, trueCpuCount)

	impls := getImplementations()
	totalTests := len(cpuSettings) * len(plan.Scenarios) * plan.Iterations * len(impls)

	var bar *progressbar.ProgressBar
	if *progressFlag {
		bar = progressbar.NewOptions(totalTests,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("benchmarking"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
		)
	}

	var allSessions []FullReport
	violations := 0

	// Iterate over the desired GOMAXPROCS settings.
	for _, cpus := range cpuSettings {
		runtime.GOMAXPROCS(cpus)
		sysInfo := gatherSystemInfo()
		sysInfo.NumCPU = cpus
		sysInfo.TrueCPU = trueCpuCount
		sysInfo.SimulatedCPUCount = cpus

		// Print CPU header to stdout.
		fmt.Printf("\n=============================\n")
		fmt.Printf("GOMAXPROCS = %d\n", cpus)
		fmt.Printf("=============================\n")

		var results []BenchmarkResult

		for _, scenario := range plan.Scenarios {
			cfg, err := scenario.Config()
			if err != nil {
				// Validate already checked every scenario.
				panic(err)
			}
			fmt.Printf("  [Scenario: %s, mode=%s]\n", scenario.Name, cfg.Mode)
			for iteration := 1; iteration <= plan.Iterations; iteration++ {
				fmt.Printf("    iteration %d/%d\n", iteration, plan.Iterations)
				for _, impl := range impls {
					runtime.GC()
					result := runOnce(impl, scenario.Name, cfg, plan.Duration)

					if bar != nil {
						bar.Clear()
					}
					status := "ok"
					if !result.Valid() {
						status = "VIOLATION"
						violations++
					}
					fmt.Printf("    %s => accepted=%d, rejected=%d, displaced=%d, consumed=%d, throughput=%.0f msg/s, took=%s [%s]\n",
						impl.name, result.Accepted, result.Rejected, result.Displaced, result.Consumed,
						result.Throughput, result.ActualElapsed, status)
					if bar != nil {
						bar.Add(1)
					}

					results = append(results, result)
				}
			}
		}

		allSessions = append(allSessions, FullReport{
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sysInfo,
			Benchmarks:  results,
		})
	}

	if bar != nil {
		bar.Finish()
	}

	// If JSON export is requested, append the new sessions to test-results.json.
	if *jsonExport {
		const filename = "test-results.json"
		if err := appendSessions(filename, allSessions); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing JSON file:", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote results to %s\n", filename)
	}

	if violations > 0 {
		fmt.Fprintf(os.Stderr, "%d run(s) failed integrity checks\n", violations)
		os.Exit(1)
	}
}

// cpuSettingsFor picks the GOMAXPROCS values to sweep: the -cpu flag wins,
// then the plan, then the common CPU/vCPU counts up to the real CPU count.
func cpuSettingsFor(plan *config.Plan, cpuFlag, trueCpuCount int) []int {
	if cpuFlag > 0 {
		return []int{min(cpuFlag, trueCpuCount)}
	}
	if len(plan.CPUs) > 0 {
		var out []int
		for _, c := range plan.CPUs {
			if c <= trueCpuCount {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
		return []int{trueCpuCount}
	}

	// Define the common CPU/vCPU settings. Two goroutines is all the queue
	// ever runs, so larger counts only show scheduler effects.
	commonCPUs := []int{1, 2, 3, 4, 6, 8, 12, 16, 32, 64}
	var out []int
	for _, v := range commonCPUs {
		if v <= trueCpuCount {
			out = append(out, v)
		}
	}
	return out
}

// runOnce splits a fresh queue of impl and runs one timed stress test on it.
func runOnce(impl Implementation, scenario string, cfg testbench.Config, d time.Duration) BenchmarkResult {
	prod, cons := impl.newQueue()
	res := testbench.RunTimedTest(prod, cons, cfg, d)

	throughput := 0.0
	if secs := res.Elapsed.Seconds(); secs > 0 {
		throughput = float64(res.Consumed) / secs
	}
	return BenchmarkResult{
		Implementation: impl.name,
		Scenario:       scenario,
		Mode:           string(cfg.Mode),
		OverwriteRatio: cfg.OverwriteRatio,
		Accepted:       res.Accepted,
		Rejected:       res.Rejected,
		Displaced:      res.Displaced,
		Consumed:       res.Consumed,
		Torn:           res.Torn,
		OutOfOrder:     res.OutOfOrder,
		Conserved:      res.Conserved(),
		TestDuration:   d.String(),
		ActualElapsed:  res.Elapsed.String(),
		Throughput:     throughput,
		Timestamp:      time.Now().Unix(),
		GoVersion:      runtime.Version(),
	}
}

// appendSessions appends sessions to the JSON array stored in filename,
// creating the file if needed.
func appendSessions(filename string, sessions []FullReport) error {
	var previous []FullReport
	if data, err := os.ReadFile(filename); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &previous); err != nil {
			return fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	updated := append(previous, sessions...)
	data, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// gatherSystemInfo collects basic CPU and memory details.
func gatherSystemInfo() SystemInfo {
	numCPU := runtime.NumCPU()
	goArch := runtime.GOARCH

	var cpuModel string
	var cpuSpeed float64
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		cpuModel = infos[0].ModelName
		cpuSpeed = infos[0].Mhz
	}

	var totalMemory uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = vm.Total
	}

	return SystemInfo{
		NumCPU:      numCPU,
		CPUModel:    cpuModel,
		CPUSpeedMHz: cpuSpeed,
		GOARCH:      goArch,
		TotalMemory: totalMemory,
	}
}

// getImplementations enumerates our different queue implementations.
func getImplementations() []Implementation {
	return []Implementation{
		{
			name:        "SingleSlot",
			pkgName:     "singleslot",
			description: "Lock-free slot arbitrated by an atomic empty/full/locked control word; only overwrite and dequeue ever spin.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"SPSC", "Overwrite", "Peek", "LockFree"},
			newQueue: func() (testProducer, testConsumer) {
				return singleslot.New[testbench.Payload]().Split()
			},
		},
		{
			name:        "Golang Buffered Channel",
			pkgName:     "buffered",
			description: "A channel of capacity 1 with non-blocking send and receive; overwrite drains before sending.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"SPSC", "Overwrite"},
			newQueue: func() (testProducer, testConsumer) {
				return buffered.New[testbench.Payload]().Split()
			},
		},
		{
			name:        "LockedSlot",
			pkgName:     "lockedslot",
			description: "A single cell guarded by sync.Mutex, the lock-based reference point.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"SPSC", "Overwrite", "Peek"},
			newQueue: func() (testProducer, testConsumer) {
				return lockedslot.New[testbench.Payload]().Split()
			},
		},
	}
}
