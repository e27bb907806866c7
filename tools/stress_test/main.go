package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	flag "github.com/spf13/pflag"

	"github.com/VanDung-dev/arrow-wasm-ffi/arrow"
	"github.com/VanDung-dev/arrow-wasm-ffi/host"
	"github.com/VanDung-dev/arrow-wasm-ffi/internal/fixture"
	"github.com/VanDung-dev/arrow-wasm-ffi/server"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Target      string
	Address     string
	WasmPath    string
	Concurrency int
	Duration    time.Duration
	Rows        []int
	Op          string
	AuthToken   string
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	RowsDecoded    int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

// sender issues one decode and returns the decoded row count.
type sender func(ctx context.Context) (int64, error)

func main() {
	config := parseFlags()

	payload, err := buildPayload(config.Rows)
	if err != nil {
		log.Fatalf("Failed to build payload: %v", err)
	}

	fmt.Println("=== arrow-wasm-ffi Decode Stress Test ===")
	fmt.Printf("Target: %s %s\n", config.Target, config.Address)
	fmt.Printf("Operation: %s, payload %d bytes, batches %v\n", config.Op, len(payload), config.Rows)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Println()

	result, err := runStressTest(config, payload)
	if err != nil {
		log.Fatalf("Stress test failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Target, "target", "tcp", "Target: tcp, zmq or local")
	flag.StringVar(&config.Address, "addr", "127.0.0.1:50052", "Server address (tcp host:port or zmq endpoint)")
	flag.StringVar(&config.WasmPath, "wasm", "", "Decoder module for the local target; empty decodes in-process")
	flag.IntVarP(&config.Concurrency, "concurrency", "c", 10, "Number of concurrent workers")
	flag.DurationVarP(&config.Duration, "duration", "d", 30*time.Second, "Duration of test")
	flag.IntSliceVar(&config.Rows, "rows", []int{1000, 1000, 1000}, "Rows per batch of the payload")
	flag.StringVar(&config.Op, "op", "table", "Operation: table or batch")
	flag.StringVar(&config.AuthToken, "token", "", "Authentication token")
	flag.StringVarP(&config.ReportFile, "output", "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func buildPayload(rows []int) ([]byte, error) {
	records, err := fixture.EventBatches(memory.NewGoAllocator(), rows...)
	if err != nil {
		return nil, err
	}
	defer fixture.Release(records)
	return arrow.NewIPCWriter().SerializeMultipleToIPC(fixture.EventSchema(), records)
}

func request(config StressTestConfig, payload []byte) server.Request {
	if config.Op == "batch" {
		return server.Request{Op: server.OpRecordBatch, Data: payload}
	}
	return server.Request{Op: server.OpTable, Data: payload}
}

func rowsOf(resp *server.Response) (int64, error) {
	if !resp.OK {
		return 0, fmt.Errorf("decode failed: %s", resp.Error)
	}
	var rows int64
	for _, c := range resp.Chunks {
		rows += c.Rows
	}
	return rows, nil
}

// newSender returns a per-worker sender and its cleanup.
func newSender(ctx context.Context, config StressTestConfig, payload []byte, local host.Decoder) (sender, func(), error) {
	switch config.Target {
	case "tcp":
		client, err := server.Dial(config.Address, config.AuthToken, 5*time.Second)
		if err != nil {
			return nil, nil, err
		}
		req := request(config, payload)
		return func(context.Context) (int64, error) {
			resp, err := client.Do(req)
			if err != nil {
				return 0, err
			}
			return rowsOf(resp)
		}, func() { client.Close() }, nil

	case "zmq":
		req := request(config, payload)
		return func(ctx context.Context) (int64, error) {
			resp, err := server.SendZmq(ctx, config.Address, req)
			if err != nil {
				return 0, err
			}
			return rowsOf(resp)
		}, func() {}, nil

	case "local":
		return func(ctx context.Context) (int64, error) {
			if config.Op == "batch" {
				rec, err := local.DecodeRecordBatch(ctx, payload)
				if err != nil {
					return 0, err
				}
				defer rec.Release()
				return rec.NumRows(), nil
			}
			table, err := local.DecodeTable(ctx, payload)
			if err != nil {
				return 0, err
			}
			defer table.Release()
			return table.NumRows(), nil
		}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown target %q", config.Target)
}

func runStressTest(config StressTestConfig, payload []byte) (StressTestResult, error) {
	var (
		totalReqs    int64
		successReqs  int64
		failedReqs   int64
		rowsDecoded  int64
		totalLatency int64
		minLatency   int64 = 1<<63 - 1
		maxLatency   int64
		wg           sync.WaitGroup
	)

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	var local host.Decoder
	if config.Target == "local" {
		var err error
		if config.WasmPath == "" {
			local = host.NewInProcess()
		} else {
			local, err = host.Load(context.Background(), config.WasmPath, host.WithInstances(config.Concurrency))
		}
		if err != nil {
			return StressTestResult{}, err
		}
		defer local.Close(context.Background())
	}

	senders := make([]sender, 0, config.Concurrency)
	for i := 0; i < config.Concurrency; i++ {
		send, cleanup, err := newSender(ctx, config, payload, local)
		if err != nil {
			return StressTestResult{}, err
		}
		defer cleanup()
		senders = append(senders, send)
	}

	startTime := time.Now()

	// Start workers
	for _, send := range senders {
		wg.Add(1)
		go func(send sender) {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				rows, err := send(ctx)
				lat := int64(time.Since(start))
				if ctx.Err() != nil {
					return
				}
				atomic.AddInt64(&totalReqs, 1)

				if err != nil {
					atomic.AddInt64(&failedReqs, 1)
					// Small sleep on error to avoid hammering
					time.Sleep(10 * time.Millisecond)
					continue
				}
				atomic.AddInt64(&successReqs, 1)
				atomic.AddInt64(&rowsDecoded, rows)
				atomic.AddInt64(&totalLatency, lat)

				// Update min/max latency
				for {
					old := atomic.LoadInt64(&minLatency)
					if lat >= old || atomic.CompareAndSwapInt64(&minLatency, old, lat) {
						break
					}
				}
				for {
					old := atomic.LoadInt64(&maxLatency)
					if lat <= old || atomic.CompareAndSwapInt64(&maxLatency, old, lat) {
						break
					}
				}
			}
		}(send)
	}

	wg.Wait()

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&totalReqs)
	success := atomic.LoadInt64(&successReqs)

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&totalLatency) / success)
	}
	minLat := atomic.LoadInt64(&minLatency)
	if success == 0 {
		minLat = 0
	}

	return StressTestResult{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     atomic.LoadInt64(&failedReqs),
		RowsDecoded:    atomic.LoadInt64(&rowsDecoded),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(atomic.LoadInt64(&maxLatency)),
		RequestsPerSec: float64(total) / duration.Seconds(),
	}, nil
}

func printResults(result StressTestResult) {
	pct := func(n int64) float64 {
		if result.TotalRequests == 0 {
			return 0
		}
		return float64(n) / float64(result.TotalRequests) * 100
	}

	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, pct(result.SuccessfulReqs))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, pct(result.FailedReqs))
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Rows/sec:        %.0f\n", float64(result.RowsDecoded)/result.TotalDuration.Seconds())
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"target":      config.Target,
			"address":     config.Address,
			"op":          config.Op,
			"rows":        config.Rows,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"rows_decoded":     result.RowsDecoded,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
