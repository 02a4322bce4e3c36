package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	toAddress   string
	amount      string
	dupRate     float64
	hotKeys     int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Completed
	success202    uint64 // Submitted, completion pending
	dup409        uint64 // Duplicate rejections
	failOther     uint64
)

// successes counts 200/202 answers per identifier; more than one means a double payment.
var (
	successMu sync.Mutex
	successes = map[string]int{}
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&toAddress, "to", "", "Destination address (G... or M...)")
	flag.StringVar(&amount, "amount", "0.0000001", "Amount per payment")
	flag.Float64Var(&dupRate, "dup", 0.5, "Fraction of requests that reuse a hot identifier")
	flag.IntVar(&hotKeys, "hot-keys", 5, "Number of shared identifiers raced by workers")
}

func main() {
	flag.Parse()
	if toAddress == "" {
		log.Fatal("-to is required")
	}
	log.Printf("Starting Benchmark: dup=%.2f hot-keys=%d | Workers: %d | Duration: %s", dupRate, hotKeys, concurrency, duration)

	run := uuid.NewString()[:8]
	keys := make([]string, hotKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("bench-%s-hot-%d", run, i)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, keys)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, keys []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 30 * time.Second}

	for time.Since(start) < duration {
		identifier := "bench-" + uuid.NewString()
		if len(keys) > 0 && rand.Float64() < dupRate {
			identifier = keys[rand.Intn(len(keys))]
		}

		payload := map[string]interface{}{
			"to_address": toAddress,
			"amount":     amount,
			"memo":       "benchmark",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/a2u-send", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", identifier)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
			recordSuccess(identifier)
		case http.StatusAccepted:
			atomic.AddUint64(&success202, 1)
			recordSuccess(identifier)
		case http.StatusConflict:
			atomic.AddUint64(&dup409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func recordSuccess(identifier string) {
	successMu.Lock()
	successes[identifier]++
	successMu.Unlock()
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	s202 := atomic.LoadUint64(&success202)
	d409 := atomic.LoadUint64(&dup409)
	fErr := atomic.LoadUint64(&failOther)

	var doubled []string
	successMu.Lock()
	for id, n := range successes {
		if n > 1 {
			doubled = append(doubled, id)
		}
	}
	successMu.Unlock()

	tps := 0.0
	if d > 0 {
		tps = float64(total) / d.Seconds()
	}

	results := map[string]interface{}{
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     tps,
		"completed":          s200,
		"completion_pending": s202,
		"duplicates_409":     d409,
		"errors":             fErr,
		"double_payments":    doubled,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_dup_%.2f.json", dupRate)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("[WARN] unable to save results: %v", err)
	} else {
		defer file.Close()
		json.NewEncoder(file).Encode(results)
	}

	if len(doubled) > 0 {
		log.Fatalf("[ERROR] %d identifier(s) succeeded more than once", len(doubled))
	}
}
