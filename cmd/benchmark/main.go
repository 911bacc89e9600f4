// Benchmark tool for testing Kestrel against labeled merchant data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/merchants.csv -url http://localhost:8080
//
// This tool:
//   1. Reads merchant snapshot data (with expected-issue labels)
//   2. Ingests each snapshot into Kestrel
//   3. Requests a troubleshooting report per merchant
//   4. Compares Kestrel's verdict (risky / clean) with the labels
//   5. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MerchantRow represents a row from the benchmark dataset.
type MerchantRow struct {
	MerchantID       string
	MerchantName     string
	Country          string
	City             string
	ConversionRate   float64
	ErrorRate        float64
	TransactionCount int64
	HasIssue         bool
}

// SnapshotRequest is the Kestrel ingestion request format.
type SnapshotRequest struct {
	MerchantID       string  `json:"merchantId"`
	MerchantName     string  `json:"merchantName"`
	Country          string  `json:"country,omitempty"`
	City             string  `json:"city,omitempty"`
	ConversionRate   float64 `json:"conversionRate"`
	ErrorRate        float64 `json:"errorRate"`
	TransactionCount int64   `json:"transactionCount"`
}

// ReportResponse is the Kestrel report response format.
type ReportResponse struct {
	MerchantID string `json:"merchantId"`
	RiskScore  int    `json:"riskScore"`
	Issues     []struct {
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
	} `json:"issues"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Labeled issue, flagged risky
	FalsePositives int64 // Labeled clean, flagged risky
	TrueNegatives  int64 // Labeled clean, reported clean
	FalseNegatives int64 // Labeled issue, reported clean (missed!)

	TotalProcessed int64
	TotalLabeled   int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to merchant CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum merchants to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	riskThreshold := flag.Int("risk", 20, "Risk score at or above which a merchant counts as risky")
	verbose := flag.Bool("verbose", false, "Print each merchant result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/merchants.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Merchant Issue Detection           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:       %s\n", *csvPath)
	fmt.Printf("Kestrel URL:    %s\n", *baseURL)
	fmt.Printf("Tenant ID:      %s\n", *tenantID)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Printf("Limit:          %d\n", *limit)
	fmt.Printf("Risk Threshold: %d\n", *riskThreshold)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading merchant data from %s...\n", *csvPath)
	merchants, err := readMerchantCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d merchants\n", len(merchants))

	labeled := 0
	for _, m := range merchants {
		if m.HasIssue {
			labeled++
		}
	}
	fmt.Printf("  - With issues: %d (%.2f%%)\n", labeled, 100*float64(labeled)/float64(len(merchants)))
	fmt.Printf("  - Clean:       %d (%.2f%%)\n", len(merchants)-labeled, 100*float64(len(merchants)-labeled)/float64(len(merchants)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(merchants, *baseURL, *tenantID, *workers, *riskThreshold, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readMerchantCSV(path string, limit int) ([]MerchantRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var merchants []MerchantRow

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		conversion, _ := strconv.ParseFloat(record[colIndex["conversion_rate"]], 64)
		errRate, _ := strconv.ParseFloat(record[colIndex["error_rate"]], 64)
		txCount, _ := strconv.ParseInt(record[colIndex["transaction_count"]], 10, 64)

		row := MerchantRow{
			MerchantID:       record[colIndex["merchant_id"]],
			MerchantName:     record[colIndex["merchant_name"]],
			ConversionRate:   conversion,
			ErrorRate:        errRate,
			TransactionCount: txCount,
			HasIssue:         record[colIndex["has_issue"]] == "1",
		}
		if i, ok := colIndex["country"]; ok {
			row.Country = record[i]
		}
		if i, ok := colIndex["city"]; ok {
			row.City = record[i]
		}

		merchants = append(merchants, row)

		if limit > 0 && len(merchants) >= limit {
			break
		}
	}

	return merchants, nil
}

func runBenchmark(merchants []MerchantRow, baseURL, tenantID string, numWorkers, riskThreshold int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan MerchantRow, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for m := range work {
				start := time.Now()
				report, err := scanMerchant(client, baseURL, tenantID, m)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", m.MerchantID, err)
					}
					continue
				}

				if m.HasIssue {
					atomic.AddInt64(&metrics.TotalLabeled, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				predicted := report.RiskScore >= riskThreshold
				actual := m.HasIssue

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Conv: %.2f | Err: %.2f | Labeled: %-5v | Kestrel: %3d | Issues: %d\n",
						status,
						m.MerchantID,
						m.ConversionRate,
						m.ErrorRate,
						m.HasIssue,
						report.RiskScore,
						len(report.Issues),
					)
				}
			}
		}()
	}

	for _, m := range merchants {
		work <- m
	}
	close(work)

	wg.Wait()

	return metrics
}

func scanMerchant(client *http.Client, baseURL, tenantID string, m MerchantRow) (*ReportResponse, error) {
	// Ingest the snapshot first.
	snap := SnapshotRequest{
		MerchantID:       m.MerchantID,
		MerchantName:     m.MerchantName,
		Country:          m.Country,
		City:             m.City,
		ConversionRate:   m.ConversionRate,
		ErrorRate:        m.ErrorRate,
		TransactionCount: m.TransactionCount,
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	ingestReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/snapshots", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	ingestReq.Header.Set("Content-Type", "application/json")
	ingestReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(ingestReq)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("ingest status %d", resp.StatusCode)
	}

	// Then request the report.
	reportReq, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/merchants/"+m.MerchantID+"/report", nil)
	if err != nil {
		return nil, err
	}
	reportReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err = client.Do(reportReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("report status %d", resp.StatusCode)
	}

	var result ReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Labeled Issues:   %d\n", m.TotalLabeled)
	fmt.Printf("   Labeled Clean:    %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   RISKY       CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  I  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of risky verdicts, how many had real issues)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of real issues, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct verdicts)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		mps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f merchants/sec\n", mps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most merchant issues")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some issues")
	} else {
		fmt.Println("   ❌ Poor recall - most issues are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - risky verdicts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
