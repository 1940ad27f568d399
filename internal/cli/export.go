package cli

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"wsstress/internal/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func exportReports(prefix string, summary *stats.RunSummary) {
	if err := exportCSV(summary, prefix+".csv"); err != nil {
		fmt.Printf("csv export failed: %v\n", err)
	}
	if err := exportJSON(summary, prefix+"_summary.json"); err != nil {
		fmt.Printf("json export failed: %v\n", err)
	}
	fmt.Printf("Reports saved to %s.csv and %s_summary.json\n", prefix, prefix)
}

// exportCSV writes one row per batch.
func exportCSV(summary *stats.RunSummary, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"batch", "requested", "attempted", "succeeded", "failed",
		"success_rate", "min_response_ms", "avg_response_ms", "max_response_ms",
		"elapsed_ms",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, bs := range summary.Batches {
		minMs, avgMs, maxMs := "", "", ""
		if bs.HasResponseTimes {
			minMs = fmt.Sprintf("%.2f", float64(bs.MinResponse.Microseconds())/1000.0)
			avgMs = fmt.Sprintf("%.2f", float64(bs.AvgResponse.Microseconds())/1000.0)
			maxMs = fmt.Sprintf("%.2f", float64(bs.MaxResponse.Microseconds())/1000.0)
		}
		record := []string{
			strconv.Itoa(bs.Index),
			strconv.Itoa(bs.Requested),
			strconv.Itoa(bs.Attempted),
			strconv.Itoa(bs.Succeeded),
			strconv.Itoa(bs.Failed),
			fmt.Sprintf("%.2f", bs.SuccessRate),
			minMs, avgMs, maxMs,
			strconv.FormatInt(bs.Elapsed.Milliseconds(), 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func exportJSON(summary *stats.RunSummary, filename string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
