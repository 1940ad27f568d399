// Package cli runs a complete headless test: banner, system context, the
// stability scan with live batch output, final report, history, export.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"wsstress/internal/config"
	"wsstress/internal/report"
	"wsstress/internal/runner"
	"wsstress/internal/stats"
	"wsstress/internal/storage"
	"wsstress/internal/sysinfo"
)

// Options carries the presentation-layer knobs that are not part of the
// core RunConfig.
type Options struct {
	// OutPrefix enables CSV/JSON export when non-empty.
	OutPrefix string
	// NoHistory skips persisting the run.
	NoHistory bool
}

func Start(cfg *config.Config, opts Options) error {
	printHeader(cfg)
	printSystemInfo()

	before, netErr := sysinfo.ReadNetCounters()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := runner.NewEngine(cfg)

	done := make(chan *stats.RunSummary, 1)
	go func() { done <- eng.Run(ctx) }()

	// Updates closes after the last batch is published, so draining it to
	// closure prints every batch line before the summary arrives.
	for bs := range eng.Updates {
		fmt.Println(report.BatchLine(cfg, bs))
	}
	summary := <-done

	report.PrintSummary(cfg, summary)

	if netErr == nil {
		if after, err := sysinfo.ReadNetCounters(); err == nil {
			fmt.Printf("\nNetwork IO during run: sent %.2f MB, received %.2f MB, errors %d\n",
				float64(after.BytesSent-before.BytesSent)/1024/1024,
				float64(after.BytesRecv-before.BytesRecv)/1024/1024,
				after.Errors-before.Errors)
		}
	}

	if !opts.NoHistory {
		saveHistory(cfg, summary)
	}
	if opts.OutPrefix != "" {
		exportReports(opts.OutPrefix, summary)
	}

	if summary.StoppedReason == stats.StopError {
		return fmt.Errorf("run failed: %s", summary.Error)
	}
	return nil
}

func printHeader(cfg *config.Config) {
	fmt.Println("======================================================================")
	fmt.Println("PROGRESSIVE WEBSOCKET CONNECTION STRESS TEST")
	fmt.Println("======================================================================")
	fmt.Printf("Target     : %s\n", cfg.URL())
	fmt.Printf("Scan       : %d -> %d connections, step %d\n", cfg.StartCount, cfg.MaxCount, cfg.Increment)
	fmt.Printf("Hold       : %s per batch", cfg.BatchDuration)
	if cfg.ConnectionDelay > 0 {
		fmt.Printf(", %s between launches", cfg.ConnectionDelay)
	}
	fmt.Println()
	fmt.Printf("Threshold  : %.1f%% success rate\n", cfg.StabilityThreshold)
	if cfg.Cumulative {
		fmt.Println("Mode       : cumulative (previous connections stay open)")
	}
	if cfg.Exhaustive {
		fmt.Println("Policy     : exhaustive scan (no early stop on instability)")
	}
	fmt.Println("======================================================================")
}

func printSystemInfo() {
	info := sysinfo.Collect()
	fmt.Println("\nSYSTEM INFORMATION:")
	fmt.Printf("  os:           %s\n", info.OS)
	fmt.Printf("  hostname:     %s\n", info.Hostname)
	fmt.Printf("  cpu_usage:    %.1f%%\n", info.CPUPercent)
	fmt.Printf("  memory_usage: %.1f%%\n", info.MemPercent)
	if len(info.Interfaces) > 0 {
		fmt.Println("  interfaces:")
		for _, iface := range info.Interfaces {
			fmt.Printf("    %s: %s\n", iface.Name, iface.Addr)
		}
	}
	fmt.Println()
}

func saveHistory(cfg *config.Config, summary *stats.RunSummary) {
	path, err := storage.DefaultPath()
	if err != nil {
		log.Printf("history disabled: %v", err)
		return
	}
	store, err := storage.Open(path)
	if err != nil {
		log.Printf("history disabled: %v", err)
		return
	}
	defer store.Close()

	item := storage.HistoryItem{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Target:    cfg.URL(),
		Config:    cfg,
		Summary:   summary,
	}
	if err := store.Save(item); err != nil {
		log.Printf("could not save run history: %v", err)
		return
	}
	fmt.Printf("\nRun saved to history (%s)\n", item.ID)
}

// History prints the persisted runs, newest first.
func History() error {
	path, err := storage.DefaultPath()
	if err != nil {
		return err
	}
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	items := store.List()
	if len(items) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	for _, item := range items {
		s := item.Summary
		fmt.Printf("%s  %s  %s\n", item.Timestamp.Format(time.RFC3339), item.ID, item.Target)
		if s != nil {
			fmt.Printf("    batches %d, max stable %d, stopped: %s\n",
				len(s.Batches), s.MaxStableCount, s.StoppedReason)
		}
	}
	return nil
}
