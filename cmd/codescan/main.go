// Command codescan is the CLI for the codescan DLP engine.
//
// Usage:
//
//	codescan index /srv/protected
//	codescan scan /home --workers 8
//	codescan results
//	codescan status
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/lucamihailescu/codescan/pkg/config"
	"github.com/lucamihailescu/codescan/pkg/logger"
	"github.com/lucamihailescu/codescan/pkg/pipeline"
	"github.com/lucamihailescu/codescan/pkg/progress"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Index   IndexCmd   `cmd:"" help:"Index a protected directory."`
	Scan    ScanCmd    `cmd:"" help:"Scan a directory against the index."`
	Results ResultsCmd `cmd:"" help:"Show scan results."`
	Status  StatusCmd  `cmd:"" help:"Show storage health and counters."`

	EnvFile   string `short:"e" help:"Path to the configuration dotfile." default:".env" type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"warn"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("codescan version %s\n", version)
	return nil
}

// IndexCmd runs the indexer pipeline over a directory.
type IndexCmd struct {
	Dir     string `arg:"" help:"Directory to index." type:"path"`
	Workers int    `help:"Worker pool size (enables parallel mode)." default:"0"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	engine, cleanup, err := buildEngine(cli, c.Workers)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, taskID := runContext(engine)
	fmt.Printf("Indexing %s (task %s)\n", c.Dir, taskID)

	watchDone := watchProgress(engine.Progress(), taskID)
	err = engine.Index(ctx, c.Dir, taskID)
	watchDone()

	task, _ := engine.Progress().Get(taskID)
	fmt.Printf("\n%s: %d/%d files, %d indexed", task.Status, task.FilesProcessed, task.TotalFiles, task.FilesIndexed)
	if task.AccessDenied > 0 {
		fmt.Printf(", %d access denied", task.AccessDenied)
	}
	fmt.Println()
	return err
}

// ScanCmd runs the scanner pipeline over a directory.
type ScanCmd struct {
	Dir     string `arg:"" help:"Directory to scan." type:"path"`
	Workers int    `help:"Worker pool size (enables parallel mode)." default:"0"`
}

func (c *ScanCmd) Run(cli *CLI) error {
	engine, cleanup, err := buildEngine(cli, c.Workers)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, scanID := runContext(engine)
	fmt.Printf("Scanning %s (scan %s)\n", c.Dir, scanID)

	watchDone := watchProgress(engine.Progress(), scanID)
	err = engine.Scan(ctx, c.Dir, scanID)
	watchDone()

	task, _ := engine.Progress().Get(scanID)
	fmt.Printf("\n%s: %d/%d files, %d matches\n", task.Status, task.FilesProcessed, task.TotalFiles, task.MatchesFound)
	if err != nil {
		return err
	}

	backend, err := engine.Store().Open(context.Background())
	if err != nil {
		return err
	}
	defer backend.Close()

	results, err := backend.ResultsForScan(context.Background(), scanID)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("  %-15s %.2f  %s -> %s\n", r.MatchKind, r.Score, r.ScannedPath, r.MatchedFilePath)
	}
	return nil
}

// ResultsCmd lists scan summaries, or one scan's results.
type ResultsCmd struct {
	ScanID string `arg:"" optional:"" help:"Scan id to show results for."`
}

func (c *ResultsCmd) Run(cli *CLI) error {
	engine, cleanup, err := buildEngine(cli, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	backend, err := engine.Store().Open(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	if c.ScanID != "" {
		results, err := backend.ResultsForScan(ctx, c.ScanID)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%-15s %.2f  %s -> %s\n", r.MatchKind, r.Score, r.ScannedPath, r.MatchedFilePath)
		}
		return nil
	}

	summaries, err := backend.ScansSummary(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		fmt.Printf("%s  %d match(es)  %s\n", s.ScanID, s.MatchesCount, s.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// StatusCmd reports backend health and store counters.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	engine, cleanup, err := buildEngine(cli, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if !engine.Store().HealthCheck(ctx) {
		fmt.Println("storage: unavailable")
		return nil
	}

	backend, err := engine.Store().Open(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	count, err := backend.Count(ctx)
	if err != nil {
		return err
	}
	scans, err := backend.DistinctScanCount(ctx)
	if err != nil {
		return err
	}
	matches, err := backend.ResultCount(ctx)
	if err != nil {
		return err
	}

	fmt.Println("storage: healthy")
	fmt.Printf("indexed files: %d\n", count)
	fmt.Printf("scans: %d, recorded matches: %d\n", scans, matches)
	for dsn, stats := range engine.Store().PoolStats() {
		fmt.Printf("pool %s: %v\n", dsn, stats)
	}
	return nil
}

// buildEngine loads configuration and wires an engine, optionally forcing a
// parallel worker count from the command line.
func buildEngine(cli *CLI, workers int) (*pipeline.Engine, func(), error) {
	cfg, err := config.Load(cli.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	if workers > 0 {
		cfg.Storage.Threading.Enabled = true
		cfg.Storage.Threading.MaxWorkers = workers
		cfg.Storage.Threading.SetDefaults()
	}

	engine := pipeline.NewDefaultEngine(cfg)
	cleanup := func() {
		if err := engine.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}
	return engine, cleanup, nil
}

// runContext returns a task id and a context; the first interrupt cancels
// the task cooperatively, the second cancels the returned context so the
// run stops without waiting for in-flight files.
func runContext(engine *pipeline.Engine) (context.Context, string) {
	taskID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ncancelling, press ctrl-c again to force quit")
		engine.Cancel(taskID)
		<-sigCh
		cancel()
	}()

	return ctx, taskID
}

// watchProgress subscribes to task updates and redraws a single status
// line; it also polls on a heartbeat in case publishes were dropped.
func watchProgress(store *progress.Store, taskID string) func() {
	updates := store.Subscribe(taskID)
	stop := make(chan struct{})
	done := make(chan struct{})

	print := func(p progress.TaskProgress) {
		if p.TotalFiles == 0 {
			return
		}
		fmt.Printf("\r\033[K%5.1f%% | %d/%d files", p.ProgressPercent(), p.FilesProcessed, p.TotalFiles)
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case p := <-updates:
				print(p)
			case <-ticker.C:
				if p, ok := store.Get(taskID); ok {
					print(p)
				}
			case <-stop:
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		store.Unsubscribe(taskID, updates)
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("codescan"),
		kong.Description("Data-loss-prevention engine: index protected files, scan for copies and derivatives."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "codescan: %v\n", err)
		os.Exit(1)
	}
}
