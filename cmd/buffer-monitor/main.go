// Command buffer-monitor is the operator CLI for the persistent message
// buffer (spec.md §6.3): stats, monitor, pending, failed, cleanup, reset,
// and export subcommands against a store file, with exit codes distinct
// from a general process crash so scripts can branch on outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/armorclaw/iobridge/internal/buffer"
	"github.com/armorclaw/iobridge/internal/buffercfg"
	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
	"github.com/armorclaw/iobridge/internal/store"
)

// Exit codes per spec.md §6.3.
const (
	exitOK           = 0
	exitUsageError   = 1
	exitStoreError   = 2
	exitOperatorAbort = 3
)

type cliConfig struct {
	command    string
	configPath string
	limit      int
	yes        bool
	outputPath string
	follow     bool
}

func parseFlags() (cliConfig, error) {
	var cfg cliConfig
	if len(os.Args) < 2 {
		return cfg, fmt.Errorf("usage: buffer-monitor <stats|monitor|pending|failed|cleanup|reset|export> [flags]")
	}
	cfg.command = os.Args[1]

	fs := flag.NewFlagSet(cfg.command, flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "", "path to config.yaml")
	fs.IntVar(&cfg.limit, "limit", 20, "max rows to display")
	fs.BoolVar(&cfg.yes, "yes", false, "skip interactive confirmation")
	fs.StringVar(&cfg.outputPath, "output", "", "output file path (export)")
	fs.BoolVar(&cfg.follow, "follow", false, "keep polling stats until interrupted (monitor)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	cli, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}

	cfg, err := buffercfg.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: load config: %v\n", err)
		os.Exit(exitUsageError)
	}
	logging.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logging.Global()

	ctx := context.Background()
	storeCfg := store.Config{DBPath: cfg.Buffer.DBPath}
	var st *store.Store
	if store.ReadOnlyCommand(cli.command) {
		// Query-only subcommands never need the exclusive lock, so they
		// can inspect a store file while a bridge process has it open.
		st, err = store.OpenReadOnly(ctx, storeCfg)
	} else {
		st, err = store.Open(ctx, storeCfg, nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: open store: %v\n", err)
		os.Exit(exitStoreError)
	}
	defer st.Close()

	mapper := mapping.New(nil)
	buf := buffer.New(st, mapper, buffer.Config{MaxSize: cfg.Buffer.MaxSize}, log)

	var code int
	switch cli.command {
	case "stats":
		code = runStats(ctx, buf)
	case "monitor":
		code = runMonitor(ctx, buf, cli.follow)
	case "pending":
		code = runPending(ctx, buf, cli.limit)
	case "failed":
		code = runFailed(ctx, buf, cli.limit)
	case "cleanup":
		code = runCleanup(ctx, buf, cfg.Retention())
	case "reset":
		code = runReset(ctx, buf, cli.yes)
	case "export":
		code = runExport(ctx, buf, cli.outputPath)
	default:
		fmt.Fprintf(os.Stderr, "buffer-monitor: unknown command %q\n", cli.command)
		code = exitUsageError
	}
	os.Exit(code)
}

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	styleLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleValue  = lipgloss.NewStyle().Bold(true)
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func renderStats(stats model.Stats) string {
	if !isTerminal() {
		return fmt.Sprintf("pending=%d processing=%d completed=%d failed=%d expired=%d",
			stats.Pending, stats.Processing, stats.Completed, stats.Failed, stats.Expired)
	}
	return styleHeader.Render("buffer stats") + "\n" +
		styleLabel.Render("pending:    ") + styleValue.Render(fmt.Sprint(stats.Pending)) + "\n" +
		styleLabel.Render("processing: ") + styleValue.Render(fmt.Sprint(stats.Processing)) + "\n" +
		styleLabel.Render("completed:  ") + styleValue.Render(fmt.Sprint(stats.Completed)) + "\n" +
		styleLabel.Render("failed:     ") + styleValue.Render(fmt.Sprint(stats.Failed)) + "\n" +
		styleLabel.Render("expired:    ") + styleValue.Render(fmt.Sprint(stats.Expired))
}

func runStats(ctx context.Context, buf *buffer.Buffer) int {
	stats, err := buf.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: stats: %v\n", err)
		return exitStoreError
	}
	fmt.Println(renderStats(stats))
	return exitOK
}

func runMonitor(ctx context.Context, buf *buffer.Buffer, follow bool) int {
	stats, err := buf.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: monitor: %v\n", err)
		return exitStoreError
	}
	fmt.Println(renderStats(stats))
	if !follow {
		return exitOK
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return exitOK
		case <-ticker.C:
			stats, err := buf.Stats(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "buffer-monitor: monitor: %v\n", err)
				return exitStoreError
			}
			fmt.Println(renderStats(stats))
		}
	}
}

func runPending(ctx context.Context, buf *buffer.Buffer, limit int) int {
	msgs, err := buf.Pending(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: pending: %v\n", err)
		return exitStoreError
	}
	for _, m := range msgs {
		fmt.Printf("#%d  %s -> %s  %s  priority=%d retries=%d/%d\n",
			m.ID, m.Source, m.Destination, m.TopicOrNode, m.Priority, m.RetryCount, m.MaxRetries)
	}
	return exitOK
}

func runFailed(ctx context.Context, buf *buffer.Buffer, limit int) int {
	msgs, err := buf.Failed(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: failed: %v\n", err)
		return exitStoreError
	}
	for _, m := range msgs {
		fmt.Printf("#%d (orig #%d)  %s -> %s  %s  reason=%s  error=%q\n",
			m.ID, m.OriginalID, m.Source, m.Destination, m.TopicOrNode, m.ArchiveReason, m.ErrorMessage)
	}
	return exitOK
}

func runCleanup(ctx context.Context, buf *buffer.Buffer, retention time.Duration) int {
	n, err := buf.Cleanup(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: cleanup: %v\n", err)
		return exitStoreError
	}
	fmt.Printf("removed %d completed messages older than %s\n", n, retention)
	return exitOK
}

func runReset(ctx context.Context, buf *buffer.Buffer, skipConfirm bool) int {
	if !skipConfirm {
		var confirmed bool
		err := huh.NewConfirm().
			Title("Reset all processing messages to pending?").
			Description("This clears worker leases. In-flight deliveries may be duplicated.").
			Affirmative("Yes, reset").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil || !confirmed {
			fmt.Fprintln(os.Stderr, "buffer-monitor: reset aborted by operator")
			return exitOperatorAbort
		}
	}
	n, err := buf.ResetProcessing(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: reset: %v\n", err)
		return exitStoreError
	}
	fmt.Printf("reset %d processing messages to pending\n", n)
	return exitOK
}

func runExport(ctx context.Context, buf *buffer.Buffer, outputPath string) int {
	history, err := buf.MetricHistory(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buffer-monitor: export: %v\n", err)
		return exitStoreError
	}
	w := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "buffer-monitor: export: %v\n", err)
			return exitStoreError
		}
		defer f.Close()
		w = f
	}
	fmt.Fprintln(w, "timestamp,metric_name,metric_value")
	for _, snap := range history {
		fmt.Fprintf(w, "%s,%s,%g\n", snap.Timestamp.Format(time.RFC3339), snap.Name, snap.Value)
	}
	return exitOK
}
