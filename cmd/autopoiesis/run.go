package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davehusk/millennium-qecc/internal/api"
	"github.com/davehusk/millennium-qecc/internal/journal"
	"github.com/davehusk/millennium-qecc/internal/kernel"
	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/tracing"
)

var (
	runConfig   string
	runLogLevel string
	runLogFile  string
	runGRPC     string
	runHTTP     string
	runJournal  string
	runTraceDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the kernel and block until interrupted",
	Long: `Starts the kernel loops, spawns the startup agents and prints a status
block periodically. SIGINT or SIGTERM shuts the kernel down and prints
the final snapshot.`,
	RunE: runKernel,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runConfig, "config", "c", "", "YAML config file")
	f.StringVar(&runLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&runLogFile, "log-file", "", "Also write JSON logs to this file")
	f.StringVar(&runGRPC, "grpc", "", "gRPC health listen address (host:port or unix:///path)")
	f.StringVar(&runHTTP, "http", "", "HTTP status listen address")
	f.StringVar(&runJournal, "journal", "", "SQLite journal path")
	f.StringVar(&runTraceDir, "trace-dir", "", "Directory for JSONL span traces")
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(cmd *cobra.Command, cfg *kernel.Config) {
	overrides := []struct {
		name string
		dst  *string
		val  string
	}{
		{"log-level", &cfg.LogLevel, runLogLevel},
		{"log-file", &cfg.LogFile, runLogFile},
		{"grpc", &cfg.GRPCAddr, runGRPC},
		{"http", &cfg.HTTPAddr, runHTTP},
		{"journal", &cfg.JournalPath, runJournal},
		{"trace-dir", &cfg.TraceDir, runTraceDir},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.name) {
			*o.dst = o.val
		}
	}
}

func runKernel(cmd *cobra.Command, _ []string) error {
	cfg, err := kernel.LoadConfig(runConfig)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	if err := klog.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer klog.Close()
	log := klog.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TraceDir != "" {
		session := time.Now().Format("20060102-150405")
		shutdownTracing, err := tracing.Setup(cfg.TraceDir, session, "autopoiesis")
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Warn("trace flush failed", "error", err)
			}
		}()
		log.Info("tracing enabled", "dir", cfg.TraceDir, "session", session)
	}

	k, err := kernel.New(cfg)
	if err != nil {
		return err
	}

	var (
		j          *journal.Journal
		followDone = make(chan struct{})
	)
	followCtx, stopFollow := context.WithCancel(context.Background())
	defer stopFollow()
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		klog.AttachSink(j)
		k.SetRecorder(j)
		go func() {
			defer close(followDone)
			j.Follow(followCtx, k.System().Insights(), k.EventBus())
		}()
	} else {
		close(followDone)
	}

	if err := k.Start(ctx); err != nil {
		return err
	}

	surfaces, surfaceCtx := errgroup.WithContext(ctx)
	if cfg.GRPCAddr != "" {
		hs := api.NewHealthServer(k.System())
		surfaces.Go(func() error {
			return hs.Serve(surfaceCtx, cfg.GRPCAddr, cfg.StatusInterval)
		})
	}
	if cfg.HTTPAddr != "" {
		surfaces.Go(func() error {
			return api.ServeHTTP(surfaceCtx, cfg.HTTPAddr, api.NewRouter(k.System()))
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "autopoiesis kernel started (%d startup agents)\n", k.System().Count())
	reportStatus(surfaceCtx, out, k, cfg.StatusInterval)

	if ctx.Err() != nil {
		log.Info("shutdown signal received")
	}
	stop()

	final := k.Shutdown(context.Background())
	surfaceErr := surfaces.Wait()
	stopFollow()
	<-followDone

	fmt.Fprintln(out, "final snapshot:")
	printStatus(out, final)
	return surfaceErr
}

// reportStatus prints a status block every interval until ctx is done.
func reportStatus(ctx context.Context, w io.Writer, k *kernel.Kernel, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printStatus(w, k.System().HealthCheck())
		}
	}
}
