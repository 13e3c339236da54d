// batchservice encrypts one blob on Azure Batch: it submits a job with an
// auto pool and a single task, waits for it, prints the task output and
// deletes the pool and job.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"github.com/andrej220/blobcrypt/internal/bootstrap"
	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/internal/orchestrator"
	"github.com/andrej220/blobcrypt/pkg/batch"
	"github.com/andrej220/blobcrypt/pkg/config"
	"github.com/andrej220/blobcrypt/pkg/lg"
)

const (
	serviceName = "batchservice"
	usage       = "Expected parameters <source-container> <source-blob> <destination-container> <destination-blob>"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	stop()
	os.Exit(code)
}

// run is main without the process. A nil svc is built from configuration.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, svc batch.Service) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	logCfg := lg.RegisterFlags(fs, serviceName)
	configPath := fs.String("config", "", "optional YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 4 {
		fmt.Fprintln(stdout, usage)
		return 0
	}

	logger := lg.New(logCfg)
	defer logger.Sync()
	ctx = lg.Attach(ctx, logger)

	store, err := config.Open(*configPath, serviceName)
	if err != nil {
		return fail(stderr, logger, fmt.Errorf("open config: %w", err))
	}
	if store != nil {
		defer store.Close()
	}
	cfg := bootstrap.DefaultBatch()
	if err := config.LoadFrom(store, &cfg, cfg.Overrides()...); err != nil {
		return fail(stderr, logger, fmt.Errorf("load config: %w", err))
	}
	if svc == nil {
		if svc, err = cfg.Service(ctx); err != nil {
			return fail(stderr, logger, err)
		}
	}
	runs, err := cfg.RunStore(ctx)
	if err != nil {
		return fail(stderr, logger, err)
	}
	defer runs.Close(context.WithoutCancel(ctx))

	a := fs.Args()
	p := jobspec.Params{SourceContainer: a[0], SourceBlob: a[1], DestinationContainer: a[2], DestinationBlob: a[3]}
	res, err := orchestrator.Run(ctx, cfg.Deps(svc, runs, ""), p)
	if err != nil {
		return fail(stderr, logger, err)
	}

	for _, out := range res.Outputs {
		fmt.Fprintf(stdout, "Task: %s\n", out.TaskID)
		fmt.Fprintf(stdout, "Standard out:\n%s\n", out.Stdout)
		fmt.Fprintf(stdout, "Standard error:\n%s\n", out.Stderr)
	}
	logger.Info("run finished",
		lg.String("run_id", res.RunID),
		lg.String("job_id", res.JobID),
		lg.String("state", string(res.State)))
	return 0
}

// fail prints every error in the chain on its own line.
func fail(w io.Writer, logger lg.Logger, err error) int {
	logger.Error("batchservice failed", lg.Err(err))
	for _, e := range multierr.Errors(err) {
		fmt.Fprintln(w, "Error:", e)
	}
	return 1
}
