// encryptdispatcher consumes queued requests and runs them against Azure
// Batch: encryption requests run the full job lifecycle, cleanup requests
// delete the pool and job left for an encrypted blob.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/andrej220/blobcrypt/internal/bootstrap"
	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/internal/orchestrator"
	"github.com/andrej220/blobcrypt/pkg/batch"
	"github.com/andrej220/blobcrypt/pkg/config"
	"github.com/andrej220/blobcrypt/pkg/kafkautil"
	"github.com/andrej220/blobcrypt/pkg/lg"
	"github.com/andrej220/blobcrypt/pkg/runstore"
	dm "github.com/andrej220/blobcrypt/pkg/shared-models"
	"github.com/andrej220/blobcrypt/pkg/workerpool"
)

type requestReader interface {
	Read(ctx context.Context) (dm.Request, error)
	Close() error
}

type Dispatcher struct {
	svc      batch.Service
	runs     runstore.Store
	pool     *workerpool.Pool[dm.Request]
	attempts int
	// batch holds the job settings; Reload swaps it while requests run.
	batch atomic.Pointer[bootstrap.Batch]
}

func NewDispatcher(svc batch.Service, runs runstore.Store, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		svc:      svc,
		runs:     runs,
		pool:     workerpool.NewPool[dm.Request](cfg.Workers),
		attempts: cfg.Attempts,
	}
	b := cfg.Batch
	d.batch.Store(&b)
	return d
}

// Reload replaces the job settings, timeout and poll interval used by
// requests dispatched from now on.
func (d *Dispatcher) Reload(cfg DispatcherConfig) {
	b := cfg.Batch
	d.batch.Store(&b)
}

// Handle runs one request. Encrypt requests with Wait set run the whole job
// lifecycle; without it the job is only submitted.
func (d *Dispatcher) Handle(ctx context.Context, req dm.Request) error {
	switch req.Kind {
	case dm.KindEncrypt:
		return d.encrypt(ctx, req)
	case dm.KindCleanup:
		return d.cleanup(ctx, req)
	default:
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
}

func (d *Dispatcher) encrypt(ctx context.Context, req dm.Request) error {
	p := jobspec.Params{
		SourceContainer:      req.SourceContainer,
		SourceBlob:           req.SourceBlob,
		DestinationContainer: req.DestinationContainer,
		DestinationBlob:      req.DestinationBlob,
	}
	if p.DestinationContainer == "" {
		p.DestinationContainer = jobspec.DefaultDestinationContainer
	}
	if p.DestinationBlob == "" {
		p.DestinationBlob = jobspec.DestinationFor(p.SourceBlob)
	}
	deps := d.batch.Load().Deps(d.svc, d.runs, req.ExecutionUID.String())
	if !req.Wait {
		// the cleanup request for the encrypted blob deletes pool and job
		res, err := orchestrator.Submit(ctx, deps, p)
		if err != nil {
			return err
		}
		lg.FromContext(ctx).Info("encryption submitted", lg.String("job_id", res.JobID))
		return nil
	}
	res, err := orchestrator.Run(ctx, deps, p)
	if err != nil {
		return err
	}
	lg.FromContext(ctx).Info("encryption finished",
		lg.String("job_id", res.JobID),
		lg.String("state", string(res.State)),
		lg.Any("summary", res.Summary))
	return nil
}

// cleanup deletes what an encryption job left behind once its output blob
// has been picked up. A missing pool or job counts as already deleted.
func (d *Dispatcher) cleanup(ctx context.Context, req dm.Request) error {
	container := req.DestinationContainer
	if container == "" {
		container = jobspec.DefaultDestinationContainer
	}
	jobID := jobspec.JobID(container, req.DestinationBlob)
	rec := runstore.NewRecord(runstore.KindCleanup, jobID, jobspec.PoolID(jobID))
	rec.RequestID = req.ExecutionUID.String()
	rec.DestinationContainer, rec.DestinationBlob = container, req.DestinationBlob

	err := ignoreNotFound(orchestrator.Cleanup(ctx, d.svc, jobID))
	if err != nil {
		rec.CleanupError = err.Error()
		rec.Transition("cleanup_failed")
	} else {
		rec.Transition(string(orchestrator.StateCleanedUp))
	}
	rec.FinishedAt = time.Now().UTC()
	if serr := d.runs.Save(context.WithoutCancel(ctx), rec); serr != nil {
		lg.FromContext(ctx).Warn("failed to save run record", lg.Err(serr))
	}
	return err
}

func ignoreNotFound(err error) error {
	var kept error
	for _, e := range multierr.Errors(err) {
		if !batch.IsNotFound(e) {
			kept = multierr.Append(kept, e)
		}
	}
	return kept
}

// Consume reads requests until ctx is done and hands each to the worker pool.
// Undecodable messages are logged and skipped.
func (d *Dispatcher) Consume(ctx context.Context, reader requestReader) error {
	log := lg.FromContext(ctx)
	for {
		req, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var decErr *kafkautil.DecodeError
			if errors.As(err, &decErr) {
				log.Warn("skipping undecodable request", lg.Err(err))
				continue
			}
			return fmt.Errorf("read request: %w", err)
		}

		rlog := log.With(lg.String("exuid", req.ExecutionUID.String()), lg.String("kind", string(req.Kind)))
		job := workerpool.Job[dm.Request]{
			Payload: req,
			Fn:      d.Handle,
			Ctx:     lg.Attach(ctx, rlog),
		}
		if req.Kind == dm.KindCleanup {
			job.Attempts = d.attempts
			job.RetryDelay = time.Second
		}
		if err := d.pool.Submit(job); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("submit request: %w", err)
		}
	}
}

// Stop waits for running requests.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

func main() {
	fs := flag.NewFlagSet(serviceName, flag.ExitOnError)
	logCfg := lg.RegisterFlags(fs, serviceName)
	configPath := fs.String("config", "", "YAML config file, watched for job setting changes; CONFIG_COLLECTION with MONGO_URI reads it from Mongo instead")
	fs.Parse(os.Args[1:])

	logger := lg.New(logCfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = lg.Attach(ctx, logger)

	if err := run(ctx, *configPath); err != nil {
		logger.Error("dispatcher stopped", lg.Err(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	logger := lg.FromContext(ctx)
	store, err := config.Open(configPath, serviceName)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	if store != nil {
		defer store.Close()
	}
	cfg := defaultDispatcherConfig()
	if err := config.LoadFrom(store, &cfg, cfg.overrides()...); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := cfg.Service(ctx)
	if err != nil {
		return err
	}
	runs, err := cfg.RunStore(ctx)
	if err != nil {
		return err
	}
	defer runs.Close(context.WithoutCancel(ctx))

	d := NewDispatcher(svc, runs, cfg)
	defer d.Stop()

	if store != nil {
		reload := func() {
			next := defaultDispatcherConfig()
			if err := config.LoadFrom(store, &next, next.overrides()...); err != nil {
				logger.Warn("config reload failed, keeping previous settings", lg.Err(err))
				return
			}
			d.Reload(next)
			logger.Info("config reloaded", lg.String("vm_size", next.Job.VMSize), lg.Duration("timeout", next.Timeout))
		}
		if err := store.Watch(reload, ctx.Done()); err != nil {
			logger.Warn("config watch disabled", lg.Err(err))
		}
	}

	reader := kafkautil.NewConsumer[dm.Request](kafkautil.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer reader.Close()

	logger.Info("consuming requests",
		lg.Strings("brokers", cfg.Kafka.Brokers),
		lg.String("topic", cfg.Kafka.Topic),
		lg.Int("workers", cfg.Workers))
	return d.Consume(ctx, reader)
}
