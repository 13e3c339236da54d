// encryptproducer accepts encryption and cleanup requests over HTTP and
// queues them on Kafka for the dispatcher.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/pkg/config"
	"github.com/andrej220/blobcrypt/pkg/kafkautil"
	"github.com/andrej220/blobcrypt/pkg/lg"
	"github.com/andrej220/blobcrypt/pkg/serverutil"
	dm "github.com/andrej220/blobcrypt/pkg/shared-models"
)

type publisher interface {
	Write(ctx context.Context, key []byte, value dm.Request) error
	Close() error
}

type Handler struct {
	queue  publisher
	cfg    ProducerConfig
	lg     lg.Logger
	newUID func() uuid.UUID
}

func newHandler(queue publisher, cfg ProducerConfig, logger lg.Logger) *Handler {
	return &Handler{queue: queue, cfg: cfg, lg: logger, newUID: uuid.New}
}

// complete fills what the caller may leave out: the execution id and, for
// encryption, the destination derived from the source blob.
func (h *Handler) complete(r dm.Request) dm.Request {
	r.ExecutionUID = h.newUID()
	if r.DestinationContainer == "" {
		r.DestinationContainer = h.cfg.DestinationContainer
	}
	if r.Kind == dm.KindEncrypt && r.DestinationBlob == "" {
		r.DestinationBlob = jobspec.DestinationFor(r.SourceBlob)
	}
	return r
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	request, ok := serverutil.RequestFrom[dm.Request](r.Context())
	if !ok {
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}
	ctx, cancel := context.WithTimeout(lg.Attach(r.Context(), h.lg), h.cfg.Service.Timeout)
	defer cancel()

	request = h.complete(request)
	log := h.lg.With(lg.String("exuid", request.ExecutionUID.String()), lg.String("kind", string(request.Kind)))

	if err := h.queue.Write(ctx, request.ExecutionUID[:], request); err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			log.Error("kafka topic does not exist",
				lg.String("topic", h.cfg.Kafka.Topic),
				lg.String("action", "create the topic or enable auto-creation"))
		}
		log.Error("failed to queue request", lg.Err(err))
		http.Error(rw, "Failed to process request", http.StatusInternalServerError)
		return
	}
	log.Info("request queued", lg.String("destination", request.DestinationContainer+"/"+request.DestinationBlob))

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(dm.Response{
		ExecutionUID: request.ExecutionUID,
		JobID:        jobspec.JobID(request.DestinationContainer, request.DestinationBlob),
	})
}

func main() {
	fs := flag.NewFlagSet(serviceName, flag.ExitOnError)
	logCfg := lg.RegisterFlags(fs, serviceName)
	configPath := fs.String("config", "", "optional YAML config file")
	fs.Parse(os.Args[1:])

	logger := lg.New(logCfg)
	defer logger.Sync()

	cfg := defaultProducerConfig()
	if err := config.Load(*configPath, &cfg, cfg.Kafka.Overrides()...); err != nil {
		logger.Error("failed to load config", lg.Err(err))
		os.Exit(1)
	}
	logger.Info("starting service", lg.String("port", cfg.Service.Port), lg.Strings("brokers", cfg.Kafka.Brokers))

	queue := kafkautil.NewProducer[dm.Request](kafkautil.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	defer queue.Close()

	mux := http.NewServeMux()
	mux.Handle(cfg.Service.HTTPPath, serverutil.NewValidationHandler[dm.Request](newHandler(queue, cfg, logger)))

	srv := serverutil.DefaultServerConfig()
	srv.Logger = logger
	srv.Port = cfg.Service.Port
	if err := serverutil.RunServer(mux, srv); err != nil {
		logger.Error("failed to run server", lg.Err(err))
		os.Exit(1)
	}
}
