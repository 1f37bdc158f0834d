package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lisanmuaddib/profilegraph/internal/workerconfig"
	"github.com/lisanmuaddib/profilegraph/pkg/db"
	"github.com/lisanmuaddib/profilegraph/pkg/index"
	"github.com/lisanmuaddib/profilegraph/pkg/logging"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	log := logging.NewLogger()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.SetupDatabase(log)
	if err != nil {
		log.WithError(err).Fatal("Failed to setup database")
	}

	redisConfig, err := queue.NewRedisConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to create Redis config")
	}
	rdb, err := queue.NewRedisClient(redisConfig, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	queueConfig, err := queue.NewQueueConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to create queue config")
	}

	kafkaConfig, err := index.NewKafkaConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka config")
	}
	sink := index.NewKafkaSink(kafkaConfig, log)
	defer sink.Close()

	adapters, err := workerconfig.ConfigureAdapters(workerconfig.AdapterConfig{
		Sites:  splitSites(os.Getenv("SCRAPER_SITES")),
		Logger: log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to configure scrapers")
	}

	worker, err := workerconfig.ConfigureWorker(workerconfig.WorkerConfig{
		DB:          database,
		Redis:       rdb,
		QueueConfig: queueConfig,
		Sink:        sink,
		Adapters:    adapters,
		Logger:      log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to configure worker")
	}

	metricsServer := &http.Server{
		Addr:              getEnvOrDefault("METRICS_ADDR", ":9102"),
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", metricsServer.Addr).Info("Serving metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	for _, pool := range worker.Pools {
		g.Go(func() error {
			return pool.Run(gctx)
		})
	}

	log.WithFields(logrus.Fields{
		"queues":    queueConfig.WorkerQueues,
		"functions": len(worker.Registry.Names()),
		"scrapers":  len(adapters),
	}).Info("Starting scrape workers")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("Worker stopped with error")
	}

	log.Info("Worker shutdown complete")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func splitSites(raw string) []string {
	var sites []string
	for _, site := range strings.Split(raw, ",") {
		if site = strings.TrimSpace(site); site != "" {
			sites = append(sites, site)
		}
	}
	return sites
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
