package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"graintrust/certificate"
	"graintrust/completion"
	"graintrust/config"
	"graintrust/identity"
	"graintrust/internal/messaging/consumer"
	"graintrust/internal/messaging/producer"
	ledger "graintrust/ledger/client"
	worker "graintrust/processing"
	"graintrust/storage/store"
	"graintrust/submission"
)

const engineConfigPath = "./config/engine.defaults.yml"

func main() {
	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)
	logger.Println("Starting Submission Engine...")

	// 1. Load Engine Config
	engineCfg, err := config.LoadEngineConfig(engineConfigPath)
	if err != nil {
		logger.Fatalf("FATAL: Failed to load engine configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Dependencies
	logger.Println("Initializing database connection...")
	dbStore, err := store.NewPostgresStore(ctx, engineCfg.Database.DSN, engineCfg.Database.MinConnections, engineCfg.Database.MaxConnections, logger)
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize database store: %v", err)
	}
	defer dbStore.Close()

	logger.Println("Initializing ledger client using configuration files...")
	ledgerClient, err := ledger.NewLedgerClientFromFile(engineCfg.LedgerClientConfigPath, logger)
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize ledger client: %v", err)
	}
	defer ledgerClient.Close()

	// 3. Assemble the pipeline
	evaluator := completion.NewEvaluator(engineCfg.Policy)
	authority := identity.NewCAClient(engineCfg.Identity, logger)
	provisioner := identity.NewProvisioner(dbStore, authority, engineCfg.Identity, logger)
	reconciler := submission.NewReconciler(dbStore, logger)

	staleAfter, err := time.ParseDuration(engineCfg.Worker.SubmitStaleAfter)
	if err != nil {
		logger.Printf("Warning: Invalid submit_stale_after '%s', using default 10m", engineCfg.Worker.SubmitStaleAfter)
		staleAfter = 10 * time.Minute
	}
	orchestrator := submission.NewOrchestrator(dbStore, ledgerClient, provisioner, evaluator, reconciler, staleAfter, logger)
	issuer := certificate.NewIssuer(dbStore, ledgerClient, evaluator, engineCfg.Certificate, logger)

	logger.Println("Initializing Kafka producer for outcome events...")
	outcomeProducer, err := producer.NewKafkaProducer(engineCfg.KafkaProducer, logger)
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize Kafka producer: %v", err)
	}
	defer outcomeProducer.Close()

	// 4. Initialize Multiple Consumers
	var mqConsumers []consumer.Consumer
	if len(engineCfg.KafkaConsumer.Brokers) > 0 && engineCfg.KafkaConsumer.Brokers[0] != "mock://local" {
		logger.Printf("Initializing %d Kafka message queue consumers...", engineCfg.KafkaConsumer.Count)
		for i := 0; i < engineCfg.KafkaConsumer.Count; i++ {
			kafkaConsumer, err := consumer.NewKafkaConsumer(engineCfg.KafkaConsumer, logger)
			if err != nil {
				logger.Fatalf("FATAL: Failed to initialize Kafka consumer %d: %v", i, err)
			}
			mqConsumers = append(mqConsumers, kafkaConsumer)
		}
	} else {
		logger.Println("Initializing Mock message queue consumer...")
		mqConsumers = append(mqConsumers, consumer.NewMockConsumer(0, logger))
	}

	// Ensure all consumers are closed on exit
	defer func() {
		for _, c := range mqConsumers {
			c.Close()
		}
	}()

	// 5. Create and Start Multiple Workers
	var workers []*worker.Worker
	var wg sync.WaitGroup

	for i, mqConsumer := range mqConsumers {
		workerInstance := worker.New(engineCfg.Worker, logger, dbStore, mqConsumer, outcomeProducer, evaluator, orchestrator, issuer)
		workers = append(workers, workerInstance)

		wg.Add(1)
		go func(workerID int, w *worker.Worker) {
			defer wg.Done()
			logger.Printf("Starting worker %d with its dedicated consumer...", workerID)
			w.Run(ctx)
			logger.Printf("Worker %d stopped.", workerID)
		}(i+1, workerInstance)
	}

	logger.Printf("Submission Engine started with %d workers. Press Ctrl+C to stop.", len(workers))

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("Received shutdown signal, initiating graceful shutdown...")
	cancel()

	logger.Println("Waiting for all workers to finish...")
	wg.Wait()

	logger.Println("Submission Engine shut down gracefully.")
}
