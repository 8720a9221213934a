package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gtconfig "graintrust/config"
	"graintrust/completion"
	core "graintrust/gateway/service/core"
	httphandler "graintrust/gateway/service/http"
	"graintrust/internal/messaging/producer"
	ledger "graintrust/ledger/client"
	"graintrust/storage/store"
)

// Trigger gateway configuration file path
const gatewayConfigPath = "./config/gateway.defaults.yml"

func main() {
	logger := log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags|log.Lshortfile)
	logger.Println("Starting Trigger Gateway...")

	// 1. Load gateway configuration
	cfg, err := gtconfig.LoadGatewayConfig(gatewayConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load gateway configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize dependencies (DB and Kafka producer)
	logger.Println("Initializing database connection...")
	dbStore, err := store.NewPostgresStore(ctx, cfg.Database.DSN, cfg.Database.MinConnections, cfg.Database.MaxConnections, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize database store: %v", err)
	}
	defer dbStore.Close()

	logger.Println("Initializing Kafka producer...")
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaProducer, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize Kafka producer: %v", err)
	}
	defer kafkaProducer.Close()

	// Read-only ledger client for the history endpoint
	logger.Println("Initializing ledger client...")
	ledgerClient, err := ledger.NewLedgerClientFromFile(cfg.LedgerClientConfigPath, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize ledger client: %v", err)
	}
	defer ledgerClient.Close()

	// 3. Create core service and handler
	evaluator := completion.NewEvaluator(cfg.Policy)
	coreService := core.NewService(dbStore, kafkaProducer, evaluator, ledgerClient, logger)
	batchHandler := httphandler.NewBatchHandler(coreService, logger)

	mux := http.NewServeMux()
	batchHandler.Register(mux, cfg.Monitoring.HealthCheckPath)

	// Use HTTP server configuration with defaults
	readTimeout := cfg.HttpServer.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	writeTimeout := cfg.HttpServer.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}

	idleTimeout := cfg.HttpServer.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	maxHeaderBytes := cfg.HttpServer.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20 // 1 MB
	}

	httpServer := &http.Server{
		Addr:           cfg.HttpListenAddr,
		Handler:        mux,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Printf("HTTP server listening on %s", cfg.HttpListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server startup failed: %v", err)
		}
		logger.Println("HTTP server stopped listening.")
	}()

	// 4. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Printf("Received shutdown signal: %s, starting graceful shutdown of Trigger Gateway...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	logger.Println("Shutting down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server shutdown failed: %v", err)
	} else {
		logger.Println("HTTP server shutdown.")
	}

	wg.Wait()
	logger.Println("All servers stopped. Trigger Gateway shutdown.")
}
