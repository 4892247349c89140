package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"certify/internal/config"
	"certify/internal/queue"
	"certify/internal/stats"
	"certify/internal/store"
)

// Worker consumes issuance events and keeps the per-track counters.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, counters will fail until it is", cfg.RedisAddr)
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	case "nats":
		conn, err := queue.DialNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("nats connect failed: %v", err)
		}
		defer conn.Close()
		q = queue.NewNATSQueue(conn, "")
	default:
		log.Fatalf("worker needs QUEUE_BACKEND=redis or nats, got %q (memory queues are consumed inside the api)", cfg.QueueBackend)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	recorder := stats.NewRedisRecorder(redisClient.Client, "")

	log.Println("worker started, waiting for messages...")
	n, err := stats.Consume(ctx, q, recorder, logger)
	if err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Printf("worker stopped after recording %d issuances", n)
}
