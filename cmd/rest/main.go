package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"image-labeler-be/internal/bootstrap"
	"image-labeler-be/internal/config"
	"image-labeler-be/internal/server"
	"image-labeler-be/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer(cfg.Tracing)
	defer shutdownTracer(context.Background())

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(cfg)
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start Background Services
	go func() {
		log.Println("Background: Starting Consumer Service...")
		if err := container.ConsumerService.Consume(ctx); err != nil {
			log.Printf("Background Consumer Error: %v", err)
		}
	}()

	// 5. Optionally load the model before the first request
	if cfg.Oracle.WarmupOnStart {
		wctx, cancel := context.WithTimeout(ctx, cfg.Oracle.Timeout)
		if err := container.OracleManager.Warmup(wctx); err != nil {
			log.Printf("[WARN] Oracle warmup failed, will retry on first request: %v", err)
		}
		cancel()
	}

	// 6. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	// 7. Run Server
	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
