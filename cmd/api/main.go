// Command api runs the cache engine as a standalone HTTP server, for
// local development and any deployment target that isn't API Gateway +
// Lambda (see cmd/lambda for that target).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/bootstrap"
	"github.com/63klabs/cache-data-proxy/internal/restapi"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := bootstrap.New(ctx, os.Getenv("CACHE_DATA_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to initialize cache engine: %v", err)
	}

	router := restapi.NewRouter(container)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", container.Config.Server.Host, container.Config.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		container.Logger.Info("starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", container.Config.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("server shutdown error", zap.Error(err))
	}

	_ = container.Logger.Sync()
	log.Println("server stopped")
}
