package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/rank-engine/api"
	"github.com/warp/rank-engine/ingest"
	"github.com/warp/rank-engine/ranking"
	"github.com/warp/rank-engine/reconcile"
	"github.com/warp/rank-engine/store/sqlite"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Addr    string
	Workers int
}

// NewServeCommand starts the HTTP server and the ingestion bus.
func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rank engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "Number of ingestion workers")

	return cmd
}

func runServe(root *RootOptions, opts *ServeOptions) error {
	// Initialize store
	store, err := sqlite.New(root.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier := ranking.LogNotifier{}

	// Ingestion pipeline
	ingestor := ingest.NewIngestor(store, notifier)
	bus := ingest.NewBus(ingestor, opts.Workers)

	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	bus.Start(busCtx)

	// Reconciliation job, exposed over the API
	job := reconcile.NewJob(store, notifier)

	handler := api.NewHandler(store, bus, job)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Rank engine listening on %s", opts.Addr)
		log.Printf("📊 API available at http://localhost%s/api", opts.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	// Drain in-flight completions before closing the store.
	bus.Stop()

	log.Println("Server stopped")
	return nil
}
