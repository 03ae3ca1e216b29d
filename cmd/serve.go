/*
serve.go - HTTP server startup and graceful shutdown

STARTUP SEQUENCE:
  1. Load configuration from the environment (.env honored)
  2. Open the store (SQLite or PostgreSQL)
  3. Wire the engine, sessions, and handler
  4. Start the server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit
*/
package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/turf-engine/api"
	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			engine := booking.NewEngine(store, cfg.Rates)
			sessions := api.NewSessionManager(cfg.SessionHashKey, cfg.SessionBlockKey)
			handler := api.NewHandler(store, engine, sessions, api.OpenHours{
				Open:  cfg.OpenHour,
				Close: cfg.CloseHour,
			})
			router := api.NewRouter(handler, cfg.AllowedOrigins)

			server := &http.Server{
				Addr:         cfg.HTTPAddr,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				log.Printf("Server starting on %s", cfg.HTTPAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Server failed: %v", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Println("Shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				return err
			}

			log.Println("Server stopped")
			return nil
		},
	}
}
