package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/api"
	"github.com/JakeFAU/evidence-ingest/internal/dispatcher"
	queueMemory "github.com/JakeFAU/evidence-ingest/internal/queue/memory"
	"github.com/JakeFAU/evidence-ingest/internal/worker"
)

// runQueueDepth bounds the number of API runs waiting for the run worker.
const runQueueDepth = 16

// newServeCmd creates the 'serve' subcommand, which exposes the HTTP API and
// executes submitted runs one at a time.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.GetConfig()
			if port > 0 {
				cfg.Server.Port = port
			}
			logger := a.GetLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			queue := queueMemory.NewQueue[api.RunJob](runQueueDepth)
			var server *api.Server
			runWorker := worker.New[api.RunJob](0, queue,
				func(ctx context.Context, job api.RunJob) { server.ProcessRun(ctx, job) },
				func(job api.RunJob, recovered any) { server.RunPanicked(job, recovered) },
				logger.Named("run-worker"))
			dispatch := dispatcher.New(queue, []*worker.Worker[api.RunJob]{runWorker})

			server = api.NewServer(api.Deps{
				Store:      a.GetStore(),
				Registry:   a.GetRegistry(),
				Runner:     a.GetOrchestrator(),
				Connectors: a.Connector,
				Queue:      dispatch,
				IDs:        a.GetIDs(),
				Clock:      a.GetClock(),
				Config:     cfg,
				Logger:     logger.Named("api"),
			})

			srv := &http.Server{
				Addr:              ":" + strconv.Itoa(cfg.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Info("dispatcher started")
				dispatch.Run(ctx)
			}()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- fmt.Errorf("http server: %w", err)
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			queue.Close()
			wg.Wait()
			logger.Info("shutdown complete")

			select {
			case err := <-serveErr:
				return err
			default:
				return nil
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}
