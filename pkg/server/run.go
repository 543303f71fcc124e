package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run starts the session loop, the platform session and the metrics
// endpoint, and blocks until ctx ends or a shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.ledger.Close(); err != nil {
			s.logger.Warn("close ledger", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop.Run(gctx)
	})

	if srv := s.metricsServer(); srv != nil {
		g.Go(func() error {
			s.logger.Info("metrics HTTP listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: metrics http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := s.session.Start(gctx); err != nil {
			return fmt.Errorf("server: start session: %w", err)
		}
		s.logger.Info("woushbot running", "platform", s.cfg.Platform.Kind, "metrics", s.cfg.MetricsAddr)
		<-gctx.Done()
		s.logger.Info("shutting down...")
		return s.session.Close()
	})

	return g.Wait()
}
