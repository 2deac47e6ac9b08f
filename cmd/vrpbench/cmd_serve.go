package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vrpbench/internal/api"
	"vrpbench/internal/config"
)

func newServeCmd(logger *log.Logger) *cobra.Command {
	var (
		configPath string
		port       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the experiment API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			s, err := api.NewServer(cfg, logger)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           s.Routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			errc := make(chan error, 1)
			go func() {
				logger.Printf("[API] listening on %s", srv.Addr)
				errc <- srv.ListenAndServe()
			}()
			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}
			logger.Printf("[API] shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Printf("[API] http shutdown: %v", err)
			}
			if err := s.Shutdown(sctx); err != nil {
				return err
			}
			return s.Store.Close()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&port, "port", "", "listen port (default 8080 or $PORT)")
	return cmd
}
