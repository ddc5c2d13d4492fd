package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonasDEMA/agentify-os-sub002/internal/adapter/agentclient"
	"github.com/JonasDEMA/agentify-os-sub002/internal/adapter/liveness"
	"github.com/JonasDEMA/agentify-os-sub002/internal/repository"
	"github.com/JonasDEMA/agentify-os-sub002/internal/service"
	handler "github.com/JonasDEMA/agentify-os-sub002/internal/transport/http"
	"github.com/JonasDEMA/agentify-os-sub002/internal/transport/rpc"
	"github.com/JonasDEMA/agentify-os-sub002/policy"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the relay server",
		Long:  "run the HTTP and JSON-RPC APIs together with the retry sweeper and queue janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"http_port":    cfg.HTTPPort,
		"rpc_addr":     cfg.RPCAddr,
		"database":     cfg.DatabaseURL,
		"liveness_url": cfg.LivenessURL,
		"max_retries":  cfg.MaxRetries,
	}).Info("Starting relay")

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.New(
		db,
		agentclient.NewClient(cfg.DeliveryTimeout),
		liveness.NewClient(cfg.LivenessURL, cfg.LivenessTimeout),
		cfg,
		policyEngine,
		service.MustNewMetrics(reg),
	)

	httpServer := handler.NewServer(svc, reg)

	var rpcServer *rpc.Server
	if cfg.RPCAddr != "" {
		rpcServer, err = rpc.NewServer(svc)
		if err != nil {
			return err
		}
		if err := rpcServer.Listen(cfg.RPCAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.RPCAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.WithField("addr", addr).Info("HTTP API started")
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if rpcServer != nil {
		g.Go(func() error {
			log.WithField("addr", rpcServer.Addr()).Info("JSON-RPC API started")
			return rpcServer.Serve()
		})
	}
	g.Go(func() error {
		svc.RunPendingSweeper(gctx)
		return nil
	})
	g.Go(func() error {
		svc.RunQueueJanitor(gctx)
		return nil
	})

	// Shut the servers down once a signal arrives or any component fails.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to shutdown HTTP server gracefully")
		}
		if rpcServer != nil {
			if err := rpcServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Failed to shutdown RPC server gracefully")
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info("Relay stopped")
	return err
}
