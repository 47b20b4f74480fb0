package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent-world/agent-world/internal/llm"
	"github.com/agent-world/agent-world/internal/manager"
	"github.com/agent-world/agent-world/internal/observability"
	"github.com/agent-world/agent-world/internal/orchestrator"
	"github.com/agent-world/agent-world/internal/server"
	"github.com/agent-world/agent-world/internal/skills"
	"github.com/agent-world/agent-world/internal/store"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if !flagStreaming && !flagNoStream && cfg.LLM.Streaming != nil {
				llm.SetStreaming(*cfg.LLM.Streaming)
			}
			logger := newLogger(cfg)

			st, err := store.Open(cfg.Storage.Type, cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			projectRoot := cfg.Skills.ProjectRoot
			if projectRoot == "" {
				projectRoot, _ = os.Getwd()
			}
			skillReg := skills.NewRegistry(projectRoot, logger)
			if err := skillReg.Sync(ctx); err != nil {
				logger.Warn("initial skill sync failed", "error", err)
			}
			if cfg.Skills.Watch {
				if err := skillReg.Watch(ctx); err != nil {
					logger.Warn("skill watching unavailable", "error", err)
				}
			}

			metrics := observability.NewMetrics()
			providers := llm.NewRegistry()
			orch := orchestrator.New(providers, logger)
			orch.SetMetrics(metrics)
			mgr := manager.New(manager.Config{
				Store:       st,
				Skills:      skillReg,
				Attacher:    orch,
				Logger:      logger,
				HITLTimeout: cfg.Agents.HITLTimeout,
			})
			defer mgr.Close()

			srv := server.New(mgr, metrics, logger, server.Options{
				Addr:        cfg.Server.Addr,
				IdleTimeout: cfg.Server.IdleTimeout,
				IdleGrace:   cfg.Server.IdleGrace,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
