package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/app"
	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/pipeline"
	"github.com/kubilitics/kubilitics-insight/internal/server"
)

const shutdownGrace = 30 * time.Second

// ─── serve ────────────────────────────────────────────────────────────────────

func newServeCmd(c *cli) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mgr, cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return serve(ctx, mgr, cfg, c.configPath)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides configuration)")
	return cmd
}

func serve(ctx context.Context, mgr config.ConfigManager, cfg *config.Config, configPath string) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.Logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	a.Logger.Info("starting kubilitics-insight",
		zap.String("version", version),
		zap.String("default_mode", cfg.Modes.Default),
		zap.Strings("eager_engines", cfg.Engines.Eager),
		zap.Strings("deferred_engines", cfg.Engines.Deferred),
	)
	_ = a.Audit.LogConfigLoaded(ctx, configPath)
	a.Start(ctx)

	srv, err := server.NewServer(server.ConfigFromConfig(cfg), server.Deps{
		Pipeline:     a.Pipeline,
		Orchestrator: a.Orchestrator,
		Index:        a.Index,
		Modes:        a.Modes,
		Logger:       a.Logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	changes := mgr.Watch(ctx)
	for {
		select {
		case <-changes:
			a.Logger.Warn("configuration file changed; restart to apply")
		case <-ctx.Done():
			a.Logger.Info("shutdown signal received")
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Stop(stopCtx)
		}
	}
}

// ─── ask ──────────────────────────────────────────────────────────────────────

func newAskCmd(c *cli) *cobra.Command {
	var (
		modeName  string
		sessionID string
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and exit",
		Long: `Answer one question without starting the HTTP API.

The document index is built once from the configured sources. Engines that
need external services (Prometheus, an LLM provider) are skipped when those
services are not configured.`,
		Example: `  kubilitics-insight ask "why is CPU high on web-01"
  kubilitics-insight ask --mode advanced "CPU 사용률이 높은 서버를 찾아주세요"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := models.ParseMode(modeName)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			_, cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}

			a, err := app.New(ctx, cfg, app.WithAuditLogger(audit.NewNopLogger()))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			a.Start(ctx)

			var opts []pipeline.QueryOption
			if m != "" {
				opts = append(opts, pipeline.WithMode(m))
			}
			resp := a.Pipeline.ProcessQuery(ctx, strings.Join(args, " "), sessionID, opts...)
			if jsonOut {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResponse(c, resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "", "processing mode: basic, advanced or auto")
	cmd.Flags().StringVar(&sessionID, "session", "cli", "session ID for statistics and the interaction log")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full response as JSON")
	return cmd
}

func printResponse(c *cli, resp *models.QueryResponse) {
	fmt.Fprintln(c.stdout, resp.Answer)
	fmt.Fprintln(c.stdout)
	engine := resp.EngineUsed
	if engine == "" {
		engine = "none"
	}
	fmt.Fprintf(c.stdout, "mode=%s intent=%s engine=%s confidence=%.2f time=%dms\n",
		resp.Mode, resp.Intent, engine, resp.Confidence, resp.ProcessingTimeMs)
	if len(resp.Sources) > 0 {
		fmt.Fprintf(c.stdout, "sources: %s\n", strings.Join(resp.Sources, ", "))
	}
}

// ─── reindex ──────────────────────────────────────────────────────────────────

func newReindexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Build the document index once and report what was indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, app.WithAuditLogger(audit.NewNopLogger()))
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			report := a.Index.Build(ctx)
			fmt.Fprintf(c.stdout, "documents=%d failed=%d skipped=%d fallback=%t duration=%s\n",
				report.Documents, report.Failed, report.Skipped, report.Fallback, report.Duration.Round(time.Millisecond))
			if report.SourceError != "" {
				fmt.Fprintf(c.stdout, "source error: %s\n", report.SourceError)
			}
			return nil
		},
	}
}
