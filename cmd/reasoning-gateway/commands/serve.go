package commands

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/deepreason/gateway/internal/config"
	"github.com/deepreason/gateway/internal/gateway"
	"github.com/deepreason/gateway/internal/logging"
	"github.com/deepreason/gateway/internal/orchestrator"
	"github.com/deepreason/gateway/internal/remote"
	"github.com/deepreason/gateway/internal/secureread"
	"github.com/deepreason/gateway/internal/session"
	"github.com/deepreason/gateway/internal/tournament"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reasoning gateway MCP server over stdio",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a JSONC config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Debug {
		logging.Logger = logging.Logger.Level(logging.DebugLevel)
	}

	logging.Info().
		Str("version", Version).
		Str("projectRoot", cfg.ProjectRoot).
		Msg("starting reasoning gateway")

	ctx := context.Background()

	reader, err := secureread.New(cfg.ProjectRoot)
	if err != nil {
		return err
	}

	client, err := remote.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}

	adapter := remote.New(client, reader)
	sessions := session.New(cfg.SessionIdleTimeout, cfg.SweepInterval)
	orch := orchestrator.New(sessions, adapter, reader)
	sched := tournament.New(sessions, client, adapter, reader)

	tcfg := tournament.Config{
		MaxHypotheses:           cfg.Tournament.MaxHypotheses,
		MaxRounds:               cfg.Tournament.MaxRounds,
		EliminationThreshold:    cfg.Tournament.EliminationThreshold,
		Parallelism:             cfg.Tournament.Parallelism,
		CrossPollinationEnabled: cfg.Tournament.CrossPollinationEnabled,
	}

	gw := gateway.New(orch, sched, tcfg, cfg.RequestBudget, cfg.TournamentBudget)
	mcpServer := gw.NewServer()

	logging.Info().Msg("serving MCP tools over stdio")
	return server.ServeStdio(mcpServer)
}
