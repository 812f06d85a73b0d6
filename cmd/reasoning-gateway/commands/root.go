// Package commands provides the reasoning gateway's CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deepreason/gateway/internal/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "reasoning-gateway",
	Short: "Conversational analysis core MCP server",
	Long: `reasoning-gateway exposes a parallel reasoning escalation layer over
the Model Context Protocol: multi-turn dialogues with a remote model for
deep analysis, plus a hypothesis tournament for competing root-cause
theories.

Run 'reasoning-gateway serve' to start the stdio MCP server.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not load env file %s: %v\n", envFile, err)
			}
		} else {
			_ = godotenv.Load()
		}

		logCfg := logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(logLevel)
		logCfg.Pretty = printLogs
		logging.Init(logCfg)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print human-readable logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: .env in the working directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("reasoning-gateway %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
