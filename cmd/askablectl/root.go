package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"

	"github.com/sahilchouksey/askable/config"
)

var (
	verbose bool
	timeout time.Duration
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "askablectl",
	Short: "Operate the stores behind the Askable API",
	Long: `askablectl reads the same environment as the API server (.env in
development) and works against the stores it is configured with.

Quick Start:
  askablectl migrate              # create tables in CHAT_STORE and QUOTA_STORE
  askablectl import data.csv -q "Which brand sells most?"
  askablectl show <chat-id>       # print one conversation
  askablectl limits <identity>    # remaining messages for a client
  askablectl models               # list the model catalog`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.LevelDebug)
		} else {
			log.SetLevel(log.LevelWarn)
		}
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for store operations")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(migrateCmd, seedCmd, importCmd, showCmd, historyCmd, limitsCmd, pruneCmd, modelsCmd)
}

// loadEnv reads configuration the way the server does.
func loadEnv() (*config.EnviornmentVariable, error) {
	if err := config.LoadENV(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return config.Get()
}
