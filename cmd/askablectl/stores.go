package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sahilchouksey/askable/app"
	"github.com/sahilchouksey/askable/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables of the configured chat and quota stores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
		defer cancel()

		names, err := app.Migrate(ctx, env)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated: %s\n", countStyle.Render(strings.Join(names, ", ")))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo chats in CHAT_STORE",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
		defer cancel()

		backend, closeStore, err := app.OpenChatStore(ctx, env)
		if err != nil {
			return fmt.Errorf("failed to open chat store: %w", err)
		}
		defer closeStore()

		ids, err := database.RunSeeds(ctx, backend)
		if err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render(fmt.Sprintf("Seeded %d chats", len(ids))))
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), idStyle.Render(id))
		}
		return nil
	},
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
