package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/cache"
	"github.com/user/chatrelay/internal/session"
	"github.com/user/chatrelay/internal/worker"
)

func init() {
	rootCmd.AddCommand(assistantCmd)
	assistantCmd.AddCommand(assistantCreateCmd, assistantDeleteCmd)
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Manage the provider-side assistant",
}

func newCLIResolver(ctx context.Context) (*session.Resolver, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	store, err := cache.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("connect session store: %w", err)
	}
	provider := newProvider(cfg)
	return session.NewResolver(store, provider, cfg.Redis.Prefix, cfg.ThreadExpiry(), slog.Default()), nil
}

var assistantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the assistant (no-op when one already exists)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfg := loadConfig()
		resolver, err := newCLIResolver(ctx)
		if err != nil {
			return err
		}
		registry, db, err := buildRegistry(cfg, slog.Default())
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		id, err := resolver.AssistantID(ctx,
			worker.BuildAssistantRequest(cfg.OpenAI.AssistantName, cfg.OpenAI.Model, registry))
		if err != nil {
			return fmt.Errorf("create assistant: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Assistant ready: %s\n", id)
		return nil
	},
}

var assistantDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the assistant and forget its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resolver, err := newCLIResolver(ctx)
		if err != nil {
			return err
		}
		if err := resolver.DeleteAssistant(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Assistant deleted.")
		return nil
	},
}
