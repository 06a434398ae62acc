package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/broker"
	"github.com/user/chatrelay/internal/cache"
	"github.com/user/chatrelay/internal/config"
	"github.com/user/chatrelay/internal/pubsub"
	"github.com/user/chatrelay/internal/relay"
	"github.com/user/chatrelay/internal/session"
	"github.com/user/chatrelay/internal/tools"
	"github.com/user/chatrelay/internal/worker"
	"github.com/user/chatrelay/pkg/assistant"
	"github.com/user/chatrelay/pkg/assistant/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatrelay worker",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "chatrelay.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func newProvider(cfg *config.Config) assistant.Provider {
	return openai.New(&assistant.Config{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
	})
}

// buildRegistry registers every tool whose configuration is present. The
// returned database handle (possibly nil) is shared by the SQL tools and
// must be closed by the caller.
func buildRegistry(cfg *config.Config, log *slog.Logger) (*tools.Registry, *sql.DB, error) {
	registry := tools.NewRegistry(log)

	if cfg.Tools.OpenWeatherAPIKey != "" {
		registry.Register(tools.NewWeather(cfg.Tools.OpenWeatherAPIKey))
	}

	var db *sql.DB
	if cfg.Tools.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Tools.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		registry.Register(tools.NewActiveClients(db))
		registry.Register(tools.NewAvailableOffices(db))
	}

	if cfg.Tools.XAPIKey != "" {
		if cfg.Tools.UserRoleAPIURL != "" {
			registry.Register(tools.NewUserRole(cfg.Tools.UserRoleAPIURL, cfg.Tools.XAPIKey))
		}
		if cfg.Tools.AuditAPIURL != "" {
			registry.Register(tools.NewUserAudit(cfg.Tools.AuditAPIURL, cfg.Tools.XAPIKey))
		}
	}

	log.Info("tools registered", "tools", registry.Names())
	return registry, db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	log := slog.Default()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cache.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect session store: %w", err)
	}

	provider := newProvider(cfg)
	registry, db, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	resolver := session.NewResolver(store, provider, cfg.Redis.Prefix, cfg.ThreadExpiry(), log)

	transport := func() worker.Transport {
		return pubsub.New(pubsub.Options{
			URL:          cfg.Relay.URI,
			MaxRetries:   cfg.Relay.MaxRetries,
			RetryDelay:   time.Duration(cfg.Relay.RetryDelaySeconds) * time.Second,
			PingInterval: time.Duration(cfg.Relay.PingIntervalSeconds) * time.Second,
			SendTimeout:  time.Duration(cfg.Relay.SendTimeoutSeconds) * time.Second,
		}, log)
	}

	w := worker.New(provider, resolver, registry, transport, worker.Options{
		JobTimeout: cfg.JobTimeout(),
		RunOptions: relay.Options{
			StartTimeout:  cfg.StartTimeout(),
			StallTimeout:  cfg.StallTimeout(),
			ToolTimeout:   cfg.ToolTimeout(),
			FlushMinChars: cfg.Worker.FlushMinChars,
			FlushInterval: cfg.FlushInterval(),
		},
		Model:         cfg.OpenAI.Model,
		AssistantName: cfg.OpenAI.AssistantName,
	}, log)

	consumer := broker.NewConsumer(brokerConfig(cfg), w.Process, log)

	log.Info("chatrelay worker starting",
		"queue", cfg.Broker.Queue,
		"relay", cfg.Relay.URI,
		"model", cfg.OpenAI.Model)

	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("chatrelay worker stopped")
	return nil
}

func brokerConfig(cfg *config.Config) broker.Config {
	return broker.Config{
		URL:        cfg.Broker.URL,
		Queue:      cfg.Broker.Queue,
		RoutingKey: cfg.Broker.RoutingKey,
		Exchange:   cfg.Broker.Exchange,
		MessageTTL: time.Duration(cfg.Broker.MessageTTLSeconds) * time.Second,
	}
}
