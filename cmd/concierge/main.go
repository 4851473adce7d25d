package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/concierge/pkg/agentchat"
	"github.com/go-go-golems/concierge/pkg/chat"
	"github.com/go-go-golems/concierge/pkg/config"
	"github.com/go-go-golems/concierge/pkg/logging"
	"github.com/go-go-golems/concierge/pkg/queue"
	"github.com/go-go-golems/concierge/pkg/ragflow"
	"github.com/go-go-golems/concierge/pkg/session"
	"github.com/go-go-golems/concierge/pkg/webhook"
	"github.com/go-go-golems/concierge/pkg/webui"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "concierge",
		Short: "Relay conversations between an AI assistant and human support agents",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			return logging.Init(cfg.Logging)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (TOML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (trace, debug, info, warn, error)")

	root.AddCommand(newChatCommand())
	root.AddCommand(newWebhookCommand())
	root.AddCommand(newQueuesCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*queue.Store, error) {
	db, known := cfg.RedisDB()
	if !known {
		log.Warn().Str("environment", cfg.Environment).Msg("unknown environment, using dev database index")
	}
	return queue.NewStore(ctx, queue.Options{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       db,
	})
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run the chat UI process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			controller := chat.NewController(chat.Options{
				Environment:   cfg.Environment,
				AssistantName: cfg.RAGFlow.AssistantName,
				Agents:        cfg.AgentChat.Agents,
				AgentPassword: cfg.AgentChat.Password,
				IdleInterval:  cfg.Chat.IdleInterval,
				PeekTimeout:   cfg.Chat.PeekTimeout,
				StreamMaxLen:  cfg.Chat.StreamMaxLen,
			},
				store,
				session.NewMetadataStore(store.Client(), cfg.Chat.SessionTTL),
				ragflow.NewClient(cfg.RAGFlow.BaseURL, cfg.RAGFlow.APIKey),
				func() chat.AgentPlatform {
					return agentchat.NewClient(cfg.AgentChat.ServerURL, cfg.AgentChat.Timeout)
				},
			)

			return webui.NewServer(webui.NewHost(controller), cfg.Chat.Addr).Run(ctx)
		},
	}
}

func newWebhookCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Run the webhook receiver process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			srv := webhook.NewServer(webhook.Options{
				Environment:  cfg.Environment,
				Token:        cfg.Webhook.Token,
				StreamMaxLen: cfg.Chat.StreamMaxLen,
				RateLimit:    cfg.Webhook.RateLimit,
				RateBurst:    cfg.Webhook.RateBurst,
			}, store)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(cfg.Webhook.Addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newQueuesCommand() *cobra.Command {
	queues := &cobra.Command{
		Use:   "queues",
		Short: "Inspect and manage queues",
	}

	var prefix string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			names, err := store.ListQueues(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	ls.Flags().StringVar(&prefix, "prefix", "", "only list queues with this name prefix")

	size := &cobra.Command{
		Use:   "size <name>",
		Short: "Print the number of entries in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			fmt.Fprintln(cmd.OutOrStdout(), store.Size(cmd.Context(), args[0]))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <name>",
		Short: "Delete a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Clear(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d key(s)\n", n)
			return nil
		},
	}

	queues.AddCommand(ls, size, clearCmd)
	return queues
}
