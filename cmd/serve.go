package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/channels/discord"
	"github.com/nextlevelbuilder/chatgate/internal/channels/slack"
	"github.com/nextlevelbuilder/chatgate/internal/channels/telegram"
	"github.com/nextlevelbuilder/chatgate/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/chatgate/internal/config"
	"github.com/nextlevelbuilder/chatgate/internal/gateway"
	"github.com/nextlevelbuilder/chatgate/internal/gateway/methods"
	"github.com/nextlevelbuilder/chatgate/internal/pairing"
	"github.com/nextlevelbuilder/chatgate/internal/session"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var (
		host         string
		port         int
		token        string
		rpcRateLimit int
		origins      []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and all configured channels",
		Run: func(cmd *cobra.Command, args []string) {
			if token == "" {
				token = os.Getenv("CHATGATE_GATEWAY_TOKEN")
			}
			runServe(gateway.Options{
				Host:           host,
				Port:           port,
				Token:          token,
				RateLimitRPM:   rpcRateLimit,
				AllowedOrigins: origins,
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "gateway listen host")
	cmd.Flags().IntVar(&port, "port", 18789, "gateway listen port")
	cmd.Flags().StringVar(&token, "token", "", "gateway auth token (env CHATGATE_GATEWAY_TOKEN)")
	cmd.Flags().IntVar(&rpcRateLimit, "rpc-rate-limit", 0, "gateway RPC requests per minute per client (0 = unlimited)")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed WebSocket origins (repeatable; empty = allow all)")

	return cmd
}

func runServe(opts gateway.Options) {
	store := config.NewStore(resolveConfigPath())
	store.Load()

	pairingSvc := pairing.NewService(resolvePairingPath())
	events := bus.NewEventBus()

	sessions := session.NewMemoryStore(os.Getenv("CHATGATE_SYSTEM_PROMPT"))
	model := session.NewOpenAIInvoker(
		envOr("CHATGATE_MODEL_BASE_URL", "https://api.openai.com/v1"),
		envOr("CHATGATE_MODEL_API_KEY", os.Getenv("OPENAI_API_KEY")),
		envOr("CHATGATE_MODEL", "gpt-4o-mini"),
	)

	manager := channels.NewManager(channels.Deps{
		Config:     store,
		Pairing:    pairingSvc,
		Sessions:   sessions,
		Model:      model,
		Directives: session.ParseDirectives,
		Events:     events,
	})

	for _, adapter := range []channels.Adapter{
		telegram.New(),
		discord.New(),
		slack.New(),
		whatsapp.New(),
	} {
		if err := manager.Register(adapter); err != nil {
			slog.Error("failed to register adapter", "channel", adapter.Name(), "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.StartAll(ctx)

	// Hot-reload channel configs edited outside the gateway.
	watcher, err := config.NewWatcher(store)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else {
		watcher.OnChange(func(configs []config.ChannelConfig) {
			slog.Info("channel configs changed on disk", "channels", len(configs))
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	server := gateway.NewServer(opts, events)
	methods.NewChannelsMethods(manager).Register(server.Router())
	methods.NewConfigMethods(store, manager, store.Path()).Register(server.Router())

	pm := methods.NewPairingMethods(manager)
	pm.SetOnApprove(func(ctx context.Context, channel, chatID string) {
		adapter, ok := manager.Adapter(channel)
		if !ok || chatID == "" {
			return
		}
		if err := adapter.Send(ctx, chatID, "You're approved! Send me a message to get started.", channels.SendOptions{}); err != nil {
			slog.Warn("failed to send approval notice", "channel", channel, "error", err)
		}
	})
	pm.Register(server.Router())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slog.Error("gateway failed", "error", err)
		}
	}

	server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	manager.StopAll(stopCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
