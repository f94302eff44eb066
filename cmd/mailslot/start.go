package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/mailslot/internal/config"
	"github.com/zulandar/mailslot/internal/dashboard"
	"github.com/zulandar/mailslot/internal/logging"
	"github.com/zulandar/mailslot/internal/relay"
	discordadapter "github.com/zulandar/mailslot/internal/relay/discord"
	slackadapter "github.com/zulandar/mailslot/internal/relay/slack"
	telegramadapter "github.com/zulandar/mailslot/internal/relay/telegram"
	"golang.org/x/sync/errgroup"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay bot",
		Long:  "Connects to the configured chat platform and relays private messages to the channel until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}

	be, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	defer be.close()

	adapter, err := createAdapter(cfg, &logger)
	if err != nil {
		return err
	}

	daemon, err := relay.NewDaemon(relay.DaemonOpts{
		Config:   cfg,
		Adapter:  adapter,
		Store:    be.store,
		Sessions: be.sessions,
		Logger:   &logger,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServices(ctx, cmd, cfg, daemon, be, &logger)
}

// runServices runs the daemon and, when enabled, the dashboard. Either one
// returning stops the other.
func runServices(ctx context.Context, cmd *cobra.Command, cfg *config.Config, daemon *relay.Daemon, be *backend, logger *zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return daemon.Run(gctx)
	})
	if cfg.Dashboard.Enabled {
		g.Go(func() error {
			defer cancel()
			return dashboard.Start(gctx, dashboard.StartOpts{
				Stats:  be.store,
				Port:   cfg.Dashboard.Port,
				Out:    cmd.OutOrStdout(),
				Logger: logger,
			})
		})
	}
	return g.Wait()
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, logger *zerolog.Logger) (relay.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformTelegram:
		return telegramadapter.New(telegramadapter.AdapterOpts{
			Token:  cfg.Telegram.Token,
			Logger: logger,
		})
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Discord.BotToken,
			Logger:   logger,
		})
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
