package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"unimesh-clip/internal/configstore"
	"unimesh-clip/internal/service"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Join the clipboard mesh and run until interrupted",
		Long: `Starts this node's mesh participation: advertises itself over mDNS,
browses for peers, and keeps the system clipboard synchronized with
whatever the mesh agrees on.

Flags, environment variables, and config-file keys
  Flag            Env var                      Config key
  ─────────────────────────────────────────────────────────
  --port          UNIMESHCLIP_PORT              websocket_port
  --service-name  UNIMESHCLIP_SERVICE_NAME      mdns_service_name
  --security-key  UNIMESHCLIP_SECURITY_KEY      security_key
  --log-level     UNIMESHCLIP_LOG_LEVEL         log-level    (debug|info|warn|error)
  --log-format    UNIMESHCLIP_LOG_FORMAT        log-format   (auto|text|json)
  --config        (flag only)

Config file search order (first found wins; --config replaces the search)
  /etc/unimesh-clip/unimesh-clip.toml
  $HOME/.config/unimesh-clip/unimesh-clip.toml

Precedence: defaults → config file → UNIMESHCLIP_* env vars → CLI flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.Int("port", 8765, "WebSocket mesh listen port")
	f.String("service-name", "unimesh-clip", "mDNS service name shared by the mesh")
	f.String("security-key", "", "shared secret for message signing and transport encryption")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	configFlag := v.GetString("config")
	store, err := configstore.NewFileStore(configFlag)
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}

	cfg := store.Get()
	if v.IsSet("port") {
		cfg.WebsocketPort = v.GetInt("port")
	}
	if v.IsSet("service-name") {
		cfg.MdnsServiceName = v.GetString("service-name")
	}
	if v.IsSet("security-key") {
		cfg.SecurityKey = v.GetString("security-key")
	}
	if err := store.Set(cfg); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}

	slog.Info("unimesh-clip starting",
		"version", Version,
		"port", cfg.WebsocketPort,
		"mdns_service", cfg.MdnsServiceName,
		"signing_enabled", cfg.SecurityKey != "",
	)

	mgr := service.New(store, runtime.GOOS)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down")
	mgr.Stop()
	return nil
}
