// Package commands is the terminal client: it wires the session orchestrator
// to a broker-backed peer and reads commands from stdin.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/peerline/internal/adapters/rtc"
	"github.com/dkeye/peerline/internal/app/orch"
	"github.com/dkeye/peerline/internal/config"
	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
	"github.com/dkeye/peerline/internal/media"
	"github.com/dkeye/peerline/internal/peer"
	"github.com/dkeye/peerline/internal/permission"
	"github.com/dkeye/peerline/internal/ui"
)

func NewRootCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "peerline",
		Short: "Peer-to-peer voice calls and text chat",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd, v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}

	f := cmd.Flags()
	f.String("config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	f.String("broker-url", v.GetString("peer.broker_url"), "broker websocket base URL")
	f.String("id", "", "peer id to claim (empty for a broker-assigned one)")
	f.String("record-dir", "", "write received call audio as ogg files here")
	f.String("host-bridge", "", "command answering host permission checks")
	f.Bool("color", v.GetBool("peer.color"), "colorize output on a terminal")
	f.Bool("debug", false, "debug logging")
	return cmd
}

var flagKeys = map[string]string{
	"config":      "config",
	"broker-url":  "peer.broker_url",
	"id":          "peer.id",
	"record-dir":  "peer.record_dir",
	"host-bridge": "peer.host_bridge",
	"color":       "peer.color",
	"debug":       "debug",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if v.GetBool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	hint, err := parseHint(cfg.Peer.ID)
	if err != nil {
		return err
	}

	api, err := rtc.NewAPI(zerolog.GlobalLevel(), false)
	if err != nil {
		return err
	}
	opts := peer.OptionsFromConfig(cfg.Peer)
	opts.API = api

	doc := ui.NewDocument(ui.NewTerminal(cfg.Peer.Color))
	player := media.NewPlayer(cfg.Peer.RecordDir)
	o := orch.New(orch.Options{
		Doc: doc,
		NewPeer: func(hint domain.PeerID) (core.PeerClient, error) {
			return peer.New(hint, opts)
		},
		Permission:        permission.New(media.DefaultCapturer(), permission.DetectBridge(cfg.Peer.HostBridge)),
		Player:            player,
		Clipboard:         clipboard.WriteAll,
		IncomingConn:      orch.IncomingPolicy(cfg.Peer.IncomingConnection),
		IncomingCall:      orch.IncomingPolicy(cfg.Peer.IncomingCall),
		ReconnectAttempts: cfg.Peer.ReconnectAttempts,
	})

	stopped := make(chan error, 1)
	go func() { stopped <- o.Run(ctx) }()

	if err := o.Initialize(ctx, string(hint)); err != nil {
		cancel()
		<-stopped
		return err
	}

	go func() {
		readCommands(ctx, os.Stdin, o, player, os.Stdout)
		cancel()
	}()

	<-ctx.Done()
	<-stopped
	log.Info().Str("module", "cli").Msg("bye")
	return nil
}

func parseHint(raw string) (domain.PeerID, error) {
	if raw == "" {
		return "", nil
	}
	return domain.ParsePeerID(raw)
}
