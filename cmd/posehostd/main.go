// posehostd is the pose-streaming host daemon: it accepts a single mobile
// device over TCP/Wi-Fi, USB-tunneled TCP, or BLE, authenticates it,
// streams 6-DoF pose samples and commands to the embedding application, and
// drives haptic feedback and runtime config back to the device.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telepose/posehost/pkg/api/rest"
	"github.com/telepose/posehost/pkg/api/ws"
	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/config"
	exportermqtt "github.com/telepose/posehost/pkg/exporter/mqtt"
	"github.com/telepose/posehost/pkg/host"
	"github.com/telepose/posehost/pkg/logger"
	"github.com/telepose/posehost/pkg/session"
)

var (
	version = "0.1.0"

	cfgFile   string
	transport string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "posehostd",
		Short:   "Pose-streaming host daemon",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(newStartCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the host daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "wifi", "transport selector: wifi, usb, ble")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("posehostd %s\n", version)
		},
	}
}

func runStart() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		File:    cfg.Logging.File,
		Service: "posehostd",
	}).Logger

	var initialConfig []byte
	if cfg.InitialConfigPath != "" {
		initialConfig, err = os.ReadFile(cfg.InitialConfigPath)
		if err != nil {
			return fmt.Errorf("read initial config payload: %w", err)
		}
	}

	var exporter *exportermqtt.Exporter
	if cfg.Exporter != nil {
		exporter, err = exportermqtt.New(exportermqtt.Config{
			Broker:         cfg.Exporter.Broker,
			ClientID:       cfg.Exporter.ClientID,
			Username:       cfg.Exporter.Username,
			Password:       cfg.Exporter.Password,
			TopicPrefix:    cfg.Exporter.TopicPrefix,
			QOS:            cfg.Exporter.QOS,
			ConnectTimeout: cfg.Exporter.ConnectTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("start mqtt exporter: %w", err)
		}
		defer exporter.Close()
	}

	debugFeed := ws.NewServer(ws.DefaultConfig())
	if cfg.API != nil {
		if err := debugFeed.Start(); err != nil {
			return fmt.Errorf("start debug feed: %w", err)
		}
		defer debugFeed.Stop(context.Background())
	}

	h, err := host.New(host.Config{
		AuthCode:             cfg.AuthCodeBytes(),
		ServiceName:          cfg.ServiceName,
		TCPPort:              cfg.TCPPort,
		BeaconPort:           cfg.BeaconPort,
		MinVersion:           cfg.MinVersion,
		MaxVersion:           cfg.MaxVersion,
		InitialConfigPayload: initialConfig,
		RuleScript:           cfg.RuleScriptPath,
		Log:                  log,
	}, host.Callbacks{
		OnPose: func(remote string, p codec.Pose) {
			debugFeed.Broadcast(eventFrame(ws.EventPose, p))
			if exporter != nil {
				exporter.PublishPose(remote, p)
			}
		},
		OnCommand: func(remote string, c codec.Cmd) {
			debugFeed.Broadcast(eventFrame(ws.EventCommand, c))
			if exporter != nil {
				exporter.PublishCommand(remote, c)
			}
		},
		OnConnected: func(remote string) {
			log.Info("mobile connected", "remote", remote)
			debugFeed.Broadcast(eventFrame(ws.EventLifecycle, map[string]string{"remote": remote, "event": "connected"}))
		},
		OnAuthenticated: func(remote string) {
			log.Info("mobile authenticated", "remote", remote)
			debugFeed.Broadcast(eventFrame(ws.EventLifecycle, map[string]string{"remote": remote, "event": "authenticated"}))
			if exporter != nil {
				exporter.PublishLifecycle(remote, "authenticated", nil)
			}
		},
		OnDisconnected: func(remote string, reason session.CloseReason) {
			log.Info("mobile disconnected", "remote", remote, "reason", reason.String())
			debugFeed.Broadcast(eventFrame(ws.EventLifecycle, map[string]string{"remote": remote, "event": "disconnected", "reason": reason.String()}))
			if exporter != nil {
				exporter.PublishLifecycle(remote, "disconnected", &reason)
			}
		},
		OnError: func(err error) {
			log.Warn("host error", "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}

	var apiServer *rest.Server
	if cfg.API != nil {
		apiServer = rest.NewServer(h, rest.Config{
			Address:   cfg.API.Address,
			APIKey:    cfg.API.APIKey,
			JWTSecret: cfg.API.JWTSecret,
		}, log)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("start control api: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selector, err := parseSelector(transport)
	if err != nil {
		return err
	}
	if err := h.Start(ctx, selector); err != nil {
		return fmt.Errorf("start host: %w", err)
	}

	log.Info("posehostd running", "transport", selector.String(), "service_name", cfg.ServiceName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		apiServer.Stop(shutdownCtx)
		shutdownCancel()
	}
	return h.Stop()
}

func parseSelector(s string) (host.TransportSelector, error) {
	switch s {
	case "wifi", "":
		return host.Wifi, nil
	case "usb":
		return host.UsbTcp, nil
	case "ble":
		return host.Ble, nil
	default:
		return 0, fmt.Errorf("unknown transport selector %q", s)
	}
}

func eventFrame(t ws.EventType, v interface{}) ws.Event {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("null")
	}
	return ws.Event{Type: t, Data: data}
}
