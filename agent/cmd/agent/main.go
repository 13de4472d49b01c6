// Package main is the entry point for the fleetd-agent binary.
// It wires all internal packages together and starts the connection loop.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Connect to the local systemd system bus
//  4. Build the unit executor and unit-event relay
//  5. Build the peer client (gRPC connection to the controller)
//  6. Start the executor worker, relay, and connection loop
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	fleetdconfig "github.com/fleetd-io/fleetd/agent/internal/config"
	"github.com/fleetd-io/fleetd/agent/internal/peer"
	"github.com/fleetd-io/fleetd/agent/internal/relay"
	"github.com/fleetd-io/fleetd/agent/internal/unitexec"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	nodeName          string
	controllerAddr    string
	sharedSecret      string
	stateDir          string
	logLevel          string
	heartbeatInterval time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "fleetd-agent",
		Short: "fleetd agent — systemd unit manager agent",
		Long: `fleetd-agent runs on each managed machine. It connects to the
fleetd controller via a persistent gRPC stream, receives unit operations
(start/stop/restart/reload/enable/disable/isolate), executes them against
the local systemd, and relays unit state changes back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	hostname, _ := os.Hostname()
	root.AddCommand(newVersionCmd())

	// file holds the merged /etc/fleetd/fleetd.conf + fleetd.conf.d/*.conf
	// layer; missing files just yield an empty map, so every option still
	// falls through to its env var or hardcoded default below.
	file, err := fleetdconfig.Load(fleetdconfig.DefaultFile, fleetdconfig.DefaultConfDir)
	if err != nil {
		file = fleetdconfig.Values{}
	}

	root.PersistentFlags().StringVar(&cfg.nodeName, "node-name", fleetdconfig.Resolve(file, "NodeName", "FLEETD_NODE_NAME", hostname), "Name this node registers under")
	root.PersistentFlags().StringVar(&cfg.controllerAddr, "controller-addr", fleetdconfig.Resolve(file, "ControllerAddress", "FLEETD_CONTROLLER", "localhost:9090"), "Controller gRPC address (host:port)")
	root.PersistentFlags().StringVar(&cfg.sharedSecret, "node-secret", fleetdconfig.Resolve(file, "SharedSecret", "FLEETD_NODE_SECRET", ""), "Shared secret for gRPC authentication (must match the controller's configured secret)")
	root.PersistentFlags().StringVar(&cfg.stateDir, "state-dir", fleetdconfig.Resolve(file, "StateDir", "FLEETD_STATE_DIR", defaultStateDir()), "Directory for agent state (agent-state.json)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", fleetdconfig.Resolve(file, "LogLevel", "FLEETD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.heartbeatInterval, "heartbeat-interval", resolveDuration(file, "HeartbeatInterval", "FLEETD_HEARTBEAT_INTERVAL", peer.DefaultHeartbeatInterval), "How often to send a Heartbeat to the controller — must agree with the controller's --heartbeat-timeout (2x this value)")

	return root
}

// resolveDuration applies the same file/env precedence chain as
// fleetdconfig.Resolve, then parses the result as a duration.
func resolveDuration(file fleetdconfig.Values, fileKey, envKey string, defaultVal time.Duration) time.Duration {
	resolved := fleetdconfig.Resolve(file, fileKey, envKey, defaultVal.String())
	d, err := time.ParseDuration(resolved)
	if err != nil {
		return defaultVal
	}
	return d
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetd-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.sharedSecret == "" {
		logger.Warn("node-secret not configured — gRPC connection is unauthenticated (set FLEETD_NODE_SECRET in production)")
	}
	if cfg.nodeName == "" {
		return fmt.Errorf("node-name must not be empty")
	}

	logger.Info("starting fleetd agent",
		zap.String("version", version),
		zap.String("node", cfg.nodeName),
		zap.String("controller", cfg.controllerAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- systemd connection ---
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()
	logger.Info("connected to systemd system bus")

	// --- Unit executor ---
	exec := unitexec.New(conn, logger)

	// --- Unit-event relay ---
	rl := relay.New(conn, logger)

	// --- Peer client ---
	peerCfg := peer.Config{
		NodeName:          cfg.nodeName,
		ControllerAddr:    cfg.controllerAddr,
		SharedSecret:      cfg.sharedSecret,
		StateDir:          cfg.stateDir,
		HeartbeatInterval: cfg.heartbeatInterval,
	}
	client := peer.New(peerCfg, exec, logger)

	// --- Start ---
	go exec.Run(ctx, client)
	go func() {
		if err := rl.Run(ctx, client); err != nil && ctx.Err() == nil {
			logger.Warn("unit-event relay stopped", zap.Error(err))
		}
	}()

	client.Run(ctx)

	logger.Info("fleetd agent stopped")
	return nil
}

// defaultStateDir returns the platform-appropriate default state directory.
func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.fleetd"
	}
	return ".fleetd"
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
