// Package peer manages the Agent's persistent gRPC connection to the
// Controller: Register, the Heartbeat loop, the StreamCommands loop (into
// the unit executor), ReportCommandResult, and StreamUnitEvents (from the
// unit-event relay) — spec §4.7 "Agent core".
//
// Grounded on agent/internal/connection/manager.go's dial → register → run
// concurrent loops → reconnect-with-backoff shape, generalized from
// AgentService's job/log RPCs to PeerService's command/unit-event RPCs, and
// from a stable-UUID agent identity to the spec's node-name identity (a
// node re-registers under the same configured name on every reconnect,
// rather than being issued a fresh id).
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/fleetd-io/fleetd/agent/internal/metrics"
	"github.com/fleetd-io/fleetd/agent/internal/unitexec"
	"github.com/fleetd-io/fleetd/shared/proto"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.2

	// DefaultHeartbeatInterval governs how often Heartbeat fires when Config
	// leaves HeartbeatInterval unset. The Controller's heartbeat reaper is
	// configured with a timeout inside the spec's [2,3]x-interval window
	// (spec §4.5), derived from this same value on the server side.
	DefaultHeartbeatInterval = 2 * time.Second
)

// state is persisted to disk so the agent remembers the controller address
// it last connected to across restarts (spec §4.7 "controller address
// switchover").
type state struct {
	ControllerAddr string `json:"controller_addr"`
}

func stateFilePath(stateDir string) string {
	return filepath.Join(stateDir, "agent-state.json")
}

func loadState(stateDir string) (state, error) {
	data, err := os.ReadFile(stateFilePath(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state{}, nil
		}
		return state{}, fmt.Errorf("peer: failed to read state file: %w", err)
	}
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return state{}, fmt.Errorf("peer: corrupted state file: %w", err)
	}
	return s, nil
}

func saveState(stateDir string, s state) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("peer: failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return fmt.Errorf("peer: failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(stateDir, "agent-state.*.tmp")
	if err != nil {
		return fmt.Errorf("peer: failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("peer: failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("peer: failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, stateFilePath(stateDir)); err != nil {
		return fmt.Errorf("peer: failed to rename state file: %w", err)
	}
	ok = true
	return nil
}

// Config holds everything needed to connect to the Controller.
type Config struct {
	NodeName       string
	ControllerAddr string
	SharedSecret   string
	StateDir       string

	// HeartbeatInterval governs how often Heartbeat fires. Zero means
	// DefaultHeartbeatInterval. Must match what the Controller's heartbeat
	// reaper was told to expect, since offline detection is a multiple of
	// this value, not an independently configured timeout.
	HeartbeatInterval time.Duration
}

// heartbeatInterval returns cfg.HeartbeatInterval, or DefaultHeartbeatInterval
// if unset.
func (c *Client) heartbeatInterval() time.Duration {
	if c.cfg.HeartbeatInterval > 0 {
		return c.cfg.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// Client maintains the persistent gRPC connection to the Controller. It
// implements unitexec.ResultReporter and relay.Sink so those packages can
// report results and forward events without knowing about gRPC.
type Client struct {
	cfg    Config
	exec   *unitexec.Executor
	logger *zap.Logger

	mu       sync.RWMutex
	rpc      proto.PeerServiceClient
	eventStr proto.PeerService_StreamUnitEventsClient
}

// New creates a Client. Call Run to start the connection loop.
func New(cfg Config, exec *unitexec.Executor, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, exec: exec, logger: logger.Named("peer")}
}

// Run starts the connection loop: connect, register, run the heartbeat,
// command, and unit-event loops concurrently; on any failure, reconnect
// with exponential backoff and jitter. Blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			c.logger.Info("peer client stopped")
			return
		}

		addr := c.resolveAddr()
		c.logger.Info("connecting to controller", zap.String("addr", addr))

		if err := c.connect(ctx, addr); err != nil {
			c.logger.Warn("connection failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = backoffInitial
	}
}

// resolveAddr prefers the last controller address persisted to disk (spec
// §4.7 "controller address switchover" — an agent that has been pointed at
// a new controller keeps using it across restarts), falling back to the
// configured address.
func (c *Client) resolveAddr() string {
	st, err := loadState(c.cfg.StateDir)
	if err == nil && st.ControllerAddr != "" {
		return st.ControllerAddr
	}
	return c.cfg.ControllerAddr
}

// connect establishes one gRPC session: dial, Register, then run the
// heartbeat/command/event loops until one of them fails or ctx ends.
func (c *Client) connect(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	ctx = metadata.NewOutgoingContext(ctx, metadata.Pairs("node-secret", c.cfg.SharedSecret))

	rpc := proto.NewPeerServiceClient(conn)
	c.mu.Lock()
	c.rpc = rpc
	c.mu.Unlock()

	resp, err := rpc.Register(ctx, &proto.RegisterRequest{NodeName: c.cfg.NodeName})
	if err != nil {
		return fmt.Errorf("Register RPC failed: %w", err)
	}
	if err := saveState(c.cfg.StateDir, state{ControllerAddr: addr}); err != nil {
		c.logger.Warn("failed to persist controller address", zap.Error(err))
	}
	c.logger.Info("registered with controller", zap.String("object_path", resp.ObjectPath))

	errCh := make(chan error, 3)
	go func() { errCh <- c.heartbeatLoop(ctx, rpc) }()
	go func() { errCh <- c.commandLoop(ctx, rpc) }()
	go func() { errCh <- c.unitEventLoop(ctx, rpc) }()

	err = <-errCh
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) heartbeatLoop(ctx context.Context, rpc proto.PeerServiceClient) error {
	ticker := time.NewTicker(c.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := rpc.Heartbeat(ctx, &proto.HeartbeatRequest{
				NodeName: c.cfg.NodeName,
				Metrics:  metrics.CollectWithTimeout(),
			})
			if err != nil {
				return fmt.Errorf("heartbeat failed: %w", err)
			}
		}
	}
}

// commandLoop opens StreamCommands and feeds every received Command into
// the unit executor.
func (c *Client) commandLoop(ctx context.Context, rpc proto.PeerServiceClient) error {
	stream, err := rpc.StreamCommands(ctx, &proto.StreamCommandsRequest{NodeName: c.cfg.NodeName})
	if err != nil {
		return fmt.Errorf("StreamCommands open failed: %w", err)
	}

	c.logger.Info("command stream open")
	for {
		cmd, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("StreamCommands recv: %w", err)
		}
		if err := c.exec.Enqueue(cmd); err != nil {
			c.logger.Error("failed to enqueue command", zap.String("command_id", cmd.ID), zap.Error(err))
		}
	}
}

// unitEventLoop opens StreamUnitEvents and keeps it available for the
// relay's SendUnitEvent calls until the session ends.
func (c *Client) unitEventLoop(ctx context.Context, rpc proto.PeerServiceClient) error {
	stream, err := rpc.StreamUnitEvents(ctx)
	if err != nil {
		return fmt.Errorf("StreamUnitEvents open failed: %w", err)
	}

	c.mu.Lock()
	c.eventStr = stream
	c.mu.Unlock()

	<-ctx.Done()
	_, _ = stream.CloseAndRecv()
	return nil
}

// ReportCommandResult implements unitexec.ResultReporter.
func (c *Client) ReportCommandResult(result *proto.CommandResult) {
	c.mu.RLock()
	rpc := c.rpc
	c.mu.RUnlock()
	if rpc == nil {
		c.logger.Warn("ReportCommandResult: no active connection, result dropped", zap.String("command_id", result.CommandID))
		return
	}
	if _, err := rpc.ReportCommandResult(context.Background(), result); err != nil {
		c.logger.Warn("ReportCommandResult RPC failed", zap.String("command_id", result.CommandID), zap.Error(err))
	}
}

// SendUnitEvent implements relay.Sink.
func (c *Client) SendUnitEvent(ev *proto.UnitEvent) error {
	c.mu.RLock()
	stream := c.eventStr
	c.mu.RUnlock()
	if stream == nil {
		return errors.New("peer: no open unit-event stream")
	}
	return stream.Send(ev)
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
