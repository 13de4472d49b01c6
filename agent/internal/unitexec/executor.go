// Package unitexec drains the Agent's single-worker command queue into the
// local systemd service manager over the system D-Bus (spec §4.7 "Agent
// core", §2 "systemd is the local service manager").
//
// Grounded on the teacher's executor.Executor: one queue, one worker
// goroutine, one job in flight at a time — generalized from "restic backup
// jobs via a third-party CLI wrapper" to "unit operations via
// github.com/coreos/go-systemd/v22/dbus", the systemd integration library
// used across the example pack for exactly this purpose.
package unitexec

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/shared/types"
)

// queueSize bounds how many commands may be buffered while the worker
// drains the previous one — the Controller's job engine dispatches at most
// one outstanding command per node at a time, so this is headroom, not a
// steady-state depth.
const queueSize = 16

// ResultReporter is implemented by the peer client: it forwards a
// CommandResult back to the Controller via ReportCommandResult.
type ResultReporter interface {
	ReportCommandResult(result *proto.CommandResult)
}

// Executor owns the local systemd connection and the single-worker queue
// that serializes every unit operation requested by the Controller.
type Executor struct {
	conn   *dbus.Conn
	queue  chan *proto.Command
	logger *zap.Logger
}

// New creates an Executor bound to an already-connected system bus
// connection.
func New(conn *dbus.Conn, logger *zap.Logger) *Executor {
	return &Executor{
		conn:   conn,
		queue:  make(chan *proto.Command, queueSize),
		logger: logger.Named("unitexec"),
	}
}

// Enqueue adds cmd to the worker queue. Returns an error if the queue is
// full; the rejected command is dropped and no CommandResult is reported
// for it.
func (e *Executor) Enqueue(cmd *proto.Command) error {
	select {
	case e.queue <- cmd:
		return nil
	default:
		return fmt.Errorf("unitexec: command queue full, rejecting %s", cmd.ID)
	}
}

// Run starts the worker loop. It blocks until ctx is cancelled, executing
// one Command at a time in the order received.
func (e *Executor) Run(ctx context.Context, reporter ResultReporter) {
	e.logger.Info("unit executor started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("unit executor stopped")
			return
		case cmd := <-e.queue:
			result := e.execute(ctx, cmd)
			reporter.ReportCommandResult(result)
		}
	}
}

// execute runs a single Command to completion and returns its result.
func (e *Executor) execute(ctx context.Context, cmd *proto.Command) *proto.CommandResult {
	e.logger.Info("executing command", zap.String("command_id", cmd.ID), zap.String("type", cmd.Type), zap.String("unit", cmd.Unit))

	var jobPath string
	var err error

	switch types.JobType(cmd.Type) {
	case types.JobTypeStartUnit:
		jobPath, err = e.waitForJob(ctx, func(ch chan<- string) (int, error) {
			return e.conn.StartUnitContext(ctx, cmd.Unit, mode(cmd.Mode), ch)
		})
	case types.JobTypeStopUnit:
		jobPath, err = e.waitForJob(ctx, func(ch chan<- string) (int, error) {
			return e.conn.StopUnitContext(ctx, cmd.Unit, mode(cmd.Mode), ch)
		})
	case types.JobTypeRestartUnit:
		jobPath, err = e.waitForJob(ctx, func(ch chan<- string) (int, error) {
			return e.conn.RestartUnitContext(ctx, cmd.Unit, mode(cmd.Mode), ch)
		})
	case types.JobTypeReloadUnit:
		jobPath, err = e.waitForJob(ctx, func(ch chan<- string) (int, error) {
			return e.conn.ReloadUnitContext(ctx, cmd.Unit, mode(cmd.Mode), ch)
		})
	case types.JobTypeFreezeUnit:
		err = e.conn.FreezeUnitContext(ctx, cmd.Unit)
	case types.JobTypeThawUnit:
		err = e.conn.ThawUnitContext(ctx, cmd.Unit)
	case types.JobTypeEnable:
		_, _, err = e.conn.EnableUnitFilesContext(ctx, []string{cmd.Unit}, false, true)
	case types.JobTypeDisable:
		_, err = e.conn.DisableUnitFilesContext(ctx, []string{cmd.Unit}, false)
	case types.JobTypeDaemonReload:
		err = e.conn.ReloadContext(ctx)
	case types.JobTypeIsolateAll:
		jobPath, err = e.waitForJob(ctx, func(ch chan<- string) (int, error) {
			return e.conn.StartUnitContext(ctx, "multi-user.target", "isolate", ch)
		})
	default:
		err = fmt.Errorf("unsupported command type %q", cmd.Type)
	}

	if err != nil {
		e.logger.Warn("command failed", zap.String("command_id", cmd.ID), zap.Error(err))
		return &proto.CommandResult{CommandID: cmd.ID, Result: "failed", Message: err.Error()}
	}
	return &proto.CommandResult{CommandID: cmd.ID, Result: "done", JobPath: jobPath}
}

// waitForJob submits a unit operation that reports completion asynchronously
// on a buffered channel, per the go-systemd dbus API, and blocks for its
// single result or ctx cancellation.
func (e *Executor) waitForJob(ctx context.Context, submit func(ch chan<- string) (int, error)) (string, error) {
	ch := make(chan string, 1)
	jobID, err := submit(ch)
	if err != nil {
		return "", err
	}

	select {
	case status := <-ch:
		if status != "done" {
			return "", fmt.Errorf("job %d finished with status %q", jobID, status)
		}
		return fmt.Sprintf("/org/freedesktop/systemd1/job/%d", jobID), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// mode normalizes an empty Command.Mode to systemd's default job mode.
func mode(m string) string {
	if m == "" {
		return "replace"
	}
	return m
}
