// Package job implements the Controller's Job engine: a FIFO queue with a
// single currently-running Job, dispatching unit operations to Nodes and
// correlating their asynchronous Command/CommandResult replies (spec §3
// "Job", §4.3 "Job engine").
//
// Grounded on server/internal/scheduler/scheduler.go's job-record-plus-
// dispatch shape, generalized from "one backup payload per policy tick" to
// "one FIFO queue shared by every job type, dispatched per type", and
// from gocron-driven scheduling to direct Submit calls (spec §4.3 job
// dispatch is caller-driven, not time-driven — the heartbeat reaper is the
// only gocron consumer in this system, see server/internal/reaper).
package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/apperr"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/shared/types"
)

const defaultBasePath = "/org/fleetd/controller"

// isolateTimeout bounds how long a single node's reply to an IsolateAll
// fan-out command is waited for before that node is counted as failed.
const isolateTimeout = 30 // seconds, armed per command by dispatchIsolateAll

// NewFunc is invoked exactly once per job, after the job is queued, in
// submission order, strictly before the corresponding RemovedFunc for that
// job (spec §5 "JobNew precedes JobRemoved").
type NewFunc func(id uint32, objectPath string)

// StartFunc is invoked exactly once per job, when it transitions from
// waiting to running — i.e. when PropertiesChanged(State=running) would
// fire (spec §5 "PropertiesChanged(State=running) precedes any per-job
// Command"). A job canceled while still queued never sees this hook.
type StartFunc func(snap Snapshot)

// RemovedFunc is invoked exactly once per job when it leaves the engine.
// Snapshot carries the job's identifying fields since byID no longer has
// an entry for id by the time this fires — callers that need NodeName,
// JobType or Unit (to persist history or send a notification) cannot look
// them up after the fact.
type RemovedFunc func(snap Snapshot, result types.JobResult)

// Snapshot is a read-only copy of a job's identifying fields, handed to a
// RemovedFunc (and returned by Engine.Get) since the engine's own bookkeeping
// is freed once the job leaves the queue.
type Snapshot struct {
	ID         uint32
	ObjectPath string
	JobType    types.JobType
	NodeName   string
	Unit       string
	Mode       string
	State      types.JobState
	StartedAt  *time.Time
}

// job is the engine's internal bookkeeping for one queued or running Job.
type job struct {
	id         uint32
	objectPath string
	jobType    types.JobType
	nodeName   string // target node; unused for IsolateAll
	unit       string
	mode       string
	properties map[string]string

	state types.JobState

	// outstanding maps an in-flight command id to the node it was sent to,
	// so ReportCommandResult can be correlated back and, for IsolateAll,
	// the engine knows how many replies remain.
	outstanding map[string]string
	failed      bool
	canceling   bool
	startedAt   *time.Time
}

// Engine owns the FIFO queue, the single current job, and the command
// correlation table used to match asynchronous agent replies back to the
// job that issued them.
type Engine struct {
	mu       sync.Mutex
	registry *node.Registry
	basePath string
	logger   *zap.Logger

	nextID  uint32
	queue   []*job
	current *job
	byID    map[uint32]*job
	byCmd   map[string]uint32 // command id -> job id

	onNew     NewFunc
	onStart   StartFunc
	onRemoved RemovedFunc
}

// Config configures a new Engine.
type Config struct {
	Registry *node.Registry
	BasePath string
	Logger   *zap.Logger
}

// New creates a job Engine bound to a Node registry.
func New(cfg Config) *Engine {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	return &Engine{
		registry: cfg.Registry,
		basePath: basePath,
		logger:   cfg.Logger.Named("job"),
		nextID:   1,
		byID:     make(map[uint32]*job),
		byCmd:    make(map[string]uint32),
	}
}

// OnNew installs the hook fired when a job is queued.
func (e *Engine) OnNew(fn NewFunc) { e.mu.Lock(); e.onNew = fn; e.mu.Unlock() }

// OnStart installs the hook fired when a job transitions to running.
func (e *Engine) OnStart(fn StartFunc) { e.mu.Lock(); e.onStart = fn; e.mu.Unlock() }

// OnRemoved installs the hook fired when a job leaves the engine.
func (e *Engine) OnRemoved(fn RemovedFunc) { e.mu.Lock(); e.onRemoved = fn; e.mu.Unlock() }

// Submit enqueues a new job of jobType targeting node/unit with mode and
// properties (the latter two meaningful only for StartUnit-family types),
// returning its object path. If no job is currently running, the new job
// (or the head of the queue) starts immediately, synchronously with this
// call, before Submit returns — matching the spec's requirement that
// JobNew is observable before the caller's reply.
func (e *Engine) Submit(jobType types.JobType, nodeName, unit, mode string, properties map[string]string) (string, error) {
	if jobType != types.JobTypeIsolateAll {
		if snap, ok := e.registry.Get(nodeName); !ok || snap.Status != types.NodeStatusOnline {
			return "", apperr.New(apperr.CodeOffline, fmt.Sprintf("node %q is not online", nodeName))
		}
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	j := &job{
		id:          id,
		objectPath:  fmt.Sprintf("%s/job/%d", e.basePath, id),
		jobType:     jobType,
		nodeName:    nodeName,
		unit:        unit,
		mode:        mode,
		properties:  properties,
		state:       types.JobStateWaiting,
		outstanding: make(map[string]string),
	}
	e.byID[id] = j
	e.queue = append(e.queue, j)
	onNew := e.onNew
	startNow := e.current == nil
	e.mu.Unlock()

	if onNew != nil {
		onNew(id, j.objectPath)
	}
	e.logger.Info("job queued", zap.Uint32("job_id", id), zap.String("type", string(jobType)), zap.String("node", nodeName))

	if startNow {
		e.startNext()
	}
	return j.objectPath, nil
}

// startNext pops the head of the queue (if any and no job is currently
// running) and dispatches it.
func (e *Engine) startNext() {
	e.mu.Lock()
	if e.current != nil || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	j := e.queue[0]
	e.queue = e.queue[1:]
	now := time.Now()
	j.state = types.JobStateRunning
	j.startedAt = &now
	e.current = j
	onStart := e.onStart
	e.mu.Unlock()

	e.logger.Info("job running", zap.Uint32("job_id", j.id), zap.String("type", string(j.jobType)))
	if onStart != nil {
		onStart(j.snapshot())
	}

	switch j.jobType {
	case types.JobTypeIsolateAll:
		e.dispatchIsolateAll(j)
	case types.JobTypeEnable, types.JobTypeDisable, types.JobTypeDaemonReload:
		e.dispatchSimple(j)
	default:
		e.dispatchUnitCommand(j)
	}
}

// dispatchUnitCommand sends a single StartUnit/StopUnit/RestartUnit/
// ReloadUnit command to the job's target node.
func (e *Engine) dispatchUnitCommand(j *job) {
	n := e.registry.Find(j.nodeName)
	if n == nil {
		e.finish(j, types.JobResultFailed)
		return
	}
	cmdID := uuid.NewString()

	e.mu.Lock()
	j.outstanding[cmdID] = j.nodeName
	e.byCmd[cmdID] = j.id
	e.mu.Unlock()

	cmd := &proto.Command{
		ID:         cmdID,
		Type:       string(j.jobType),
		Unit:       j.unit,
		Mode:       j.mode,
		Properties: j.properties,
	}
	if err := n.SendCommand(cmd); err != nil {
		e.logger.Warn("failed to send command", zap.Uint32("job_id", j.id), zap.Error(err))
		e.completeChild(cmdID, false)
	}
}

// dispatchSimple handles the node-scoped, propertyless operations (Enable,
// Disable, DaemonReload) which use the same Command/CommandResult shape as
// unit commands but carry no Mode/Properties.
func (e *Engine) dispatchSimple(j *job) {
	e.dispatchUnitCommand(j)
}

// dispatchIsolateAll fans an isolate-all command out to every online node,
// failing any node that has not replied within isolateTimeout, replacing the C implementation's mutable shared
// counter with a per-job outstanding-set the engine itself owns under its
// own mutex (spec §9 design note).
func (e *Engine) dispatchIsolateAll(j *job) {
	names := e.registry.OnlineNodeNames()
	if len(names) == 0 {
		e.finish(j, types.JobResultDone)
		return
	}

	e.mu.Lock()
	for _, name := range names {
		cmdID := uuid.NewString()
		j.outstanding[cmdID] = name
		e.byCmd[cmdID] = j.id
	}
	pending := make(map[string]string, len(j.outstanding))
	for id, name := range j.outstanding {
		pending[id] = name
	}
	e.mu.Unlock()

	for cmdID, name := range pending {
		time.AfterFunc(isolateTimeout*time.Second, func() { e.completeChild(cmdID, false) })
		n := e.registry.Find(name)
		cmd := &proto.Command{ID: cmdID, Type: string(types.JobTypeIsolateAll)}
		if n == nil {
			e.completeChild(cmdID, false)
			continue
		}
		if err := n.SendCommand(cmd); err != nil {
			e.logger.Warn("isolate-all: failed to reach node", zap.String("node", name), zap.Error(err))
			e.completeChild(cmdID, false)
		}
	}
}

// ReportCommandResult is called by the peer server when an agent reports
// the outcome of a previously dispatched Command.
func (e *Engine) ReportCommandResult(result *proto.CommandResult) {
	e.completeChild(result.CommandID, result.Result == "done")
}

// completeChild resolves one outstanding command, advancing or finishing
// its owning job once every outstanding command for that job has replied.
func (e *Engine) completeChild(cmdID string, ok bool) {
	e.mu.Lock()
	jobID, found := e.byCmd[cmdID]
	if !found {
		e.mu.Unlock()
		return
	}
	delete(e.byCmd, cmdID)
	j, ok2 := e.byID[jobID]
	if !ok2 {
		e.mu.Unlock()
		return
	}
	delete(j.outstanding, cmdID)
	if !ok {
		j.failed = true
	}
	remaining := len(j.outstanding)
	e.mu.Unlock()

	if remaining > 0 {
		return
	}

	result := types.JobResultDone
	switch {
	case j.canceling:
		result = types.JobResultCanceled
	case j.failed:
		result = types.JobResultFailed
	}
	e.finish(j, result)
}

// Cancel marks a running or queued job for cancellation. A queued job is
// removed immediately with result Canceled; a running job finishes as
// Canceled once all of its outstanding commands have reported back (the
// cancellation request is best-effort and does not forcibly sever agent
// commands already in flight).
func (e *Engine) Cancel(id uint32) error {
	e.mu.Lock()
	j, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return apperr.New(apperr.CodeInvalidArgs, fmt.Sprintf("no such job %d", id))
	}
	if j != e.current {
		for i, q := range e.queue {
			if q == j {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
		delete(e.byID, id)
		e.mu.Unlock()
		e.fireRemoved(j, types.JobResultCanceled)
		return nil
	}
	j.canceling = true
	e.mu.Unlock()
	return nil
}

// CancelForNode fails every queued or running job that targets name,
// since a disconnected Node can never send back the Command/CommandResult
// that job was waiting on (spec §"Node disconnect" cancels outstanding
// jobs targeting the node with result Failed). An IsolateAll job is only
// partially affected: its in-flight command to name is failed like any
// other outstanding reply, but the job itself keeps waiting on the other
// nodes it fanned out to.
func (e *Engine) CancelForNode(name string) {
	e.mu.Lock()
	var removed []*job
	kept := e.queue[:0]
	for _, j := range e.queue {
		if j.jobType != types.JobTypeIsolateAll && j.nodeName == name {
			removed = append(removed, j)
			delete(e.byID, j.id)
			continue
		}
		kept = append(kept, j)
	}
	e.queue = kept

	var failCurrent *job
	var isolateCmds []string
	if cur := e.current; cur != nil {
		switch {
		case cur.jobType == types.JobTypeIsolateAll:
			for cmdID, node := range cur.outstanding {
				if node == name {
					isolateCmds = append(isolateCmds, cmdID)
				}
			}
		case cur.nodeName == name:
			failCurrent = cur
			e.current = nil
			delete(e.byID, cur.id)
		}
	}
	e.mu.Unlock()

	for _, j := range removed {
		e.fireRemoved(j, types.JobResultFailed)
	}
	if failCurrent != nil {
		e.fireRemoved(failCurrent, types.JobResultFailed)
		e.startNext()
	}
	for _, cmdID := range isolateCmds {
		e.completeChild(cmdID, false)
	}
}

// finish transitions j out of "current", fires JobRemoved, and starts the
// next queued job, if any.
func (e *Engine) finish(j *job, result types.JobResult) {
	e.mu.Lock()
	if e.current == j {
		e.current = nil
	}
	delete(e.byID, j.id)
	e.mu.Unlock()

	e.fireRemoved(j, result)
	e.startNext()
}

func (e *Engine) fireRemoved(j *job, result types.JobResult) {
	e.mu.Lock()
	hook := e.onRemoved
	e.mu.Unlock()

	e.logger.Info("job removed", zap.Uint32("job_id", j.id), zap.String("result", string(result)))
	if hook != nil {
		hook(j.snapshot(), result)
	}
}

// snapshot copies j's identifying fields. Called with e.mu held or after j
// has already left the queue, where j is no longer mutated concurrently.
func (j *job) snapshot() Snapshot {
	return Snapshot{
		ID:         j.id,
		ObjectPath: j.objectPath,
		JobType:    j.jobType,
		NodeName:   j.nodeName,
		Unit:       j.unit,
		Mode:       j.mode,
		State:      j.state,
		StartedAt:  j.startedAt,
	}
}

// Get returns a snapshot of the job identified by id, if it is still queued
// or running. It returns false once the job has been removed — callers
// that need a completed job's fields should read them from the Snapshot
// passed to their RemovedFunc instead.
func (e *Engine) Get(id uint32) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}
