// Package proxy implements the Controller's ProxyService engine: refcounted
// cross-node "keep this unit running for my sake" leases (spec §3
// "ProxyService", §4.6 "Proxy-service engine").
//
// Grounded on server/internal/job/engine.go's Command/CommandResult
// correlation table: CreateProxy dispatches a start-unit-equivalent Command
// to the target node and tracks it in this engine's own command-id table,
// built the same way as the job engine's.
package proxy

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/apperr"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/shared/types"
)

// State is the lifecycle of one ProxyService.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
	StateStopped State = "stopped"
)

// key identifies a ProxyService by the triple the spec defines it over.
type key struct {
	RequestingNode string
	TargetNode     string
	TargetUnit     string
}

type proxyService struct {
	key        key
	objectPath string
	state      State
	refCount   int
	cmdID      string // the in-flight start-unit command, while pending
}

// Engine owns every live ProxyService, keyed by its (requesting_node,
// target_node, target_unit) triple, and the reverse index from an
// in-flight command id back to the proxy awaiting its reply.
type Engine struct {
	mu       sync.Mutex
	registry *node.Registry
	basePath string
	logger   *zap.Logger

	byKey map[key]*proxyService
	byCmd map[string]key
}

const defaultBasePath = "/org/fleetd/controller"

// Config configures a new Engine.
type Config struct {
	Registry *node.Registry
	BasePath string
	Logger   *zap.Logger
}

// New creates a proxy Engine bound to a Node registry.
func New(cfg Config) *Engine {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	return &Engine{
		registry: cfg.Registry,
		basePath: basePath,
		logger:   cfg.Logger.Named("proxy"),
		byKey:    make(map[key]*proxyService),
		byCmd:    make(map[string]key),
	}
}

// CreateProxy implements spec §4.6: if a ProxyService for this triple
// already exists, its refcount is incremented and its current object path
// is returned immediately. Otherwise a new ProxyService is created in state
// pending, a start-unit command is dispatched to targetNode, and the
// object path is returned before the target's reply arrives. The transition
// to ready/failed happens when that reply is reported; no event is published
// for it, and the new state is visible only through List.
func (e *Engine) CreateProxy(requestingNode, targetNode, targetUnit string) (string, error) {
	k := key{requestingNode, targetNode, targetUnit}

	e.mu.Lock()
	if p, ok := e.byKey[k]; ok {
		p.refCount++
		path := p.objectPath
		e.mu.Unlock()
		return path, nil
	}
	e.mu.Unlock()

	if _, ok := e.registry.Get(targetNode); !ok {
		return "", apperr.New(apperr.CodeServiceUnknown, fmt.Sprintf("node %q not found", targetNode))
	}
	n := e.registry.Find(targetNode)

	p := &proxyService{
		key:        k,
		objectPath: fmt.Sprintf("%s/proxy/%s", e.basePath, uuid.NewString()),
		state:      StatePending,
		refCount:   1,
	}

	e.mu.Lock()
	e.byKey[k] = p
	e.mu.Unlock()

	if n == nil {
		e.fail(p)
		return p.objectPath, nil
	}

	cmdID := uuid.NewString()
	e.mu.Lock()
	p.cmdID = cmdID
	e.byCmd[cmdID] = k
	e.mu.Unlock()

	cmd := &proto.Command{ID: cmdID, Type: "start-unit", Unit: targetUnit, Mode: "replace"}
	if err := n.SendCommand(cmd); err != nil {
		e.logger.Warn("proxy: failed to dispatch start-unit", zap.String("target_node", targetNode), zap.Error(err))
		e.fail(p)
	}
	return p.objectPath, nil
}

// RemoveProxy decrements the refcount on the (requestingNode, targetNode,
// targetUnit) ProxyService, stopping the remote unit and discarding the
// ProxyService once the refcount reaches zero.
func (e *Engine) RemoveProxy(requestingNode, targetNode, targetUnit string) error {
	k := key{requestingNode, targetNode, targetUnit}

	e.mu.Lock()
	p, ok := e.byKey[k]
	if !ok {
		e.mu.Unlock()
		return apperr.New(apperr.CodeInvalidArgs, "no such proxy service")
	}
	p.refCount--
	if p.refCount > 0 {
		e.mu.Unlock()
		return nil
	}
	delete(e.byKey, k)
	if p.cmdID != "" {
		delete(e.byCmd, p.cmdID)
	}
	p.state = StateStopped
	e.mu.Unlock()

	if n := e.registry.Find(targetNode); n != nil {
		cmd := &proto.Command{ID: uuid.NewString(), Type: "stop-unit", Unit: targetUnit, Mode: "replace"}
		if err := n.SendCommand(cmd); err != nil {
			e.logger.Warn("proxy: failed to dispatch stop-unit on teardown", zap.String("target_node", targetNode), zap.Error(err))
		}
	}
	return nil
}

// ReportCommandResult resolves the pending start-unit command for a proxy,
// transitioning it to ready or failed.
func (e *Engine) ReportCommandResult(result *proto.CommandResult) {
	e.mu.Lock()
	k, found := e.byCmd[result.CommandID]
	if !found {
		e.mu.Unlock()
		return
	}
	delete(e.byCmd, result.CommandID)
	p, ok := e.byKey[k]
	e.mu.Unlock()
	if !ok {
		return
	}

	if result.Result == "done" {
		e.mu.Lock()
		p.state = StateReady
		e.mu.Unlock()
		return
	}
	e.fail(p)
}

func (e *Engine) fail(p *proxyService) {
	e.mu.Lock()
	p.state = StateFailed
	e.mu.Unlock()
	e.logger.Warn("proxy service failed", zap.String("target_node", p.key.TargetNode), zap.String("target_unit", p.key.TargetUnit))
}

// NotifyNodeStatus reacts to a target Node's connectivity change: every
// live ProxyService targeting it is marked failed while it is offline, and
// any of its failed (not stopped) ProxyServices are moved back to pending
// and re-dispatched once it reconnects (spec §4.6 "a failed ProxyService
// returns to pending when its target Node reconnects").
func (e *Engine) NotifyNodeStatus(targetNode string, status types.NodeStatus) {
	switch status {
	case types.NodeStatusOffline:
		e.failAllTargeting(targetNode)
	case types.NodeStatusOnline:
		e.retryAllTargeting(targetNode)
	}
}

func (e *Engine) failAllTargeting(targetNode string) {
	e.mu.Lock()
	var affected []*proxyService
	for k, p := range e.byKey {
		if k.TargetNode != targetNode || p.state == StateStopped {
			continue
		}
		if p.cmdID != "" {
			delete(e.byCmd, p.cmdID)
			p.cmdID = ""
		}
		p.state = StateFailed
		affected = append(affected, p)
	}
	e.mu.Unlock()

	for _, p := range affected {
		e.logger.Warn("proxy service failed: target node disconnected",
			zap.String("target_node", targetNode), zap.String("target_unit", p.key.TargetUnit))
	}
}

func (e *Engine) retryAllTargeting(targetNode string) {
	e.mu.Lock()
	var retry []*proxyService
	for k, p := range e.byKey {
		if k.TargetNode != targetNode || p.state != StateFailed {
			continue
		}
		p.state = StatePending
		retry = append(retry, p)
	}
	e.mu.Unlock()

	n := e.registry.Find(targetNode)
	for _, p := range retry {
		if n == nil {
			e.fail(p)
			continue
		}
		cmdID := uuid.NewString()
		e.mu.Lock()
		p.cmdID = cmdID
		e.byCmd[cmdID] = p.key
		e.mu.Unlock()

		cmd := &proto.Command{ID: cmdID, Type: "start-unit", Unit: p.key.TargetUnit, Mode: "replace"}
		if err := n.SendCommand(cmd); err != nil {
			e.logger.Warn("proxy: failed to re-dispatch start-unit after reconnect", zap.String("target_node", targetNode), zap.Error(err))
			e.fail(p)
		}
	}
}

// Snapshot describes one live ProxyService for read paths.
type Snapshot struct {
	RequestingNode string
	TargetNode     string
	TargetUnit     string
	ObjectPath     string
	State          State
	RefCount       int
}

// List returns a Snapshot of every live ProxyService.
func (e *Engine) List() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.byKey))
	for k, p := range e.byKey {
		out = append(out, Snapshot{
			RequestingNode: k.RequestingNode,
			TargetNode:     k.TargetNode,
			TargetUnit:     k.TargetUnit,
			ObjectPath:     p.objectPath,
			State:          p.state,
			RefCount:       p.refCount,
		})
	}
	return out
}
