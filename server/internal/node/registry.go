// Package node implements the Controller-side Node registry: the set of
// configured node names, currently-anonymous inbound connections, and, for
// each registered node, its agent connection, object path, state, and
// last-seen timestamp (spec §3 "Node", §4.2 "Register protocol").
//
// Grounded on server/internal/agentmanager/manager.go's map+RWMutex registry
// shape, generalized from "connected agent streams" to the full Node state
// machine the spec requires.
package node

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/shared/pathescape"
	"github.com/fleetd-io/fleetd/shared/proto"
	"github.com/fleetd-io/fleetd/shared/types"
	"github.com/fleetd-io/fleetd/server/internal/apperr"
)

// basePath is the configurable root object namespace; see Config.BasePath.
const defaultBasePath = "/org/fleetd/controller"

// CommandSink is implemented by the peer package: it lets other engines
// (job, proxy) push a Command down a Node's open outbound stream without
// mutating Node internals directly (spec §5 "shared-resource policy").
type CommandSink interface {
	SendCommand(cmd *proto.Command) error
}

// Node represents one managed machine. It is created the first time its
// name appears (configuration or a successful Register) and is never
// destroyed for the lifetime of the Controller process — only its Status
// transitions between online and offline.
type Node struct {
	Name           string
	ObjectPath     string
	Status         types.NodeStatus
	IP             string
	LastSeenMicros int64 // microseconds since epoch; 0 = never

	conn CommandSink // non-nil only while online
}

// SendCommand pushes cmd to this node's agent. Returns apperr Offline if the
// node has no live connection.
func (n *Node) SendCommand(cmd *proto.Command) error {
	if n.conn == nil {
		return apperr.New(apperr.CodeOffline, fmt.Sprintf("node %q is offline", n.Name))
	}
	return n.conn.SendCommand(cmd)
}

// Snapshot is an immutable, race-free view of a Node for read paths (REST,
// ListNodes, tests) — it is the canonical (soss) tuple of spec §6, modeled
// as a named struct instead of an untyped tuple (see DESIGN.md, Open
// Question 1).
type Snapshot struct {
	Name       string
	ObjectPath string
	Status     types.NodeStatus
	IP         string
}

// StatusChangeFunc is invoked, outside the registry's lock, whenever a
// Node's Status transitions. Other engines (job, monitor, proxy, notify)
// hook this to implement their own side effects of a node going offline or
// back online (spec §4.5).
type StatusChangeFunc func(nodeName string, status types.NodeStatus)

// Registry owns every Node plus the allow-list and the bookkeeping needed to
// enforce Register's idempotence rules (spec §4.2, testable property
// "Register idempotence and uniqueness").
type Registry struct {
	mu       sync.Mutex
	nodes    map[string]*Node
	allowed  map[string]struct{} // empty set => accept any name
	byPeer   map[string]string   // peer connection id -> bound node name
	basePath string
	logger   *zap.Logger
	onChange StatusChangeFunc
}

// Config configures a new Registry.
type Config struct {
	// AllowedNodeNames is the configured allow-list. An empty slice means
	// "accept any name" (spec §4.2, §9 Open Question 2).
	AllowedNodeNames []string
	BasePath         string
	Logger           *zap.Logger
}

// New creates a Registry and pre-creates a Node entry (offline) for every
// name in the allow-list, mirroring the source's "pre-create Node objects
// from the allow-list" behavior noted in spec §9.
func New(cfg Config) *Registry {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	r := &Registry{
		nodes:    make(map[string]*Node),
		allowed:  make(map[string]struct{}, len(cfg.AllowedNodeNames)),
		byPeer:   make(map[string]string),
		basePath: basePath,
		logger:   cfg.Logger.Named("node"),
	}
	for _, name := range cfg.AllowedNodeNames {
		r.allowed[name] = struct{}{}
		r.nodes[name] = &Node{Name: name, ObjectPath: r.objectPath(name), Status: types.NodeStatusOffline}
	}
	return r
}

// OnStatusChange installs the hook invoked after every Status transition.
func (r *Registry) OnStatusChange(fn StatusChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) objectPath(name string) string {
	return r.basePath + "/node/" + pathescape.Escape(name)
}

// Register implements spec §4.2 steps 1-3: validate the requested name
// against the allow-list and against any existing connection, without yet
// attaching a stream (that happens in Attach, mirroring the teacher's
// Register-then-StreamJobs split). peerID identifies the underlying
// transport connection (e.g. the gRPC peer address) and is used to detect a
// second Register on the same connection.
func (r *Registry) Register(peerID, name string) (objectPath string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, already := r.byPeer[peerID]; already {
		return "", apperr.New(apperr.CodeAddressInUse, "connection has already registered")
	}

	if len(r.allowed) > 0 {
		if _, ok := r.allowed[name]; !ok {
			return "", apperr.New(apperr.CodeServiceUnknown, fmt.Sprintf("node %q is not in the allow-list", name))
		}
	}

	n, exists := r.nodes[name]
	if exists && n.conn != nil {
		return "", apperr.New(apperr.CodeAddressInUse, fmt.Sprintf("node %q already has an active agent connection", name))
	}
	if !exists {
		n = &Node{Name: name, ObjectPath: r.objectPath(name), Status: types.NodeStatusOffline}
		r.nodes[name] = n
	}

	r.byPeer[peerID] = name
	return n.ObjectPath, nil
}

// Attach completes the migration described in spec §4.2 step 4-5: the Node
// becomes the sole owner of the agent connection, its state becomes online,
// ip and last_seen are recorded, and the status-change hook fires.
func (r *Registry) Attach(peerID, name, ip string, conn CommandSink, nowMicros int64) error {
	r.mu.Lock()
	bound, ok := r.byPeer[peerID]
	if !ok || bound != name {
		r.mu.Unlock()
		return apperr.New(apperr.CodeInvalidArgs, "no pending registration for this connection")
	}
	n, ok := r.nodes[name]
	if !ok {
		r.mu.Unlock()
		return apperr.New(apperr.CodeServiceUnknown, fmt.Sprintf("node %q not found", name))
	}
	n.conn = conn
	n.IP = ip
	n.Status = types.NodeStatusOnline
	n.LastSeenMicros = nowMicros
	hook := r.onChange
	r.mu.Unlock()

	r.logger.Info("node online", zap.String("node", name), zap.String("ip", ip))
	if hook != nil {
		hook(name, types.NodeStatusOnline)
	}
	return nil
}

// Heartbeat records the arrival time of a heartbeat for name. Returns
// apperr Offline if the node is not currently attached (e.g. a stray
// heartbeat racing a disconnect).
func (r *Registry) Heartbeat(name string, nowMicros int64) error {
	r.mu.Lock()
	n, ok := r.nodes[name]
	if !ok || n.conn == nil {
		r.mu.Unlock()
		return apperr.New(apperr.CodeOffline, fmt.Sprintf("node %q is not connected", name))
	}
	n.LastSeenMicros = nowMicros
	r.mu.Unlock()
	return nil
}

// Disconnect tears down the connection bound to peerID — called on socket
// close (spec §4.5 "a local disconnect ... immediately transitions the Node
// to offline") or by the heartbeat reaper on timeout. It is idempotent.
func (r *Registry) Disconnect(peerID string) {
	r.mu.Lock()
	name, ok := r.byPeer[peerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byPeer, peerID)

	n, ok := r.nodes[name]
	if !ok || n.conn == nil {
		r.mu.Unlock()
		return
	}
	n.conn = nil
	n.Status = types.NodeStatusOffline
	hook := r.onChange
	r.mu.Unlock()

	r.logger.Info("node offline", zap.String("node", name))
	if hook != nil {
		hook(name, types.NodeStatusOffline)
	}
}

// MarkOfflineIfStale is invoked by the heartbeat reaper. If now-LastSeen
// exceeds timeout and the node is currently online, it transitions to
// offline and returns true.
func (r *Registry) MarkOfflineIfStale(name string, now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	n, ok := r.nodes[name]
	if !ok || n.conn == nil {
		r.mu.Unlock()
		return false
	}
	last := time.UnixMicro(n.LastSeenMicros)
	if n.LastSeenMicros != 0 && now.Sub(last) <= timeout {
		r.mu.Unlock()
		return false
	}
	n.conn = nil
	n.Status = types.NodeStatusOffline
	hook := r.onChange
	r.mu.Unlock()

	r.logger.Warn("node heartbeat timeout", zap.String("node", name))
	if hook != nil {
		hook(name, types.NodeStatusOffline)
	}
	return true
}

// Get returns a Snapshot of the named node and whether it exists.
func (r *Registry) Get(name string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[name]
	if !ok {
		return Snapshot{}, false
	}
	return snapshot(n), true
}

// Find returns the live *Node for internal callers (job/proxy engines) that
// need to push Commands. Returns nil if the node does not exist.
func (r *Registry) Find(name string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[name]
}

// List returns a Snapshot of every known node, sorted by name.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, snapshot(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnlineNodeNames returns the names of every currently-online node, used by
// IsolateAll (spec §4.3) to fan out one call per online node.
func (r *Registry) OnlineNodeNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, n := range r.nodes {
		if n.conn != nil {
			out = append(out, name)
		}
	}
	return out
}

// Names returns every known node name (online or offline), used by the
// heartbeat reaper's sweep.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		out = append(out, name)
	}
	return out
}

func snapshot(n *Node) Snapshot {
	return Snapshot{Name: n.Name, ObjectPath: n.ObjectPath, Status: n.Status, IP: n.IP}
}
