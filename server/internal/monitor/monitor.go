// Package monitor implements the Controller's Monitor/Subscription engine:
// pattern-based interest in (node, unit) pairs and fan-out of unit events to
// every matching subscription, found by matching each event against every
// live subscription's patterns (there is no reverse index) (spec §3 "Monitor"/"Subscription", §4.4 "Monitor
// engine").
//
// Grounded on server/internal/websocket/hub.go's register/unregister/
// publish shape: this package keeps the same "mutate under a lock, publish
// outside it" discipline but replaces topic-string matching with glob
// matching over two fields, and replaces one-shot fan-out with a
// collapsing upstream-subscription count (spec §4.4 "the engine collapses
// duplicate interest into a single upstream subscription per node").
package monitor

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/apperr"
	"github.com/fleetd-io/fleetd/server/internal/globmatch"
)

// Event is a unit-state notification forwarded from the Agent relay,
// generalizing proto.UnitEvent with the node it originated from.
type Event struct {
	NodeName    string
	Type        string // "new", "removed", "state-changed", "properties-changed"
	Unit        string
	ActiveState string
	SubState    string
	Reason      string
	Properties  map[string]string
}

// UpstreamSubscribeFunc is called the first time any Subscription's pattern
// could match a given node, so the engine can open (or reuse) a single
// upstream interest in that node's events. UpstreamUnsubscribeFunc is its
// mirror, called once the last interested Subscription for that node goes
// away.
type UpstreamSubscribeFunc func(nodeName string)
type UpstreamUnsubscribeFunc func(nodeName string)

// subscription is one (node_pattern, unit_pattern) interest owned by a
// Monitor.
type subscription struct {
	id          string
	nodePattern string
	unitPattern string
	deliver     func(Event)
}

// monitorEntry groups every Subscription created by one client/owner so
// Close can tear them all down atomically.
type monitorEntry struct {
	id   string
	subs map[string]*subscription
}

// Engine owns every Monitor and every Subscription. Dispatch finds the
// subscriptions for an incoming Event with a linear scan over all of them;
// no index from (node, unit) to subscribers is kept.
type Engine struct {
	mu sync.Mutex

	monitors map[string]*monitorEntry
	subs     map[string]*subscription // subscription id -> subscription, across all monitors
	subOwner map[string]string        // subscription id -> monitor id

	// upstreamRefs counts, per node, how many live subscriptions could
	// possibly match it — used to collapse duplicate interest into one
	// upstream subscription per node.
	upstreamRefs map[string]int

	onUpstreamSubscribe   UpstreamSubscribeFunc
	onUpstreamUnsubscribe UpstreamUnsubscribeFunc

	logger *zap.Logger
}

// New creates an empty monitor Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{
		monitors:     make(map[string]*monitorEntry),
		subs:         make(map[string]*subscription),
		subOwner:     make(map[string]string),
		upstreamRefs: make(map[string]int),
		logger:       logger.Named("monitor"),
	}
}

// OnUpstreamSubscribe/OnUpstreamUnsubscribe wire the engine to whatever
// drives the actual agent-facing subscription (the peer server forwarding
// StreamUnitEvents interest upstream).
func (e *Engine) OnUpstreamSubscribe(fn UpstreamSubscribeFunc) {
	e.mu.Lock()
	e.onUpstreamSubscribe = fn
	e.mu.Unlock()
}

func (e *Engine) OnUpstreamUnsubscribe(fn UpstreamUnsubscribeFunc) {
	e.mu.Lock()
	e.onUpstreamUnsubscribe = fn
	e.mu.Unlock()
}

// NewMonitor creates a fresh Monitor and returns its id.
func (e *Engine) NewMonitor() string {
	id := uuid.NewString()
	e.mu.Lock()
	e.monitors[id] = &monitorEntry{id: id, subs: make(map[string]*subscription)}
	e.mu.Unlock()
	return id
}

// Subscribe adds a (nodePattern, unitPattern) interest to monitorID. deliver
// is invoked, outside any lock, for every Event matching the pattern pair
// while this Subscription is alive.
func (e *Engine) Subscribe(monitorID, nodePattern, unitPattern string, deliver func(Event)) (string, error) {
	e.mu.Lock()
	m, ok := e.monitors[monitorID]
	if !ok {
		e.mu.Unlock()
		return "", apperr.New(apperr.CodeInvalidArgs, fmt.Sprintf("no such monitor %q", monitorID))
	}

	sub := &subscription{
		id:          uuid.NewString(),
		nodePattern: nodePattern,
		unitPattern: unitPattern,
		deliver:     deliver,
	}
	m.subs[sub.id] = sub
	e.subs[sub.id] = sub
	e.subOwner[sub.id] = monitorID

	// Any currently known (or future) node whose name could match
	// nodePattern now has at least one interested subscriber; the literal
	// (non-glob) case is the common one and is all the reaper/peer layer
	// needs to decide whether to open an upstream stream to that node —
	// glob patterns are resolved lazily as matching events arrive.
	var notify []string
	if isLiteral(nodePattern) {
		if e.upstreamRefs[nodePattern] == 0 {
			notify = append(notify, nodePattern)
		}
		e.upstreamRefs[nodePattern]++
	}
	hook := e.onUpstreamSubscribe
	e.mu.Unlock()

	if hook != nil {
		for _, name := range notify {
			hook(name)
		}
	}
	return sub.id, nil
}

// SubscribeList is a convenience for subscribing to multiple pattern pairs
// at once under the same monitor, returning their subscription ids in order.
func (e *Engine) SubscribeList(monitorID string, pairs [][2]string, deliver func(Event)) ([]string, error) {
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		id, err := e.Subscribe(monitorID, p[0], p[1], deliver)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Unsubscribe removes a single Subscription by id.
func (e *Engine) Unsubscribe(subID string) error {
	e.mu.Lock()
	sub, ok := e.subs[subID]
	if !ok {
		e.mu.Unlock()
		return apperr.New(apperr.CodeNoSuchSubscription, fmt.Sprintf("no such subscription %q", subID))
	}
	monitorID := e.subOwner[subID]
	if m, ok := e.monitors[monitorID]; ok {
		delete(m.subs, subID)
	}
	delete(e.subs, subID)
	delete(e.subOwner, subID)

	var unnotify string
	if isLiteral(sub.nodePattern) {
		e.upstreamRefs[sub.nodePattern]--
		if e.upstreamRefs[sub.nodePattern] <= 0 {
			delete(e.upstreamRefs, sub.nodePattern)
			unnotify = sub.nodePattern
		}
	}
	hook := e.onUpstreamUnsubscribe
	e.mu.Unlock()

	if hook != nil && unnotify != "" {
		hook(unnotify)
	}
	return nil
}

// Close removes every Subscription owned by monitorID, as if each had been
// individually unsubscribed.
func (e *Engine) Close(monitorID string) {
	e.mu.Lock()
	m, ok := e.monitors[monitorID]
	if !ok {
		e.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	delete(e.monitors, monitorID)
	e.mu.Unlock()

	for _, id := range ids {
		e.Unsubscribe(id)
	}
}

// Dispatch delivers ev to every Subscription whose pattern pair matches
// (ev.NodeName, ev.Unit). It does not check the node's connection state
// itself — callers (the peer server) only invoke Dispatch for events
// actually received from a connected agent, so no event is delivered for an
// offline node (spec §4.4 "signals are never emitted
// for an offline node").
func (e *Engine) Dispatch(ev Event) {
	e.mu.Lock()
	var targets []*subscription
	for _, sub := range e.subs {
		if globmatch.Match(ev.NodeName, sub.nodePattern) && globmatch.Match(ev.Unit, sub.unitPattern) {
			targets = append(targets, sub)
		}
	}
	e.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

// InvalidateNode clears any collapsed upstream-subscription bookkeeping
// for name, as if no subscriber had ever seen an upstream stream opened
// for it. Called when a Node disconnects so that, on reconnect, the next
// matching Subscribe call triggers a fresh OnUpstreamSubscribe rather than
// assuming a now-dead upstream stream is still good (spec §"Node
// disconnect" invalidates cached subscriptions for the node).
func (e *Engine) InvalidateNode(name string) {
	e.mu.Lock()
	delete(e.upstreamRefs, name)
	e.mu.Unlock()
}

// isLiteral reports whether pattern contains no glob metacharacters, i.e.
// it names exactly one node/unit rather than a family of them.
func isLiteral(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' || pattern[i] == '?' {
			return false
		}
	}
	return true
}
