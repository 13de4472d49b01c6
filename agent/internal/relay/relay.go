// Package relay watches the local systemd service manager for unit state
// changes and forwards them to the Controller over StreamUnitEvents (spec
// §4.8 "Agent monitor relay").
//
// Grounded on github.com/coreos/go-systemd/v22/dbus's SubscribeUnits poll
// loop, the idiomatic way that package exposes unit-state change
// notifications (systemd's D-Bus PropertiesChanged signals are coalesced
// internally by the library into a periodic diff).
package relay

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/shared/proto"
)

// pollInterval is how often the underlying subscription diffs the unit
// list against its previous snapshot.
const pollInterval = 2 * time.Second

// Sink receives relayed UnitEvents, implemented by the peer client's
// StreamUnitEvents sender.
type Sink interface {
	SendUnitEvent(ev *proto.UnitEvent) error
}

// Relay owns the systemd subscription and forwards every observed change as
// a UnitEvent until ctx is cancelled.
type Relay struct {
	conn   *dbus.Conn
	logger *zap.Logger

	known map[string]string // unit name -> last observed ActiveState, for new/removed detection
}

// New creates a Relay bound to an already-connected system bus connection.
func New(conn *dbus.Conn, logger *zap.Logger) *Relay {
	return &Relay{conn: conn, logger: logger.Named("relay"), known: make(map[string]string)}
}

// Run subscribes to unit changes and forwards them to sink until ctx is
// cancelled or the subscription errors out.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	updates, errs := r.conn.SubscribeUnitsCustom(
		pollInterval,
		0,
		func(a, b *dbus.UnitStatus) bool { return a == nil || b == nil || *a != *b },
		func(unit string) bool { return false },
	)

	r.logger.Info("unit-event relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil {
				return err
			}
		case changes, ok := <-updates:
			if !ok {
				return nil
			}
			r.forward(changes, sink)
		}
	}
}

// forward converts one poll cycle's diff into UnitEvents and sends them.
func (r *Relay) forward(changes map[string]*dbus.UnitStatus, sink Sink) {
	for unit, status := range changes {
		prevState, wasKnown := r.known[unit]

		if status == nil {
			delete(r.known, unit)
			if wasKnown {
				r.send(sink, &proto.UnitEvent{Type: "removed", Unit: unit, ActiveState: prevState})
			}
			continue
		}

		r.known[unit] = status.ActiveState
		evType := "state-changed"
		if !wasKnown {
			evType = "new"
		}
		r.send(sink, &proto.UnitEvent{
			Type:        evType,
			Unit:        unit,
			ActiveState: status.ActiveState,
			SubState:    status.SubState,
		})
	}
}

func (r *Relay) send(sink Sink, ev *proto.UnitEvent) {
	if err := sink.SendUnitEvent(ev); err != nil {
		r.logger.Warn("failed to relay unit event", zap.String("unit", ev.Unit), zap.Error(err))
	}
}
