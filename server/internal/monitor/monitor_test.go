package monitor

import (
	"testing"

	"go.uber.org/zap"
)

func TestDispatchFansOutToMatchingSubscriptions(t *testing.T) {
	e := New(zap.NewNop())
	m1 := e.NewMonitor()
	m2 := e.NewMonitor()

	var gotM1, gotM2 []Event
	if _, err := e.Subscribe(m1, "host-*", "app-*.service", func(ev Event) { gotM1 = append(gotM1, ev) }); err != nil {
		t.Fatalf("subscribe m1: %v", err)
	}
	if _, err := e.Subscribe(m2, "host-a", "*", func(ev Event) { gotM2 = append(gotM2, ev) }); err != nil {
		t.Fatalf("subscribe m2: %v", err)
	}

	e.Dispatch(Event{NodeName: "host-a", Unit: "app-web.service", Type: "state-changed"})
	e.Dispatch(Event{NodeName: "host-b", Unit: "other.service", Type: "state-changed"})

	if len(gotM1) != 1 {
		t.Fatalf("expected m1 to receive exactly 1 event, got %d", len(gotM1))
	}
	if len(gotM2) != 1 {
		t.Fatalf("expected m2 to receive exactly 1 event (host-a only), got %d", len(gotM2))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := New(zap.NewNop())
	m := e.NewMonitor()
	var got []Event
	id, err := e.Subscribe(m, "host-a", "*", func(ev Event) { got = append(got, ev) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := e.Unsubscribe(id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	e.Dispatch(Event{NodeName: "host-a", Unit: "x.service"})

	if len(got) != 0 {
		t.Fatalf("expected no events after unsubscribe, got %d", len(got))
	}
}

func TestCloseRemovesAllSubscriptionsForMonitor(t *testing.T) {
	e := New(zap.NewNop())
	m := e.NewMonitor()
	var got []Event
	if _, err := e.Subscribe(m, "host-a", "a.service", func(ev Event) { got = append(got, ev) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := e.Subscribe(m, "host-a", "b.service", func(ev Event) { got = append(got, ev) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	e.Close(m)
	e.Dispatch(Event{NodeName: "host-a", Unit: "a.service"})
	e.Dispatch(Event{NodeName: "host-a", Unit: "b.service"})

	if len(got) != 0 {
		t.Fatalf("expected no events after Close, got %d", len(got))
	}
}

func TestUpstreamSubscribeCollapsesDuplicateInterest(t *testing.T) {
	e := New(zap.NewNop())
	var subscribeCalls, unsubscribeCalls []string
	e.OnUpstreamSubscribe(func(node string) { subscribeCalls = append(subscribeCalls, node) })
	e.OnUpstreamUnsubscribe(func(node string) { unsubscribeCalls = append(unsubscribeCalls, node) })

	m1 := e.NewMonitor()
	m2 := e.NewMonitor()

	id1, _ := e.Subscribe(m1, "host-a", "*", func(Event) {})
	id2, _ := e.Subscribe(m2, "host-a", "*.service", func(Event) {})

	if len(subscribeCalls) != 1 {
		t.Fatalf("expected exactly 1 upstream subscribe for duplicate interest, got %d", len(subscribeCalls))
	}

	if err := e.Unsubscribe(id1); err != nil {
		t.Fatalf("unsubscribe id1: %v", err)
	}
	if len(unsubscribeCalls) != 0 {
		t.Fatalf("should not unsubscribe upstream while one subscriber remains")
	}

	if err := e.Unsubscribe(id2); err != nil {
		t.Fatalf("unsubscribe id2: %v", err)
	}
	if len(unsubscribeCalls) != 1 {
		t.Fatalf("expected upstream unsubscribe once last subscriber leaves, got %d", len(unsubscribeCalls))
	}
}
