package peer

import (
	"testing"
	"time"
)

func TestNextBackoffDoublesUntilCap(t *testing.T) {
	d := backoffInitial
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != backoffMax {
		t.Fatalf("backoff did not converge to cap: got %v, want %v", d, backoffMax)
	}
}

func TestNextBackoffNeverExceedsCap(t *testing.T) {
	if got := nextBackoff(backoffMax); got != backoffMax {
		t.Fatalf("nextBackoff(backoffMax) = %v, want %v", got, backoffMax)
	}
}

func TestJitterStaysWithinFraction(t *testing.T) {
	base := 10 * time.Second
	delta := time.Duration(float64(base) * jitterFraction)
	for i := 0; i < 50; i++ {
		got := jitter(base)
		if got < base-delta || got > base+delta {
			t.Fatalf("jitter(%v) = %v, outside [%v, %v]", base, got, base-delta, base+delta)
		}
	}
}

func TestSaveAndLoadStateRoundTrips(t *testing.T) {
	dir := t.TempDir()

	if err := saveState(dir, state{ControllerAddr: "controller.example:9090"}); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	got, err := loadState(dir)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if got.ControllerAddr != "controller.example:9090" {
		t.Fatalf("loaded state = %+v, want ControllerAddr=controller.example:9090", got)
	}
}

func TestLoadStateMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()

	got, err := loadState(dir)
	if err != nil {
		t.Fatalf("loadState on missing file should not error: %v", err)
	}
	if got.ControllerAddr != "" {
		t.Fatalf("expected zero-value state, got %+v", got)
	}
}

func TestResolveAddrPrefersPersistedState(t *testing.T) {
	dir := t.TempDir()
	if err := saveState(dir, state{ControllerAddr: "persisted:9090"}); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	c := &Client{cfg: Config{ControllerAddr: "configured:9090", StateDir: dir}}
	if got := c.resolveAddr(); got != "persisted:9090" {
		t.Fatalf("resolveAddr() = %q, want persisted address", got)
	}
}

func TestResolveAddrFallsBackToConfiguredAddr(t *testing.T) {
	dir := t.TempDir()

	c := &Client{cfg: Config{ControllerAddr: "configured:9090", StateDir: dir}}
	if got := c.resolveAddr(); got != "configured:9090" {
		t.Fatalf("resolveAddr() = %q, want configured address", got)
	}
}
