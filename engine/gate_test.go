package engine

import (
	"testing"
	"time"
)

func TestGateCooldownTiming(t *testing.T) {
	g := NewGate(5*time.Second, 0)
	base := time.Unix(1_700_000_000, 0)

	if !g.Fire(base) {
		t.Fatalf("first fire should open the window")
	}
	if g.Fire(base.Add(3 * time.Second)) {
		t.Fatalf("fire at t=3 should be suppressed")
	}
	if g.Fire(base.Add(5 * time.Second)) {
		t.Fatalf("fire exactly at cooldown boundary should be suppressed")
	}
	if !g.Fire(base.Add(6 * time.Second)) {
		t.Fatalf("fire at t=6 should reopen the window")
	}
}

func TestGateConfirmations(t *testing.T) {
	g := NewGate(time.Minute, 2)
	base := time.Unix(1_700_000_000, 0)

	if g.Confirm(base) {
		t.Fatalf("first confirmation must not fire")
	}
	if !g.Confirm(base.Add(time.Second)) {
		t.Fatalf("second confirmation should fire")
	}
	if g.Confirmations() != 0 {
		t.Fatalf("counter should reset after firing, got %d", g.Confirmations())
	}

	// Within cooldown the counter keeps accumulating without firing.
	if g.Confirm(base.Add(2 * time.Second)) {
		t.Fatalf("confirmation inside cooldown must not fire")
	}
	if g.Confirm(base.Add(3 * time.Second)) {
		t.Fatalf("confirmation inside cooldown must not fire")
	}
	if g.Confirmations() != 2 {
		t.Fatalf("counter should keep accumulating inside cooldown, got %d", g.Confirmations())
	}

	// Once the cooldown reopens the pending confirmations fire immediately.
	if !g.Confirm(base.Add(62 * time.Second)) {
		t.Fatalf("pending confirmations should fire after cooldown reopens")
	}
}

func TestGateReset(t *testing.T) {
	g := NewGate(time.Minute, 3)
	base := time.Unix(1_700_000_000, 0)
	g.Confirm(base)
	g.Confirm(base)
	g.Reset()
	if g.Confirmations() != 0 {
		t.Fatalf("reset should clear confirmations")
	}
	if g.Confirm(base) {
		t.Fatalf("single confirmation after reset must not fire")
	}
}
