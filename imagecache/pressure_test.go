package imagecache

import (
	"testing"
	"time"
)

func TestPressureTracker_CooldownExpires(t *testing.T) {
	p := newPressureTracker()
	clock := time.Unix(1_700_000_000, 0)
	p.nowFunc = func() time.Time { return clock }

	if p.suppressed() {
		t.Fatal("fresh tracker must not suppress writes")
	}

	p.record()
	if !p.suppressed() {
		t.Fatal("writes must be suppressed right after a warning")
	}

	clock = clock.Add(pressureCooldown + time.Second)
	if p.suppressed() {
		t.Fatal("suppression must lift after the cooldown")
	}
}

func TestPressureTracker_EscalatesWithinWindow(t *testing.T) {
	p := newPressureTracker()
	clock := time.Unix(1_700_000_000, 0)
	p.nowFunc = func() time.Time { return clock }

	if p.record() {
		t.Fatal("first warning must not escalate")
	}
	clock = clock.Add(time.Minute)
	if p.record() {
		t.Fatal("second warning must not escalate")
	}
	clock = clock.Add(time.Minute)
	if !p.record() {
		t.Fatal("third warning within the window must escalate")
	}

	// The counter resets after an escalation.
	clock = clock.Add(time.Minute)
	if p.record() {
		t.Fatal("counter must reset after an escalation")
	}
}

func TestPressureTracker_OldWarningsFallOutOfWindow(t *testing.T) {
	p := newPressureTracker()
	clock := time.Unix(1_700_000_000, 0)
	p.nowFunc = func() time.Time { return clock }

	p.record()
	p.record()
	clock = clock.Add(warningWindow + time.Minute)

	// The earlier warnings have aged out, so this one counts as the first.
	if p.record() {
		t.Fatal("warnings outside the window must not contribute")
	}
}
