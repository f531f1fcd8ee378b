package clock

import (
	"testing"
	"time"
)

func TestFakeClockAfterAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	fired := <-c.After(2 * time.Second)
	if !fired.Equal(start.Add(2 * time.Second)) {
		t.Errorf("After fired at %v, want %v", fired, start.Add(2*time.Second))
	}

	<-c.After(0)
	c.Advance(time.Minute)

	if got := c.Now(); !got.Equal(start.Add(62 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(62*time.Second))
	}

	waits := c.Waits()
	if len(waits) != 1 || waits[0] != 2*time.Second {
		t.Errorf("Waits() = %v, want [2s]", waits)
	}
}

func TestFakeTicker(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	ticker := c.NewTicker(30 * time.Second)

	c.Advance(29 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticked before the period elapsed")
	default:
	}

	c.Advance(time.Second)
	select {
	case tick := <-ticker.C():
		if !tick.Equal(start.Add(30 * time.Second)) {
			t.Errorf("tick = %v, want %v", tick, start.Add(30*time.Second))
		}
	default:
		t.Fatal("no tick after the period elapsed")
	}

	// Missed ticks collapse into one buffered tick.
	c.Advance(2 * time.Minute)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Error("more than one tick buffered")
	default:
	}

	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}
