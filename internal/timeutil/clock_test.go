package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(3 * time.Second)
	if got := c.Since(start); got != 3*time.Second {
		t.Errorf("Since(start) = %v, want 3s", got)
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(100 * time.Millisecond)

	select {
	case <-tk.C():
		t.Fatal("ticker fired before clock advanced")
	default:
	}

	c.Advance(150 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire after advancing past interval")
	}
}

func TestMockTickerStop(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestRealClockTicker(t *testing.T) {
	var c Clock = RealClock{}
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire within 1s")
	}
}
