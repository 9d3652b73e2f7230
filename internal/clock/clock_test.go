package clock

import (
	"testing"
	"time"
)

func TestSystem_NowMillis(t *testing.T) {
	before := time.Now().UnixMilli()
	got := System{}.NowMillis()
	after := time.Now().UnixMilli()

	if got < before || got > after {
		t.Errorf("NowMillis() = %d, want within [%d, %d]", got, before, after)
	}
}

func TestManual(t *testing.T) {
	c := NewManual(1_000)

	if got := c.NowMillis(); got != 1_000 {
		t.Fatalf("NowMillis() = %d, want 1000", got)
	}

	c.Advance(1500 * time.Millisecond)
	if got := c.NowMillis(); got != 2_500 {
		t.Errorf("after Advance NowMillis() = %d, want 2500", got)
	}

	c.Set(10)
	if got := c.NowMillis(); got != 10 {
		t.Errorf("after Set NowMillis() = %d, want 10", got)
	}
}

func TestConversions(t *testing.T) {
	if got := Millis(10 * time.Minute); got != 600_000 {
		t.Errorf("Millis(10m) = %d, want 600000", got)
	}

	ts := Time(1_700_000_000_123)
	if ts.Location() != time.UTC {
		t.Errorf("Time() location = %v, want UTC", ts.Location())
	}
	if ts.UnixMilli() != 1_700_000_000_123 {
		t.Errorf("Time().UnixMilli() = %d", ts.UnixMilli())
	}
}
