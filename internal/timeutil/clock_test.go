package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, time.March, 1, 17, 23, 45, 0, time.UTC)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	if got.Before(before) {
		t.Errorf("RealClock.Now() = %v, earlier than %v", got, before)
	}
}

func TestRealClock_Timer(t *testing.T) {
	timer := RealClock{}.NewTimer(5 * time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}

func TestMockClock_NowAndSet(t *testing.T) {
	c := NewMockClock(epoch)
	if !c.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), epoch)
	}
	later := epoch.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", c.Now(), later)
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	c := NewMockClock(epoch)
	c.Sleep(250 * time.Millisecond)
	c.Sleep(250 * time.Millisecond)

	if got := c.Now().Sub(epoch); got != 500*time.Millisecond {
		t.Errorf("clock advanced %v, want 500ms", got)
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 250*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_TimerFiresOnce(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at deadline")
	}

	if timer.Stop() {
		t.Error("Stop() on a fired timer should report false")
	}
}

func TestMockClock_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	if !timer.Stop() {
		t.Error("Stop() on a pending timer should report true")
	}
	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockClock_TickerRepeats(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(250 * time.Millisecond)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}
