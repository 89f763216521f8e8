package mahjong

import (
	"testing"
	"time"
)

func newTestTurnManager() (*TurnManager, [3]chan int) {
	var tickers [3]*PlayerTicker
	var fired [3]chan int
	for i := 0; i < 3; i++ {
		seat := i
		fired[i] = make(chan int, 1)
		tickers[i] = NewPlayerTicker()
		ch := fired[i]
		tickers[i].SetOnTimeout(func() { ch <- seat })
	}
	return NewTurnManager(tickers), fired
}

func TestPlayerTicker_Timeout(t *testing.T) {
	tm, fired := newTestTurnManager()
	if err := tm.StartTurnTimer(1, 20*time.Millisecond); err != nil {
		t.Fatalf("StartTurnTimer: %v", err)
	}

	select {
	case seat := <-fired[1]:
		if seat != 1 {
			t.Fatalf("wrong seat fired: %d", seat)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout callback never fired")
	}
	if tm.Tickers[1].GetState() != StateTimeout {
		t.Fatalf("expected StateTimeout, got %v", tm.Tickers[1].GetState())
	}
}

func TestPlayerTicker_StopBeforeTimeout(t *testing.T) {
	tm, fired := newTestTurnManager()
	if err := tm.StartTurnTimer(0, 50*time.Millisecond); err != nil {
		t.Fatalf("StartTurnTimer: %v", err)
	}
	if !tm.Tickers[0].Stop() {
		t.Fatalf("Stop should succeed while running")
	}
	if tm.Tickers[0].GetState() != StateStopped {
		t.Fatalf("expected StateStopped, got %v", tm.Tickers[0].GetState())
	}

	select {
	case <-fired[0]:
		t.Fatalf("stopped ticker must not fire timeout")
	case <-time.After(120 * time.Millisecond):
	}
}

func TestPlayerTicker_Restart(t *testing.T) {
	pt := NewPlayerTicker()
	if err := pt.Start(50 * time.Millisecond); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := pt.Start(50 * time.Millisecond); err == nil {
		t.Fatalf("double start should error")
	}
	pt.Stop()
	if err := pt.Start(50 * time.Millisecond); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	pt.Stop()
}

func TestTurnManager_StartTurnStopsOthers(t *testing.T) {
	tm, _ := newTestTurnManager()
	if err := tm.StartTurnTimer(0, time.Second); err != nil {
		t.Fatalf("StartTurnTimer: %v", err)
	}
	if err := tm.StartTurnTimer(2, time.Second); err != nil {
		t.Fatalf("StartTurnTimer: %v", err)
	}
	if tm.GetCurrentPlayer() != 2 {
		t.Fatalf("turn pointer should follow StartTurnTimer")
	}
	if tm.Tickers[0].GetState() == StateRunning {
		t.Fatalf("previous turn ticker should be stopped")
	}
	if tm.Tickers[2].GetState() != StateRunning {
		t.Fatalf("current turn ticker should be running")
	}
	tm.StopAllTickers()
}

func TestTurnManager_ClaimTimers(t *testing.T) {
	tm, fired := newTestTurnManager()
	tm.StartClaimTimers([]int{1, 2}, 20*time.Millisecond)

	for _, seat := range []int{1, 2} {
		select {
		case <-fired[seat]:
		case <-time.After(time.Second):
			t.Fatalf("claim timer for seat %d never fired", seat)
		}
	}
	if tm.Tickers[0].GetState() != StateIdle {
		t.Fatalf("seat 0 was not in the window, ticker must stay idle")
	}
}

func TestTurnManager_NextTurnWraps(t *testing.T) {
	tm, _ := newTestTurnManager()
	tm.SetTurn(2)
	if next := tm.NextTurn(); next != 0 {
		t.Fatalf("turn should wrap 2 -> 0, got %d", next)
	}
}

func TestTurnManager_InvalidSeat(t *testing.T) {
	tm, _ := newTestTurnManager()
	if err := tm.StartTurnTimer(3, time.Second); err == nil {
		t.Fatalf("seat 3 should be rejected")
	}
}
