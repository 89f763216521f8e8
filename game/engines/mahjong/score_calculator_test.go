package mahjong

import (
	"testing"

	"github.com/JackieWYB/majiang-sub003/common/config"
)

func scoreRule() *config.RuleConfig {
	rule := &config.RuleConfig{
		Players: 3,
		Tiles:   config.TilesWanOnly,
		Score: config.ScoreConfig{
			BaseScore:        2,
			MaxScore:         24,
			DealerMultiplier: 2,
			SelfDrawBonus:    1,
			GangBonus:        1,
		},
	}
	return rule
}

func newScoreEngine(rule *config.RuleConfig) *SanmaEngine {
	return &SanmaEngine{Rule: rule, DealerSeat: 0}
}

func assertZeroSum(t *testing.T, deltas [3]int) {
	t.Helper()
	if deltas[0]+deltas[1]+deltas[2] != 0 {
		t.Fatalf("deltas not zero-sum: %v", deltas)
	}
}

// Dealer self-draw with sevenPairs: base 2 x fan 2 x dealer 2 = 8,
// each opponent pays half.
func TestSettleWin_DealerSelfDrawSevenPairs(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	s := eg.settleWin([]huClaim{{
		WinnerSeat:  0,
		FromSeat:    -1,
		SelfDraw:    true,
		WinningTile: Tile{Suit: SuitWan, Rank: 7},
		Win:         WinResult{Valid: true, Category: CategorySevenPairs, Fan: 2},
	}})

	if s.Result != "win" {
		t.Fatalf("expected win result")
	}
	if len(s.Winners) != 1 || s.Winners[0].FinalScore != 8 {
		t.Fatalf("expected finalScore 8, got %+v", s.Winners)
	}
	want := [3]int{8, -4, -4}
	if s.Deltas != want {
		t.Fatalf("expected deltas %v, got %v", want, s.Deltas)
	}
	assertZeroSum(t, s.Deltas)
}

// Non-dealer self-draw: the dealer opponent pays double the unit.
func TestSettleWin_NonDealerSelfDraw(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	s := eg.settleWin([]huClaim{{
		WinnerSeat:  1,
		FromSeat:    -1,
		SelfDraw:    true,
		WinningTile: Tile{Suit: SuitWan, Rank: 5},
		Win:         WinResult{Valid: true, Category: CategoryBasicWin, Fan: 2},
	}})

	// fan 2, non-dealer, selfDraw x1 -> final 4; unit 2; dealer pays 4, other pays 2
	if s.Winners[0].FinalScore != 4 {
		t.Fatalf("expected finalScore 4, got %d", s.Winners[0].FinalScore)
	}
	want := [3]int{-4, 6, -2}
	if s.Deltas != want {
		t.Fatalf("expected deltas %v, got %v", want, s.Deltas)
	}
	assertZeroSum(t, s.Deltas)
}

// Discard win: the discarder pays the full amount alone.
func TestSettleWin_DiscardWin(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	s := eg.settleWin([]huClaim{{
		WinnerSeat:  2,
		FromSeat:    0,
		WinningTile: Tile{Suit: SuitWan, Rank: 3},
		Win:         WinResult{Valid: true, Category: CategoryBasicWin, Fan: 1},
	}})

	want := [3]int{-2, 0, 2}
	if s.Deltas != want {
		t.Fatalf("expected deltas %v, got %v", want, s.Deltas)
	}
	assertZeroSum(t, s.Deltas)
}

// Multiple winners on the same discard each collect from the discarder.
func TestSettleWin_MultipleWinners(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	s := eg.settleWin([]huClaim{
		{WinnerSeat: 1, FromSeat: 0, WinningTile: Tile{Suit: SuitWan, Rank: 3},
			Win: WinResult{Valid: true, Category: CategoryBasicWin, Fan: 1}},
		{WinnerSeat: 2, FromSeat: 0, WinningTile: Tile{Suit: SuitWan, Rank: 3},
			Win: WinResult{Valid: true, Category: CategoryBasicWin, Fan: 2}},
	})

	want := [3]int{-6, 2, 4}
	if s.Deltas != want {
		t.Fatalf("expected deltas %v, got %v", want, s.Deltas)
	}
	assertZeroSum(t, s.Deltas)
}

func TestComputeFinalScore_Cap(t *testing.T) {
	rule := scoreRule()
	_, final := computeFinalScore(rule, 16, true, true)
	if final != rule.Score.MaxScore {
		t.Fatalf("expected cap at %d, got %d", rule.Score.MaxScore, final)
	}
}

// Concealed kong charges double the exposed bonus.
func TestCreditKong(t *testing.T) {
	eg := newScoreEngine(scoreRule())

	eg.creditKong(0, GangExposed)
	if eg.kongLedger != [3]int{2, -1, -1} {
		t.Fatalf("exposed kong ledger wrong: %v", eg.kongLedger)
	}

	eg.creditKong(1, GangConcealed)
	if eg.kongLedger != [3]int{0, 3, -3} {
		t.Fatalf("concealed kong ledger wrong: %v", eg.kongLedger)
	}
	assertZeroSum(t, eg.kongLedger)
}

func TestCreditRobbedKong(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	eg.creditRobbedKong(2)
	if eg.kongLedger != [3]int{-1, -1, 2} {
		t.Fatalf("robbed kong ledger wrong: %v", eg.kongLedger)
	}
}

// Draw settles the kong ledger only.
func TestSettleDraw(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	eg.creditKong(2, GangConcealed)

	s := eg.settleDraw()
	if s.Result != "draw" {
		t.Fatalf("expected draw result")
	}
	if s.Deltas != [3]int{-2, -2, 4} {
		t.Fatalf("draw deltas wrong: %v", s.Deltas)
	}
	assertZeroSum(t, s.Deltas)
}

// Kong ledger folds into win settlement deltas.
func TestSettleWin_IncludesKongLedger(t *testing.T) {
	eg := newScoreEngine(scoreRule())
	eg.creditKong(1, GangExposed) // [-1, 2, -1]

	s := eg.settleWin([]huClaim{{
		WinnerSeat:  2,
		FromSeat:    0,
		WinningTile: Tile{Suit: SuitWan, Rank: 3},
		Win:         WinResult{Valid: true, Category: CategoryBasicWin, Fan: 1},
	}})

	want := [3]int{-3, 2, 1} // discard win [-2,0,2] + ledger [-1,2,-1]
	if s.Deltas != want {
		t.Fatalf("expected deltas %v, got %v", want, s.Deltas)
	}
	assertZeroSum(t, s.Deltas)
}
