package mahjong

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines"
	"github.com/JackieWYB/majiang-sub003/game/share"
)

type pushRecord struct {
	UserIDs []string
	Event   string
	Data    any
}

type stubPusher struct {
	mu      sync.Mutex
	records []pushRecord
}

func (sp *stubPusher) Push(userIDs []string, event string, data any) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.records = append(sp.records, pushRecord{UserIDs: userIDs, Event: event, Data: data})
}

func (sp *stubPusher) countEvent(event string) int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	n := 0
	for _, r := range sp.records {
		if r.Event == event {
			n++
		}
	}
	return n
}

func (sp *stubPusher) lastTo(userID, event string) (pushRecord, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for i := len(sp.records) - 1; i >= 0; i-- {
		r := sp.records[i]
		if r.Event != event {
			continue
		}
		for _, id := range r.UserIDs {
			if id == userID {
				return r, true
			}
		}
	}
	return pushRecord{}, false
}

type stubDestroyer struct {
	mu      sync.Mutex
	roomIDs []string
}

func (sd *stubDestroyer) RequestDestroyRoom(roomID string) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.roomIDs = append(sd.roomIDs, roomID)
}

func engineRule() *config.RuleConfig {
	return &config.RuleConfig{
		Players:   3,
		Tiles:     config.TilesWanOnly,
		AllowPeng: true,
		AllowGang: true,
		HuTypes: config.HuTypesConfig{
			BasicWin:    true,
			SevenPairs:  true,
			AllPungs:    true,
			EdgeWait:    true,
			PairWait:    true,
			RobbingKong: true,
		},
		Score: config.ScoreConfig{
			BaseScore:        2,
			MaxScore:         64,
			DealerMultiplier: 2,
			SelfDrawBonus:    1,
			GangBonus:        1,
		},
		Turn: config.TurnConfig{
			TurnTimeLimit:       60,
			ActionTimeLimit:     60,
			AutoTrustee:         true,
			TrusteeTimeoutCount: 3,
			TrusteeDelayMs:      10,
		},
		Dealer:    config.DealerConfig{RotateOnDraw: true, RotateOnLose: true},
		Reconnect: config.ReconnectConfig{GracePeriodSec: 60, MaxDisconnectSec: 600},
		MaxRounds: 8,
	}
}

// newTestEngine builds an engine with seats wired but without the actor
// loop, so handlers can be driven synchronously from the test.
func newTestEngine(t *testing.T, rule *config.RuleConfig) (*SanmaEngine, *stubPusher, *stubDestroyer) {
	t.Helper()
	pusher := &stubPusher{}
	destroyer := &stubDestroyer{}
	eg := NewSanmaEngine(rule, Deps{Pusher: pusher, Destroyer: destroyer})
	eg.seedFunc = func() int64 { return 7 }
	eg.RoomID = "100001"
	eg.UserMap = make(map[string]*share.UserInfo, 3)
	eg.graceTimers = make(map[string]*time.Timer)

	var tickers [3]*PlayerTicker
	for seat := 0; seat < 3; seat++ {
		uid := fmt.Sprintf("u%d", seat)
		eg.UserMap[uid] = share.NewUserInfo(uid, seat)
		eg.Players[seat] = NewPlayerImage(uid, seat)
		tickers[seat] = NewPlayerTicker()
		tickers[seat].SetOnTimeout(eg.makeTimeoutHandler(seat))
	}
	eg.TurnManager = NewTurnManager(tickers)

	t.Cleanup(func() {
		eg.TurnManager.StopAllTickers()
		eg.stopTrusteeTimer()
		for _, timer := range eg.graceTimers {
			timer.Stop()
		}
	})
	return eg, pusher, destroyer
}

// enterPlaying puts the engine mid-round with the given seat to act.
func enterPlaying(eg *SanmaEngine, turnSeat int) {
	eg.Phase = engines.PhasePlaying
	eg.GameID = "game-test"
	eg.TurnManager.SetTurn(turnSeat)
	for _, p := range eg.Players {
		p.Status = StatusPlaying
	}
}

func TestDealHandSize(t *testing.T) {
	if n := dealHandSize(108); n != 13 {
		t.Fatalf("full deck expected 13-tile hands, got %d", n)
	}
	// a 36-tile deck cannot seat three 13-tile hands plus the dealer draw
	if n := dealHandSize(36); n != 10 {
		t.Fatalf("36-tile deck expected 10-tile hands, got %d", n)
	}
}

func TestReadyStartsRound(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	eg.Phase = engines.PhaseWaiting

	eg.handleReady(&share.ReadyEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u0"}})
	eg.handleReady(&share.ReadyEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}})
	if eg.Phase != engines.PhaseWaiting {
		t.Fatalf("round must not start before everyone is ready")
	}
	eg.handleReady(&share.ReadyEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u2"}})

	if eg.Phase != engines.PhasePlaying {
		t.Fatalf("expected playing phase, got %v", eg.Phase)
	}
	// WAN_ONLY: 10-tile hands, dealer holds 11 after the first draw
	for seat, p := range eg.Players {
		want := 10
		if seat == eg.DealerSeat {
			want = 11
		}
		if p.Hand.Total() != want {
			t.Fatalf("seat %d hand expected %d tiles, got %d", seat, want, p.Hand.Total())
		}
	}
	if got := 3*10 + 1 + len(eg.Wall); got != 36 {
		t.Fatalf("wall conservation broken: dealt+wall=%d", got)
	}
	if eg.TurnManager.GetCurrentPlayer() != eg.DealerSeat {
		t.Fatalf("dealer should act first")
	}
	if pusher.countEvent(dto.EventGameStart) != 3 {
		t.Fatalf("each seat should receive its own gameStart push")
	}
}

func TestShuffleDeterministicAcrossRounds(t *testing.T) {
	ruleA := engineRule()
	a, _, _ := newTestEngine(t, ruleA)
	b, _, _ := newTestEngine(t, ruleA)
	a.Phase = engines.PhaseWaiting
	b.Phase = engines.PhaseWaiting
	a.startRound()
	b.startRound()
	for seat := range a.Players {
		if a.Players[seat].Hand != b.Players[seat].Hand {
			t.Fatalf("same seed should deal identical hands at seat %d", seat)
		}
	}
	a.TurnManager.StopAllTickers()
	b.TurnManager.StopAllTickers()
}

// A hu claim outranks a peng claim on the same discard; the peng claimant
// is told their action was superseded.
func TestClaimPriority_HuBeatsPeng(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)

	eg.Players[0].Hand = handOf(t, "5W", "1W", "2W", "9W")
	eg.Players[1].Hand = handOf(t, "5W", "5W", "2W", "7W")
	eg.Players[2].Hand = handOf(t,
		"1W", "2W", "3W", "6W", "7W", "8W", "9W", "9W", "9W", "5W")

	eg.handlePlayTile(&share.PlayTileEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "5W"})

	if eg.Phase != engines.PhaseAwaitingClaims {
		t.Fatalf("expected claim window, got phase %v", eg.Phase)
	}
	eg.handleClaimResponse("u1", ClaimPeng, [2]Tile{})
	eg.handleClaimResponse("u2", ClaimHu, [2]Tile{})

	// hu won: round settled, seat 2 collects from the discarder
	if eg.Players[2].Score <= 0 || eg.Players[0].Score >= 0 {
		t.Fatalf("discarder should pay the winner: scores %d/%d/%d",
			eg.Players[0].Score, eg.Players[1].Score, eg.Players[2].Score)
	}
	if eg.Players[1].Score != 0 {
		t.Fatalf("bystander must not pay on a discard win")
	}
	if _, ok := pusher.lastTo("u1", dto.FrameError); !ok {
		t.Fatalf("superseded peng claimant should get an error push")
	}
	// the winning tile leaves the discard pile
	if len(eg.Players[0].DiscardPile) != 0 {
		t.Fatalf("claimed tile must be removed from the river")
	}
	// dealer lost with rotateOnLose
	if eg.DealerSeat != 1 {
		t.Fatalf("dealer should rotate after losing, got %d", eg.DealerSeat)
	}
	if eg.RoundIndex != 1 {
		t.Fatalf("round index should advance")
	}
}

func TestPengExecution(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)

	eg.Players[0].Hand = handOf(t, "5W", "1W", "2W")
	eg.Players[1].Hand = handOf(t, "5W", "5W", "2W", "7W")
	eg.Players[2].Hand = handOf(t, "1T", "4T")

	eg.handlePlayTile(&share.PlayTileEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "5W"})
	eg.handleClaimResponse("u1", ClaimPeng, [2]Tile{})

	p1 := eg.Players[1]
	if len(p1.Melds) != 1 || p1.Melds[0].Kind != MeldPeng {
		t.Fatalf("expected peng meld, got %+v", p1.Melds)
	}
	if p1.Hand.Count(mustTile(t, "5W")) != 0 {
		t.Fatalf("peng should consume both hand copies")
	}
	// peng claimant discards next without drawing
	if eg.TurnManager.GetCurrentPlayer() != 1 || eg.Phase != engines.PhasePlaying {
		t.Fatalf("turn should move to the peng claimant")
	}
	if p1.DrawnTile != nil {
		t.Fatalf("no draw after peng")
	}
}

// Robbing the kong: the fourth tile moves from the upgrader to the winner
// and the meld upgrade is cancelled.
func TestRobbingKong_Success(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)

	five := mustTile(t, "5W")
	eg.Players[0].Hand = handOf(t, "5W", "1W", "1W")
	eg.Players[0].Melds = []Meld{{Kind: MeldPeng, Tiles: []Tile{five, five, five}, ClaimedFrom: 2}}
	eg.Players[1].Hand = handOf(t,
		"1W", "2W", "3W", "6W", "7W", "8W", "9W", "9W", "9W", "5W")
	eg.Players[2].Hand = handOf(t, "1T", "4T", "7T", "2D")

	eg.handleGang(&share.GangEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "5W"})
	if eg.Phase != engines.PhaseAwaitingClaims {
		t.Fatalf("robbing window should open, got phase %v", eg.Phase)
	}
	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}})

	p0 := eg.Players[0]
	if p0.Melds[0].Kind != MeldPeng || len(p0.Melds[0].Tiles) != 3 {
		t.Fatalf("robbed kong must stay a peng, got %+v", p0.Melds[0])
	}
	if p0.GangCount != 0 {
		t.Fatalf("cancelled upgrade must not count as a kong")
	}
	if p0.Hand.Count(five) != 0 {
		t.Fatalf("fourth tile should leave the upgrader's hand")
	}
	if eg.Players[1].Hand.Count(five) != 2 {
		t.Fatalf("winning tile should join the winner's hand")
	}
	// kong bonus goes to the robber, upgrader pays the win
	if eg.Players[1].Score <= 0 || eg.Players[0].Score >= 0 {
		t.Fatalf("upgrader should pay the robber: scores %d/%d/%d",
			eg.Players[0].Score, eg.Players[1].Score, eg.Players[2].Score)
	}
}

func TestRobbingKong_AllPassCompletesUpgrade(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Wall = []Tile{mustTile(t, "1T"), mustTile(t, "2T")}

	five := mustTile(t, "5W")
	eg.Players[0].Hand = handOf(t, "5W", "1W", "1W")
	eg.Players[0].Melds = []Meld{{Kind: MeldPeng, Tiles: []Tile{five, five, five}, ClaimedFrom: 2}}
	eg.Players[1].Hand = handOf(t,
		"1W", "2W", "3W", "6W", "7W", "8W", "9W", "9W", "9W", "5W")
	eg.Players[2].Hand = handOf(t, "1T", "4T", "7T", "2D")

	eg.handleGang(&share.GangEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "5W"})
	eg.handleClaimResponse("u1", ClaimPass, [2]Tile{})

	p0 := eg.Players[0]
	if p0.Melds[0].Kind != MeldGang || p0.Melds[0].GangStyle != GangUpgraded {
		t.Fatalf("all-pass should complete the upgrade, got %+v", p0.Melds[0])
	}
	if len(p0.Melds[0].Tiles) != 4 || p0.GangCount != 1 {
		t.Fatalf("upgraded meld should hold four tiles")
	}
	if eg.kongLedger != [3]int{2, -1, -1} {
		t.Fatalf("upgraded kong ledger wrong: %v", eg.kongLedger)
	}
	// replacement draw keeps the turn with the upgrader
	if eg.TurnManager.GetCurrentPlayer() != 0 || p0.DrawnTile == nil {
		t.Fatalf("upgrader should draw a replacement and keep the turn")
	}
	if len(eg.Wall) != 1 {
		t.Fatalf("replacement draw should consume the wall")
	}
}

func TestConcealedKong(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Wall = []Tile{mustTile(t, "9T")}

	eg.Players[0].Hand = handOf(t, "5W", "5W", "5W", "5W", "1W", "2W")
	eg.Players[1].Hand = handOf(t, "1T", "4T")
	eg.Players[2].Hand = handOf(t, "2T", "7T")

	eg.handleGang(&share.GangEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "5W"})

	p0 := eg.Players[0]
	if len(p0.Melds) != 1 || p0.Melds[0].GangStyle != GangConcealed {
		t.Fatalf("expected concealed kong, got %+v", p0.Melds)
	}
	if p0.Hand.Count(mustTile(t, "5W")) != 0 {
		t.Fatalf("all four copies should leave the hand")
	}
	// concealed kong charges double
	if eg.kongLedger != [3]int{4, -2, -2} {
		t.Fatalf("concealed kong ledger wrong: %v", eg.kongLedger)
	}
	if p0.DrawnTile == nil || len(eg.Wall) != 0 {
		t.Fatalf("kong should be followed by a replacement draw")
	}
	if pusher.countEvent(dto.EventMeldFormed) != 1 {
		t.Fatalf("meld should be broadcast")
	}
}

func TestSelfDrawWin(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)

	p0 := eg.Players[0]
	p0.Hand = handOf(t,
		"1W", "2W", "3W", "4W", "5W", "6W", "7W", "8W", "9W", "5W")
	p0.DrawTile(mustTile(t, "5W"))

	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u0"}})

	// 5W also fits 456W, so no pairWait: basicWin fan 1, dealer x2 -> final 4
	if eg.Players[0].Score != 4 || eg.Players[1].Score != -2 || eg.Players[2].Score != -2 {
		t.Fatalf("dealer self-draw scores wrong: %d/%d/%d",
			eg.Players[0].Score, eg.Players[1].Score, eg.Players[2].Score)
	}
	// dealer won, rotateOnWin disabled
	if eg.DealerSeat != 0 {
		t.Fatalf("dealer should keep the seat after winning")
	}
	if eg.Phase != engines.PhaseWaiting || eg.RoundIndex != 1 {
		t.Fatalf("engine should return to waiting for the next round")
	}
}

func TestSelfDrawWin_RejectedWithoutDrawnTile(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Players[0].Hand = handOf(t, "1W", "2W", "3W")

	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u0"}})
	if _, ok := pusher.lastTo("u0", dto.FrameError); !ok {
		t.Fatalf("hu without a fresh draw should be rejected")
	}
	if eg.Phase != engines.PhasePlaying {
		t.Fatalf("rejected hu must not change phase")
	}
}

func TestHuPayloadCheckedAgainstDrawnTile(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	p0 := eg.Players[0]
	p0.Hand = handOf(t,
		"1W", "2W", "3W", "4W", "5W", "6W", "7W", "8W", "9W", "5W")
	p0.DrawTile(mustTile(t, "5W"))

	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "9W", SelfDraw: true})
	rec, ok := pusher.lastTo("u0", dto.FrameError)
	if !ok {
		t.Fatalf("hu with the wrong tile should be rejected")
	}
	if gameErr := rec.Data.(*dto.GameError); gameErr.Code != dto.CodeInvalidTile {
		t.Fatalf("expected invalidTile, got %s", gameErr.Code)
	}
	if eg.Phase != engines.PhasePlaying {
		t.Fatalf("rejected hu must not change phase")
	}

	// 带对的牌照常成和
	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "5W", SelfDraw: true})
	if eg.Phase != engines.PhaseWaiting {
		t.Fatalf("matching payload should settle the round, got %v", eg.Phase)
	}
}

func TestHuPayloadCheckedAgainstClaimWindow(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Players[1].Hand = handOf(t, "1T", "2T", "5D", "5D")
	eg.Phase = engines.PhaseAwaitingClaims
	eg.claimWindow = &ClaimWindow{
		Tile:     mustTile(t, "3T"),
		FromSeat: 0,
		Options: map[int]*ClaimOption{
			1: {Seat: 1, Actions: []ClaimAction{ClaimHu, ClaimPass}},
		},
	}

	// 窗口内不能声明自摸
	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}, SelfDraw: true})
	if rec, ok := pusher.lastTo("u1", dto.FrameError); !ok || rec.Data.(*dto.GameError).Code != dto.CodeInvalidAction {
		t.Fatalf("selfDraw inside a claim window should be rejected")
	}

	// 报错的牌和窗口对不上
	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}, Tile: "9W"})
	if rec, ok := pusher.lastTo("u1", dto.FrameError); !ok || rec.Data.(*dto.GameError).Code != dto.CodeInvalidTile {
		t.Fatalf("mismatched claim tile should be rejected")
	}
	if eg.Phase != engines.PhaseAwaitingClaims {
		t.Fatalf("rejected claims must leave the window open")
	}

	eg.handleHu(&share.HuEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}, Tile: "3T"})
	if eg.Phase != engines.PhaseWaiting {
		t.Fatalf("matching claim should settle the round, got %v", eg.Phase)
	}
}

/// Exhausting the wall settles the round as a draw: only kong money moves.
func TestWallExhaustionDraw(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Wall = nil
	eg.kongLedger = [3]int{2, -1, -1}

	eg.enterTurn(1, true)

	if eg.Players[0].Score != 2 || eg.Players[1].Score != -1 || eg.Players[2].Score != -1 {
		t.Fatalf("draw should settle kong ledger only: %d/%d/%d",
			eg.Players[0].Score, eg.Players[1].Score, eg.Players[2].Score)
	}
	// rotateOnDraw moves the dealer
	if eg.DealerSeat != 1 {
		t.Fatalf("dealer should rotate on draw, got %d", eg.DealerSeat)
	}
	if eg.RoundIndex != 1 || eg.Phase != engines.PhaseWaiting {
		t.Fatalf("draw should advance the round and return to waiting")
	}
	if pusher.countEvent(dto.EventSettlement) != 1 {
		t.Fatalf("settlement should be broadcast once")
	}
	for _, p := range eg.Players {
		if p.Status != StatusWaiting {
			t.Fatalf("players should be back to waiting")
		}
	}
}

func TestGameOverDestroysRoom(t *testing.T) {
	rule := engineRule()
	rule.MaxRounds = 1
	eg, _, destroyer := newTestEngine(t, rule)
	enterPlaying(eg, 0)
	eg.Wall = nil

	eg.enterTurn(0, true)

	if eg.Phase != engines.PhaseFinished {
		t.Fatalf("last round should finish the game, got %v", eg.Phase)
	}
	destroyer.mu.Lock()
	defer destroyer.mu.Unlock()
	if len(destroyer.roomIDs) != 1 || destroyer.roomIDs[0] != "100001" {
		t.Fatalf("finished game should request room destruction, got %v", destroyer.roomIDs)
	}
}

// Three consecutive timeouts flip the seat into trustee mode and the
// drawn tile is discarded automatically.
func TestTimeoutEntersTrustee(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Wall = []Tile{mustTile(t, "1T"), mustTile(t, "2T")}

	p0 := eg.Players[0]
	p0.Hand = handOf(t, "1W", "2W", "3W")
	p0.DrawTile(mustTile(t, "9W"))
	p0.ConsecutiveTimeouts = 2
	eg.Players[1].Hand = handOf(t, "1T", "2T")
	eg.Players[2].Hand = handOf(t, "3T", "4T")

	eg.handleTimeout(0)

	if p0.Status != StatusTrustee {
		t.Fatalf("third timeout should enter trustee, got %v", p0.Status)
	}
	if len(p0.DiscardPile) != 1 || p0.DiscardPile[0] != mustTile(t, "9W") {
		t.Fatalf("timeout should auto-discard the drawn tile, got %v", p0.DiscardPile)
	}
	if pusher.countEvent(dto.EventTrusteeChanged) != 1 {
		t.Fatalf("trustee change should be broadcast")
	}
	// nobody claims, next seat draws
	if eg.TurnManager.GetCurrentPlayer() != 1 {
		t.Fatalf("turn should pass to the next seat")
	}
}

func TestTrusteeToggleOffResetsTimeouts(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 1)

	p0 := eg.Players[0]
	p0.Status = StatusTrustee
	p0.ConsecutiveTimeouts = 3

	eg.handleTrusteeToggle(&share.TrusteeEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Enable: false})

	if p0.Status != StatusPlaying || p0.ConsecutiveTimeouts != 0 {
		t.Fatalf("toggle off should restore manual play and clear timeouts")
	}
}

func TestManualActionExitsTrustee(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)

	p0 := eg.Players[0]
	p0.Status = StatusTrustee
	p0.ConsecutiveTimeouts = 3
	p0.Hand = handOf(t, "1W", "2W", "3W")
	eg.Players[1].Hand = handOf(t, "1T", "2T")
	eg.Players[2].Hand = handOf(t, "3T", "4T")
	eg.Wall = []Tile{mustTile(t, "9T")}

	eg.handlePlayTile(&share.PlayTileEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "3W"})

	if p0.Status == StatusTrustee {
		t.Fatalf("a manual play should exit trustee mode")
	}
	if p0.ConsecutiveTimeouts != 0 {
		t.Fatalf("manual play should clear the timeout count")
	}
}

func TestPlayTileValidation(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Players[0].Hand = handOf(t, "1W", "2W")

	// not your turn
	eg.handlePlayTile(&share.PlayTileEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u1"}, Tile: "1W"})
	if _, ok := pusher.lastTo("u1", dto.FrameError); !ok {
		t.Fatalf("out-of-turn play should push an error")
	}

	// tile not in hand
	eg.handlePlayTile(&share.PlayTileEvent{
		GameMessageEvent: share.GameMessageEvent{UserID: "u0"}, Tile: "9D"})
	if _, ok := pusher.lastTo("u0", dto.FrameError); !ok {
		t.Fatalf("playing an absent tile should push an error")
	}
	if eg.Phase != engines.PhasePlaying {
		t.Fatalf("rejected plays must not advance the state")
	}
}

func TestDisconnectReconnect(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Players[1].Hand = handOf(t, "1W", "2W", "3W")

	eg.handleDisconnect(&share.DisconnectEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}})

	if eg.Players[1].Status != StatusDisconnected {
		t.Fatalf("disconnect should mark the seat, got %v", eg.Players[1].Status)
	}
	if eg.UserMap["u1"].IsOnline {
		t.Fatalf("user info should go offline")
	}
	if _, ok := eg.graceTimers["u1"]; !ok {
		t.Fatalf("grace timer should be armed")
	}

	eg.handleReconnect(&share.ReconnectEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}})

	if eg.Players[1].Status != StatusPlaying || !eg.UserMap["u1"].IsOnline {
		t.Fatalf("reconnect should restore the seat")
	}
	if len(eg.graceTimers) != 0 {
		t.Fatalf("grace timer should be cancelled on reconnect")
	}

	rec, ok := pusher.lastTo("u1", dto.EventGameSnapshot)
	if !ok {
		t.Fatalf("reconnect should push a snapshot")
	}
	snap, ok := rec.Data.(*GameSnapshot)
	if !ok {
		t.Fatalf("snapshot payload type wrong: %T", rec.Data)
	}
	if snap.Players[1].Hand == nil {
		t.Fatalf("own hand must survive redaction")
	}
	if snap.Players[0].Hand != nil || snap.Players[2].Hand != nil || snap.Wall != nil {
		t.Fatalf("other hands and the wall must be redacted")
	}
}

func TestReconnectAfterMaxDisconnectRejected(t *testing.T) {
	eg, pusher, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)

	eg.handleDisconnect(&share.DisconnectEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}})
	// 把离线时刻拨到最长掉线时间之前
	maxMs := int64(eg.Rule.Reconnect.MaxDisconnectSec) * 1000
	eg.UserMap["u1"].OfflineAt = time.Now().UnixMilli() - maxMs - 1000

	eg.handleReconnect(&share.ReconnectEvent{GameMessageEvent: share.GameMessageEvent{UserID: "u1"}})

	rec, ok := pusher.lastTo("u1", dto.FrameError)
	if !ok {
		t.Fatalf("expired reconnect should push an error")
	}
	gameErr, ok := rec.Data.(*dto.GameError)
	if !ok || gameErr.Code != dto.CodeReconnectExpired {
		t.Fatalf("expected reconnectExpired, got %+v", rec.Data)
	}
	if eg.UserMap["u1"].IsOnline {
		t.Fatalf("expired reconnect must not bring the user back online")
	}
	if _, ok := pusher.lastTo("u1", dto.EventGameSnapshot); ok {
		t.Fatalf("expired reconnect must not receive a snapshot")
	}
}

func TestSnapshotRedaction(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	enterPlaying(eg, 0)
	eg.Wall = []Tile{mustTile(t, "1T")}
	for _, p := range eg.Players {
		p.Hand = handOf(t, "1W", "2W")
	}

	snap := eg.buildSnapshot()
	if snap.WallCount != 1 || len(snap.Wall) != 1 {
		t.Fatalf("full snapshot should carry the wall")
	}

	red := snap.RedactFor(2)
	if red.Wall != nil || red.WallCount != 1 {
		t.Fatalf("redacted snapshot hides tiles but keeps the count")
	}
	for seat := range red.Players {
		if seat == 2 && red.Players[seat].Hand == nil {
			t.Fatalf("own hand missing after redaction")
		}
		if seat != 2 && red.Players[seat].Hand != nil {
			t.Fatalf("seat %d hand leaked", seat)
		}
		if red.Players[seat].HandCount != 2 {
			t.Fatalf("hand counts stay visible for all seats")
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	eg, _, _ := newTestEngine(t, engineRule())
	clone := eg.Clone().(*SanmaEngine)

	if clone.Rule == eg.Rule {
		t.Fatalf("clone must copy the rule, not share the pointer")
	}
	if clone.Searcher != eg.Searcher {
		t.Fatalf("clones share the searcher cache")
	}
	if clone.Phase != engines.PhaseWaiting {
		t.Fatalf("clone starts in waiting phase")
	}
	clone.Rule.MaxRounds = 99
	if eg.Rule.MaxRounds == 99 {
		t.Fatalf("clone rule mutation leaked into the prototype")
	}
}
