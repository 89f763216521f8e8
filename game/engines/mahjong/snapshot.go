package mahjong

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/domain/entity"
	"github.com/JackieWYB/majiang-sub003/game/engines"
)

// PlayerSnapshot 快照里的单个座位，Hand 只在完整快照里有值
type PlayerSnapshot struct {
	UserID              string       `json:"userId"`
	Seat                int          `json:"seat"`
	Hand                []string     `json:"hand,omitempty"`
	HandCount           int          `json:"handCount"`
	Melds               []Meld       `json:"melds"`
	DiscardPile         []string     `json:"discardPile"`
	Score               int          `json:"score"`
	Status              PlayerStatus `json:"status"`
	ConsecutiveTimeouts int          `json:"consecutiveTimeouts"`
	Online              bool         `json:"online"`
}

// GameSnapshot 完整对局状态，版本号随每次变更递增
// 写入热存储做断线恢复，脱敏后下发客户端
type GameSnapshot struct {
	RoomID     string            `json:"roomId"`
	GameID     string            `json:"gameId"`
	Version    int64             `json:"version"`
	Phase      engines.Phase     `json:"phase"`
	RoundIndex int               `json:"roundIndex"`
	DealerSeat int               `json:"dealerSeat"`
	TurnSeat   int               `json:"turnSeat"`
	RngSeed    int64             `json:"rngSeed"`
	Wall       []string          `json:"wall,omitempty"`
	WallCount  int               `json:"wallCount"`
	Players    [3]PlayerSnapshot `json:"players"`
	KongLedger [3]int            `json:"kongLedger"`

	LastDiscardSeat int    `json:"lastDiscardSeat"`
	LastDiscardTile string `json:"lastDiscardTile,omitempty"`

	Rule      config.RuleConfig       `json:"rule"`
	ActionLog []entity.ActionLogEntry `json:"actionLog,omitempty"`
	TakenAt   int64                   `json:"takenAt"`
}

// buildSnapshot 生成完整快照
func (eg *SanmaEngine) buildSnapshot() *GameSnapshot {
	snap := &GameSnapshot{
		RoomID:     eg.RoomID,
		GameID:     eg.GameID,
		Version:    eg.Version,
		Phase:      eg.Phase,
		RoundIndex: eg.RoundIndex,
		DealerSeat: eg.DealerSeat,
		TurnSeat:   eg.TurnManager.GetCurrentPlayer(),
		RngSeed:    eg.RngSeed,
		Wall:       tilesToStrings(eg.Wall),
		WallCount:  len(eg.Wall),
		KongLedger: eg.kongLedger,
		Rule:       *eg.Rule,
		TakenAt:    time.Now().UnixMilli(),
	}
	if eg.lastDiscard.Valid {
		snap.LastDiscardSeat = eg.lastDiscard.Seat
		snap.LastDiscardTile = eg.lastDiscard.Tile.String()
	} else {
		snap.LastDiscardSeat = -1
	}
	if eg.Rule.Replay {
		snap.ActionLog = append([]entity.ActionLogEntry(nil), eg.actionLog...)
	}

	for seat, p := range eg.Players {
		if p == nil {
			continue
		}
		online := true
		if ui, ok := eg.UserMap[p.UserID]; ok {
			online = ui.IsOnline
		}
		snap.Players[seat] = PlayerSnapshot{
			UserID:              p.UserID,
			Seat:                seat,
			Hand:                tilesToStrings(p.Hand.Tiles()),
			HandCount:           p.Hand.Total(),
			Melds:               append([]Meld(nil), p.Melds...),
			DiscardPile:         tilesToStrings(p.DiscardPile),
			Score:               p.Score,
			Status:              p.Status,
			ConsecutiveTimeouts: p.ConsecutiveTimeouts,
			Online:              online,
		}
	}
	return snap
}

// RedactFor 给指定座位脱敏：只保留自己的手牌，牌墙隐藏
func (snap *GameSnapshot) RedactFor(seat int) *GameSnapshot {
	out := *snap
	out.Wall = nil
	out.ActionLog = nil
	for i := range out.Players {
		if i != seat {
			out.Players[i].Hand = nil
		}
	}
	return &out
}

// restoreFromSnapshot 从热存储拉最近一次快照恢复对局
// 拉不到或快照对不上当前对局就返回 false，由调用方决定善后
func (eg *SanmaEngine) restoreFromSnapshot() bool {
	if eg.SnapshotStore == nil || eg.RoomID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := eg.SnapshotStore.LoadSnapshot(ctx, eg.RoomID)
	if err != nil {
		return false
	}
	var snap GameSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false
	}
	if snap.RoomID != eg.RoomID || snap.GameID != eg.GameID {
		return false
	}
	return eg.applySnapshot(&snap)
}

// applySnapshot 用快照覆盖引擎状态并把局面重新推给各座位
// 未决的响应窗口不恢复，按全员 pass 处理，轮到下家摸牌
func (eg *SanmaEngine) applySnapshot(snap *GameSnapshot) bool {
	wall, err := tilesFromStrings(snap.Wall)
	if err != nil {
		return false
	}
	var players [3]*PlayerImage
	for seat := range snap.Players {
		ps := &snap.Players[seat]
		hand, err := tilesFromStrings(ps.Hand)
		if err != nil {
			return false
		}
		discards, err := tilesFromStrings(ps.DiscardPile)
		if err != nil {
			return false
		}
		p := NewPlayerImage(ps.UserID, seat)
		p.Hand = Hand27FromTiles(hand)
		p.Melds = append(p.Melds, ps.Melds...)
		p.DiscardPile = discards
		p.Score = ps.Score
		p.Status = ps.Status
		p.ConsecutiveTimeouts = ps.ConsecutiveTimeouts
		players[seat] = p
	}

	eg.TurnManager.StopAllTickers()
	eg.stopTrusteeTimer()

	eg.GameID = snap.GameID
	eg.Version = snap.Version
	eg.RoundIndex = snap.RoundIndex
	eg.DealerSeat = snap.DealerSeat
	eg.RngSeed = snap.RngSeed
	eg.Wall = wall
	eg.Players = players
	eg.kongLedger = snap.KongLedger
	eg.claimWindow = nil
	eg.upgrade = nil
	eg.actionLog = append(eg.actionLog[:0], snap.ActionLog...)
	if snap.LastDiscardSeat >= 0 && snap.LastDiscardTile != "" {
		t, err := ParseTile(snap.LastDiscardTile)
		if err != nil {
			return false
		}
		eg.lastDiscard = LastDiscard{Seat: snap.LastDiscardSeat, Tile: t, Valid: true}
	} else {
		eg.lastDiscard = LastDiscard{}
	}

	for seat := range eg.Players {
		eg.pushSnapshotTo(seat)
	}

	switch snap.Phase {
	case engines.PhasePlaying:
		eg.Phase = engines.PhasePlaying
		eg.enterTurn(snap.TurnSeat, false)
	case engines.PhaseAwaitingClaims:
		eg.Phase = engines.PhasePlaying
		eg.enterTurn((snap.LastDiscardSeat+1)%3, true)
	default:
		eg.Phase = snap.Phase
	}
	return true
}

func tilesFromStrings(ss []string) ([]Tile, error) {
	out := make([]Tile, 0, len(ss))
	for _, s := range ss {
		t, err := ParseTile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// persistSnapshot 版本号自增并异步写入热存储
func (eg *SanmaEngine) persistSnapshot() {
	eg.Version++
	if eg.SnapshotStore == nil {
		return
	}
	snap := eg.buildSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eg.SnapshotStore.SaveSnapshot(ctx, eg.RoomID, snap.Version, data)
	}()
}
