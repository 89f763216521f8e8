package mahjong

import (
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/dto"
)

// Pusher 推送出口，由连接层实现
// data 由连接层统一序列化成 EVENT 帧
type Pusher interface {
	Push(userIDs []string, event string, data any)
}

// 推送场景：
// 1. 开局（各家手牌不同）
// 2. 摸牌（仅自己）
// 3. 出牌
// 4. 响应窗口（各家可选动作不同）
// 5. 鸣牌成立
// 6. 回合切换
// 7. 托管切换
// 8. 掉线/重连
// 9. 结算
// 10. 快照（仅自己，已脱敏）

type GameStartDTO struct {
	RoomID     string   `json:"roomId"`
	GameID     string   `json:"gameId"`
	RoundIndex int      `json:"roundIndex"`
	DealerSeat int      `json:"dealerSeat"`
	Seat       int      `json:"seat"`
	Hand       []string `json:"hand"`
	WallCount  int      `json:"wallCount"`
}

type TileDrawnDTO struct {
	Tile      string `json:"tile"`
	WallCount int    `json:"wallCount"`
}

type TileDiscardedDTO struct {
	Seat      int    `json:"seat"`
	Tile      string `json:"tile"`
	WallCount int    `json:"wallCount"`
}

type ClaimWindowOpenDTO struct {
	Tile        string        `json:"tile"`
	FromSeat    int           `json:"fromSeat"`
	RobbingKong bool          `json:"robbingKong,omitempty"`
	Actions     []ClaimAction `json:"actions"`
	ChiCombos   [][2]string   `json:"chiCombos,omitempty"`
	DeadlineMs  int64         `json:"deadlineMs"`
}

type ClaimResolvedDTO struct {
	Action ClaimAction `json:"action"`
	Seats  []int       `json:"seats"`
	Tile   string      `json:"tile"`
}

type MeldFormedDTO struct {
	Seat int  `json:"seat"`
	Meld Meld `json:"meld"`
}

type TurnChangeDTO struct {
	Seat       int   `json:"seat"`
	Trustee    bool  `json:"trustee"`
	DeadlineMs int64 `json:"deadlineMs"`
}

type TrusteeChangedDTO struct {
	Seat    int  `json:"seat"`
	Enabled bool `json:"enabled"`
}

type PlayerConnDTO struct {
	Seat        int   `json:"seat"`
	GraceSec    int   `json:"graceSec,omitempty"`
	OfflineAtMs int64 `json:"offlineAtMs,omitempty"`
}

type SettlementDTO struct {
	*Settlement
	Scores     [3]int     `json:"scores"` // 结算后各座位总分
	FinalHands [][]string `json:"finalHands"`
	RoundIndex int        `json:"roundIndex"`
	GameOver   bool       `json:"gameOver"`
}

// broadcast 推给房间里所有玩家
func (eg *SanmaEngine) broadcast(event string, data any) {
	if eg.Pusher == nil {
		return
	}
	userIDs := make([]string, 0, 3)
	for _, p := range eg.Players {
		if p != nil && p.UserID != "" {
			userIDs = append(userIDs, p.UserID)
		}
	}
	eg.Pusher.Push(userIDs, event, data)
}

// pushToSeat 推给单个座位
func (eg *SanmaEngine) pushToSeat(seat int, event string, data any) {
	if eg.Pusher == nil {
		return
	}
	p := eg.Players[seat]
	if p == nil || p.UserID == "" {
		log.Warn("pushToSeat: 座位 %d 没有玩家", seat)
		return
	}
	eg.Pusher.Push([]string{p.UserID}, event, data)
}

// broadcastGameStart 开局推送，每个玩家只看到自己的手牌
func (eg *SanmaEngine) broadcastGameStart() {
	for seat, p := range eg.Players {
		if p == nil {
			continue
		}
		eg.pushToSeat(seat, dto.EventGameStart, &GameStartDTO{
			RoomID:     eg.RoomID,
			GameID:     eg.GameID,
			RoundIndex: eg.RoundIndex,
			DealerSeat: eg.DealerSeat,
			Seat:       seat,
			Hand:       tilesToStrings(p.Hand.Tiles()),
			WallCount:  len(eg.Wall),
		})
	}
}

// broadcastClaimWindow 响应窗口推送，每家只看到自己的可选动作
func (eg *SanmaEngine) broadcastClaimWindow(w *ClaimWindow, deadlineMs int64) {
	for seat, opt := range w.Options {
		combos := make([][2]string, 0, len(opt.ChiCombos))
		for _, c := range opt.ChiCombos {
			combos = append(combos, [2]string{c[0].String(), c[1].String()})
		}
		eg.pushToSeat(seat, dto.EventClaimWindowOpen, &ClaimWindowOpenDTO{
			Tile:        w.Tile.String(),
			FromSeat:    w.FromSeat,
			RobbingKong: w.RobbingKong,
			Actions:     opt.Actions,
			ChiCombos:   combos,
			DeadlineMs:  deadlineMs,
		})
	}
}

func tilesToStrings(tiles []Tile) []string {
	out := make([]string, len(tiles))
	for i, t := range tiles {
		out[i] = t.String()
	}
	return out
}
