package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/JackieWYB/majiang-sub003/common/config"
)

// 对局结果
const (
	ResultWin  = "win"
	ResultDraw = "draw"
)

// ActionLogEntry 动作日志条目，回放时按序重演
type ActionLogEntry struct {
	Seq  int      `bson:"seq" json:"seq"`
	Seat int      `bson:"seat" json:"seat"` // 系统动作为 -1
	Cmd  string   `bson:"cmd" json:"cmd"`
	Tile string   `bson:"tile,omitempty" json:"tile,omitempty"`
	With []string `bson:"with,omitempty" json:"with,omitempty"` // 吃牌时搭子等附加牌
	At   int64    `bson:"at" json:"at"`                         // 距开局毫秒数
}

// PlayerResult 单个玩家的对局结算行
type PlayerResult struct {
	UserID       string `bson:"userId" json:"userId"`
	Seat         int    `bson:"seat" json:"seat"`
	ScoreDelta   int    `bson:"scoreDelta" json:"scoreDelta"`
	FinalScore   int    `bson:"finalScore" json:"finalScore"`
	IsWinner     bool   `bson:"isWinner" json:"isWinner"`
	IsDealer     bool   `bson:"isDealer" json:"isDealer"`
	PengCount    int    `bson:"pengCount" json:"pengCount"`
	GangCount    int    `bson:"gangCount" json:"gangCount"`
	ChiCount     int    `bson:"chiCount" json:"chiCount"`
	TimeoutCount int    `bson:"timeoutCount" json:"timeoutCount"`
	Trusteed     bool   `bson:"trusteed" json:"trusteed"`
}

// GameRecord 一局结束后落库的完整牌谱
// rngSeed + rule + actionLog 足以离线重演整局
type GameRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	GameID     string             `bson:"gameId" json:"gameId"`
	RoomID     string             `bson:"roomId" json:"roomId"`
	RoundIndex int                `bson:"roundIndex" json:"roundIndex"`

	Result      string `bson:"result" json:"result"` // win / draw
	WinnerSeats []int  `bson:"winnerSeats,omitempty" json:"winnerSeats,omitempty"`
	WinningTile string `bson:"winningTile,omitempty" json:"winningTile,omitempty"`
	WinCategory string `bson:"winCategory,omitempty" json:"winCategory,omitempty"`
	BaseScore   int    `bson:"baseScore" json:"baseScore"`
	Multiplier  int    `bson:"multiplier" json:"multiplier"`
	FinalScore  int    `bson:"finalScore" json:"finalScore"`
	DealerSeat  int    `bson:"dealerSeat" json:"dealerSeat"`

	RngSeed    int64             `bson:"rngSeed" json:"rngSeed"`
	Rule       config.RuleConfig `bson:"rule" json:"rule"`
	ActionLog  []ActionLogEntry  `bson:"actionLog,omitempty" json:"actionLog,omitempty"`
	FinalHands [][]string        `bson:"finalHands" json:"finalHands"` // 按座位序

	Players    []PlayerResult `bson:"players" json:"players"`
	DurationMs int64          `bson:"durationMs" json:"durationMs"`
	CreatedAt  time.Time      `bson:"createdAt" json:"createdAt"`
}
