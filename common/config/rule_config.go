package config

import (
	"errors"
	"fmt"
)

// 牌池类型
const (
	TilesWanOnly = "WAN_ONLY" // 只用万子，36 张
	TilesAll     = "ALL"      // 万筒条，108 张
)

// RuleConfig 一局游戏的规则配置
// 房间创建时做一次值拷贝冻结，之后整局不变
type RuleConfig struct {
	Players   int    `mapstructure:"players" json:"players"`
	Tiles     string `mapstructure:"tiles" json:"tiles"`
	AllowPeng bool   `mapstructure:"allowPeng" json:"allowPeng"`
	AllowGang bool   `mapstructure:"allowGang" json:"allowGang"`
	AllowChi  bool   `mapstructure:"allowChi" json:"allowChi"`

	HuTypes   HuTypesConfig   `mapstructure:"huTypes" json:"huTypes"`
	Score     ScoreConfig     `mapstructure:"score" json:"score"`
	Turn      TurnConfig      `mapstructure:"turn" json:"turn"`
	Dealer    DealerConfig    `mapstructure:"dealer" json:"dealer"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" json:"reconnect"`
	Dismiss   DismissConfig   `mapstructure:"dismiss" json:"dismiss"`

	MaxRounds int  `mapstructure:"maxRounds" json:"maxRounds"`
	Replay    bool `mapstructure:"replay" json:"replay"`
}

// HuTypesConfig 各种和牌类型的开关
type HuTypesConfig struct {
	BasicWin    bool `mapstructure:"basicWin" json:"basicWin"`
	SevenPairs  bool `mapstructure:"sevenPairs" json:"sevenPairs"`
	AllPungs    bool `mapstructure:"allPungs" json:"allPungs"`
	AllHonors   bool `mapstructure:"allHonors" json:"allHonors"`
	EdgeWait    bool `mapstructure:"edgeWait" json:"edgeWait"`
	PairWait    bool `mapstructure:"pairWait" json:"pairWait"`
	RobbingKong bool `mapstructure:"robbingKong" json:"robbingKong"`
}

type ScoreConfig struct {
	BaseScore        int  `mapstructure:"baseScore" json:"baseScore"`
	MaxScore         int  `mapstructure:"maxScore" json:"maxScore"`
	DealerMultiplier int  `mapstructure:"dealerMultiplier" json:"dealerMultiplier"`
	SelfDrawBonus    int  `mapstructure:"selfDrawBonus" json:"selfDrawBonus"`
	GangBonus        int  `mapstructure:"gangBonus" json:"gangBonus"`
	MultipleWinners  bool `mapstructure:"multipleWinners" json:"multipleWinners"`
}

type TurnConfig struct {
	TurnTimeLimit       int  `mapstructure:"turnTimeLimit" json:"turnTimeLimit"`             // 出牌时限（秒）
	ActionTimeLimit     int  `mapstructure:"actionTimeLimit" json:"actionTimeLimit"`         // 响应窗口时限（秒）
	AutoTrustee         bool `mapstructure:"autoTrustee" json:"autoTrustee"`                 // 是否启用托管
	TrusteeTimeoutCount int  `mapstructure:"trusteeTimeoutCount" json:"trusteeTimeoutCount"` // 连续超时几次进托管
	TrusteeDelayMs      int  `mapstructure:"trusteeDelayMs" json:"trusteeDelayMs"`           // 托管出牌延迟（毫秒）
}

type DealerConfig struct {
	RotateOnWin  bool `mapstructure:"rotateOnWin" json:"rotateOnWin"`
	RotateOnDraw bool `mapstructure:"rotateOnDraw" json:"rotateOnDraw"`
	RotateOnLose bool `mapstructure:"rotateOnLose" json:"rotateOnLose"`
}

type ReconnectConfig struct {
	GracePeriodSec   int `mapstructure:"gracePeriodSec" json:"gracePeriodSec"`     // 断线宽限期（秒）
	MaxDisconnectSec int `mapstructure:"maxDisconnectSec" json:"maxDisconnectSec"` // 超过后重连视为过期
}

type DismissConfig struct {
	RequireAllAgree  bool `mapstructure:"requireAllAgree" json:"requireAllAgree"`
	VoteTimeLimitSec int  `mapstructure:"voteTimeLimitSec" json:"voteTimeLimitSec"`
	AutoDissolveSec  int  `mapstructure:"autoDissolveSec" json:"autoDissolveSec"`
}

// ApplyDefaults 填充未配置的字段
func (rc *RuleConfig) ApplyDefaults() {
	if rc.Players == 0 {
		rc.Players = 3
	}
	if rc.Tiles == "" {
		rc.Tiles = TilesWanOnly
	}
	if rc.Score.BaseScore == 0 {
		rc.Score.BaseScore = 2
	}
	if rc.Score.MaxScore == 0 {
		rc.Score.MaxScore = 64
	}
	if rc.Score.DealerMultiplier == 0 {
		rc.Score.DealerMultiplier = 2
	}
	if rc.Score.SelfDrawBonus == 0 {
		rc.Score.SelfDrawBonus = 1
	}
	if rc.Turn.TurnTimeLimit == 0 {
		rc.Turn.TurnTimeLimit = 15
	}
	if rc.Turn.ActionTimeLimit == 0 {
		rc.Turn.ActionTimeLimit = 5
	}
	if rc.Turn.TrusteeTimeoutCount == 0 {
		rc.Turn.TrusteeTimeoutCount = 3
	}
	if rc.Turn.TrusteeDelayMs == 0 {
		rc.Turn.TrusteeDelayMs = 1000
	}
	if rc.Reconnect.GracePeriodSec == 0 {
		rc.Reconnect.GracePeriodSec = 60
	}
	if rc.Reconnect.MaxDisconnectSec == 0 {
		rc.Reconnect.MaxDisconnectSec = 600
	}
	if rc.Dismiss.VoteTimeLimitSec == 0 {
		rc.Dismiss.VoteTimeLimitSec = 60
	}
	if rc.Dismiss.AutoDissolveSec == 0 {
		rc.Dismiss.AutoDissolveSec = 1800
	}
	if rc.MaxRounds == 0 {
		rc.MaxRounds = 8
	}
	zero := HuTypesConfig{}
	if rc.HuTypes == zero {
		rc.HuTypes = HuTypesConfig{
			BasicWin:    true,
			SevenPairs:  true,
			AllPungs:    true,
			EdgeWait:    true,
			PairWait:    true,
			RobbingKong: true,
		}
	}
}

// Validate 校验规则配置
func (rc *RuleConfig) Validate() error {
	if rc.Players != 3 {
		return fmt.Errorf("players 固定为 3，得到 %d", rc.Players)
	}
	if rc.Tiles != TilesWanOnly && rc.Tiles != TilesAll {
		return fmt.Errorf("tiles 只能是 %s 或 %s", TilesWanOnly, TilesAll)
	}
	if rc.Score.BaseScore <= 0 {
		return errors.New("score.baseScore 必须为正数")
	}
	if rc.Score.MaxScore < rc.Score.BaseScore {
		return errors.New("score.maxScore 不能小于 baseScore")
	}
	if rc.Score.DealerMultiplier <= 0 || rc.Score.SelfDrawBonus <= 0 {
		return errors.New("score.dealerMultiplier/selfDrawBonus 必须为正数")
	}
	if rc.Score.GangBonus < 0 {
		return errors.New("score.gangBonus 不能为负数")
	}
	if rc.Turn.TurnTimeLimit <= 0 || rc.Turn.ActionTimeLimit <= 0 {
		return errors.New("turn 时限必须为正数")
	}
	if rc.HuTypes.AllHonors && rc.Tiles == TilesWanOnly {
		// 单花色牌池下“字一色/清一色”退化为恒真，直接禁用
		return errors.New("WAN_ONLY 牌池不支持 huTypes.allHonors")
	}
	return nil
}
