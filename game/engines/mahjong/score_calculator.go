package mahjong

import (
	"github.com/JackieWYB/majiang-sub003/common/config"
)

// SettlementDetail 单个和家的结算明细
type SettlementDetail struct {
	Seat        int      `json:"seat"`
	Category    string   `json:"category"`
	Categories  []string `json:"categories"`
	Fan         int      `json:"fan"`
	Multiplier  int      `json:"multiplier"`
	FinalScore  int      `json:"finalScore"`
	SelfDraw    bool     `json:"selfDraw"`
	WinningTile string   `json:"winningTile"`
}

// Settlement 一局的结算结果，Deltas 零和
type Settlement struct {
	Result     string             `json:"result"` // win / draw
	Winners    []SettlementDetail `json:"winners,omitempty"`
	Deltas     [3]int             `json:"deltas"`
	KongDeltas [3]int             `json:"kongDeltas"`
	DealerSeat int                `json:"dealerSeat"`
}

// computeFinalScore 计算单个和家的最终分
// 基础分 × 牌型倍率 × 庄家倍率 × 自摸倍率，封顶 maxScore
func computeFinalScore(rule *config.RuleConfig, fan int, isDealer, selfDraw bool) (multiplier, finalScore int) {
	multiplier = fan
	if isDealer {
		multiplier *= rule.Score.DealerMultiplier
	}
	if selfDraw {
		multiplier *= rule.Score.SelfDrawBonus
	}
	finalScore = rule.Score.BaseScore * multiplier
	if finalScore > rule.Score.MaxScore {
		finalScore = rule.Score.MaxScore
	}
	return multiplier, finalScore
}

// settleSelfDraw 自摸：两家各付半额，庄家做闲时付双份
// 和家收全部付款，零和
func settleSelfDraw(finalScore, winnerSeat, dealerSeat int) [3]int {
	var deltas [3]int
	unit := (finalScore + 1) / 2
	for seat := 0; seat < 3; seat++ {
		if seat == winnerSeat {
			continue
		}
		pay := unit
		if seat == dealerSeat && winnerSeat != dealerSeat {
			pay = unit * 2
		}
		deltas[seat] -= pay
		deltas[winnerSeat] += pay
	}
	return deltas
}

// settleDiscardWin 点炮：放铳者独自支付每个和家的最终分
func settleDiscardWin(finals map[int]int, discarderSeat int) [3]int {
	var deltas [3]int
	for seat, final := range finals {
		deltas[seat] += final
		deltas[discarderSeat] -= final
	}
	return deltas
}

// settleWin 和牌结算总入口
func (eg *SanmaEngine) settleWin(claims []huClaim) *Settlement {
	s := &Settlement{Result: "win", DealerSeat: eg.DealerSeat}

	if len(claims) == 1 && claims[0].SelfDraw {
		c := claims[0]
		multiplier, final := computeFinalScore(eg.Rule, c.Win.Fan, c.WinnerSeat == eg.DealerSeat, true)
		s.Winners = append(s.Winners, SettlementDetail{
			Seat:        c.WinnerSeat,
			Category:    c.Win.Category,
			Categories:  c.Win.Categories,
			Fan:         c.Win.Fan,
			Multiplier:  multiplier,
			FinalScore:  final,
			SelfDraw:    true,
			WinningTile: c.WinningTile.String(),
		})
		s.Deltas = settleSelfDraw(final, c.WinnerSeat, eg.DealerSeat)
	} else {
		finals := make(map[int]int, len(claims))
		discarder := -1
		for _, c := range claims {
			discarder = c.FromSeat
			multiplier, final := computeFinalScore(eg.Rule, c.Win.Fan, c.WinnerSeat == eg.DealerSeat, false)
			finals[c.WinnerSeat] = final
			s.Winners = append(s.Winners, SettlementDetail{
				Seat:        c.WinnerSeat,
				Category:    c.Win.Category,
				Categories:  c.Win.Categories,
				Fan:         c.Win.Fan,
				Multiplier:  multiplier,
				FinalScore:  final,
				WinningTile: c.WinningTile.String(),
			})
		}
		s.Deltas = settleDiscardWin(finals, discarder)
	}

	s.KongDeltas = eg.kongLedger
	for i := 0; i < 3; i++ {
		s.Deltas[i] += s.KongDeltas[i]
	}
	return s
}

// settleDraw 流局：只结算杠分，基础分不转移
func (eg *SanmaEngine) settleDraw() *Settlement {
	s := &Settlement{Result: "draw", DealerSeat: eg.DealerSeat}
	s.KongDeltas = eg.kongLedger
	s.Deltas = eg.kongLedger
	return s
}

// creditKong 杠成立时记杠分
// 暗杠两家各付 2×gangBonus，明杠/加杠各付 1×gangBonus
func (eg *SanmaEngine) creditKong(holderSeat int, style GangStyle) {
	bonus := eg.Rule.Score.GangBonus
	if bonus == 0 {
		return
	}
	if style == GangConcealed {
		bonus *= 2
	}
	for seat := 0; seat < 3; seat++ {
		if seat == holderSeat {
			continue
		}
		eg.kongLedger[seat] -= bonus
		eg.kongLedger[holderSeat] += bonus
	}
}

// creditRobbedKong 抢杠成功，这笔杠分记给和家而不是加杠者
// 加杠的杠分在升级完成时才入账，抢杠发生在那之前
func (eg *SanmaEngine) creditRobbedKong(winnerSeat int) {
	bonus := eg.Rule.Score.GangBonus
	if bonus == 0 {
		return
	}
	for seat := 0; seat < 3; seat++ {
		if seat == winnerSeat {
			continue
		}
		eg.kongLedger[seat] -= bonus
		eg.kongLedger[winnerSeat] += bonus
	}
}
