package mahjong

import (
	"fmt"

	"github.com/JackieWYB/majiang-sub003/domain/entity"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines"
	"github.com/JackieWYB/majiang-sub003/game/share"
)

/*
	牌谱重演：rngSeed + rule + actionLog 喂给一个干净引擎，按序重放动作，
	产出的结算应与原局一致。摸牌由引擎自己按种子完成，日志里的 draw 条目
	只用来提示该收掉上一个响应窗口。
*/

// replayCollector 只收结算推送，其余事件丢弃
type replayCollector struct {
	settlement *Settlement
}

func (rc *replayCollector) Push(_ []string, event string, data any) {
	if event != dto.EventSettlement {
		return
	}
	if s, ok := data.(*SettlementDTO); ok {
		rc.settlement = s.Settlement
	}
}

// ReplayRound 离线重演一局，返回重演得到的结算
func ReplayRound(record *entity.GameRecord) (*Settlement, error) {
	if record == nil || len(record.ActionLog) == 0 {
		return nil, fmt.Errorf("牌谱缺少动作日志，无法重演")
	}

	// 重演不再记日志、不落库、不托管，计时器拉长到不会触发
	rule := record.Rule
	rule.Replay = false
	rule.Turn.AutoTrustee = false
	rule.Turn.TurnTimeLimit = 3600
	rule.Turn.ActionTimeLimit = 3600

	collector := &replayCollector{}
	eg := NewSanmaEngine(&rule, Deps{Pusher: collector})
	eg.seedFunc = func() int64 { return record.RngSeed }
	eg.RoomID = record.RoomID
	eg.UserMap = make(map[string]*share.UserInfo, 3)

	var tickers [3]*PlayerTicker
	for seat := 0; seat < 3; seat++ {
		uid := fmt.Sprintf("replay-%d", seat)
		for _, pr := range record.Players {
			if pr.Seat == seat && pr.UserID != "" {
				uid = pr.UserID
			}
		}
		eg.UserMap[uid] = share.NewUserInfo(uid, seat)
		eg.Players[seat] = NewPlayerImage(uid, seat)
		tickers[seat] = NewPlayerTicker()
		tickers[seat].SetOnTimeout(eg.makeTimeoutHandler(seat))
	}
	eg.TurnManager = NewTurnManager(tickers)
	eg.DealerSeat = record.DealerSeat
	eg.Phase = engines.PhaseWaiting
	defer func() {
		eg.TurnManager.StopAllTickers()
		eg.stopTrusteeTimer()
	}()

	eg.startRound()

	seatUser := func(seat int) (string, error) {
		if seat < 0 || seat > 2 || eg.Players[seat] == nil {
			return "", fmt.Errorf("牌谱座位非法: %d", seat)
		}
		return eg.Players[seat].UserID, nil
	}
	msg := func(uid string) share.GameMessageEvent {
		return share.GameMessageEvent{UserID: uid}
	}

	for i := range record.ActionLog {
		e := &record.ActionLog[i]
		if collector.settlement != nil {
			break
		}
		switch e.Cmd {
		case "draw":
			// 上一张出牌无人响应：先收掉窗口，引擎才会自己摸这张
			replayPassPending(eg)

		case "play":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handlePlayTile(&share.PlayTileEvent{GameMessageEvent: msg(uid), Tile: e.Tile})

		case "peng":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handleClaimResponse(uid, ClaimPeng, [2]Tile{})
			replayPassPending(eg)

		case "gang":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handleClaimResponse(uid, ClaimGang, [2]Tile{})
			replayPassPending(eg)

		case "chi":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			if len(e.With) != 2 {
				return nil, fmt.Errorf("吃牌日志缺少搭子: seq=%d", e.Seq)
			}
			t1, err1 := ParseTile(e.With[0])
			t2, err2 := ParseTile(e.With[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("吃牌日志搭子非法: seq=%d", e.Seq)
			}
			eg.handleClaimResponse(uid, ClaimChi, [2]Tile{t1, t2})
			replayPassPending(eg)

		case "hu":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handleHu(&share.HuEvent{GameMessageEvent: msg(uid), Tile: e.Tile})
			replayPassPending(eg)

		case "huSelfDraw":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handleHu(&share.HuEvent{GameMessageEvent: msg(uid), Tile: e.Tile, SelfDraw: true})

		case "gangConcealed", "gangUpgraded":
			uid, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handleGang(&share.GangEvent{GameMessageEvent: msg(uid), Tile: e.Tile})
			// 加杠开的抢杠窗口按原局无人抢处理
			replayPassPending(eg)

		case "robKong":
			// 日志只记和家，加杠者从牌面反推
			upgrader := findUpgraderSeat(eg, e.Tile)
			if upgrader < 0 {
				return nil, fmt.Errorf("重演抢杠找不到加杠者: seq=%d tile=%s", e.Seq, e.Tile)
			}
			upgUID, err := seatUser(upgrader)
			if err != nil {
				return nil, err
			}
			winUID, err := seatUser(e.Seat)
			if err != nil {
				return nil, err
			}
			eg.handleGang(&share.GangEvent{GameMessageEvent: msg(upgUID), Tile: e.Tile})
			eg.handleHu(&share.HuEvent{GameMessageEvent: msg(winUID), Tile: e.Tile})
			replayPassPending(eg)

		default:
			return nil, fmt.Errorf("牌谱动作无法重演: seq=%d cmd=%s", e.Seq, e.Cmd)
		}
	}
	replayPassPending(eg)

	if collector.settlement == nil {
		return nil, fmt.Errorf("重演结束仍未产生结算: gameId=%s", record.GameID)
	}
	return collector.settlement, nil
}

// replayPassPending 把窗口里未响应的座位全部按 pass 收掉
func replayPassPending(eg *SanmaEngine) {
	w := eg.claimWindow
	if eg.Phase != engines.PhaseAwaitingClaims || w == nil {
		return
	}
	for seat, opt := range w.Options {
		if !opt.Responded && eg.Players[seat] != nil {
			eg.handleClaimResponse(eg.Players[seat].UserID, ClaimPass, [2]Tile{})
		}
	}
}

// findUpgraderSeat 手里还捏着第四张且副露里有同牌碰的座位
func findUpgraderSeat(eg *SanmaEngine, tile string) int {
	t, err := ParseTile(tile)
	if err != nil {
		return -1
	}
	for seat, p := range eg.Players {
		if p == nil {
			continue
		}
		if p.Hand.Count(t) >= 1 && CanUpgradeKong(p.Melds, t) >= 0 {
			return seat
		}
	}
	return -1
}
