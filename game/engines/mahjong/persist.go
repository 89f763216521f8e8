package mahjong

import (
	"context"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/domain/entity"
	"github.com/JackieWYB/majiang-sub003/domain/repository"
)

// GamePersister 牌谱落库组件
// 对局过程中动作日志由引擎维护，结束时在这里拼装 GameRecord 异步写库
type GamePersister struct {
	repo repository.GameRecordRepository
}

func NewGamePersister(repo repository.GameRecordRepository) *GamePersister {
	return &GamePersister{repo: repo}
}

// FinalizeGame 一局结束后落库，写库失败只记日志
func (gp *GamePersister) FinalizeGame(record *entity.GameRecord) {
	if gp == nil || gp.repo == nil || record == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gp.repo.Save(ctx, record); err != nil {
			log.Error("牌谱落库失败: gameId=%s err=%v", record.GameID, err)
			return
		}
		log.Info("牌谱落库成功: gameId=%s round=%d", record.GameID, record.RoundIndex)
	}()
}

// buildGameRecord 由结算结果拼装牌谱
func (eg *SanmaEngine) buildGameRecord(s *Settlement) *entity.GameRecord {
	record := &entity.GameRecord{
		GameID:     eg.GameID,
		RoomID:     eg.RoomID,
		RoundIndex: eg.RoundIndex,
		Result:     s.Result,
		DealerSeat: s.DealerSeat,
		RngSeed:    eg.RngSeed,
		Rule:       *eg.Rule,
		DurationMs: time.Now().UnixMilli() - eg.roundStartedAt,
		CreatedAt:  time.Now(),
	}
	if s.Result == entity.ResultWin {
		record.WinnerSeats = make([]int, 0, len(s.Winners))
		for _, w := range s.Winners {
			record.WinnerSeats = append(record.WinnerSeats, w.Seat)
		}
		first := s.Winners[0]
		record.WinningTile = first.WinningTile
		record.WinCategory = first.Category
		record.Multiplier = first.Multiplier
		record.FinalScore = first.FinalScore
	}
	record.BaseScore = eg.Rule.Score.BaseScore
	if eg.Rule.Replay {
		record.ActionLog = append([]entity.ActionLogEntry(nil), eg.actionLog...)
	}

	record.FinalHands = make([][]string, 3)
	record.Players = make([]entity.PlayerResult, 0, 3)
	for seat, p := range eg.Players {
		if p == nil {
			continue
		}
		record.FinalHands[seat] = tilesToStrings(p.Hand.Tiles())
		isWinner := false
		for _, w := range s.Winners {
			if w.Seat == seat {
				isWinner = true
				break
			}
		}
		record.Players = append(record.Players, entity.PlayerResult{
			UserID:       p.UserID,
			Seat:         seat,
			ScoreDelta:   s.Deltas[seat],
			FinalScore:   p.Score,
			IsWinner:     isWinner,
			IsDealer:     seat == s.DealerSeat,
			PengCount:    p.PengCount,
			GangCount:    p.GangCount,
			ChiCount:     p.ChiCount,
			TimeoutCount: p.ConsecutiveTimeouts,
			Trusteed:     p.Status == StatusTrustee,
		})
	}
	return record
}

// logAction 追加动作日志
func (eg *SanmaEngine) logAction(seat int, cmd string, tile string, with []string) {
	if !eg.Rule.Replay {
		return
	}
	eg.actionLog = append(eg.actionLog, entity.ActionLogEntry{
		Seq:  len(eg.actionLog) + 1,
		Seat: seat,
		Cmd:  cmd,
		Tile: tile,
		With: with,
		At:   time.Now().UnixMilli() - eg.roundStartedAt,
	})
}
