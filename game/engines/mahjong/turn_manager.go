package mahjong

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type TickerState int

const (
	StateIdle    TickerState = iota // 空闲
	StateRunning                    // 计时中
	StateStopped                    // 已停止
	StateTimeout                    // 已超时
)

// TurnManager 回合管理，3 个座位
type TurnManager struct {
	TurnPointer int // 当前出牌玩家座位
	Tickers     [3]*PlayerTicker
}

func NewTurnManager(tickers [3]*PlayerTicker) *TurnManager {
	return &TurnManager{
		TurnPointer: 0,
		Tickers:     tickers,
	}
}

// NextTurn 顺时针轮到下一个玩家
func (tm *TurnManager) NextTurn() int {
	tm.TurnPointer = (tm.TurnPointer + 1) % 3
	return tm.TurnPointer
}

func (tm *TurnManager) GetCurrentPlayer() int {
	return tm.TurnPointer
}

func (tm *TurnManager) SetTurn(seatIndex int) {
	tm.TurnPointer = seatIndex
}

func (tm *TurnManager) StopAllTickers() {
	for i := 0; i < 3; i++ {
		if tm.Tickers[i].GetState() == StateRunning {
			tm.Tickers[i].Stop()
		}
	}
}

// StartTurnTimer 启动出牌计时
func (tm *TurnManager) StartTurnTimer(seatIndex int, limit time.Duration) error {
	if seatIndex < 0 || seatIndex >= 3 {
		return fmt.Errorf("无效的座位索引: %d", seatIndex)
	}
	tm.StopAllTickers()
	tm.TurnPointer = seatIndex
	if err := tm.Tickers[seatIndex].Start(limit); err != nil {
		return fmt.Errorf("启动出牌计时失败: %v", err)
	}
	return nil
}

// StartClaimTimers 为响应窗口里的每个座位启动计时
func (tm *TurnManager) StartClaimTimers(seats []int, limit time.Duration) {
	for _, seat := range seats {
		if seat < 0 || seat >= 3 {
			continue
		}
		_ = tm.Tickers[seat].Start(limit)
	}
}

func (tm *TurnManager) GetPlayerTicker(seatIndex int) *PlayerTicker {
	return tm.Tickers[seatIndex]
}

// PlayerTicker 单个玩家的倒计时
// 超时与主动停止通过回调通知，回调在计时协程里触发
type PlayerTicker struct {
	State     TickerState
	isRunning bool
	cancel    context.CancelFunc

	onTimeout func()
	onStop    func()

	sync.RWMutex
}

func NewPlayerTicker() *PlayerTicker {
	return &PlayerTicker{State: StateIdle}
}

// Start 启动计时，已在运行则报错
func (pt *PlayerTicker) Start(duration time.Duration) error {
	pt.Lock()
	defer pt.Unlock()

	if pt.isRunning {
		return fmt.Errorf("计时已在运行，无法重复启动")
	}
	pt.isRunning = true
	pt.State = StateRunning

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	pt.cancel = cancel
	go pt.timerLoop(ctx)
	return nil
}

func (pt *PlayerTicker) timerLoop(ctx context.Context) {
	<-ctx.Done()

	pt.Lock()
	// 被 Stop 抢先取消时这里什么都不做
	if !pt.isRunning || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		pt.Unlock()
		return
	}
	pt.State = StateTimeout
	pt.isRunning = false
	pt.cancel = nil
	callback := pt.onTimeout
	pt.Unlock()

	if callback != nil {
		callback()
	}
}

// Stop 停止计时，返回是否成功抢在超时前停下
func (pt *PlayerTicker) Stop() bool {
	pt.Lock()
	if !pt.isRunning || pt.cancel == nil {
		pt.Unlock()
		return false
	}
	pt.cancel()
	pt.cancel = nil
	pt.isRunning = false
	pt.State = StateStopped
	callback := pt.onStop
	pt.Unlock()

	if callback != nil {
		callback()
	}
	return true
}

func (pt *PlayerTicker) GetState() TickerState {
	pt.RLock()
	defer pt.RUnlock()
	return pt.State
}

func (pt *PlayerTicker) SetOnTimeout(callback func()) {
	pt.Lock()
	defer pt.Unlock()
	pt.onTimeout = callback
}

func (pt *PlayerTicker) SetOnStop(callback func()) {
	pt.Lock()
	defer pt.Unlock()
	pt.onStop = callback
}
