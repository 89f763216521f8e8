package engines

import (
	"github.com/JackieWYB/majiang-sub003/game/share"
)

// Phase 对局阶段，按序流转
type Phase string

const (
	PhaseWaiting        Phase = "waiting"        // 等待玩家准备
	PhaseDealing        Phase = "dealing"        // 洗牌发牌
	PhasePlaying        Phase = "playing"        // 当前玩家出牌回合
	PhaseAwaitingClaims Phase = "awaitingClaims" // 响应窗口（碰杠吃和）
	PhaseSettlement     Phase = "settlement"     // 结算
	PhaseFinished       Phase = "finished"       // 对局结束
)

// Engine 使用原型模式，每个游戏房间都有一个游戏引擎
type Engine interface {
	// InitializeEngine 初始化游戏引擎
	// users: Room.UserMap map，Engine 和 Room 共用
	InitializeEngine(roomID string, users map[string]*share.UserInfo) error

	// NotifyEvent 通知游戏事件（入队，由引擎内部串行处理）
	NotifyEvent(event share.GameEvent)

	// Clone 克隆引擎实例（用于原型模式）
	Clone() Engine

	// Terminate 触发销毁房间（异步请求）
	Terminate()

	// Close 释放引擎内部资源
	Close()
}
