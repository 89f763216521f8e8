package share

// GameEvent 游戏事件接口，所有对局内动作都入引擎队列串行处理
type GameEvent interface {
	GetUserID() string
	GetEventType() string
}

type GameMessageEvent struct {
	UserID string `json:"userID"` // 用户 ID（用于查找座位）
}

func (e *GameMessageEvent) GetUserID() string {
	return e.UserID
}

// ReadyEvent 玩家点击准备
type ReadyEvent struct {
	GameMessageEvent
}

func (e *ReadyEvent) GetEventType() string {
	return "Ready"
}

// PlayTileEvent 出牌，Tile 为 "5W" 形式
type PlayTileEvent struct {
	GameMessageEvent
	Tile string `json:"tile"`
}

func (e *PlayTileEvent) GetEventType() string {
	return "PlayTile"
}

// PengEvent 响应窗口内声明碰
type PengEvent struct {
	GameMessageEvent
}

func (e *PengEvent) GetEventType() string {
	return "Peng"
}

// GangEvent 杠牌
// 自己回合时 Tile 指定暗杠或加杠的牌；响应窗口内 Tile 为空，杠的是刚打出的牌
type GangEvent struct {
	GameMessageEvent
	Tile string `json:"tile,omitempty"`
}

func (e *GangEvent) GetEventType() string {
	return "Gang"
}

// ChiEvent 吃牌，With 是手里搭子的两张牌
type ChiEvent struct {
	GameMessageEvent
	With [2]string `json:"with"`
}

func (e *ChiEvent) GetEventType() string {
	return "Chi"
}

// HuEvent 和牌声明，自摸与荣和共用
// Tile 与 SelfDraw 可选，带了就和服务端认定的和牌张核对
type HuEvent struct {
	GameMessageEvent
	Tile     string `json:"tile,omitempty"`
	SelfDraw bool   `json:"selfDraw,omitempty"`
}

func (e *HuEvent) GetEventType() string {
	return "Hu"
}

// PassEvent 响应窗口内明确放弃
type PassEvent struct {
	GameMessageEvent
}

func (e *PassEvent) GetEventType() string {
	return "Pass"
}

// TrusteeEvent 手动开关托管
type TrusteeEvent struct {
	GameMessageEvent
	Enable bool `json:"enable"`
}

func (e *TrusteeEvent) GetEventType() string {
	return "Trustee"
}

// ReconnectEvent 断线重连，引擎回发私有快照
type ReconnectEvent struct {
	GameMessageEvent
}

func (e *ReconnectEvent) GetEventType() string {
	return "Reconnect"
}

// DisconnectEvent 连接断开，开始宽限计时
type DisconnectEvent struct {
	GameMessageEvent
}

func (e *DisconnectEvent) GetEventType() string {
	return "Disconnect"
}
