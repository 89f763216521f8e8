package share

// UserInfo 和游戏逻辑隔离的用户信息
// Room 和 Engine 共用同一份 map
type UserInfo struct {
	UserID    string // 用户 ID
	SeatIndex int
	IsOnline  bool  // 是否在线
	OfflineAt int64 // 最近一次掉线时间戳（毫秒），在线时为 0
}

// NewUserInfo 创建玩家信息
func NewUserInfo(userID string, seatIndex int) *UserInfo {
	return &UserInfo{
		UserID:    userID,
		SeatIndex: seatIndex,
		IsOnline:  true,
	}
}

// SetOffline 设置玩家离线
func (ui *UserInfo) SetOffline(now int64) {
	ui.IsOnline = false
	ui.OfflineAt = now
}

// SetOnline 设置玩家在线
func (ui *UserInfo) SetOnline() {
	ui.IsOnline = true
	ui.OfflineAt = 0
}
