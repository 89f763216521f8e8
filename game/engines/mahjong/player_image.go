package mahjong

// PlayerStatus 座位状态
type PlayerStatus string

const (
	StatusWaiting      PlayerStatus = "waiting"      // 未准备
	StatusReady        PlayerStatus = "ready"        // 已准备
	StatusPlaying      PlayerStatus = "playing"      // 对局中
	StatusDisconnected PlayerStatus = "disconnected" // 掉线宽限期内
	StatusTrustee      PlayerStatus = "trustee"      // 托管
)

type PlayerImage struct {
	UserID      string
	SeatIndex   int
	Hand        Hand27 // 手牌计数
	DiscardPile []Tile // 弃牌堆
	Melds       []Meld // 碰、杠、吃的副露
	Score       int    // 当前分数（跨局累计）

	Status              PlayerStatus
	ConsecutiveTimeouts int   // 连续超时次数，玩家主动操作后清零
	LastActionAt        int64 // 最近一次主动操作时间戳（毫秒）

	DrawnTile *Tile // 刚摸的牌（自摸判断与超时自动出牌用）

	// 本局统计
	PengCount int
	GangCount int
	ChiCount  int
	KongDelta int // 杠分累计，结算时落账
}

// NewPlayerImage 创建玩家游戏状态实例
func NewPlayerImage(userID string, seatIndex int) *PlayerImage {
	return &PlayerImage{
		UserID:      userID,
		SeatIndex:   seatIndex,
		DiscardPile: make([]Tile, 0, 24),
		Melds:       make([]Meld, 0, 4),
		Status:      StatusWaiting,
	}
}

// ResetForRound 开新一局时清空上局状态，分数保留
func (p *PlayerImage) ResetForRound() {
	p.Hand = Hand27{}
	p.DiscardPile = p.DiscardPile[:0]
	p.Melds = p.Melds[:0]
	p.DrawnTile = nil
	p.PengCount = 0
	p.GangCount = 0
	p.ChiCount = 0
	p.KongDelta = 0
}

// DrawTile 摸一张牌进手
func (p *PlayerImage) DrawTile(t Tile) {
	p.Hand.Add(t)
	drawn := t
	p.DrawnTile = &drawn
}

// DiscardTile 从手牌打出一张，不存在返回 false
func (p *PlayerImage) DiscardTile(t Tile) bool {
	if !p.Hand.Remove(t) {
		return false
	}
	p.DiscardPile = append(p.DiscardPile, t)
	p.DrawnTile = nil
	return true
}

// DiscardDrawnOrLast 托管/超时用：打出刚摸的牌，没有就打最大索引的牌
func (p *PlayerImage) DiscardDrawnOrLast() (Tile, bool) {
	if p.DrawnTile != nil {
		t := *p.DrawnTile
		if p.DiscardTile(t) {
			return t, true
		}
	}
	for i := 26; i >= 0; i-- {
		if p.Hand[i] > 0 {
			t := TileFromIndex(i)
			if p.DiscardTile(t) {
				return t, true
			}
		}
	}
	return Tile{}, false
}

// MeldCount 副露数（杠按一个面子算）
func (p *PlayerImage) MeldCount() int {
	return len(p.Melds)
}

// HandWithoutDrawn 去掉刚摸那张后的 13 张型手牌
func (p *PlayerImage) HandWithoutDrawn() Hand27 {
	h := p.Hand
	if p.DrawnTile != nil {
		h[p.DrawnTile.Index()]--
	}
	return h
}
