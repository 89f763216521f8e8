package mahjong

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/JackieWYB/majiang-sub003/common/config"
)

type Suit int

const (
	SuitWan  Suit = iota // 万 W
	SuitTong             // 筒 T
	SuitTiao             // 条 D
)

func (s Suit) Letter() byte {
	switch s {
	case SuitWan:
		return 'W'
	case SuitTong:
		return 'T'
	case SuitTiao:
		return 'D'
	}
	return '?'
}

var (
	ErrInvalidFormat  = errors.New("invalid tile format")
	ErrRankOutOfRange = errors.New("tile rank out of range")
)

// Tile 值类型牌，结构相等即相等
type Tile struct {
	Suit Suit `json:"suit"`
	Rank int  `json:"rank"` // 1-9
}

// String 序列化成两字符形式，如 "5W"
func (t Tile) String() string {
	return fmt.Sprintf("%d%c", t.Rank, t.Suit.Letter())
}

func (t Tile) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tile) UnmarshalText(data []byte) error {
	parsed, err := ParseTile(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Index 牌种索引 0-26，万 0-8、筒 9-17、条 18-26
func (t Tile) Index() int {
	return int(t.Suit)*9 + t.Rank - 1
}

func TileFromIndex(i int) Tile {
	return Tile{Suit: Suit(i / 9), Rank: i%9 + 1}
}

// ParseTile 解析 "5W" 形式的牌
func ParseTile(s string) (Tile, error) {
	if len(s) != 2 {
		return Tile{}, ErrInvalidFormat
	}
	if s[0] < '0' || s[0] > '9' {
		return Tile{}, ErrInvalidFormat
	}
	rank := int(s[0] - '0')
	if rank < 1 || rank > 9 {
		return Tile{}, ErrRankOutOfRange
	}
	var suit Suit
	switch s[1] {
	case 'W', 'w':
		suit = SuitWan
	case 'T', 't':
		suit = SuitTong
	case 'D', 'd':
		suit = SuitTiao
	default:
		return Tile{}, ErrInvalidFormat
	}
	return Tile{Suit: suit, Rank: rank}, nil
}

// Hand27 手牌计数，下标为牌种索引
type Hand27 [27]uint8

func Hand27FromTiles(tiles []Tile) Hand27 {
	var h Hand27
	for _, t := range tiles {
		h[t.Index()]++
	}
	return h
}

func (h *Hand27) Add(t Tile) {
	h[t.Index()]++
}

// Remove 从手牌移除一张，不存在返回 false
func (h *Hand27) Remove(t Tile) bool {
	i := t.Index()
	if h[i] == 0 {
		return false
	}
	h[i]--
	return true
}

func (h Hand27) Count(t Tile) int {
	return int(h[t.Index()])
}

func (h Hand27) Total() int {
	sum := 0
	for i := 0; i < 27; i++ {
		sum += int(h[i])
	}
	return sum
}

// Tiles 展开为有序牌列表（按牌种索引）
func (h Hand27) Tiles() []Tile {
	out := make([]Tile, 0, h.Total())
	for i := 0; i < 27; i++ {
		for n := uint8(0); n < h[i]; n++ {
			out = append(out, TileFromIndex(i))
		}
	}
	return out
}

// BuildDeck 按规则生成整副牌
// WAN_ONLY 36 张，ALL 108 张，每种 4 张
func BuildDeck(tiles string) []Tile {
	suits := []Suit{SuitWan}
	if tiles == config.TilesAll {
		suits = []Suit{SuitWan, SuitTong, SuitTiao}
	}
	deck := make([]Tile, 0, len(suits)*36)
	for _, s := range suits {
		for rank := 1; rank <= 9; rank++ {
			for i := 0; i < 4; i++ {
				deck = append(deck, Tile{Suit: s, Rank: rank})
			}
		}
	}
	return deck
}

// Shuffle 确定性洗牌，同一 seed 产生同一牌序
func Shuffle(deck []Tile, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
}

type MeldKind string

const (
	MeldPeng MeldKind = "peng"
	MeldGang MeldKind = "gang"
	MeldChi  MeldKind = "chi"
)

type GangStyle string

const (
	GangExposed   GangStyle = "exposed"   // 明杠（点杠）
	GangConcealed GangStyle = "concealed" // 暗杠
	GangUpgraded  GangStyle = "upgraded"  // 加杠（碰升级）
)

// Meld 副露
// ClaimedFrom 是被鸣牌玩家的座位，暗杠为 -1
type Meld struct {
	Kind        MeldKind  `json:"kind"`
	GangStyle   GangStyle `json:"gangStyle,omitempty"`
	Tiles       []Tile    `json:"tiles"`
	ClaimedFrom int       `json:"claimedFrom"`
	Concealed   bool      `json:"concealed"`
}

// CanFormTriplet 手牌里有两张同牌，能碰
func CanFormTriplet(h Hand27, t Tile) bool {
	return h.Count(t) >= 2
}

// CanFormKong 手牌里有三张同牌，能点杠
func CanFormKong(h Hand27, t Tile) bool {
	return h.Count(t) >= 3
}

// ConcealedKongs 手牌里能暗杠的牌
func ConcealedKongs(h Hand27) []Tile {
	var out []Tile
	for i := 0; i < 27; i++ {
		if h[i] >= 4 {
			out = append(out, TileFromIndex(i))
		}
	}
	return out
}

// CanFormSequence 判断能否吃，返回可行的另两张组合
// 只看同花色相邻牌
func CanFormSequence(h Hand27, t Tile) [][2]Tile {
	var out [][2]Tile
	has := func(rank int) bool {
		if rank < 1 || rank > 9 {
			return false
		}
		return h.Count(Tile{Suit: t.Suit, Rank: rank}) > 0
	}
	mk := func(r1, r2 int) [2]Tile {
		return [2]Tile{{Suit: t.Suit, Rank: r1}, {Suit: t.Suit, Rank: r2}}
	}
	if has(t.Rank-2) && has(t.Rank-1) {
		out = append(out, mk(t.Rank-2, t.Rank-1))
	}
	if has(t.Rank-1) && has(t.Rank+1) {
		out = append(out, mk(t.Rank-1, t.Rank+1))
	}
	if has(t.Rank+1) && has(t.Rank+2) {
		out = append(out, mk(t.Rank+1, t.Rank+2))
	}
	return out
}

// CanUpgradeKong 已有同牌的明碰副露，摸到第四张可以加杠
func CanUpgradeKong(melds []Meld, t Tile) int {
	for i, m := range melds {
		if m.Kind == MeldPeng && len(m.Tiles) > 0 && m.Tiles[0] == t {
			return i
		}
	}
	return -1
}
