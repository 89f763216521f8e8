package mahjong

import (
	"sync"

	"github.com/JackieWYB/majiang-sub003/common/config"
)

// 和牌类型
const (
	CategoryBasicWin    = "basicWin"
	CategorySevenPairs  = "sevenPairs"
	CategoryAllPungs    = "allPungs"
	CategoryAllHonors   = "allHonors"
	CategoryEdgeWait    = "edgeWait"
	CategoryPairWait    = "pairWait"
	CategoryRobbingKong = "robbingKong"
)

// setKind 面子类型
type setKind int

const (
	setTriplet setKind = iota
	setSequence
)

type handSet struct {
	Kind setKind
	Base int // 牌种索引，顺子为最小那张
}

// partition 一种拆解：一个雀头 + 若干面子
type partition struct {
	PairIndex int
	Sets      []handSet
}

// WinContext 和牌校验的输入
// Hand 必须已含和牌张
type WinContext struct {
	Hand        Hand27
	Melds       []Meld
	WinningTile Tile
	SelfDraw    bool
	RobbingKong bool
}

// WinResult 和牌校验结果
// Fan 是总倍率，基础和牌为 1，每命中一个特殊牌型翻倍
type WinResult struct {
	Valid      bool     `json:"valid"`
	Category   string   `json:"category"`
	Categories []string `json:"categories"`
	Fan        int      `json:"fan"`
}

// Searcher 和牌搜索器，带缓存，可被多个引擎共享
type Searcher struct {
	mu         sync.RWMutex
	agariCache map[string]bool
	waitsCache map[string][]Tile
}

func NewSearcher() *Searcher {
	return &Searcher{
		agariCache: make(map[string]bool, 4096),
		waitsCache: make(map[string][]Tile, 4096),
	}
}

func (h Hand27) keyWithMelds(meldCount int) string {
	var b [28]byte
	for i := 0; i < 27; i++ {
		b[i] = h[i]
	}
	b[27] = byte(meldCount)
	return string(b[:])
}

// IsAgari 是否和牌（不看牌型开关，只看结构）
func (s *Searcher) IsAgari(h Hand27, meldCount int) bool {
	key := h.keyWithMelds(meldCount)
	s.mu.RLock()
	if v, ok := s.agariCache[key]; ok {
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()

	ok := IsAgariNormal(h)
	if !ok && meldCount == 0 {
		ok = IsAgariSevenPairs(h)
	}

	s.mu.Lock()
	s.agariCache[key] = ok
	s.mu.Unlock()
	return ok
}

// Waits 枚举 13 张型手牌听哪些牌
func (s *Searcher) Waits(h13 Hand27, meldCount int) []Tile {
	key := h13.keyWithMelds(meldCount)
	s.mu.RLock()
	if v, ok := s.waitsCache[key]; ok {
		waits := make([]Tile, len(v))
		copy(waits, v)
		s.mu.RUnlock()
		return waits
	}
	s.mu.RUnlock()

	var waits []Tile
	for i := 0; i < 27; i++ {
		if h13[i] >= 4 {
			continue
		}
		work := h13
		work[i]++
		if s.IsAgari(work, meldCount) {
			waits = append(waits, TileFromIndex(i))
		}
	}

	s.mu.Lock()
	s.waitsCache[key] = append([]Tile(nil), waits...)
	s.mu.Unlock()
	return waits
}

// Validate 校验和牌并计算倍率
// 命中多种拆解时取倍率最高的
func (s *Searcher) Validate(ctx WinContext, hu config.HuTypesConfig) WinResult {
	meldCount := len(ctx.Melds)

	// 七对子：门清 14 张
	if hu.SevenPairs && meldCount == 0 && ctx.Hand.Total() == 14 && IsAgariSevenPairs(ctx.Hand) {
		result := WinResult{Valid: true, Category: CategorySevenPairs, Fan: 2,
			Categories: []string{CategorySevenPairs}}
		s.applyCommonCategories(&result, ctx, hu, nil)
		return result
	}

	if !hu.BasicWin {
		return WinResult{}
	}

	total := ctx.Hand.Total()
	if total < 2 || (total-2)%3 != 0 {
		return WinResult{}
	}
	partitions := enumeratePartitions(ctx.Hand, (total-2)/3)
	if len(partitions) == 0 {
		return WinResult{}
	}

	wp := collectWinPlacements(partitions, ctx.WinningTile.Index())

	best := WinResult{}
	for i := range partitions {
		r := s.scorePartition(&partitions[i], ctx, hu, wp)
		if !best.Valid || r.Fan > best.Fan {
			best = r
		}
	}
	return best
}

// scorePartition 对一种拆解计算牌型与倍率
// 听型牌型看所有拆解里和牌张的落点，不随单一拆解变化
func (s *Searcher) scorePartition(p *partition, ctx WinContext, hu config.HuTypesConfig, wp winPlacements) WinResult {
	result := WinResult{Valid: true, Category: CategoryBasicWin, Fan: 1,
		Categories: []string{CategoryBasicWin}}

	// 对对和：拆解无顺子，副露也不能有吃
	if hu.AllPungs && isAllPungs(p, ctx.Melds) {
		result.Categories = append(result.Categories, CategoryAllPungs)
		result.Category = CategoryAllPungs
		result.Fan *= 2
	}

	// 边张：所有落点都是 123 的 3 或 789 的 7
	if hu.EdgeWait && wp.total > 0 && wp.edge == wp.total {
		result.Categories = append(result.Categories, CategoryEdgeWait)
		if result.Category == CategoryBasicWin {
			result.Category = CategoryEdgeWait
		}
		result.Fan *= 2
	}

	// 单骑：所有落点都在雀头
	if hu.PairWait && wp.total > 0 && wp.pair == wp.total {
		result.Categories = append(result.Categories, CategoryPairWait)
		if result.Category == CategoryBasicWin {
			result.Category = CategoryPairWait
		}
		result.Fan *= 2
	}

	s.applyCommonCategories(&result, ctx, hu, p)
	return result
}

// applyCommonCategories 与拆解无关的牌型：清一色、抢杠
func (s *Searcher) applyCommonCategories(result *WinResult, ctx WinContext, hu config.HuTypesConfig, _ *partition) {
	if hu.AllHonors && isOneSuit(ctx.Hand, ctx.Melds) {
		result.Categories = append(result.Categories, CategoryAllHonors)
		result.Fan *= 2
	}
	if hu.RobbingKong && ctx.RobbingKong {
		result.Categories = append(result.Categories, CategoryRobbingKong)
		result.Category = CategoryRobbingKong
		result.Fan *= 2
	}
}

// IsAgariNormal 普通牌型是否和牌，核心思想：找雀头、组面子
// 手牌张数必须是 3N+2 形，面子数由张数推出
func IsAgariNormal(h Hand27) bool {
	total := h.Total()
	if total < 2 || (total-2)%3 != 0 {
		return false
	}
	need := (total - 2) / 3
	for j := 0; j < 27; j++ {
		if h[j] < 2 {
			continue
		}
		work := h
		work[j] -= 2
		if canFormMelds(&work, need) {
			return true
		}
	}
	return false
}

// IsAgariSevenPairs 七对子是否和牌
func IsAgariSevenPairs(h Hand27) bool {
	pairs := 0
	for i := 0; i < 27; i++ {
		if h[i]%2 != 0 {
			return false
		}
		pairs += int(h[i] / 2)
	}
	return pairs == 7
}

func canFormMelds(h *Hand27, need int) bool {
	if need == 0 {
		for i := 0; i < 27; i++ {
			if (*h)[i] != 0 {
				return false
			}
		}
		return true
	}

	i := -1
	for k := 0; k < 27; k++ {
		if (*h)[k] > 0 {
			i = k
			break
		}
	}
	if i == -1 {
		return false
	}
	// 刻子
	if (*h)[i] >= 3 {
		(*h)[i] -= 3
		if canFormMelds(h, need-1) {
			(*h)[i] += 3
			return true
		}
		(*h)[i] += 3
	}
	// 顺子（同花色内）
	if i%9 <= 6 && (*h)[i+1] > 0 && (*h)[i+2] > 0 {
		(*h)[i]--
		(*h)[i+1]--
		(*h)[i+2]--
		if canFormMelds(h, need-1) {
			(*h)[i]++
			(*h)[i+1]++
			(*h)[i+2]++
			return true
		}
		(*h)[i]++
		(*h)[i+1]++
		(*h)[i+2]++
	}
	return false
}

// enumeratePartitions 枚举所有雀头 + 面子的拆解
func enumeratePartitions(h Hand27, need int) []partition {
	if need < 0 {
		return nil
	}
	var out []partition
	for j := 0; j < 27; j++ {
		if h[j] < 2 {
			continue
		}
		work := h
		work[j] -= 2
		sets := make([]handSet, 0, need)
		collectMelds(&work, need, j, &sets, &out)
	}
	return out
}

func collectMelds(h *Hand27, need int, pairIdx int, sets *[]handSet, out *[]partition) {
	if need == 0 {
		for i := 0; i < 27; i++ {
			if (*h)[i] != 0 {
				return
			}
		}
		p := partition{PairIndex: pairIdx, Sets: append([]handSet(nil), *sets...)}
		*out = append(*out, p)
		return
	}

	i := -1
	for k := 0; k < 27; k++ {
		if (*h)[k] > 0 {
			i = k
			break
		}
	}
	if i == -1 {
		return
	}
	if (*h)[i] >= 3 {
		(*h)[i] -= 3
		*sets = append(*sets, handSet{Kind: setTriplet, Base: i})
		collectMelds(h, need-1, pairIdx, sets, out)
		*sets = (*sets)[:len(*sets)-1]
		(*h)[i] += 3
	}
	if i%9 <= 6 && (*h)[i+1] > 0 && (*h)[i+2] > 0 {
		(*h)[i]--
		(*h)[i+1]--
		(*h)[i+2]--
		*sets = append(*sets, handSet{Kind: setSequence, Base: i})
		collectMelds(h, need-1, pairIdx, sets, out)
		*sets = (*sets)[:len(*sets)-1]
		(*h)[i]++
		(*h)[i+1]++
		(*h)[i+2]++
	}
}

func isAllPungs(p *partition, melds []Meld) bool {
	for _, set := range p.Sets {
		if set.Kind == setSequence {
			return false
		}
	}
	for _, m := range melds {
		if m.Kind == MeldChi {
			return false
		}
	}
	return true
}

// winPlacements 和牌张在所有拆解中的落点统计
type winPlacements struct {
	total int // 全部落点数
	edge  int // 边张落点：123 的 3 或 789 的 7
	pair  int // 雀头落点
}

// collectWinPlacements 遍历所有拆解，统计和牌张能落在哪些位置
// 边张、单骑要求该张别无去处，所以必须跨拆解统计
func collectWinPlacements(partitions []partition, winIdx int) winPlacements {
	var wp winPlacements
	rank := winIdx%9 + 1
	for i := range partitions {
		p := &partitions[i]
		if p.PairIndex == winIdx {
			wp.total++
			wp.pair++
		}
		for _, set := range p.Sets {
			switch set.Kind {
			case setTriplet:
				if set.Base == winIdx {
					wp.total++
				}
			case setSequence:
				if winIdx < set.Base || winIdx > set.Base+2 {
					continue
				}
				wp.total++
				if (set.Base+2 == winIdx && rank == 3) || (set.Base == winIdx && rank == 7) {
					wp.edge++
				}
			}
		}
	}
	return wp
}

// isOneSuit 整手牌（含副露）是否同一花色
func isOneSuit(h Hand27, melds []Meld) bool {
	suit := -1
	for i := 0; i < 27; i++ {
		if h[i] == 0 {
			continue
		}
		if suit == -1 {
			suit = i / 9
		} else if i/9 != suit {
			return false
		}
	}
	for _, m := range melds {
		for _, t := range m.Tiles {
			if suit == -1 {
				suit = int(t.Suit)
			} else if int(t.Suit) != suit {
				return false
			}
		}
	}
	return true
}
