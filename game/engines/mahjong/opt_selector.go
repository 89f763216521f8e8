package mahjong

// ClaimAction 响应窗口内的动作
type ClaimAction string

const (
	ClaimHu   ClaimAction = "hu"
	ClaimGang ClaimAction = "gang"
	ClaimPeng ClaimAction = "peng"
	ClaimChi  ClaimAction = "chi"
	ClaimPass ClaimAction = "pass"
)

// claimPriority 越大越优先
func claimPriority(a ClaimAction) int {
	switch a {
	case ClaimHu:
		return 4
	case ClaimGang:
		return 3
	case ClaimPeng:
		return 2
	case ClaimChi:
		return 1
	}
	return 0
}

// ClaimOption 单个座位在窗口内的可选动作与实际响应
type ClaimOption struct {
	Seat      int           `json:"seat"`
	Actions   []ClaimAction `json:"actions"`
	ChiCombos [][2]Tile     `json:"chiCombos,omitempty"`

	Responded bool        `json:"-"`
	Chosen    ClaimAction `json:"-"`
	ChosenChi [2]Tile     `json:"-"`
}

func (o *ClaimOption) allows(a ClaimAction) bool {
	for _, x := range o.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// ClaimWindow 一次响应窗口
// 普通窗口由出牌触发；抢杠窗口由加杠触发，只收和牌声明
type ClaimWindow struct {
	Tile        Tile
	FromSeat    int // 出牌者或加杠者
	RobbingKong bool
	MeldIndex   int // 抢杠时被升级的副露索引
	Options     map[int]*ClaimOption
}

// computeClaimOptions 出牌后计算各座位的可选动作
// 吃只开放给下家
func (eg *SanmaEngine) computeClaimOptions(fromSeat int, tile Tile) map[int]*ClaimOption {
	options := make(map[int]*ClaimOption)

	for seat := 0; seat < 3; seat++ {
		if seat == fromSeat {
			continue
		}
		p := eg.Players[seat]
		if p == nil {
			continue
		}

		opt := &ClaimOption{Seat: seat}

		// 荣和
		work := p.Hand
		work.Add(tile)
		if eg.Searcher.Validate(WinContext{
			Hand:        work,
			Melds:       p.Melds,
			WinningTile: tile,
		}, eg.Rule.HuTypes).Valid {
			opt.Actions = append(opt.Actions, ClaimHu)
		}

		// 明杠
		if eg.Rule.AllowGang && CanFormKong(p.Hand, tile) {
			opt.Actions = append(opt.Actions, ClaimGang)
		}

		// 碰
		if eg.Rule.AllowPeng && CanFormTriplet(p.Hand, tile) {
			opt.Actions = append(opt.Actions, ClaimPeng)
		}

		// 吃
		if eg.Rule.AllowChi && (fromSeat+1)%3 == seat {
			if combos := CanFormSequence(p.Hand, tile); len(combos) > 0 {
				opt.Actions = append(opt.Actions, ClaimChi)
				opt.ChiCombos = combos
			}
		}

		if len(opt.Actions) > 0 {
			opt.Actions = append(opt.Actions, ClaimPass)
			options[seat] = opt
		}
	}
	return options
}

// computeRobbingOptions 加杠时计算可抢杠的座位，只开放和牌
func (eg *SanmaEngine) computeRobbingOptions(fromSeat int, tile Tile) map[int]*ClaimOption {
	options := make(map[int]*ClaimOption)

	for seat := 0; seat < 3; seat++ {
		if seat == fromSeat {
			continue
		}
		p := eg.Players[seat]
		if p == nil {
			continue
		}
		work := p.Hand
		work.Add(tile)
		if eg.Searcher.Validate(WinContext{
			Hand:        work,
			Melds:       p.Melds,
			WinningTile: tile,
			RobbingKong: true,
		}, eg.Rule.HuTypes).Valid {
			options[seat] = &ClaimOption{
				Seat:    seat,
				Actions: []ClaimAction{ClaimHu, ClaimPass},
			}
		}
	}
	return options
}

// resolveClaims 全员响应后选出胜出动作
// 优先级 hu > gang > peng > chi；多家和牌时按出牌者顺时针最近者优先，
// multipleWinners 打开时全部和家一起结算
func (eg *SanmaEngine) resolveClaims(w *ClaimWindow) (winners []int, action ClaimAction, actor int) {
	var huSeats []int
	bestPriority := 0
	actor = -1

	for seat, opt := range w.Options {
		if !opt.Responded || opt.Chosen == ClaimPass || opt.Chosen == "" {
			continue
		}
		if opt.Chosen == ClaimHu {
			huSeats = append(huSeats, seat)
			continue
		}
		if pr := claimPriority(opt.Chosen); pr > bestPriority {
			bestPriority = pr
			action = opt.Chosen
			actor = seat
		}
	}

	if len(huSeats) > 0 {
		if len(huSeats) > 1 && !eg.Rule.Score.MultipleWinners {
			huSeats = []int{eg.nearestClockwise(w.FromSeat, huSeats)}
		}
		return huSeats, ClaimHu, -1
	}
	if actor >= 0 {
		return nil, action, actor
	}
	return nil, ClaimPass, -1
}

// nearestClockwise 从出牌者开始顺时针找最近的座位
func (eg *SanmaEngine) nearestClockwise(fromSeat int, seats []int) int {
	best := seats[0]
	bestDist := 4
	for _, s := range seats {
		d := (s - fromSeat + 3) % 3
		if d != 0 && d < bestDist {
			bestDist = d
			best = s
		}
	}
	return best
}
