package mahjong

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/domain/entity"
	"github.com/JackieWYB/majiang-sub003/domain/repository"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines"
	"github.com/JackieWYB/majiang-sub003/game/share"
)

/*
	三人麻将引擎，状态机：
		waiting -> dealing -> playing <-> awaitingClaims -> settlement -> waiting | finished
	所有入站动作经 gameEvents 串行处理，引擎内部不加锁。
	计时器超时、托管延迟、宽限到期都转成事件入队，不直接改状态。
*/

// RoomDestroyer 房间销毁回调，由 game 层实现
type RoomDestroyer interface {
	RequestDestroyRoom(roomID string)
}

// Deps 引擎外部依赖，原型克隆时原样带走
type Deps struct {
	Pusher        Pusher
	SnapshotStore repository.SnapshotStore
	Records       repository.GameRecordRepository
	Destroyer     RoomDestroyer
}

type LastDiscard struct {
	Seat  int
	Tile  Tile
	Valid bool
}

// pendingUpgrade 正在等待抢杠裁决的加杠
type pendingUpgrade struct {
	Seat      int
	Tile      Tile
	MeldIndex int
}

// huClaim 一次和牌声明
type huClaim struct {
	WinnerSeat  int
	FromSeat    int // 点炮者或加杠者，自摸为 -1
	WinningTile Tile
	SelfDraw    bool
	Robbing     bool
	Win         WinResult
}

// SanmaEngine 三人麻将游戏引擎
type SanmaEngine struct {
	Phase      engines.Phase
	RoomID     string
	GameID     string
	UserMap    map[string]*share.UserInfo
	Rule       *config.RuleConfig
	Players    [3]*PlayerImage
	Wall       []Tile
	RngSeed    int64
	Version    int64
	RoundIndex int
	DealerSeat int

	TurnManager   *TurnManager
	Searcher      *Searcher
	Pusher        Pusher
	SnapshotStore repository.SnapshotStore
	Persister     *GamePersister
	Destroyer     RoomDestroyer

	lastDiscard LastDiscard
	claimWindow *ClaimWindow
	upgrade     *pendingUpgrade
	kongLedger  [3]int

	actionLog      []entity.ActionLogEntry
	roundStartedAt int64

	// 测试钩子：固定随机种子
	seedFunc func() int64

	gameEvents chan share.GameEvent
	gameDone   chan struct{}
	actorExit  chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once

	trusteeTimer *time.Timer
	graceTimers  map[string]*time.Timer
}

// NewSanmaEngine 创建三人麻将引擎实例
func NewSanmaEngine(rule *config.RuleConfig, deps Deps) *SanmaEngine {
	return &SanmaEngine{
		Phase:         engines.PhaseWaiting,
		Rule:          rule,
		Searcher:      NewSearcher(),
		Pusher:        deps.Pusher,
		SnapshotStore: deps.SnapshotStore,
		Persister:     NewGamePersister(deps.Records),
		Destroyer:     deps.Destroyer,
		seedFunc:      func() int64 { return time.Now().UnixNano() },
	}
}

// InitializeEngine 初始化游戏引擎
func (eg *SanmaEngine) InitializeEngine(roomID string, userMap map[string]*share.UserInfo) error {
	if len(userMap) != 3 {
		return fmt.Errorf("三人麻将需要 3 个玩家，得到 %d", len(userMap))
	}
	eg.RoomID = roomID
	eg.UserMap = userMap

	eg.closed.Store(false)
	eg.gameEvents = make(chan share.GameEvent, 256)
	eg.gameDone = make(chan struct{})
	eg.actorExit = make(chan struct{})
	eg.graceTimers = make(map[string]*time.Timer)

	tickers := [3]*PlayerTicker{}
	for _, ui := range userMap {
		seat := ui.SeatIndex
		if seat < 0 || seat > 2 {
			return fmt.Errorf("非法座位索引: %d", seat)
		}
		ticker := NewPlayerTicker()
		ticker.SetOnTimeout(eg.makeTimeoutHandler(seat))
		tickers[seat] = ticker
		eg.Players[seat] = NewPlayerImage(ui.UserID, seat)
	}
	eg.TurnManager = NewTurnManager(tickers)
	eg.Phase = engines.PhaseWaiting
	eg.RoundIndex = 0
	eg.DealerSeat = 0

	go eg.actorLoop()
	return nil
}

// actorLoop 游戏事件循环
func (eg *SanmaEngine) actorLoop() {
	defer close(eg.actorExit)
	for {
		select {
		case <-eg.gameDone:
			return
		case event := <-eg.gameEvents:
			eg.processEvent(event)
		}
	}
}

func (eg *SanmaEngine) NotifyEvent(event share.GameEvent) {
	if event == nil || eg.closed.Load() {
		return
	}
	select {
	case <-eg.gameDone:
		return
	case eg.gameEvents <- event:
	default:
		log.Warn("gameEvents 队列已满: room=%s eventType=%s", eg.RoomID, event.GetEventType())
	}
}

func (eg *SanmaEngine) processEvent(event share.GameEvent) {
	switch e := event.(type) {
	case *share.ReadyEvent:
		eg.handleReady(e)
	case *share.PlayTileEvent:
		eg.handlePlayTile(e)
	case *share.PengEvent:
		eg.handleClaimResponse(e.GetUserID(), ClaimPeng, [2]Tile{})
	case *share.GangEvent:
		eg.handleGang(e)
	case *share.ChiEvent:
		eg.handleChi(e)
	case *share.HuEvent:
		eg.handleHu(e)
	case *share.PassEvent:
		eg.handleClaimResponse(e.GetUserID(), ClaimPass, [2]Tile{})
	case *share.TrusteeEvent:
		eg.handleTrusteeToggle(e)
	case *share.ReconnectEvent:
		eg.handleReconnect(e)
	case *share.DisconnectEvent:
		eg.handleDisconnect(e)
	case *timeoutEvent:
		eg.handleTimeout(e.Seat)
	case *trusteeActEvent:
		eg.handleTrusteeAct(e.Seat)
	case *graceExpiredEvent:
		eg.handleGraceExpired(e.GetUserID())
	case *snapshotRequestEvent:
		if seat, err := eg.getSeatIndex(e.GetUserID()); err == nil {
			eg.pushSnapshotTo(seat)
		} else {
			eg.pushError(e.GetUserID(), dto.CodeNotAMember, err.Error())
		}
	default:
		log.Warn("不支持的事件类型: %s", event.GetEventType())
	}
}

// ------------------------- 开局 -------------------------

func (eg *SanmaEngine) handleReady(event *share.ReadyEvent) {
	if eg.Phase != engines.PhaseWaiting {
		eg.pushError(event.GetUserID(), dto.CodeWrongPhase, "当前不在准备阶段")
		return
	}
	seat, err := eg.getSeatIndex(event.GetUserID())
	if err != nil {
		eg.pushError(event.GetUserID(), dto.CodeNotAMember, err.Error())
		return
	}
	p := eg.Players[seat]
	if p.Status == StatusReady {
		return
	}
	p.Status = StatusReady
	eg.broadcast(dto.EventPlayerReady, map[string]int{"seat": seat})

	for _, q := range eg.Players {
		if q == nil || q.Status != StatusReady {
			return
		}
	}
	eg.startRound()
}

// startRound 洗牌发牌，庄家 14 张先手
func (eg *SanmaEngine) startRound() {
	eg.Phase = engines.PhaseDealing
	eg.GameID = uuid.NewString()
	eg.RngSeed = eg.seedFunc()
	eg.roundStartedAt = time.Now().UnixMilli()
	eg.actionLog = eg.actionLog[:0]
	eg.kongLedger = [3]int{}
	eg.lastDiscard.Valid = false
	eg.claimWindow = nil
	eg.upgrade = nil

	eg.Wall = BuildDeck(eg.Rule.Tiles)
	Shuffle(eg.Wall, eg.RngSeed)

	for _, p := range eg.Players {
		p.ResetForRound()
		p.Status = StatusPlaying
	}

	handSize := dealHandSize(len(eg.Wall))
	for r := 0; r < handSize; r++ {
		for seat := 0; seat < 3; seat++ {
			eg.Players[seat].Hand.Add(eg.drawFromWall())
		}
	}
	dealer := eg.Players[eg.DealerSeat]
	dealer.DrawTile(eg.drawFromWall())

	eg.Phase = engines.PhasePlaying
	eg.broadcastGameStart()
	eg.persistSnapshot()

	log.Info("开局: room=%s game=%s round=%d dealer=%d seed=%d",
		eg.RoomID, eg.GameID, eg.RoundIndex, eg.DealerSeat, eg.RngSeed)

	eg.enterTurn(eg.DealerSeat, false)
}

// dealHandSize 起手张数，手牌恒为 3M+1 形
// 整副牌不够 13 张制（WAN_ONLY 只有 36 张）就退到 10 张制
func dealHandSize(deckSize int) int {
	for _, n := range []int{13, 10, 7, 4} {
		if 3*n+1 <= deckSize {
			return n
		}
	}
	return 1
}

func (eg *SanmaEngine) drawFromWall() Tile {
	t := eg.Wall[0]
	eg.Wall = eg.Wall[1:]
	return t
}

// enterTurn 进入某座位的出牌回合
// needDraw 为真时先摸牌，牌墙摸空直接流局
func (eg *SanmaEngine) enterTurn(seat int, needDraw bool) {
	if needDraw {
		if len(eg.Wall) == 0 {
			eg.settleRound(eg.settleDraw())
			return
		}
		t := eg.drawFromWall()
		eg.Players[seat].DrawTile(t)
		eg.logAction(seat, "draw", t.String(), nil)
		eg.pushToSeat(seat, dto.EventTileDrawn, &TileDrawnDTO{Tile: t.String(), WallCount: len(eg.Wall)})
		eg.persistSnapshot()
	}

	eg.Phase = engines.PhasePlaying
	eg.TurnManager.StopAllTickers()
	eg.TurnManager.SetTurn(seat)
	p := eg.Players[seat]

	limit := time.Duration(eg.Rule.Turn.TurnTimeLimit) * time.Second
	trustee := p.Status == StatusTrustee || (p.Status == StatusDisconnected && eg.graceElapsed(p.UserID))

	deadline := time.Now().Add(limit).UnixMilli()
	eg.broadcast(dto.EventTurnChange, &TurnChangeDTO{Seat: seat, Trustee: trustee, DeadlineMs: deadline})

	if trustee {
		// 托管玩家不等满时限，延迟片刻就自动出牌
		delay := time.Duration(eg.Rule.Turn.TrusteeDelayMs) * time.Millisecond
		eg.trusteeTimer = time.AfterFunc(delay, func() {
			eg.NotifyEvent(&trusteeActEvent{Seat: seat})
		})
		return
	}
	if err := eg.TurnManager.StartTurnTimer(seat, limit); err != nil {
		eg.happenDamage(fmt.Sprintf("启动回合计时失败: %v", err))
	}
}

// ------------------------- 出牌 -------------------------

func (eg *SanmaEngine) handlePlayTile(event *share.PlayTileEvent) {
	userID := event.GetUserID()
	if eg.Phase != engines.PhasePlaying {
		eg.pushError(userID, dto.CodeWrongPhase, "当前不可出牌")
		return
	}
	seat, err := eg.getSeatIndex(userID)
	if err != nil {
		eg.pushError(userID, dto.CodeNotAMember, err.Error())
		return
	}
	if seat != eg.TurnManager.GetCurrentPlayer() {
		eg.pushError(userID, dto.CodeNotYourTurn, "还没轮到你出牌")
		return
	}
	tile, err := ParseTile(event.Tile)
	if err != nil {
		eg.pushError(userID, dto.CodeInvalidTile, err.Error())
		return
	}
	p := eg.Players[seat]
	if p.Hand.Count(tile) == 0 {
		eg.pushError(userID, dto.CodeInvalidTile, "手牌中没有这张牌")
		return
	}

	eg.TurnManager.GetPlayerTicker(seat).Stop()
	eg.markActive(p)
	p.DiscardTile(tile)
	eg.discardFlow(seat, tile)
}

// discardFlow 出牌后的公共流程：记录、广播、开响应窗口
func (eg *SanmaEngine) discardFlow(seat int, tile Tile) {
	eg.lastDiscard = LastDiscard{Seat: seat, Tile: tile, Valid: true}
	eg.logAction(seat, "play", tile.String(), nil)
	eg.broadcast(dto.EventTileDiscarded, &TileDiscardedDTO{Seat: seat, Tile: tile.String(), WallCount: len(eg.Wall)})
	eg.persistSnapshot()

	options := eg.computeClaimOptions(seat, tile)
	eg.autoRespondAbsent(options)
	if allResponded(options) {
		eg.claimWindow = &ClaimWindow{Tile: tile, FromSeat: seat, Options: options}
		eg.resolveWindow()
		return
	}

	eg.Phase = engines.PhaseAwaitingClaims
	eg.claimWindow = &ClaimWindow{Tile: tile, FromSeat: seat, Options: options}

	limit := time.Duration(eg.Rule.Turn.ActionTimeLimit) * time.Second
	deadline := time.Now().Add(limit).UnixMilli()
	eg.broadcastClaimWindow(eg.claimWindow, deadline)

	seats := make([]int, 0, len(options))
	for s, opt := range options {
		if !opt.Responded {
			seats = append(seats, s)
		}
	}
	eg.TurnManager.StartClaimTimers(seats, limit)
}

// autoRespondAbsent 托管和掉线玩家直接按 pass 处理
func (eg *SanmaEngine) autoRespondAbsent(options map[int]*ClaimOption) {
	for seat, opt := range options {
		p := eg.Players[seat]
		if p.Status == StatusTrustee || p.Status == StatusDisconnected {
			opt.Responded = true
			opt.Chosen = ClaimPass
		}
	}
}

func allResponded(options map[int]*ClaimOption) bool {
	for _, opt := range options {
		if !opt.Responded {
			return false
		}
	}
	return true
}

// ------------------------- 响应窗口 -------------------------

// handleClaimResponse 记录窗口内玩家的选择，全部到齐后裁决
func (eg *SanmaEngine) handleClaimResponse(userID string, action ClaimAction, chi [2]Tile) {
	if eg.Phase != engines.PhaseAwaitingClaims || eg.claimWindow == nil {
		eg.pushError(userID, dto.CodeWrongPhase, "当前没有待响应的出牌")
		return
	}
	seat, err := eg.getSeatIndex(userID)
	if err != nil {
		eg.pushError(userID, dto.CodeNotAMember, err.Error())
		return
	}
	opt, ok := eg.claimWindow.Options[seat]
	if !ok {
		eg.pushError(userID, dto.CodeInvalidAction, "你不在本次响应窗口内")
		return
	}
	if opt.Responded {
		return
	}
	if action != ClaimPass && !opt.allows(action) {
		eg.pushError(userID, dto.CodeInvalidAction, fmt.Sprintf("当前不可 %s", action))
		return
	}

	eg.TurnManager.GetPlayerTicker(seat).Stop()
	eg.markActive(eg.Players[seat])
	opt.Responded = true
	opt.Chosen = action
	opt.ChosenChi = chi

	if allResponded(eg.claimWindow.Options) {
		eg.resolveWindow()
	}
}

// resolveWindow 响应收齐，按优先级裁决
func (eg *SanmaEngine) resolveWindow() {
	w := eg.claimWindow
	eg.claimWindow = nil

	if w.RobbingKong {
		eg.resolveRobbing(w)
		return
	}

	winners, action, actor := eg.resolveClaims(w)
	eg.rejectLosers(w, winners, actor)

	switch action {
	case ClaimHu:
		claims := make([]huClaim, 0, len(winners))
		for _, seat := range winners {
			p := eg.Players[seat]
			work := p.Hand
			work.Add(w.Tile)
			win := eg.Searcher.Validate(WinContext{
				Hand:        work,
				Melds:       p.Melds,
				WinningTile: w.Tile,
			}, eg.Rule.HuTypes)
			if !win.Valid {
				continue
			}
			p.Hand = work
			claims = append(claims, huClaim{
				WinnerSeat: seat, FromSeat: w.FromSeat, WinningTile: w.Tile, Win: win,
			})
		}
		if len(claims) == 0 {
			eg.happenDamage("荣和裁决后没有有效和牌")
			return
		}
		eg.removeLastDiscard(w.FromSeat)
		eg.broadcast(dto.EventClaimResolved, &ClaimResolvedDTO{Action: ClaimHu, Seats: winners, Tile: w.Tile.String()})
		eg.logAction(claims[0].WinnerSeat, "hu", w.Tile.String(), nil)
		eg.settleRound(eg.settleWin(claims))

	case ClaimGang:
		eg.executeExposedKong(actor, w)

	case ClaimPeng:
		eg.executePeng(actor, w)

	case ClaimChi:
		eg.executeChi(actor, w)

	default:
		// 全员放弃，牌留在牌河，下家摸牌
		next := (w.FromSeat + 1) % 3
		eg.enterTurn(next, true)
	}
}

// rejectLosers 被更高优先级压掉的声明回发 invalidAction
func (eg *SanmaEngine) rejectLosers(w *ClaimWindow, winners []int, actor int) {
	winner := func(seat int) bool {
		if seat == actor {
			return true
		}
		for _, s := range winners {
			if s == seat {
				return true
			}
		}
		return false
	}
	for seat, opt := range w.Options {
		if !opt.Responded || opt.Chosen == ClaimPass || opt.Chosen == "" || winner(seat) {
			continue
		}
		eg.pushError(eg.Players[seat].UserID, dto.CodeInvalidAction, "已被更高优先级的声明取代")
	}
}

func (eg *SanmaEngine) removeLastDiscard(fromSeat int) {
	p := eg.Players[fromSeat]
	if len(p.DiscardPile) > 0 {
		p.DiscardPile = p.DiscardPile[:len(p.DiscardPile)-1]
	}
	eg.lastDiscard.Valid = false
}

func (eg *SanmaEngine) executeExposedKong(actor int, w *ClaimWindow) {
	p := eg.Players[actor]
	for i := 0; i < 3; i++ {
		if !p.Hand.Remove(w.Tile) {
			eg.happenDamage("明杠移除手牌失败")
			return
		}
	}
	eg.removeLastDiscard(w.FromSeat)
	meld := Meld{
		Kind: MeldGang, GangStyle: GangExposed,
		Tiles:       []Tile{w.Tile, w.Tile, w.Tile, w.Tile},
		ClaimedFrom: w.FromSeat,
	}
	p.Melds = append(p.Melds, meld)
	p.GangCount++
	eg.creditKong(actor, GangExposed)
	eg.logAction(actor, "gang", w.Tile.String(), nil)
	eg.broadcast(dto.EventClaimResolved, &ClaimResolvedDTO{Action: ClaimGang, Seats: []int{actor}, Tile: w.Tile.String()})
	eg.broadcast(dto.EventMeldFormed, &MeldFormedDTO{Seat: actor, Meld: meld})
	eg.persistSnapshot()
	eg.enterTurn(actor, true) // 杠后补牌
}

func (eg *SanmaEngine) executePeng(actor int, w *ClaimWindow) {
	p := eg.Players[actor]
	for i := 0; i < 2; i++ {
		if !p.Hand.Remove(w.Tile) {
			eg.happenDamage("碰移除手牌失败")
			return
		}
	}
	eg.removeLastDiscard(w.FromSeat)
	meld := Meld{
		Kind:        MeldPeng,
		Tiles:       []Tile{w.Tile, w.Tile, w.Tile},
		ClaimedFrom: w.FromSeat,
	}
	p.Melds = append(p.Melds, meld)
	p.PengCount++
	eg.logAction(actor, "peng", w.Tile.String(), nil)
	eg.broadcast(dto.EventClaimResolved, &ClaimResolvedDTO{Action: ClaimPeng, Seats: []int{actor}, Tile: w.Tile.String()})
	eg.broadcast(dto.EventMeldFormed, &MeldFormedDTO{Seat: actor, Meld: meld})
	eg.persistSnapshot()
	eg.enterTurn(actor, false) // 碰完直接出牌
}

func (eg *SanmaEngine) executeChi(actor int, w *ClaimWindow) {
	p := eg.Players[actor]
	opt := w.Options[actor]
	combo := opt.ChosenChi
	valid := false
	for _, c := range opt.ChiCombos {
		if c == combo {
			valid = true
			break
		}
	}
	if !valid {
		eg.pushError(p.UserID, dto.CodeInvalidMeld, "吃牌组合不成立")
		next := (w.FromSeat + 1) % 3
		eg.enterTurn(next, true)
		return
	}
	if !p.Hand.Remove(combo[0]) || !p.Hand.Remove(combo[1]) {
		eg.happenDamage("吃移除手牌失败")
		return
	}
	eg.removeLastDiscard(w.FromSeat)
	meld := Meld{
		Kind:        MeldChi,
		Tiles:       []Tile{w.Tile, combo[0], combo[1]},
		ClaimedFrom: w.FromSeat,
	}
	p.Melds = append(p.Melds, meld)
	p.ChiCount++
	eg.logAction(actor, "chi", w.Tile.String(), []string{combo[0].String(), combo[1].String()})
	eg.broadcast(dto.EventClaimResolved, &ClaimResolvedDTO{Action: ClaimChi, Seats: []int{actor}, Tile: w.Tile.String()})
	eg.broadcast(dto.EventMeldFormed, &MeldFormedDTO{Seat: actor, Meld: meld})
	eg.persistSnapshot()
	eg.enterTurn(actor, false)
}

// ------------------------- 杠 -------------------------

// handleGang 杠牌入口
// 自己回合带 Tile 是暗杠或加杠；响应窗口内是明杠声明
func (eg *SanmaEngine) handleGang(event *share.GangEvent) {
	userID := event.GetUserID()
	if !eg.Rule.AllowGang {
		eg.pushError(userID, dto.CodeInvalidAction, "规则未开启杠牌")
		return
	}
	if eg.Phase == engines.PhaseAwaitingClaims {
		eg.handleClaimResponse(userID, ClaimGang, [2]Tile{})
		return
	}
	if eg.Phase != engines.PhasePlaying {
		eg.pushError(userID, dto.CodeWrongPhase, "当前不可杠牌")
		return
	}
	seat, err := eg.getSeatIndex(userID)
	if err != nil {
		eg.pushError(userID, dto.CodeNotAMember, err.Error())
		return
	}
	if seat != eg.TurnManager.GetCurrentPlayer() {
		eg.pushError(userID, dto.CodeNotYourTurn, "还没轮到你")
		return
	}
	tile, err := ParseTile(event.Tile)
	if err != nil {
		eg.pushError(userID, dto.CodeInvalidTile, err.Error())
		return
	}

	p := eg.Players[seat]
	eg.markActive(p)

	// 暗杠
	if p.Hand.Count(tile) == 4 {
		eg.TurnManager.GetPlayerTicker(seat).Stop()
		for i := 0; i < 4; i++ {
			p.Hand.Remove(tile)
		}
		meld := Meld{
			Kind: MeldGang, GangStyle: GangConcealed, Concealed: true,
			Tiles:       []Tile{tile, tile, tile, tile},
			ClaimedFrom: -1,
		}
		p.Melds = append(p.Melds, meld)
		p.GangCount++
		eg.creditKong(seat, GangConcealed)
		eg.logAction(seat, "gangConcealed", tile.String(), nil)
		eg.broadcast(dto.EventMeldFormed, &MeldFormedDTO{Seat: seat, Meld: meld})
		eg.persistSnapshot()
		eg.enterTurn(seat, true)
		return
	}

	// 加杠：手里第四张 + 已有同牌的碰
	meldIdx := CanUpgradeKong(p.Melds, tile)
	if meldIdx >= 0 && p.Hand.Count(tile) >= 1 {
		eg.TurnManager.GetPlayerTicker(seat).Stop()
		eg.openRobbingWindow(seat, tile, meldIdx)
		return
	}

	eg.pushError(userID, dto.CodeInvalidMeld, "没有可杠的组合")
}

// openRobbingWindow 加杠前先给其他两家抢杠机会
// 无人能抢直接完成升级
func (eg *SanmaEngine) openRobbingWindow(seat int, tile Tile, meldIdx int) {
	options := eg.computeRobbingOptions(seat, tile)
	eg.autoRespondAbsent(options)
	eg.upgrade = &pendingUpgrade{Seat: seat, Tile: tile, MeldIndex: meldIdx}

	if len(options) == 0 || allResponded(options) {
		eg.claimWindow = &ClaimWindow{Tile: tile, FromSeat: seat, RobbingKong: true, MeldIndex: meldIdx, Options: options}
		eg.resolveWindow()
		return
	}

	eg.Phase = engines.PhaseAwaitingClaims
	eg.claimWindow = &ClaimWindow{Tile: tile, FromSeat: seat, RobbingKong: true, MeldIndex: meldIdx, Options: options}

	limit := time.Duration(eg.Rule.Turn.ActionTimeLimit) * time.Second
	deadline := time.Now().Add(limit).UnixMilli()
	eg.broadcastClaimWindow(eg.claimWindow, deadline)

	seats := make([]int, 0, len(options))
	for s, opt := range options {
		if !opt.Responded {
			seats = append(seats, s)
		}
	}
	eg.TurnManager.StartClaimTimers(seats, limit)
}

// resolveRobbing 抢杠窗口裁决
// 有人和则升级取消、杠分记给和家；无人和则完成加杠
func (eg *SanmaEngine) resolveRobbing(w *ClaimWindow) {
	up := eg.upgrade
	eg.upgrade = nil
	if up == nil {
		eg.happenDamage("抢杠裁决时没有待升级的杠")
		return
	}
	upgrader := eg.Players[up.Seat]

	winners, action, _ := eg.resolveClaims(w)
	if action == ClaimHu && len(winners) > 0 {
		// 抢杠成功：第四张从加杠者手里交给和家
		if !upgrader.Hand.Remove(up.Tile) {
			eg.happenDamage("抢杠时加杠者手里没有那张牌")
			return
		}
		claims := make([]huClaim, 0, len(winners))
		for _, seat := range winners {
			p := eg.Players[seat]
			work := p.Hand
			work.Add(up.Tile)
			win := eg.Searcher.Validate(WinContext{
				Hand:        work,
				Melds:       p.Melds,
				WinningTile: up.Tile,
				RobbingKong: true,
			}, eg.Rule.HuTypes)
			if !win.Valid {
				continue
			}
			p.Hand = work
			eg.creditRobbedKong(seat)
			claims = append(claims, huClaim{
				WinnerSeat: seat, FromSeat: up.Seat, WinningTile: up.Tile, Robbing: true, Win: win,
			})
		}
		if len(claims) == 0 {
			eg.happenDamage("抢杠裁决后没有有效和牌")
			return
		}
		eg.broadcast(dto.EventClaimResolved, &ClaimResolvedDTO{Action: ClaimHu, Seats: winners, Tile: up.Tile.String()})
		eg.logAction(claims[0].WinnerSeat, "robKong", up.Tile.String(), nil)
		eg.settleRound(eg.settleWin(claims))
		return
	}

	// 无人抢，完成加杠
	if !upgrader.Hand.Remove(up.Tile) {
		eg.happenDamage("加杠时手里没有那张牌")
		return
	}
	meld := &upgrader.Melds[up.MeldIndex]
	meld.Kind = MeldGang
	meld.GangStyle = GangUpgraded
	meld.Tiles = append(meld.Tiles, up.Tile)
	upgrader.GangCount++
	eg.creditKong(up.Seat, GangUpgraded)
	eg.logAction(up.Seat, "gangUpgraded", up.Tile.String(), nil)
	eg.broadcast(dto.EventMeldFormed, &MeldFormedDTO{Seat: up.Seat, Meld: *meld})
	eg.persistSnapshot()
	eg.enterTurn(up.Seat, true)
}

// ------------------------- 吃、和 -------------------------

func (eg *SanmaEngine) handleChi(event *share.ChiEvent) {
	userID := event.GetUserID()
	if !eg.Rule.AllowChi {
		eg.pushError(userID, dto.CodeInvalidAction, "规则未开启吃牌")
		return
	}
	t1, err1 := ParseTile(event.With[0])
	t2, err2 := ParseTile(event.With[1])
	if err1 != nil || err2 != nil {
		eg.pushError(userID, dto.CodeInvalidTile, "吃牌搭子格式错误")
		return
	}
	eg.handleClaimResponse(userID, ClaimChi, [2]Tile{t1, t2})
}

// handleHu 和牌声明：自己回合是自摸，窗口内是荣和/抢杠
func (eg *SanmaEngine) handleHu(event *share.HuEvent) {
	userID := event.GetUserID()
	if eg.Phase == engines.PhaseAwaitingClaims {
		if event.SelfDraw {
			eg.pushError(userID, dto.CodeInvalidAction, "响应窗口内不能声明自摸")
			return
		}
		if event.Tile != "" && eg.claimWindow != nil && event.Tile != eg.claimWindow.Tile.String() {
			eg.pushError(userID, dto.CodeInvalidTile, "声明的和牌张与窗口不符")
			return
		}
		eg.handleClaimResponse(userID, ClaimHu, [2]Tile{})
		return
	}
	if eg.Phase != engines.PhasePlaying {
		eg.pushError(userID, dto.CodeWrongPhase, "当前不可和牌")
		return
	}
	seat, err := eg.getSeatIndex(userID)
	if err != nil {
		eg.pushError(userID, dto.CodeNotAMember, err.Error())
		return
	}
	if seat != eg.TurnManager.GetCurrentPlayer() {
		eg.pushError(userID, dto.CodeNotYourTurn, "还没轮到你")
		return
	}
	p := eg.Players[seat]
	if p.DrawnTile == nil {
		eg.pushError(userID, dto.CodeInvalidAction, "没有刚摸的牌，不能自摸")
		return
	}
	if event.Tile != "" && event.Tile != p.DrawnTile.String() {
		eg.pushError(userID, dto.CodeInvalidTile, "声明的和牌张与摸到的牌不符")
		return
	}
	win := eg.Searcher.Validate(WinContext{
		Hand:        p.Hand,
		Melds:       p.Melds,
		WinningTile: *p.DrawnTile,
		SelfDraw:    true,
	}, eg.Rule.HuTypes)
	if !win.Valid {
		eg.pushError(userID, dto.CodeInvalidAction, "当前手牌未成和")
		return
	}

	eg.TurnManager.GetPlayerTicker(seat).Stop()
	eg.markActive(p)
	eg.logAction(seat, "huSelfDraw", p.DrawnTile.String(), nil)
	eg.broadcast(dto.EventClaimResolved, &ClaimResolvedDTO{Action: ClaimHu, Seats: []int{seat}, Tile: p.DrawnTile.String()})
	eg.settleRound(eg.settleWin([]huClaim{{
		WinnerSeat: seat, FromSeat: -1, WinningTile: *p.DrawnTile, SelfDraw: true, Win: win,
	}}))
}

// ------------------------- 结算 -------------------------

// settleRound 结算入账、落库、推送，然后回到 waiting 或终局
func (eg *SanmaEngine) settleRound(s *Settlement) {
	eg.Phase = engines.PhaseSettlement
	eg.TurnManager.StopAllTickers()
	eg.stopTrusteeTimer()

	for seat, p := range eg.Players {
		p.Score += s.Deltas[seat]
	}
	eg.RoundIndex++

	eg.rotateDealer(s)

	gameOver := eg.RoundIndex >= eg.Rule.MaxRounds

	var scores [3]int
	finalHands := make([][]string, 3)
	for seat, p := range eg.Players {
		scores[seat] = p.Score
		finalHands[seat] = tilesToStrings(p.Hand.Tiles())
	}
	eg.broadcast(dto.EventSettlement, &SettlementDTO{
		Settlement: s,
		Scores:     scores,
		FinalHands: finalHands,
		RoundIndex: eg.RoundIndex,
		GameOver:   gameOver,
	})

	eg.Persister.FinalizeGame(eg.buildGameRecord(s))
	eg.persistSnapshot()

	if gameOver {
		eg.Phase = engines.PhaseFinished
		log.Info("对局结束: room=%s rounds=%d", eg.RoomID, eg.RoundIndex)
		eg.Terminate()
		return
	}

	eg.Phase = engines.PhaseWaiting
	for _, p := range eg.Players {
		if p.Status != StatusDisconnected && p.Status != StatusTrustee {
			p.Status = StatusWaiting
		}
	}
}

// rotateDealer 按规则决定庄家是否轮转
func (eg *SanmaEngine) rotateDealer(s *Settlement) {
	rotate := false
	if s.Result == entity.ResultDraw {
		rotate = eg.Rule.Dealer.RotateOnDraw
	} else {
		dealerWon := false
		for _, w := range s.Winners {
			if w.Seat == eg.DealerSeat {
				dealerWon = true
				break
			}
		}
		if dealerWon {
			rotate = eg.Rule.Dealer.RotateOnWin
		} else {
			rotate = eg.Rule.Dealer.RotateOnLose
		}
	}
	if rotate {
		eg.DealerSeat = (eg.DealerSeat + 1) % 3
	}
}

// ------------------------- 超时与托管 -------------------------

func (eg *SanmaEngine) makeTimeoutHandler(seat int) func() {
	return func() {
		eg.NotifyEvent(&timeoutEvent{Seat: seat})
	}
}

func (eg *SanmaEngine) handleTimeout(seat int) {
	switch eg.Phase {
	case engines.PhasePlaying:
		if seat != eg.TurnManager.GetCurrentPlayer() {
			return
		}
		p := eg.Players[seat]
		p.ConsecutiveTimeouts++
		log.Info("玩家超时: room=%s seat=%d count=%d", eg.RoomID, seat, p.ConsecutiveTimeouts)
		if eg.Rule.Turn.AutoTrustee && p.Status != StatusTrustee &&
			p.ConsecutiveTimeouts >= eg.Rule.Turn.TrusteeTimeoutCount {
			p.Status = StatusTrustee
			eg.broadcast(dto.EventTrusteeChanged, &TrusteeChangedDTO{Seat: seat, Enabled: true})
		}
		eg.autoDiscard(seat)
	case engines.PhaseAwaitingClaims:
		if eg.claimWindow == nil {
			return
		}
		opt, ok := eg.claimWindow.Options[seat]
		if !ok || opt.Responded {
			return
		}
		opt.Responded = true
		opt.Chosen = ClaimPass
		if allResponded(eg.claimWindow.Options) {
			eg.resolveWindow()
		}
	}
}

// handleTrusteeAct 托管延迟到点，自动出牌
func (eg *SanmaEngine) handleTrusteeAct(seat int) {
	if eg.Phase != engines.PhasePlaying || seat != eg.TurnManager.GetCurrentPlayer() {
		return
	}
	eg.autoDiscard(seat)
}

// autoDiscard 自动打出刚摸的牌（或最大索引的牌）
func (eg *SanmaEngine) autoDiscard(seat int) {
	p := eg.Players[seat]
	tile, ok := p.DiscardDrawnOrLast()
	if !ok {
		eg.happenDamage(fmt.Sprintf("座位 %d 自动出牌失败", seat))
		return
	}
	eg.discardFlow(seat, tile)
}

func (eg *SanmaEngine) handleTrusteeToggle(event *share.TrusteeEvent) {
	seat, err := eg.getSeatIndex(event.GetUserID())
	if err != nil {
		eg.pushError(event.GetUserID(), dto.CodeNotAMember, err.Error())
		return
	}
	p := eg.Players[seat]
	if event.Enable {
		if p.Status == StatusTrustee {
			return
		}
		p.Status = StatusTrustee
	} else {
		if p.Status != StatusTrustee {
			return
		}
		p.Status = StatusPlaying
		p.ConsecutiveTimeouts = 0
	}
	eg.broadcast(dto.EventTrusteeChanged, &TrusteeChangedDTO{Seat: seat, Enabled: event.Enable})

	// 取消托管后如果正轮到他，重开计时
	if !event.Enable && eg.Phase == engines.PhasePlaying && eg.TurnManager.GetCurrentPlayer() == seat {
		eg.stopTrusteeTimer()
		eg.enterTurn(seat, false)
	}
}

// markActive 玩家主动操作，清超时计数
func (eg *SanmaEngine) markActive(p *PlayerImage) {
	p.ConsecutiveTimeouts = 0
	p.LastActionAt = time.Now().UnixMilli()
	if p.Status == StatusTrustee {
		p.Status = StatusPlaying
		eg.broadcast(dto.EventTrusteeChanged, &TrusteeChangedDTO{Seat: p.SeatIndex, Enabled: false})
	}
}

// ------------------------- 掉线与重连 -------------------------

func (eg *SanmaEngine) handleDisconnect(event *share.DisconnectEvent) {
	userID := event.GetUserID()
	ui, ok := eg.UserMap[userID]
	if !ok {
		return
	}
	now := time.Now().UnixMilli()
	ui.SetOffline(now)

	seat := ui.SeatIndex
	p := eg.Players[seat]
	if p.Status != StatusTrustee {
		p.Status = StatusDisconnected
	}

	grace := eg.Rule.Reconnect.GracePeriodSec
	eg.broadcast(dto.EventPlayerDisconnected, &PlayerConnDTO{Seat: seat, GraceSec: grace, OfflineAtMs: now})
	log.Info("玩家掉线: room=%s seat=%d grace=%ds", eg.RoomID, seat, grace)

	// 宽限到期仍未回来则进托管
	timer := time.AfterFunc(time.Duration(grace)*time.Second, func() {
		eg.NotifyEvent(&graceExpiredEvent{GameMessageEvent: share.GameMessageEvent{UserID: userID}})
	})
	if old, ok := eg.graceTimers[userID]; ok {
		old.Stop()
	}
	eg.graceTimers[userID] = timer
}

func (eg *SanmaEngine) handleGraceExpired(userID string) {
	delete(eg.graceTimers, userID)
	ui, ok := eg.UserMap[userID]
	if !ok || ui.IsOnline {
		return
	}
	seat := ui.SeatIndex
	p := eg.Players[seat]
	if !eg.Rule.Turn.AutoTrustee || p.Status == StatusTrustee {
		return
	}
	p.Status = StatusTrustee
	eg.broadcast(dto.EventTrusteeChanged, &TrusteeChangedDTO{Seat: seat, Enabled: true})
	log.Info("掉线宽限到期，进入托管: room=%s seat=%d", eg.RoomID, seat)

	if eg.Phase == engines.PhasePlaying && eg.TurnManager.GetCurrentPlayer() == seat {
		eg.TurnManager.GetPlayerTicker(seat).Stop()
		eg.enterTurn(seat, false)
	}
}

func (eg *SanmaEngine) handleReconnect(event *share.ReconnectEvent) {
	userID := event.GetUserID()
	ui, ok := eg.UserMap[userID]
	if !ok {
		eg.pushError(userID, dto.CodeNotAMember, "不是房间成员")
		return
	}
	// 超过最长掉线时间的重连直接拒绝，座位继续托管
	if maxSec := eg.Rule.Reconnect.MaxDisconnectSec; maxSec > 0 && !ui.IsOnline && ui.OfflineAt > 0 {
		if time.Now().UnixMilli()-ui.OfflineAt > int64(maxSec)*1000 {
			eg.pushError(userID, dto.CodeReconnectExpired, "掉线时间过长，无法重连")
			log.Info("重连超时拒绝: room=%s user=%s", eg.RoomID, userID)
			return
		}
	}
	ui.SetOnline()
	if timer, ok := eg.graceTimers[userID]; ok {
		timer.Stop()
		delete(eg.graceTimers, userID)
	}

	seat := ui.SeatIndex
	p := eg.Players[seat]
	// 托管中的玩家重连后恢复手动，超时计数不动
	if p.Status == StatusDisconnected || p.Status == StatusTrustee {
		if eg.Phase == engines.PhaseWaiting {
			p.Status = StatusWaiting
		} else {
			p.Status = StatusPlaying
		}
	}

	eg.broadcast(dto.EventPlayerReconnected, &PlayerConnDTO{Seat: seat})
	eg.pushSnapshotTo(seat)
	log.Info("玩家重连: room=%s seat=%d", eg.RoomID, seat)
}

// pushSnapshotTo 给指定座位下发脱敏快照
func (eg *SanmaEngine) pushSnapshotTo(seat int) {
	snap := eg.buildSnapshot().RedactFor(seat)
	eg.pushToSeat(seat, dto.EventGameSnapshot, snap)
}

// RequestSnapshot 连接层的 getSnapshot 命令入口
func (eg *SanmaEngine) RequestSnapshot(userID string) {
	eg.NotifyEvent(&snapshotRequestEvent{GameMessageEvent: share.GameMessageEvent{UserID: userID}})
}

// ------------------------- 基础设施 -------------------------

func (eg *SanmaEngine) getSeatIndex(userID string) (int, error) {
	ui, ok := eg.UserMap[userID]
	if !ok {
		return -1, fmt.Errorf("玩家 %s 不在房间中", userID)
	}
	return ui.SeatIndex, nil
}

func (eg *SanmaEngine) pushError(userID string, code dto.ErrorCode, message string) {
	if eg.Pusher == nil {
		return
	}
	eg.Pusher.Push([]string{userID}, dto.FrameError, &dto.GameError{Code: code, Message: message})
}

func (eg *SanmaEngine) graceElapsed(userID string) bool {
	ui, ok := eg.UserMap[userID]
	if !ok || ui.IsOnline || ui.OfflineAt == 0 {
		return false
	}
	elapsed := time.Now().UnixMilli() - ui.OfflineAt
	return elapsed >= int64(eg.Rule.Reconnect.GracePeriodSec)*1000
}

func (eg *SanmaEngine) stopTrusteeTimer() {
	if eg.trusteeTimer != nil {
		eg.trusteeTimer.Stop()
		eg.trusteeTimer = nil
	}
}

// happenDamage 发生房间崩坏级错误，先尝试用最近快照拉回来，拉不回来才销毁
func (eg *SanmaEngine) happenDamage(reason string) {
	log.Warn("游戏房间崩坏: room=%s %s", eg.RoomID, reason)
	if eg.restoreFromSnapshot() {
		log.Info("已从快照恢复对局: room=%s version=%d", eg.RoomID, eg.Version)
		return
	}
	eg.Terminate()
}

// Terminate 触发销毁房间（异步请求）
func (eg *SanmaEngine) Terminate() {
	if eg.Destroyer == nil || eg.RoomID == "" {
		return
	}
	eg.Destroyer.RequestDestroyRoom(eg.RoomID)
}

// Clone 克隆引擎实例（用于原型模式）
func (eg *SanmaEngine) Clone() engines.Engine {
	rule := *eg.Rule
	return &SanmaEngine{
		Phase:         engines.PhaseWaiting,
		Rule:          &rule,
		Searcher:      eg.Searcher, // 搜索器缓存共享
		Pusher:        eg.Pusher,
		SnapshotStore: eg.SnapshotStore,
		Persister:     eg.Persister,
		Destroyer:     eg.Destroyer,
		seedFunc:      eg.seedFunc,
	}
}

func (eg *SanmaEngine) Close() {
	eg.closeOnce.Do(func() {
		eg.closed.Store(true)
		if eg.gameDone != nil {
			close(eg.gameDone)
		}
		if eg.actorExit != nil {
			<-eg.actorExit
		}

		if eg.TurnManager != nil {
			eg.TurnManager.StopAllTickers()
		}
		eg.stopTrusteeTimer()
		// 房间没了，热存储里的快照一并清掉
		if eg.SnapshotStore != nil && eg.RoomID != "" {
			store, roomID := eg.SnapshotStore, eg.RoomID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = store.DeleteSnapshot(ctx, roomID)
			}()
		}
		for _, timer := range eg.graceTimers {
			timer.Stop()
		}
		eg.graceTimers = nil
		eg.claimWindow = nil
		eg.UserMap = nil
		eg.Phase = engines.PhaseFinished
	})
}

// ------------------------- 内部事件 -------------------------

type timeoutEvent struct {
	share.GameMessageEvent
	Seat int
}

func (e *timeoutEvent) GetEventType() string { return "Timeout" }

type trusteeActEvent struct {
	share.GameMessageEvent
	Seat int
}

func (e *trusteeActEvent) GetEventType() string { return "TrusteeAct" }

type graceExpiredEvent struct {
	share.GameMessageEvent
}

func (e *graceExpiredEvent) GetEventType() string { return "GraceExpired" }

type snapshotRequestEvent struct {
	share.GameMessageEvent
}

func (e *snapshotRequestEvent) GetEventType() string { return "SnapshotRequest" }
