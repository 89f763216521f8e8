package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/domain/entity"
	"github.com/JackieWYB/majiang-sub003/domain/repository"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines/mahjong"
	"github.com/JackieWYB/majiang-sub003/game/share"
)

/*
	Worker 是连接层与游戏房间之间的路由：
	1.房间命令（创建、加入、离开、解散投票）直接在这里处理
	2.局内命令转成事件投递给对应房间的引擎
	3.引擎的销毁请求走异步队列，避免在引擎事件循环里删房间
*/

type Worker struct {
	RoomManager *RoomManager

	records repository.GameRecordRepository

	pusher   mahjong.Pusher
	pusherMu sync.RWMutex

	destroyRoomCh chan string
	destroyMu     sync.Mutex
	destroyClosed bool

	dissolveTimers map[string]*time.Timer
	dissolveMu     sync.Mutex
}

// NewWorker 创建 Worker 并注入引擎原型
func NewWorker(records repository.GameRecordRepository, snapshots repository.SnapshotStore) *Worker {
	w := &Worker{
		RoomManager:    NewRoomManager(),
		records:        records,
		destroyRoomCh:  make(chan string, 128),
		dissolveTimers: make(map[string]*time.Timer),
	}

	rule := config.Conf.Rule
	prototype := mahjong.NewSanmaEngine(&rule, mahjong.Deps{
		Pusher:        w, // 转发给连接层，原型建好后再挂真正的推送器
		SnapshotStore: snapshots,
		Records:       records,
		Destroyer:     w,
	})
	_ = w.RoomManager.SetEnginePrototype(prototype)

	go w.destroyRoomLoop()
	return w
}

// SetPusher 挂接连接层的推送实现
func (w *Worker) SetPusher(p mahjong.Pusher) {
	w.pusherMu.Lock()
	w.pusher = p
	w.pusherMu.Unlock()
}

// Push 实现 mahjong.Pusher，转发给连接层
func (w *Worker) Push(userIDs []string, event string, data any) {
	w.pusherMu.RLock()
	p := w.pusher
	w.pusherMu.RUnlock()
	if p == nil {
		log.Warn("Worker 推送器未挂接, event=%s", event)
		return
	}
	p.Push(userIDs, event, data)
}

// Start 启动后台协程
func (w *Worker) Start(ctx context.Context) {
	go w.RoomManager.RunJanitor(ctx, nil)
}

func (w *Worker) destroyRoomLoop() {
	for roomID := range w.destroyRoomCh {
		if roomID == "" {
			continue
		}
		if room, ok := w.RoomManager.GetRoom(roomID); ok {
			w.Push(room.UserIDs(), dto.EventRoomDissolved, &RoomDissolvedDTO{RoomID: roomID, Reason: "finished"})
		}
		if err := w.RoomManager.DeleteRoom(roomID); err != nil {
			log.Warn("Worker destroyRoomLoop 删除房间失败: %v", err)
		}
	}
}

// RequestDestroyRoom 实现 mahjong.RoomDestroyer
func (w *Worker) RequestDestroyRoom(roomID string) {
	if roomID == "" {
		return
	}
	w.destroyMu.Lock()
	if w.destroyClosed {
		w.destroyMu.Unlock()
		return
	}
	ch := w.destroyRoomCh
	w.destroyMu.Unlock()

	select {
	case ch <- roomID:
	default:
		log.Warn("Worker RequestDestroyRoom 队列已满, roomID=%s", roomID)
	}
}

// ------------------------- 请求/响应 DTO -------------------------

type CreateRoomReq struct {
	Rule *config.RuleConfig `json:"rule,omitempty"` // 不传用服务默认规则
}

type PlayReq struct {
	Tile string `json:"tile"`
}

type GangReq struct {
	Tile string `json:"tile,omitempty"` // 自己回合暗杠/加杠需要，响应明杠不需要
}

type ChiReq struct {
	With [2]string `json:"with"`
}

type TrusteeReq struct {
	Enable bool `json:"enable"`
}

type HuReq struct {
	Tile     string `json:"tile,omitempty"`
	SelfDraw bool   `json:"selfDraw,omitempty"`
}

type GetRecordReq struct {
	GameID string `json:"gameId"`
}

type ListRecordsReq struct {
	RoomID string `json:"roomId,omitempty"` // 不传查自己的牌谱
	Limit  int64  `json:"limit,omitempty"`
}

type DissolveVoteReq struct {
	Agree bool `json:"agree"`
}

type RoomPlayerDTO struct {
	UserID string `json:"userId"`
	Seat   int    `json:"seat"`
	Online bool   `json:"online"`
}

type RoomInfoResp struct {
	RoomID  string            `json:"roomId"`
	OwnerID string            `json:"ownerId"`
	Seat    int               `json:"seat"`
	Status  RoomStatus        `json:"status"`
	Players []RoomPlayerDTO   `json:"players"`
	Rule    config.RuleConfig `json:"rule"`
}

type DissolveVoteDTO struct {
	RoomID     string          `json:"roomId"`
	Initiator  string          `json:"initiator"`
	Votes      map[string]bool `json:"votes"`
	DeadlineMs int64           `json:"deadlineMs"`
	Resolved   bool            `json:"resolved"`
	Dissolved  bool            `json:"dissolved"`
}

type RoomDissolvedDTO struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// ------------------------- 帧路由 -------------------------

// HandleFrame 处理一个请求帧，返回响应数据
// 局内命令是异步的，入队即回 ack，结果靠事件推送
func (w *Worker) HandleFrame(userID string, frame *dto.Frame) (any, error) {
	switch frame.Cmd {
	case dto.CmdCreateRoom:
		return w.handleCreateRoom(userID, frame.Data)
	case dto.CmdJoinRoom:
		return w.handleJoinRoom(userID, frame.RoomID)
	case dto.CmdLeaveRoom:
		return w.handleLeaveRoom(userID)
	case dto.CmdDissolve:
		return w.handleDissolve(userID)
	case dto.CmdDissolveVote:
		return w.handleDissolveVote(userID, frame.Data)
	case dto.CmdGetSnapshot:
		return w.handleGetSnapshot(userID)
	case dto.CmdGetRecord:
		return w.handleGetRecord(userID, frame.Data)
	case dto.CmdListRecords:
		return w.handleListRecords(userID, frame.Data)
	case dto.CmdReady, dto.CmdPlay, dto.CmdPeng, dto.CmdGang,
		dto.CmdChi, dto.CmdHu, dto.CmdPass, dto.CmdTrustee:
		return w.dispatchGameCmd(userID, frame)
	default:
		return nil, dto.NewGameError(dto.CodeInvalidAction, "未知命令: "+frame.Cmd)
	}
}

func (w *Worker) handleCreateRoom(userID string, data json.RawMessage) (any, error) {
	var req CreateRoomReq
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, dto.NewGameError(dto.CodeInvalidAction, "请求格式错误")
		}
	}

	rule := config.Conf.Rule
	if req.Rule != nil {
		rule = *req.Rule
		rule.ApplyDefaults()
		if err := rule.Validate(); err != nil {
			return nil, dto.NewGameError(dto.CodeInvalidAction, err.Error())
		}
	}

	room, err := w.RoomManager.CreateRoom(userID, rule)
	if err != nil {
		return nil, err
	}
	return w.roomInfo(room, userID), nil
}

func (w *Worker) handleJoinRoom(userID, roomID string) (any, error) {
	if roomID == "" {
		return nil, dto.NewGameError(dto.CodeNoSuchRoom, "缺少房间号")
	}
	room, seat, err := w.RoomManager.JoinRoom(roomID, userID)
	if err != nil {
		return nil, err
	}
	w.Push(room.UserIDs(), dto.EventPlayerJoined, &RoomPlayerDTO{UserID: userID, Seat: seat, Online: true})
	return w.roomInfo(room, userID), nil
}

func (w *Worker) handleLeaveRoom(userID string) (any, error) {
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok {
		return nil, dto.NewGameError(dto.CodeNoSuchRoom, "不在任何房间中")
	}
	ui, _ := room.GetUser(userID)
	if err := w.RoomManager.LeaveRoom(room.ID, userID); err != nil {
		return nil, err
	}
	seat := -1
	if ui != nil {
		seat = ui.SeatIndex
	}
	w.Push(room.UserIDs(), dto.EventPlayerLeft, &RoomPlayerDTO{UserID: userID, Seat: seat})
	return map[string]string{"roomId": room.ID}, nil
}

func (w *Worker) handleDissolve(userID string) (any, error) {
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok {
		return nil, dto.NewGameError(dto.CodeNoSuchRoom, "不在任何房间中")
	}
	vote, err := room.StartDissolve(userID)
	if err != nil {
		return nil, err
	}

	voteDTO := &DissolveVoteDTO{
		RoomID: room.ID, Initiator: vote.InitiatorID,
		Votes: vote.Votes, DeadlineMs: vote.DeadlineMs,
	}
	w.Push(room.UserIDs(), dto.EventDissolveVote, voteDTO)

	// 投票超时由这里兜底，未投票按同意处理
	roomID := room.ID
	limit := time.Duration(room.Rule.Dismiss.VoteTimeLimitSec) * time.Second
	w.dissolveMu.Lock()
	w.dissolveTimers[roomID] = time.AfterFunc(limit, func() {
		w.resolveDissolveTimeout(roomID)
	})
	w.dissolveMu.Unlock()

	return voteDTO, nil
}

func (w *Worker) handleDissolveVote(userID string, data json.RawMessage) (any, error) {
	var req DissolveVoteReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, dto.NewGameError(dto.CodeInvalidAction, "请求格式错误")
	}
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok {
		return nil, dto.NewGameError(dto.CodeNoSuchRoom, "不在任何房间中")
	}
	vote, resolved, dissolved, err := room.CastDissolveVote(userID, req.Agree)
	if err != nil {
		return nil, err
	}

	voteDTO := &DissolveVoteDTO{
		RoomID: room.ID, Initiator: vote.InitiatorID,
		Votes: vote.Votes, DeadlineMs: vote.DeadlineMs,
		Resolved: resolved, Dissolved: dissolved,
	}
	w.Push(room.UserIDs(), dto.EventDissolveVote, voteDTO)

	if resolved {
		w.stopDissolveTimer(room.ID)
		if dissolved {
			w.RequestDestroyRoom(room.ID)
		}
	}
	return voteDTO, nil
}

func (w *Worker) resolveDissolveTimeout(roomID string) {
	w.stopDissolveTimer(roomID)
	room, ok := w.RoomManager.GetRoom(roomID)
	if !ok {
		return
	}
	vote, dissolved := room.ResolveDissolveTimeout()
	if vote == nil {
		return
	}
	w.Push(room.UserIDs(), dto.EventDissolveVote, &DissolveVoteDTO{
		RoomID: roomID, Initiator: vote.InitiatorID,
		Votes: vote.Votes, DeadlineMs: vote.DeadlineMs,
		Resolved: true, Dissolved: dissolved,
	})
	if dissolved {
		w.RequestDestroyRoom(roomID)
	}
}

func (w *Worker) stopDissolveTimer(roomID string) {
	w.dissolveMu.Lock()
	if timer, ok := w.dissolveTimers[roomID]; ok {
		timer.Stop()
		delete(w.dissolveTimers, roomID)
	}
	w.dissolveMu.Unlock()
}

func (w *Worker) handleGetSnapshot(userID string) (any, error) {
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok {
		return nil, dto.NewGameError(dto.CodeNoSuchRoom, "不在任何房间中")
	}
	if room.Engine == nil {
		return w.roomInfo(room, userID), nil
	}
	type snapshotRequester interface{ RequestSnapshot(userID string) }
	if sr, ok := room.Engine.(snapshotRequester); ok {
		sr.RequestSnapshot(userID)
		return map[string]string{"status": "pending"}, nil
	}
	return nil, dto.NewGameError(dto.CodeSnapshotUnavailable, "快照不可用")
}

// handleGetRecord 按 gameId 查单局牌谱，先走缓存再落冷存储
func (w *Worker) handleGetRecord(userID string, data json.RawMessage) (any, error) {
	if w.records == nil {
		return nil, dto.NewGameError(dto.CodeRecordNotFound, "牌谱服务不可用")
	}
	var req GetRecordReq
	if err := json.Unmarshal(data, &req); err != nil || req.GameID == "" {
		return nil, dto.NewGameError(dto.CodeInvalidAction, "缺少 gameId")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	record, err := w.records.FindByGameID(ctx, req.GameID)
	if err != nil {
		if errors.Is(err, dto.ErrRecordNotFound) {
			return nil, dto.NewGameError(dto.CodeRecordNotFound, "牌谱不存在")
		}
		log.Warn("查牌谱失败: user=%s game=%s err=%v", userID, req.GameID, err)
		return nil, dto.NewGameError(dto.CodeInternal, "查询牌谱失败")
	}
	return record, nil
}

// handleListRecords 查房间或自己的历史牌谱
func (w *Worker) handleListRecords(userID string, data json.RawMessage) (any, error) {
	if w.records == nil {
		return nil, dto.NewGameError(dto.CodeRecordNotFound, "牌谱服务不可用")
	}
	var req ListRecordsReq
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, dto.NewGameError(dto.CodeInvalidAction, "请求格式错误")
		}
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 50 {
		req.Limit = 50
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var (
		records []*entity.GameRecord
		err     error
	)
	if req.RoomID != "" {
		records, err = w.records.ListByRoom(ctx, req.RoomID, req.Limit)
	} else {
		records, err = w.records.ListByUser(ctx, userID, req.Limit)
	}
	if err != nil {
		log.Warn("查牌谱列表失败: user=%s room=%s err=%v", userID, req.RoomID, err)
		return nil, dto.NewGameError(dto.CodeInternal, "查询牌谱失败")
	}
	return records, nil
}

// dispatchGameCmd 局内命令转成引擎事件
func (w *Worker) dispatchGameCmd(userID string, frame *dto.Frame) (any, error) {
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok {
		return nil, dto.NewGameError(dto.CodeNoSuchRoom, "不在任何房间中")
	}
	if room.Engine == nil {
		return nil, dto.NewGameError(dto.CodeWrongPhase, "对局尚未开始")
	}
	room.Touch()

	event, err := buildGameEvent(userID, frame)
	if err != nil {
		return nil, err
	}
	room.Engine.NotifyEvent(event)
	return map[string]string{"status": "accepted"}, nil
}

// buildGameEvent 把请求帧翻译成引擎事件
func buildGameEvent(userID string, frame *dto.Frame) (share.GameEvent, error) {
	base := share.GameMessageEvent{UserID: userID}
	switch frame.Cmd {
	case dto.CmdReady:
		return &share.ReadyEvent{GameMessageEvent: base}, nil
	case dto.CmdPlay:
		var req PlayReq
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.Tile == "" {
			return nil, dto.NewGameError(dto.CodeInvalidTile, "缺少出牌参数")
		}
		return &share.PlayTileEvent{GameMessageEvent: base, Tile: req.Tile}, nil
	case dto.CmdPeng:
		return &share.PengEvent{GameMessageEvent: base}, nil
	case dto.CmdGang:
		var req GangReq
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				return nil, dto.NewGameError(dto.CodeInvalidTile, "杠牌参数格式错误")
			}
		}
		return &share.GangEvent{GameMessageEvent: base, Tile: req.Tile}, nil
	case dto.CmdChi:
		var req ChiReq
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return nil, dto.NewGameError(dto.CodeInvalidTile, "吃牌参数格式错误")
		}
		return &share.ChiEvent{GameMessageEvent: base, With: req.With}, nil
	case dto.CmdHu:
		var req HuReq
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				return nil, dto.NewGameError(dto.CodeInvalidTile, "和牌参数格式错误")
			}
		}
		return &share.HuEvent{GameMessageEvent: base, Tile: req.Tile, SelfDraw: req.SelfDraw}, nil
	case dto.CmdPass:
		return &share.PassEvent{GameMessageEvent: base}, nil
	case dto.CmdTrustee:
		var req TrusteeReq
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return nil, dto.NewGameError(dto.CodeInvalidAction, "托管参数格式错误")
		}
		return &share.TrusteeEvent{GameMessageEvent: base, Enable: req.Enable}, nil
	}
	return nil, dto.NewGameError(dto.CodeInvalidAction, "未知命令: "+frame.Cmd)
}

// ------------------------- 连接生命周期 -------------------------

// OnDisconnect 连接断开：玩家保留席位，引擎进掉线流程
func (w *Worker) OnDisconnect(userID string) {
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok {
		return
	}
	if room.Engine != nil {
		room.Engine.NotifyEvent(&share.DisconnectEvent{GameMessageEvent: share.GameMessageEvent{UserID: userID}})
		return
	}
	// 还没开局，直接移除
	if err := w.RoomManager.LeaveRoom(room.ID, userID); err == nil {
		w.Push(room.UserIDs(), dto.EventPlayerLeft, &RoomPlayerDTO{UserID: userID})
	}
}

// OnReconnect 重连：引擎补发脱敏快照
func (w *Worker) OnReconnect(userID string) bool {
	room, ok := w.RoomManager.GetPlayerRoom(userID)
	if !ok || room.Engine == nil {
		return false
	}
	room.Touch()
	room.Engine.NotifyEvent(&share.ReconnectEvent{GameMessageEvent: share.GameMessageEvent{UserID: userID}})
	return true
}

// roomInfo 组装房间信息响应
func (w *Worker) roomInfo(room *Room, userID string) *RoomInfoResp {
	resp := &RoomInfoResp{
		RoomID:  room.ID,
		OwnerID: room.OwnerID,
		Seat:    -1,
		Status:  room.GetStatus(),
		Rule:    room.Rule,
	}
	room.mu.RLock()
	for id, ui := range room.Users {
		resp.Players = append(resp.Players, RoomPlayerDTO{UserID: id, Seat: ui.SeatIndex, Online: ui.IsOnline})
		if id == userID {
			resp.Seat = ui.SeatIndex
		}
	}
	room.mu.RUnlock()
	return resp
}

// Close 停止 Worker
func (w *Worker) Close() {
	w.destroyMu.Lock()
	if !w.destroyClosed {
		close(w.destroyRoomCh)
		w.destroyClosed = true
	}
	w.destroyMu.Unlock()

	w.dissolveMu.Lock()
	for _, timer := range w.dissolveTimers {
		timer.Stop()
	}
	w.dissolveTimers = nil
	w.dissolveMu.Unlock()
	log.Info("Game Worker 已关闭")
}
