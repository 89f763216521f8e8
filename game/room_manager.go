package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines"
)

// RoomManager 房间管理器
// 管理所有房间实例，引擎用原型模式克隆
type RoomManager struct {
	rooms      map[string]*Room  // roomID -> Room
	playerRoom map[string]string // userID -> roomID
	prototype  engines.Engine
	mu         sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
	}
}

// SetEnginePrototype 注入引擎原型，启动时调用一次
func (rm *RoomManager) SetEnginePrototype(engine engines.Engine) error {
	if engine == nil {
		return fmt.Errorf("引擎原型不能为空")
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.prototype = engine
	return nil
}

// CreateRoom 创建房间并把房主加入
// 房间号生成有限次重试，全撞车按号池耗尽处理
func (rm *RoomManager) CreateRoom(ownerID string, rule config.RuleConfig) (*Room, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if roomID, exists := rm.playerRoom[ownerID]; exists {
		return nil, dto.NewGameError(dto.CodeAlreadyInRoom, fmt.Sprintf("已在房间 %s 中", roomID))
	}

	var roomID string
	retry := config.Conf.RoomConf.IDRetry
	for i := 0; i < retry; i++ {
		candidate := GenerateRoomID()
		if _, taken := rm.rooms[candidate]; !taken {
			roomID = candidate
			break
		}
	}
	if roomID == "" {
		return nil, dto.NewGameError(dto.CodeRoomIDExhausted, "房间号池已耗尽，请稍后再试")
	}

	room := NewRoom(roomID, ownerID, rule)
	if _, err := room.AddPlayer(ownerID); err != nil {
		return nil, err
	}
	rm.rooms[roomID] = room
	rm.playerRoom[ownerID] = roomID

	log.Info("RoomManager 创建房间 %s，房主: %s", roomID, ownerID)
	return room, nil
}

// JoinRoom 加入房间，满员后克隆引擎并初始化对局
func (rm *RoomManager) JoinRoom(roomID, userID string) (*Room, int, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if existing, exists := rm.playerRoom[userID]; exists && existing != roomID {
		return nil, -1, dto.NewGameError(dto.CodeAlreadyInRoom, fmt.Sprintf("已在房间 %s 中", existing))
	}
	room, exists := rm.rooms[roomID]
	if !exists {
		return nil, -1, dto.NewGameError(dto.CodeNoSuchRoom, fmt.Sprintf("房间 %s 不存在", roomID))
	}

	seatIndex, err := room.AddPlayer(userID)
	if err != nil {
		return nil, -1, err
	}
	rm.playerRoom[userID] = roomID

	if room.IsFull() {
		if err := rm.attachEngine(room); err != nil {
			return nil, -1, err
		}
	}
	return room, seatIndex, nil
}

// attachEngine 满员开局：克隆原型，初始化引擎
func (rm *RoomManager) attachEngine(room *Room) error {
	if rm.prototype == nil {
		return fmt.Errorf("引擎原型未注入")
	}
	engine := rm.prototype.Clone()
	if engine == nil {
		return fmt.Errorf("克隆游戏引擎失败")
	}
	if err := engine.InitializeEngine(room.ID, room.Users); err != nil {
		return fmt.Errorf("初始化游戏引擎失败: %v", err)
	}
	room.Engine = engine
	room.UpdateStatus(RoomStatusPlaying)
	log.Info("RoomManager 房间 %s 满员开局", room.ID)
	return nil
}

func (rm *RoomManager) GetRoom(roomID string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, exists := rm.rooms[roomID]
	return room, exists
}

func (rm *RoomManager) GetPlayerRoom(userID string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	roomID, exists := rm.playerRoom[userID]
	if !exists {
		return nil, false
	}
	room, exists := rm.rooms[roomID]
	return room, exists
}

// LeaveRoom 等待阶段离开房间，房间空了直接删除
func (rm *RoomManager) LeaveRoom(roomID, userID string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return dto.NewGameError(dto.CodeNoSuchRoom, fmt.Sprintf("房间 %s 不存在", roomID))
	}
	if err := room.RemovePlayer(userID); err != nil {
		return err
	}
	delete(rm.playerRoom, userID)

	if room.PlayerCount() == 0 {
		rm.deleteRoomLocked(roomID)
	}
	return nil
}

// DeleteRoom 删除房间并清理路由，引擎一并关闭
func (rm *RoomManager) DeleteRoom(roomID string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.rooms[roomID]; !exists {
		return fmt.Errorf("房间 %s 不存在", roomID)
	}
	rm.deleteRoomLocked(roomID)
	return nil
}

func (rm *RoomManager) deleteRoomLocked(roomID string) {
	room := rm.rooms[roomID]
	room.mu.RLock()
	for userID := range room.Users {
		delete(rm.playerRoom, userID)
	}
	room.mu.RUnlock()
	delete(rm.rooms, roomID)

	if room.Engine != nil {
		// 引擎 Close 会等事件循环退出，不要拿着管理器锁做
		go room.Engine.Close()
	}
	log.Info("RoomManager 删除房间 %s", roomID)
}

// Sweep 清理闲置房间，返回被清理的房间 ID
func (rm *RoomManager) Sweep(idleLimit time.Duration) []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var swept []string
	for roomID, room := range rm.rooms {
		if room.IdleFor() >= idleLimit {
			rm.deleteRoomLocked(roomID)
			swept = append(swept, roomID)
		}
	}
	return swept
}

// RunJanitor 周期清扫闲置房间，ctx 取消后退出
func (rm *RoomManager) RunJanitor(ctx context.Context, onSwept func(roomID string)) {
	interval := time.Duration(config.Conf.RoomConf.SweepIntervalSec) * time.Second
	idleLimit := time.Duration(config.Conf.RoomConf.InactiveLimitSec) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, roomID := range rm.Sweep(idleLimit) {
				log.Info("RoomManager 清理闲置房间 %s", roomID)
				if onSwept != nil {
					onSwept(roomID)
				}
			}
		}
	}
}

// GetStats 房间数与玩家数，供监控使用
func (rm *RoomManager) GetStats() (roomCount, playerCount int) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms), len(rm.playerRoom)
}
