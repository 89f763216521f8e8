package game

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines"
	"github.com/JackieWYB/majiang-sub003/game/share"
)

const MaxPlayers = 3 // 三人麻将

// RoomStatus 房间状态
type RoomStatus int

const (
	RoomStatusWaiting  RoomStatus = iota // 等待中
	RoomStatusPlaying                    // 游戏中
	RoomStatusFinished                   // 已结束
)

// Room 游戏房间
// Rule 在创建时做值拷贝冻结，全局规则热更新不影响已有房间
type Room struct {
	ID        string
	OwnerID   string
	Rule      config.RuleConfig
	Users     map[string]*share.UserInfo
	Engine    engines.Engine
	Status    RoomStatus
	CreatedAt time.Time

	lastActiveAt int64 // UnixMilli
	dissolve     *DissolveVote

	mu sync.RWMutex
}

// DissolveVote 一次解散投票
type DissolveVote struct {
	InitiatorID string          `json:"initiatorId"`
	Votes       map[string]bool `json:"votes"` // userID -> 是否同意
	StartedAt   time.Time       `json:"-"`
	DeadlineMs  int64           `json:"deadlineMs"`
}

// GenerateRoomID 生成 6 位数字房间号
func GenerateRoomID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	n := binary.BigEndian.Uint64(buf[:]) % 900000
	return fmt.Sprintf("%06d", 100000+n)
}

// NewRoom 创建新房间，rule 为冻结后的规则副本
func NewRoom(id, ownerID string, rule config.RuleConfig) *Room {
	return &Room{
		ID:           id,
		OwnerID:      ownerID,
		Rule:         rule,
		Users:        make(map[string]*share.UserInfo),
		Status:       RoomStatusWaiting,
		CreatedAt:    time.Now(),
		lastActiveAt: time.Now().UnixMilli(),
	}
}

// AddPlayer 添加玩家，返回分配的座位索引
func (r *Room) AddPlayer(userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.Users[userID]; exists {
		return -1, dto.NewGameError(dto.CodeAlreadyInRoom, fmt.Sprintf("玩家 %s 已在房间中", userID))
	}
	if len(r.Users) >= MaxPlayers {
		return -1, dto.NewGameError(dto.CodeRoomFull, fmt.Sprintf("房间已满，最多 %d 人", MaxPlayers))
	}
	if r.Status != RoomStatusWaiting {
		return -1, dto.NewGameError(dto.CodeWrongPhase, "对局已开始，无法加入")
	}

	seatIndex := r.findAvailableSeat()
	if seatIndex < 0 {
		return -1, dto.NewGameError(dto.CodeRoomFull, "没有可用座位")
	}
	r.Users[userID] = share.NewUserInfo(userID, seatIndex)
	r.lastActiveAt = time.Now().UnixMilli()

	log.Info("Room[%s] 玩家 %s 加入，座位: %d", r.ID, userID, seatIndex)
	return seatIndex, nil
}

// RemovePlayer 移除玩家，对局中不允许直接退出（走解散投票）
func (r *Room) RemovePlayer(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.Users[userID]; !exists {
		return dto.NewGameError(dto.CodeNotAMember, fmt.Sprintf("玩家 %s 不在房间中", userID))
	}
	if r.Status == RoomStatusPlaying {
		return dto.NewGameError(dto.CodeWrongPhase, "对局进行中，请发起解散投票")
	}
	delete(r.Users, userID)
	r.lastActiveAt = time.Now().UnixMilli()

	log.Info("Room[%s] 玩家 %s 离开", r.ID, userID)
	return nil
}

func (r *Room) GetUser(userID string) (*share.UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ui, exists := r.Users[userID]
	return ui, exists
}

func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Users)
}

func (r *Room) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Users) >= MaxPlayers
}

func (r *Room) GetStatus() RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

func (r *Room) UpdateStatus(status RoomStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.lastActiveAt = time.Now().UnixMilli()
}

// UserIDs 房间内所有玩家 ID
func (r *Room) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.Users))
	for id := range r.Users {
		ids = append(ids, id)
	}
	return ids
}

// Touch 刷新活跃时间，清扫协程据此判断闲置
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActiveAt = time.Now().UnixMilli()
	r.mu.Unlock()
}

// IdleFor 返回房间闲置时长
func (r *Room) IdleFor() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Duration(time.Now().UnixMilli()-r.lastActiveAt) * time.Millisecond
}

// StartDissolve 发起解散投票，发起者视为同意
func (r *Room) StartDissolve(initiatorID string) (*DissolveVote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.Users[initiatorID]; !exists {
		return nil, dto.NewGameError(dto.CodeNotAMember, "不是房间成员")
	}
	if r.dissolve != nil {
		return nil, dto.NewGameError(dto.CodeInvalidAction, "已有进行中的解散投票")
	}
	now := time.Now()
	r.dissolve = &DissolveVote{
		InitiatorID: initiatorID,
		Votes:       map[string]bool{initiatorID: true},
		StartedAt:   now,
		DeadlineMs:  now.Add(time.Duration(r.Rule.Dismiss.VoteTimeLimitSec) * time.Second).UnixMilli(),
	}
	r.lastActiveAt = now.UnixMilli()
	return r.dissolve, nil
}

// CastDissolveVote 投票
// resolved 为真时投票结束，dissolved 表示是否解散
func (r *Room) CastDissolveVote(userID string, agree bool) (vote *DissolveVote, resolved, dissolved bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.Users[userID]; !exists {
		return nil, false, false, dto.NewGameError(dto.CodeNotAMember, "不是房间成员")
	}
	if r.dissolve == nil {
		return nil, false, false, dto.NewGameError(dto.CodeInvalidAction, "当前没有解散投票")
	}
	if _, voted := r.dissolve.Votes[userID]; voted {
		return nil, false, false, dto.NewGameError(dto.CodeInvalidAction, "已投过票")
	}
	r.dissolve.Votes[userID] = agree
	r.lastActiveAt = time.Now().UnixMilli()

	vote = r.dissolve
	resolved, dissolved = r.tallyDissolve()
	if resolved {
		r.dissolve = nil
	}
	return vote, resolved, dissolved, nil
}

// ResolveDissolveTimeout 投票超时，未投票者按同意计
func (r *Room) ResolveDissolveTimeout() (vote *DissolveVote, dissolved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dissolve == nil {
		return nil, false
	}
	for userID := range r.Users {
		if _, voted := r.dissolve.Votes[userID]; !voted {
			r.dissolve.Votes[userID] = true
		}
	}
	vote = r.dissolve
	_, dissolved = r.tallyDissolve()
	r.dissolve = nil
	return vote, dissolved
}

// tallyDissolve 结算当前票型
// requireAllAgree 模式下任何反对票立刻否决；否则过半同意即解散
func (r *Room) tallyDissolve() (resolved, dissolved bool) {
	agree, disagree := 0, 0
	for _, v := range r.dissolve.Votes {
		if v {
			agree++
		} else {
			disagree++
		}
	}
	total := len(r.Users)

	if r.Rule.Dismiss.RequireAllAgree {
		if disagree > 0 {
			return true, false
		}
		return agree == total, agree == total
	}
	majority := total/2 + 1
	if agree >= majority {
		return true, true
	}
	if disagree > total-majority {
		return true, false
	}
	return false, false
}

// HasPendingDissolve 是否有进行中的解散投票
func (r *Room) HasPendingDissolve() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dissolve != nil
}

func (r *Room) findAvailableSeat() int {
	occupied := make(map[int]bool, len(r.Users))
	for _, ui := range r.Users {
		occupied[ui.SeatIndex] = true
	}
	for i := 0; i < MaxPlayers; i++ {
		if !occupied[i] {
			return i
		}
	}
	return -1
}
