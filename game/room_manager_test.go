package game

import (
	"sync"
	"testing"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game/engines"
	"github.com/JackieWYB/majiang-sub003/game/share"
)

type engineLog struct {
	mu     sync.Mutex
	inits  []string
	closes int
}

type stubEngine struct {
	log *engineLog
}

func (se *stubEngine) InitializeEngine(roomID string, users map[string]*share.UserInfo) error {
	se.log.mu.Lock()
	defer se.log.mu.Unlock()
	se.log.inits = append(se.log.inits, roomID)
	return nil
}

func (se *stubEngine) NotifyEvent(event share.GameEvent) {}

func (se *stubEngine) Clone() engines.Engine { return &stubEngine{log: se.log} }

func (se *stubEngine) Terminate() {}

func (se *stubEngine) Close() {
	se.log.mu.Lock()
	defer se.log.mu.Unlock()
	se.log.closes++
}

func newTestManager(t *testing.T) (*RoomManager, *engineLog) {
	t.Helper()
	config.Conf.RoomConf.IDRetry = 16
	elog := &engineLog{}
	rm := NewRoomManager()
	if err := rm.SetEnginePrototype(&stubEngine{log: elog}); err != nil {
		t.Fatalf("SetEnginePrototype: %v", err)
	}
	return rm, elog
}

func TestCreateRoom(t *testing.T) {
	rm, _ := newTestManager(t)

	room, err := rm.CreateRoom("u0", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.OwnerID != "u0" || room.PlayerCount() != 1 {
		t.Fatalf("owner should be seated on creation")
	}
	if got, ok := rm.GetPlayerRoom("u0"); !ok || got.ID != room.ID {
		t.Fatalf("player routing should point at the new room")
	}

	if _, err := rm.CreateRoom("u0", roomRule(true)); gameErrCode(t, err) != dto.CodeAlreadyInRoom {
		t.Fatalf("owner cannot create a second room")
	}
}

func TestJoinRoom_FullStartsEngine(t *testing.T) {
	rm, elog := newTestManager(t)

	room, err := rm.CreateRoom("u0", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := rm.JoinRoom(room.ID, "u1"); err != nil {
		t.Fatalf("JoinRoom(u1): %v", err)
	}
	if room.Engine != nil {
		t.Fatalf("engine must not attach before the room is full")
	}
	if _, seat, err := rm.JoinRoom(room.ID, "u2"); err != nil || seat != 2 {
		t.Fatalf("JoinRoom(u2): seat=%d err=%v", seat, err)
	}

	if room.Engine == nil || room.GetStatus() != RoomStatusPlaying {
		t.Fatalf("full room should clone the engine and start playing")
	}
	elog.mu.Lock()
	defer elog.mu.Unlock()
	if len(elog.inits) != 1 || elog.inits[0] != room.ID {
		t.Fatalf("engine clone should be initialized for the room, got %v", elog.inits)
	}
}

func TestJoinRoom_Errors(t *testing.T) {
	rm, _ := newTestManager(t)
	room, err := rm.CreateRoom("u0", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if _, _, err := rm.JoinRoom("999999", "u1"); gameErrCode(t, err) != dto.CodeNoSuchRoom {
		t.Fatalf("joining a missing room should fail")
	}

	other, err := rm.CreateRoom("u1", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := rm.JoinRoom(room.ID, "u1"); gameErrCode(t, err) != dto.CodeAlreadyInRoom {
		t.Fatalf("player already routed to %s cannot join %s", other.ID, room.ID)
	}
}

func TestLeaveRoom_EmptyRoomDeleted(t *testing.T) {
	rm, _ := newTestManager(t)
	room, err := rm.CreateRoom("u0", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := rm.LeaveRoom(room.ID, "u0"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if _, ok := rm.GetRoom(room.ID); ok {
		t.Fatalf("empty room should be deleted")
	}
	if _, ok := rm.GetPlayerRoom("u0"); ok {
		t.Fatalf("player routing should be cleared")
	}
}

func TestDeleteRoom_ClosesEngine(t *testing.T) {
	rm, elog := newTestManager(t)
	room, err := rm.CreateRoom("u0", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	rm.JoinRoom(room.ID, "u1")
	rm.JoinRoom(room.ID, "u2")

	if err := rm.DeleteRoom(room.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if _, ok := rm.GetRoom(room.ID); ok {
		t.Fatalf("room should be gone")
	}
	if rooms, players := rm.GetStats(); rooms != 0 || players != 0 {
		t.Fatalf("stats should be empty, got rooms=%d players=%d", rooms, players)
	}

	// engine close is asynchronous
	deadline := time.Now().Add(time.Second)
	for {
		elog.mu.Lock()
		closes := elog.closes
		elog.mu.Unlock()
		if closes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine should be closed with the room")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweep_RemovesIdleRooms(t *testing.T) {
	rm, _ := newTestManager(t)
	idle, err := rm.CreateRoom("u0", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	active, err := rm.CreateRoom("u1", roomRule(true))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	idle.mu.Lock()
	idle.lastActiveAt = time.Now().Add(-time.Hour).UnixMilli()
	idle.mu.Unlock()

	swept := rm.Sweep(30 * time.Minute)
	if len(swept) != 1 || swept[0] != idle.ID {
		t.Fatalf("only the idle room should be swept, got %v", swept)
	}
	if _, ok := rm.GetRoom(active.ID); !ok {
		t.Fatalf("active room must survive the sweep")
	}
	if _, ok := rm.GetPlayerRoom("u0"); ok {
		t.Fatalf("swept room players should lose their routing")
	}
}
