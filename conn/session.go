package conn

import (
	"sync"
)

// Session 单个连接的会话数据
type Session struct {
	sync.RWMutex
	ConnID string
	UserID string
	RoomID string
}

func NewSession(connID string) *Session {
	return &Session{ConnID: connID}
}

func (s *Session) SetUserID(userID string) {
	s.Lock()
	s.UserID = userID
	s.Unlock()
}

func (s *Session) GetUserID() string {
	s.RLock()
	defer s.RUnlock()
	return s.UserID
}

func (s *Session) SetRoomID(roomID string) {
	s.Lock()
	s.RoomID = roomID
	s.Unlock()
}

func (s *Session) GetRoomID() string {
	s.RLock()
	defer s.RUnlock()
	return s.RoomID
}

func (s *Session) Close() {
	s.Lock()
	defer s.Unlock()
	s.RoomID = ""
}
