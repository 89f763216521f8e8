package conn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/dto"
)

type Connection interface {
	GetSession() *Session
	SendMessage(buf []byte) error
	Close()
}

type MessagePack struct {
	ConnID string
	Body   []byte
}

var connIDBase uint64 = 10000

var (
	pongWait             = 60 * time.Second
	writeWait            = 10 * time.Second
	pingInterval         = (pongWait * 9) / 10
	maxMessageSize int64 = 4096
)

// LongConnection websocket 长连接，读写各一个协程
type LongConnection struct {
	ConnID     string
	Conn       *websocket.Conn
	worker     *Worker
	WriteChan  chan []byte
	Session    *Session
	pingTicker *time.Ticker
	closeChan  chan struct{}
	closeOnce  sync.Once
}

func NewLongConnection(conn *websocket.Conn, worker *Worker) *LongConnection {
	connID := fmt.Sprintf("conn_%d", atomic.AddUint64(&connIDBase, 1))
	return &LongConnection{
		ConnID:    connID,
		Conn:      conn,
		worker:    worker,
		WriteChan: make(chan []byte, 64),
		Session:   NewSession(connID),
		closeChan: make(chan struct{}),
	}
}

func (con *LongConnection) Run() {
	go con.readMessage()
	go con.writeMessage()
	con.Conn.SetPongHandler(con.PongHandler)
}

func (con *LongConnection) writeMessage() {
	con.pingTicker = time.NewTicker(pingInterval)
	for {
		select {
		case message, ok := <-con.WriteChan:
			if !ok {
				return
			}
			_ = con.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := con.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("客户端[%s] 写失败: %v", con.ConnID, err)
				con.Close()
				return
			}
		case <-con.pingTicker.C:
			_ = con.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := con.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn("客户端[%s] ping 失败: %v", con.ConnID, err)
				con.Close()
				return
			}
		case <-con.closeChan:
			return
		}
	}
}

func (con *LongConnection) readMessage() {
	defer con.worker.removeClient(con)

	con.Conn.SetReadLimit(maxMessageSize)
	if err := con.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn("客户端[%s] SetReadDeadline 失败: %v", con.ConnID, err)
		return
	}
	for {
		messageType, message, err := con.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("客户端[%s] 异常断开: %v", con.ConnID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			log.Warn("客户端[%s] 不支持的消息类型: %d", con.ConnID, messageType)
			continue
		}
		select {
		case <-con.closeChan:
			return
		default:
		}
		con.worker.dispatch(&MessagePack{ConnID: con.ConnID, Body: message})
	}
}

func (con *LongConnection) PongHandler(string) error {
	return con.Conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (con *LongConnection) GetSession() *Session {
	return con.Session
}

func (con *LongConnection) SendMessage(buf []byte) error {
	select {
	case <-con.closeChan:
		return dto.ErrConnectionClosed
	case con.WriteChan <- buf:
		return nil
	default:
		return dto.ErrSendChanFull
	}
}

func (con *LongConnection) Close() {
	con.closeOnce.Do(func() {
		close(con.closeChan)
		if con.pingTicker != nil {
			con.pingTicker.Stop()
		}
		if con.Conn != nil {
			_ = con.Conn.Close()
		}
		if con.Session != nil {
			con.Session.Close()
		}
		log.Info("客户端[%s] 连接关闭", con.ConnID)
	})
}
