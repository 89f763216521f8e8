package conn

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/jwts"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/common/utils"
	"github.com/JackieWYB/majiang-sub003/dto"
	"github.com/JackieWYB/majiang-sub003/game"
)

/*
	长连接网关职责：
	1.连接生命周期：升级、鉴权、心跳、单用户单连接（新连接顶掉旧连接）
	2.请求帧路由：REQ 帧解码后交给 game.Worker，回 RESP / ERROR
	3.事件推送：实现 mahjong.Pusher，把引擎事件打成 EVENT 帧下发
	4.断线重连：旧连接掉线通知引擎，新连接绑定后触发快照补发
*/

type CheckOriginHandler func(r *http.Request) bool

type ClientBucket struct {
	sync.RWMutex
	clients map[string]Connection
}

func NewClientBucket() *ClientBucket {
	return &ClientBucket{clients: make(map[string]Connection)}
}

type Worker struct {
	nodeID             string
	websocketUpgrade   *websocket.Upgrader
	upgradeOnce        sync.Once
	CheckOriginHandler CheckOriginHandler

	clientBuckets     []*ClientBucket
	clientWorkers     []chan *MessagePack
	bucketMask        uint32
	clientWorkerCount int

	ConnectionRateLimiter *utils.RateLimiter
	Verifier              jwts.Verifier
	GameWorker            *game.Worker

	maxConnectionCount int
	connSemaphore      chan struct{}
	stats              struct {
		messageProcessed   int64
		messageErrors      int64
		avgProcessingTime  int64
		currentConnections int32
	}

	connMap   sync.Map // userID -> Connection
	isRunning bool
}

// NewWorker 创建连接层 Worker
func NewWorker(gameWorker *game.Worker, verifier jwts.Verifier) *Worker {
	bucketCount := 32
	workerCount := runtime.NumCPU() * 2

	w := &Worker{
		nodeID:                config.Conf.ID,
		bucketMask:            uint32(bucketCount - 1),
		clientWorkerCount:     workerCount,
		ConnectionRateLimiter: utils.NewRateLimiter(100, 10),
		Verifier:              verifier,
		GameWorker:            gameWorker,
		maxConnectionCount:    100000,
		connSemaphore:         make(chan struct{}, 100000),
	}

	w.clientBuckets = make([]*ClientBucket, bucketCount)
	for i := 0; i < bucketCount; i++ {
		w.clientBuckets[i] = NewClientBucket()
	}
	w.clientWorkers = make([]chan *MessagePack, workerCount)
	for i := 0; i < workerCount; i++ {
		w.clientWorkers[i] = make(chan *MessagePack, 256)
	}
	w.CheckOriginHandler = func(r *http.Request) bool { return true }

	// 引擎推送经 game.Worker 转发到这里
	gameWorker.SetPusher(w)
	return w
}

// Run 启动 websocket 服务，阻塞直到监听失败
func (w *Worker) Run(addr string) error {
	if w.isRunning {
		return nil
	}
	w.isRunning = true

	for i := 0; i < w.clientWorkerCount; i++ {
		go w.clientWorkerRoutine(i)
	}
	go w.monitorPerformance()

	http.HandleFunc("/ws", w.upgradeFunc)
	log.Info("websocket worker 启动了 %d 个 worker 协程和 %d 个连接分片桶", w.clientWorkerCount, len(w.clientBuckets))
	log.Info("websocket 监听地址 %s", addr)
	return http.ListenAndServe(addr, nil)
}

func (w *Worker) upgradeFunc(writer http.ResponseWriter, r *http.Request) {
	userID, err := w.identifyUser(r)
	if err != nil {
		http.Error(writer, "unauthorized", http.StatusUnauthorized)
		log.Warn("连接鉴权失败 remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	if !w.ConnectionRateLimiter.Allow() {
		http.Error(writer, "too many connections", http.StatusTooManyRequests)
		log.Warn("连接速率超限 remote=%s", r.RemoteAddr)
		return
	}
	if atomic.LoadInt32(&w.stats.currentConnections) >= int32(w.maxConnectionCount) {
		http.Error(writer, "server is at capacity", http.StatusServiceUnavailable)
		return
	}

	w.upgradeOnce.Do(w.initUpgrade)
	conn, err := w.websocketUpgrade.Upgrade(writer, r, nil)
	if err != nil {
		log.Warn("websocket 升级失败: %v", err)
		return
	}

	client := NewLongConnection(conn, w)
	client.Session.SetUserID(userID)
	w.BindUser(userID, client)
	w.addClient(client)
	client.Run()
	log.Info("WebSocket 建立连接: userID=%s connID=%s remote=%s", userID, client.ConnID, r.RemoteAddr)

	// 已在对局中的玩家视为重连，引擎会补发脱敏快照
	if w.GameWorker.OnReconnect(userID) {
		log.Info("玩家 %s 断线重连", userID)
	}
}

// identifyUser 握手鉴权，token 放在 query 参数里
func (w *Worker) identifyUser(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("缺少 token")
	}
	userID, err := w.Verifier.Verify(token)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.New("token 中 userID 为空")
	}
	return userID, nil
}

func (w *Worker) addClient(client *LongConnection) {
	bucket := w.getBucket(client.ConnID)
	select {
	case w.connSemaphore <- struct{}{}:
		bucket.Lock()
		bucket.clients[client.ConnID] = client
		bucket.Unlock()
		atomic.AddInt32(&w.stats.currentConnections, 1)
	default:
		log.Warn("addClient: 连接数达到上限")
		client.Close()
	}
}

func (w *Worker) removeClient(con *LongConnection) {
	bucket := w.getBucket(con.ConnID)
	removed := false

	bucket.Lock()
	if _, ok := bucket.clients[con.ConnID]; ok {
		delete(bucket.clients, con.ConnID)
		removed = true
	}
	bucket.Unlock()

	if !removed {
		return
	}

	userID := con.Session.GetUserID()
	// 被新连接顶掉时这里解绑会失败，不触发掉线流程
	if w.UnbindUser(userID, con) {
		w.GameWorker.OnDisconnect(userID)
	}

	con.Close()
	select {
	case <-w.connSemaphore:
	default:
	}
	atomic.AddInt32(&w.stats.currentConnections, -1)
}

// BindUser 单用户单连接，旧连接收到 replaced 后被顶掉
func (w *Worker) BindUser(userID string, conn Connection) {
	if userID == "" || conn == nil {
		return
	}
	if oldConn, ok := w.connMap.Load(userID); ok {
		if existing, ok := oldConn.(Connection); ok && existing != conn {
			log.Info("用户 %s 已有连接，踢出旧连接", userID)
			w.sendErrorTo(existing, "", dto.CodeReplaced, "账号在其他位置登录")
			existing.Close()
		}
	}
	w.connMap.Store(userID, conn)
}

// UnbindUser 解绑连接，只有当前绑定的连接才解得掉
func (w *Worker) UnbindUser(userID string, conn Connection) bool {
	if userID == "" {
		return false
	}
	if stored, ok := w.connMap.Load(userID); ok {
		if conn == nil || stored == conn {
			w.connMap.Delete(userID)
			return true
		}
	}
	return false
}

func (w *Worker) dispatch(pack *MessagePack) {
	index := fnv32(pack.ConnID) % uint32(w.clientWorkerCount)
	select {
	case w.clientWorkers[index] <- pack:
	default:
		atomic.AddInt64(&w.stats.messageErrors, 1)
		log.Warn("客户端[%s] worker 队列已满，丢弃消息", pack.ConnID)
	}
}

func (w *Worker) clientWorkerRoutine(workerID int) {
	for pack := range w.clientWorkers[workerID] {
		startTime := time.Now()
		w.handlePack(pack)

		processingTime := time.Since(startTime).Milliseconds()
		atomic.AddInt64(&w.stats.messageProcessed, 1)
		oldAvg := atomic.LoadInt64(&w.stats.avgProcessingTime)
		atomic.StoreInt64(&w.stats.avgProcessingTime, (oldAvg*9+processingTime)/10)
	}
}

// handlePack 解码请求帧并路由
func (w *Worker) handlePack(pack *MessagePack) {
	conn, ok := w.getClient(pack.ConnID)
	if !ok {
		return
	}

	var frame dto.Frame
	if err := json.Unmarshal(pack.Body, &frame); err != nil {
		atomic.AddInt64(&w.stats.messageErrors, 1)
		w.sendErrorTo(conn, "", dto.CodeInvalidAction, "消息帧格式错误")
		return
	}
	if frame.Type != dto.FrameReq {
		w.sendErrorTo(conn, frame.ReqID, dto.CodeInvalidAction, "只接受 REQ 帧")
		return
	}

	// 心跳在连接层直接回
	if frame.Cmd == dto.CmdHeartbeat {
		w.sendResp(conn, &frame, map[string]int64{"serverTime": time.Now().UnixMilli()})
		return
	}

	userID := conn.GetSession().GetUserID()
	result, err := w.GameWorker.HandleFrame(userID, &frame)
	if err != nil {
		atomic.AddInt64(&w.stats.messageErrors, 1)
		var ge *dto.GameError
		if errors.As(err, &ge) {
			w.sendErrorTo(conn, frame.ReqID, ge.Code, ge.Message)
		} else {
			log.Error("处理命令失败: cmd=%s user=%s err=%v", frame.Cmd, userID, err)
			w.sendErrorTo(conn, frame.ReqID, dto.CodeInternal, "服务内部错误")
		}
		return
	}
	w.sendResp(conn, &frame, result)
}

// Push 实现 mahjong.Pusher，把引擎事件打成帧下发
// event 为 dto.FrameError 时下发 ERROR 帧
func (w *Worker) Push(userIDs []string, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error("Push 序列化失败: event=%s err=%v", event, err)
		return
	}

	frameType := dto.FrameEvent
	cmd := event
	if event == dto.FrameError {
		frameType = dto.FrameError
		cmd = ""
	}
	buf, err := json.Marshal(&dto.Frame{
		Type:      frameType,
		Cmd:       cmd,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		connAny, ok := w.connMap.Load(userID)
		if !ok {
			continue // 掉线玩家的事件直接丢，重连靠快照
		}
		conn, ok := connAny.(Connection)
		if !ok {
			continue
		}
		if err := conn.SendMessage(buf); err != nil {
			log.Warn("Push 发送失败 userID=%s event=%s err=%v", userID, event, err)
		}
	}
}

func (w *Worker) sendResp(conn Connection, req *dto.Frame, result any) {
	payload, err := json.Marshal(result)
	if err != nil {
		w.sendErrorTo(conn, req.ReqID, dto.CodeInternal, "响应序列化失败")
		return
	}
	buf, err := json.Marshal(&dto.Frame{
		Type:      dto.FrameResp,
		Cmd:       req.Cmd,
		ReqID:     req.ReqID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := conn.SendMessage(buf); err != nil {
		log.Warn("sendResp 发送失败: cmd=%s err=%v", req.Cmd, err)
	}
}

func (w *Worker) sendErrorTo(conn Connection, reqID string, code dto.ErrorCode, message string) {
	payload, _ := json.Marshal(map[string]string{"code": string(code), "message": message})
	buf, err := json.Marshal(&dto.Frame{
		Type:      dto.FrameError,
		ReqID:     reqID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	_ = conn.SendMessage(buf)
}

func (w *Worker) getClient(connID string) (Connection, bool) {
	bucket := w.getBucket(connID)
	bucket.RLock()
	conn, ok := bucket.clients[connID]
	bucket.RUnlock()
	return conn, ok
}

func (w *Worker) getBucket(connID string) *ClientBucket {
	return w.clientBuckets[fnv32(connID)&w.bucketMask]
}

func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func (w *Worker) monitorPerformance() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		log.Debug("性能监控: connections=%d messages=%d avg=%dms errors=%d",
			atomic.LoadInt32(&w.stats.currentConnections),
			atomic.LoadInt64(&w.stats.messageProcessed),
			atomic.LoadInt64(&w.stats.avgProcessingTime),
			atomic.LoadInt64(&w.stats.messageErrors))
	}
}

func (w *Worker) initUpgrade() {
	w.websocketUpgrade = &websocket.Upgrader{
		CheckOrigin:       w.CheckOriginHandler,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
	}
}

func (w *Worker) Close() {
	if !w.isRunning {
		return
	}
	w.isRunning = false
	for i := range w.clientWorkers {
		close(w.clientWorkers[i])
	}
}
