package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/domain/repository"
	"github.com/JackieWYB/majiang-sub003/dto"
)

const (
	snapshotKeyPrefix = "game:"
	snapshotTTL       = 2 * time.Hour
	retryQueueSize    = 256
)

// 版本号比较在 redis 侧做，保证多次写入只留最新版本
var saveSnapshotScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type pendingSnapshot struct {
	roomID  string
	version int64
	data    []byte
}

// SnapshotStore redis 快照热存储
// 写失败进有界重试队列，由后台协程消化；队列满则丢弃最旧的
type SnapshotStore struct {
	rdb   redis.Cmdable
	retry chan pendingSnapshot
	done  chan struct{}
}

func NewSnapshotStore(rdb redis.Cmdable) repository.SnapshotStore {
	s := &SnapshotStore{
		rdb:   rdb,
		retry: make(chan pendingSnapshot, retryQueueSize),
		done:  make(chan struct{}),
	}
	go s.retryLoop()
	return s
}

func snapshotKey(roomID string) string {
	return snapshotKeyPrefix + roomID
}

// SaveSnapshot 写入快照并刷新 TTL
// 版本号落后于已存版本时静默丢弃
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, roomID string, version int64, data []byte) error {
	err := s.save(ctx, roomID, version, data)
	if err != nil {
		s.enqueueRetry(pendingSnapshot{roomID: roomID, version: version, data: data})
	}
	return err
}

func (s *SnapshotStore) save(ctx context.Context, roomID string, version int64, data []byte) error {
	return saveSnapshotScript.Run(ctx, s.rdb,
		[]string{snapshotKey(roomID)},
		version, data, snapshotTTL.Milliseconds(),
	).Err()
}

// LoadSnapshot 读取最新快照
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, roomID string) (int64, []byte, error) {
	fields, err := s.rdb.HGetAll(ctx, snapshotKey(roomID)).Result()
	if err != nil {
		return 0, nil, err
	}
	if len(fields) == 0 {
		return 0, nil, dto.ErrSnapshotNotFound
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return 0, nil, dto.ErrSnapshotNotFound
	}
	return version, []byte(fields["data"]), nil
}

func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, snapshotKey(roomID)).Err()
}

func (s *SnapshotStore) Close() {
	close(s.done)
}

func (s *SnapshotStore) enqueueRetry(p pendingSnapshot) {
	for {
		select {
		case s.retry <- p:
			return
		default:
			// 队列满，丢最旧的腾位置
			select {
			case dropped := <-s.retry:
				log.Warn("快照重试队列已满，丢弃旧快照: room=%s version=%d", dropped.roomID, dropped.version)
			default:
			}
		}
	}
}

func (s *SnapshotStore) retryLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.drainRetries()
		}
	}
}

func (s *SnapshotStore) drainRetries() {
	for {
		select {
		case p := <-s.retry:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := s.save(ctx, p.roomID, p.version, p.data)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					log.Warn("快照重试超时: room=%s version=%d", p.roomID, p.version)
				}
				s.enqueueRetry(p)
				return
			}
		default:
			return
		}
	}
}
