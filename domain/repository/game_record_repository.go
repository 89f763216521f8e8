package repository

import (
	"context"

	"github.com/JackieWYB/majiang-sub003/domain/entity"
)

// GameRecordRepository 牌谱冷存储
type GameRecordRepository interface {
	Save(ctx context.Context, record *entity.GameRecord) error
	FindByGameID(ctx context.Context, gameID string) (*entity.GameRecord, error)
	ListByRoom(ctx context.Context, roomID string, limit int64) ([]*entity.GameRecord, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]*entity.GameRecord, error)
}

// SnapshotStore 对局快照热存储
// 版本号只增，旧版本写入直接丢弃
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, roomID string, version int64, data []byte) error
	LoadSnapshot(ctx context.Context, roomID string) (version int64, data []byte, err error)
	DeleteSnapshot(ctx context.Context, roomID string) error
}
