package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JackieWYB/majiang-sub003/common/database"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/domain/entity"
	"github.com/JackieWYB/majiang-sub003/domain/repository"
	"github.com/JackieWYB/majiang-sub003/dto"
)

const recordCollection = "game_records"

// GameRecordRepository mongo 牌谱仓储，带 ristretto 读缓存
// 牌谱写入后不可变，缓存无需失效逻辑
type GameRecordRepository struct {
	mongo *database.MongoManager
	cache *ristretto.Cache
}

func NewGameRecordRepository(mongo *database.MongoManager) (repository.GameRecordRepository, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     64 << 20, // 64MB
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	repo := &GameRecordRepository{mongo: mongo, cache: cache}
	if err := repo.ensureIndexes(context.Background()); err != nil {
		log.Warn("创建牌谱索引失败: %v", err)
	}
	return repo, nil
}

func (r *GameRecordRepository) ensureIndexes(ctx context.Context) error {
	coll := r.mongo.Db.Collection(recordCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "gameId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "roundIndex", Value: 1}}},
		{Keys: bson.D{{Key: "players.userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	return err
}

// Save 插入一条牌谱
func (r *GameRecordRepository) Save(ctx context.Context, record *entity.GameRecord) error {
	coll := r.mongo.Db.Collection(recordCollection)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if _, err := coll.InsertOne(ctx, record); err != nil {
		log.Error("保存牌谱失败: gameId=%s err=%v", record.GameID, err)
		return dto.ErrMongodb
	}
	r.cache.Set(record.GameID, record, 1)
	return nil
}

// FindByGameID 按 gameId 查牌谱，优先走缓存
func (r *GameRecordRepository) FindByGameID(ctx context.Context, gameID string) (*entity.GameRecord, error) {
	if cached, ok := r.cache.Get(gameID); ok {
		if record, ok := cached.(*entity.GameRecord); ok {
			return record, nil
		}
	}

	coll := r.mongo.Db.Collection(recordCollection)
	var record entity.GameRecord
	err := coll.FindOne(ctx, bson.M{"gameId": gameID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dto.ErrRecordNotFound
		}
		log.Error("查询牌谱失败: gameId=%s err=%v", gameID, err)
		return nil, err
	}
	r.cache.Set(gameID, &record, 1)
	return &record, nil
}

// ListByRoom 查房间最近的牌谱，按局数倒序
func (r *GameRecordRepository) ListByRoom(ctx context.Context, roomID string, limit int64) ([]*entity.GameRecord, error) {
	return r.list(ctx, bson.M{"roomId": roomID}, bson.M{"roundIndex": -1}, limit)
}

// ListByUser 查玩家参与过的牌谱，按时间倒序
func (r *GameRecordRepository) ListByUser(ctx context.Context, userID string, limit int64) ([]*entity.GameRecord, error) {
	return r.list(ctx, bson.M{"players.userId": userID}, bson.M{"createdAt": -1}, limit)
}

func (r *GameRecordRepository) list(ctx context.Context, filter bson.M, sort bson.M, limit int64) ([]*entity.GameRecord, error) {
	coll := r.mongo.Db.Collection(recordCollection)
	opts := options.Find().SetSort(sort).SetLimit(limit)
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		log.Error("查询牌谱列表失败: filter=%v err=%v", filter, err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*entity.GameRecord
	if err := cursor.All(ctx, &records); err != nil {
		log.Error("解析牌谱列表失败: %v", err)
		return nil, err
	}
	return records, nil
}
