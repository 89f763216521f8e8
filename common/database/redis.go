package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/log"
)

type RedisManager struct {
	Cli        *redis.Client
	ClusterCli *redis.ClusterClient
}

func NewRedis(redisConf config.RedisConf) *RedisManager {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterCli *redis.ClusterClient
	var cli *redis.Client

	var addr string
	if redisConf.Addr != "" {
		addr = redisConf.Addr
	} else if redisConf.Host != "" && redisConf.Port > 0 {
		addr = fmt.Sprintf("%s:%d", redisConf.Host, redisConf.Port)
	} else {
		panic("redis 配置出错")
	}

	if len(redisConf.ClusterAddrs) == 0 {
		cli = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     redisConf.Password,
			PoolSize:     redisConf.PoolSize,
			MinIdleConns: redisConf.MinIdleConns,
		})
	} else {
		clusterCli = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        redisConf.ClusterAddrs,
			Password:     redisConf.Password,
			PoolSize:     redisConf.PoolSize,
			MinIdleConns: redisConf.MinIdleConns,
		})
	}
	if cli != nil {
		if err := cli.Ping(ctx).Err(); err != nil {
			log.Fatal("redis 连接错误: %v", err)
			return nil
		}
	}
	if clusterCli != nil {
		if err := clusterCli.Ping(ctx).Err(); err != nil {
			log.Fatal("redisCluster 连接错误: %v", err)
			return nil
		}
	}

	return &RedisManager{Cli: cli, ClusterCli: clusterCli}
}

func (r *RedisManager) GetClient() (redis.Cmdable, error) {
	if r.Cli != nil {
		return r.Cli, nil
	}
	if r.ClusterCli != nil {
		return r.ClusterCli, nil
	}
	return nil, fmt.Errorf("redis 客户端未初始化")
}

func (r *RedisManager) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	cli, err := r.GetClient()
	if err != nil {
		return err
	}
	return cli.Set(ctx, key, value, expiration).Err()
}

func (r *RedisManager) Get(ctx context.Context, key string) (string, error) {
	cli, err := r.GetClient()
	if err != nil {
		return "", err
	}
	return cli.Get(ctx, key).Result()
}

func (r *RedisManager) Del(ctx context.Context, keys ...string) error {
	cli, err := r.GetClient()
	if err != nil {
		return err
	}
	return cli.Del(ctx, keys...).Err()
}

func (r *RedisManager) Exists(ctx context.Context, key ...string) (int64, error) {
	cli, err := r.GetClient()
	if err != nil {
		return 0, err
	}
	return cli.Exists(ctx, key...).Result()
}

func (r *RedisManager) Close() error {
	if r.Cli != nil {
		if err := r.Cli.Close(); err != nil {
			log.Error("redis 关闭出错: %v", err)
			return err
		}
	}
	if r.ClusterCli != nil {
		if err := r.ClusterCli.Close(); err != nil {
			log.Error("redisCluster 关闭出错: %v", err)
			return err
		}
	}
	return nil
}
