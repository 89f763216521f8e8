package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JackieWYB/majiang-sub003/common/config"
	"github.com/JackieWYB/majiang-sub003/common/database"
	"github.com/JackieWYB/majiang-sub003/common/jwts"
	"github.com/JackieWYB/majiang-sub003/common/log"
	"github.com/JackieWYB/majiang-sub003/conn"
	"github.com/JackieWYB/majiang-sub003/game"
	"github.com/JackieWYB/majiang-sub003/infrastructure/persistence"
)

// Run 装配并启动服务，阻塞直到收到退出信号
func Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	redisManager := database.NewRedis(config.Conf.DatabaseConf.RedisConf)
	mongoManager := database.NewMongo(config.Conf.DatabaseConf.MongoConf)

	records, err := persistence.NewGameRecordRepository(mongoManager)
	if err != nil {
		log.Fatal("初始化牌谱仓储失败: %v", err)
		return err
	}
	redisCli, err := redisManager.GetClient()
	if err != nil {
		log.Fatal("获取 redis 客户端失败: %v", err)
		return err
	}
	snapshots := persistence.NewSnapshotStore(redisCli)

	gameWorker := game.NewWorker(records, snapshots)
	gameWorker.Start(ctx)

	verifier := jwts.HmacVerifier{Secret: config.Conf.JwtConf.Secret}
	connWorker := conn.NewWorker(gameWorker, verifier)

	go func() {
		if err := connWorker.Run(config.Conf.WsAddr); err != nil {
			log.Fatal("websocket 服务启动失败: %v", err)
		}
	}()

	stop := func() {
		log.Info("正在关闭服务...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		done := make(chan struct{})
		go func() {
			connWorker.Close()
			gameWorker.Close()
			if closer, ok := snapshots.(interface{ Close() }); ok {
				closer.Close()
			}
			_ = redisManager.Close()
			_ = mongoManager.Close()
			close(done)
		}()

		select {
		case <-done:
			log.Info("服务已关闭")
		case <-shutdownCtx.Done():
			log.Warn("关闭服务超时（5秒）")
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGHUP)
	select {
	case <-ctx.Done():
		stop()
		return nil
	case s := <-c:
		stop()
		log.Info("收到信号 %v，服务停止", s)
		return nil
	}
}
