package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"livechat/internal/cache"
	"livechat/internal/config"
	"livechat/internal/db"
	clog "livechat/internal/log"
	"livechat/internal/server"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var (
		roomCache cache.RoomCache = cache.Noop{}
		rdb       *redis.Client
	)
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err = cache.Dial(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, room cache disabled")
		} else {
			roomCache = cache.NewRedis(rdb, "livechat:dm:", time.Duration(cfg.RoomCacheTTLMinutes)*time.Minute)
		}
	}

	app := server.New(cfg, gdb, roomCache)
	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	go app.Limiter.Run(limiterCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"livechat": func(ctx context.Context) error {
				// hijacked 的 websocket 连接不受 Shutdown 管理，先由 hub 主动断开
				app.Hub.Close()
				stopLimiter()
				if err := srv.Shutdown(ctx); err != nil {
					return err
				}
				if rdb != nil {
					_ = rdb.Close()
				}
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("server stopped")
	os.Exit(exitCode)
}
