package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"livechat/internal/auth"
	"livechat/internal/cache"
	"livechat/internal/config"
	clog "livechat/internal/log"
	"livechat/internal/metrics"
	"livechat/internal/mw"
	"livechat/internal/presence"
	"livechat/internal/service"
	"livechat/internal/store"
	"livechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// App 是装配好的服务实例，main 与测试共用。
type App struct {
	Engine   *gin.Engine
	Hub      *ws.Hub
	Presence *presence.Registry
	Limiter  *mw.KeyedLimiter
}

// New 按配置装配 store、service、实时事件分发与 HTTP 路由。rc 为 nil 时不使用缓存。
func New(cfg config.Config, gdb *gorm.DB, rc cache.RoomCache) *App {
	st := store.NewGormStore(gdb)
	clock := service.NewClock()
	userSvc := service.NewUserService(st, cfg)
	roomSvc := service.NewRoomService(st, rc, clock)
	msgSvc := service.NewMessageService(st, roomSvc, clock)

	hub := ws.NewHub()
	reg := presence.NewRegistry(nil)
	dispatcher := ws.NewDispatcher(hub, reg, userSvc, roomSvc, msgSvc)

	// 控制单个 IP+路由的速率。
	limiter := mw.NewKeyedLimiter(rate.Limit(cfg.HTTPRequestsPerSecond), cfg.HTTPRequestBurst, 2*time.Minute)
	h := NewHandler(cfg, userSvc, roomSvc, msgSvc, dispatcher)
	lookup := func(c *gin.Context, username string) error {
		_, err := userSvc.Get(c.Request.Context(), username)
		return err
	}
	return &App{
		Engine:   SetupRouter(cfg, h, dispatcher, limiter, lookup),
		Hub:      hub,
		Presence: reg,
		Limiter:  limiter,
	}
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, d *ws.Dispatcher, limiter *mw.KeyedLimiter, lookup auth.UserLookup) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(clog.AccessLog())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.Serve(d, cfg))

	api := r.Group("/api/v1")
	api.Use(mw.RateLimit(limiter))

	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/avatars", h.Avatars)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg.JWTSecret, lookup))

	authed.GET("/auth/me", h.Me)
	authed.GET("/users", h.ListUsers)
	authed.GET("/users/:username", h.GetUser)
	authed.PATCH("/users/avatar", h.UpdateAvatar)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id/messages", h.RoomMessages)
	authed.GET("/groups", h.ListGroups)
	authed.GET("/groups/mine", h.MyGroups)
	authed.GET("/groups/:name", h.GetGroup)
	authed.GET("/groups/:name/messages", h.GroupMessages)

	serveFrontend(r, filepath.Join(".", "frontend", "dist"))
	return r
}

// serveFrontend 在构建产物存在时托管单页应用，未知路径回落到 index.html。
func serveFrontend(r *gin.Engine, distDir string) {
	index := filepath.Join(distDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return
	}
	r.NoRoute(func(c *gin.Context) {
		rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
		if strings.HasPrefix(rel, "api/") || rel == "ws" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		target := filepath.Join(distDir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		if strings.Contains(rel, ".") {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(index)
	})
}
