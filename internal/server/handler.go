package server

import (
	"errors"
	"net/http"

	"livechat/internal/auth"
	"livechat/internal/config"
	"livechat/internal/service"
	"livechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg     config.Config
	userSvc *service.UserService
	roomSvc *service.RoomService
	msgSvc  *service.MessageService
	events  *ws.Dispatcher
}

func NewHandler(cfg config.Config, userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, events *ws.Dispatcher) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, events: events}
}

// writeError 将业务错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyMember), errors.Is(err, service.ErrDuplicateName):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("username", auth.GetUsername(c)).Msg(op)
		c.JSON(status, gin.H{"error": op + " failed", "code": service.Code(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": service.Code(err)})
}

// Login 登录即注册，成功后写入 token cookie。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Username)
	if err != nil {
		writeError(c, err, "login")
		return
	}
	auth.SetTokenCookie(c, result.AccessToken, h.cfg.AccessTokenTTLMinutes, h.cfg.CookieSecure)
	if result.Created {
		log.Info().Str("username", result.User.Username).Msg("user registered")
		h.events.NotifyNewUser(result.User)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Logout(c *gin.Context) {
	auth.ClearTokenCookie(c, h.cfg.CookieSecure)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.userSvc.Get(c.Request.Context(), auth.GetUsername(c))
	if err != nil {
		writeError(c, err, "get current user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.List(c.Request.Context())
	if err != nil {
		writeError(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetUser 只返回公开字段。
func (h *Handler) GetUser(c *gin.Context) {
	username, err := service.NormalizeUsername(c.Param("username"))
	if err != nil {
		writeError(c, err, "get user")
		return
	}
	user, err := h.userSvc.Get(c.Request.Context(), username)
	if err != nil {
		writeError(c, err, "get user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": user.Username, "avatar": user.Avatar})
}

func (h *Handler) UpdateAvatar(c *gin.Context) {
	var req struct {
		Avatar string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.userSvc.UpdateAvatar(c.Request.Context(), auth.GetUsername(c), req.Avatar)
	if err != nil {
		writeError(c, err, "update avatar")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) Avatars(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"avatars": service.Avatars()})
}

// ListRooms 返回当前用户的私聊房间。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.roomSvc.ListDirectRooms(c.Request.Context(), auth.GetUsername(c))
	if err != nil {
		writeError(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) RoomMessages(c *gin.Context) {
	msgs, err := h.msgSvc.LoadDirect(c.Request.Context(), auth.GetUsername(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "list room messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := h.roomSvc.ListGroups(c.Request.Context())
	if err != nil {
		writeError(c, err, "list groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *Handler) MyGroups(c *gin.Context) {
	groups, err := h.roomSvc.ListGroupsOf(c.Request.Context(), auth.GetUsername(c))
	if err != nil {
		writeError(c, err, "list my groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *Handler) GetGroup(c *gin.Context) {
	group, err := h.roomSvc.Group(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err, "get group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// GroupMessages 仅群成员可读。
func (h *Handler) GroupMessages(c *gin.Context) {
	msgs, err := h.msgSvc.LoadGroup(c.Request.Context(), auth.GetUsername(c), c.Param("name"))
	if err != nil {
		writeError(c, err, "list group messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
