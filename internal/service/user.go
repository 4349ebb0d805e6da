package service

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"livechat/internal/auth"
	"livechat/internal/config"
	"livechat/internal/models"
	"livechat/internal/store"

	"github.com/rs/zerolog/log"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{1,64}$`)

// NormalizeUsername 去除首尾空白并转为小写，用户名即身份主键。
func NormalizeUsername(raw string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(raw))
	if u == "" {
		return "", invalid("username is required")
	}
	if !usernamePattern.MatchString(u) {
		return "", invalid("username may only contain letters, digits, '.', '_' and '-' (max 64)")
	}
	return u, nil
}

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	store store.Store
	cfg   config.Config
}

func NewUserService(st store.Store, cfg config.Config) *UserService {
	return &UserService{store: st, cfg: cfg}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	User        *models.User `json:"user"`
	AccessToken string       `json:"access_token"`
	Created     bool         `json:"-"`
}

// Login 登录即注册：用户名不存在时以随机头像创建，随后签发 token。
func (s *UserService) Login(ctx context.Context, rawUsername string) (*LoginResult, error) {
	username, err := NormalizeUsername(rawUsername)
	if err != nil {
		return nil, err
	}

	created := false
	user, err := s.store.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		user = &models.User{Username: username, Avatar: RandomAvatar(), Groups: []string{}}
		err = s.store.CreateUser(ctx, user)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, store.ErrDuplicate):
			// 并发登录同一个新用户名，读取对方刚创建的记录
			user, err = s.store.FindUserByUsername(ctx, username)
		}
	}
	if err != nil {
		return nil, persistence("login", err)
	}

	if !created {
		if groups, err := reconcileGroups(ctx, s.store, user.Username); err == nil {
			user.Groups = groups
		} else {
			log.Warn().Err(err).Str("username", user.Username).Msg("reconcile groups at login")
		}
	}

	token, err := auth.GenerateAccessToken(user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, AccessToken: token, Created: created}, nil
}

func (s *UserService) Get(ctx context.Context, username string) (*models.User, error) {
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistence("get user", err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, persistence("list users", err)
	}
	return users, nil
}

// UpdateAvatar 只接受预置头像列表中的地址。
func (s *UserService) UpdateAvatar(ctx context.Context, username, avatar string) (*models.User, error) {
	if !IsValidAvatar(avatar) {
		return nil, invalid("invalid avatar selection")
	}
	user, err := s.store.UpdateUserAvatar(ctx, username, avatar)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistence("update avatar", err)
	}
	return user, nil
}

// reconcileGroups 用权威的群成员表重写用户的 groups 缓存，返回最新的群名列表。
func reconcileGroups(ctx context.Context, st store.Store, username string) ([]string, error) {
	groups, err := st.ListGroupsOf(ctx, username)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	slices.Sort(names)

	user, err := st.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	cached := slices.Clone(user.Groups)
	slices.Sort(cached)
	if slices.Equal(cached, names) {
		return user.Groups, nil
	}
	if err := st.SetUserGroups(ctx, username, names); err != nil {
		return nil, err
	}
	return names, nil
}
