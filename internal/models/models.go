package models

import "time"

// User 以用户名为身份主键；Groups 只是已加入群组的冗余缓存，权威数据在 GroupMember。
type User struct {
	Username  string    `gorm:"primaryKey;size:64" json:"username"`
	Avatar    string    `gorm:"size:256;not null" json:"avatar"`
	Groups    []string  `gorm:"column:group_names;serializer:json" json:"groups"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DirectRoom 是两人私聊房间，PairKey 为排序后的成员对，唯一索引保证每对用户最多一个房间。
type DirectRoom struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	MemberA   string    `gorm:"size:64;not null;index" json:"-"`
	MemberB   string    `gorm:"size:64;not null;index" json:"-"`
	PairKey   string    `gorm:"uniqueIndex;size:160;not null" json:"-"`
	Members   []string  `gorm:"-" json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Group 以名称为主键（大小写敏感），Members 按加入顺序由 GroupMember 填充。
type Group struct {
	Name        string    `gorm:"primaryKey;size:128" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Avatar      string    `gorm:"size:256" json:"avatar"`
	CreatedBy   string    `gorm:"size:64;not null" json:"created_by"`
	Members     []string  `gorm:"-" json:"members"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Group) TableName() string { return "chat_groups" }

type GroupMember struct {
	ID        uint      `gorm:"primaryKey"`
	GroupName string    `gorm:"uniqueIndex:idx_group_member;size:128;not null"`
	Username  string    `gorm:"uniqueIndex:idx_group_member;size:64;not null;index"`
	JoinedAt  time.Time `gorm:"not null"`
}

type DirectMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"index:idx_dm_room_time,priority:1;size:36;not null" json:"room_id"`
	Sender    string    `gorm:"size:64;not null" json:"sender"`
	Message   string    `gorm:"type:text" json:"message"`
	ImageURL  string    `gorm:"type:text" json:"image_url,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_dm_room_time,priority:2;not null" json:"created_at"`
}

type GroupMessage struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	GroupName       string    `gorm:"index:idx_gm_group_time,priority:1;size:128;not null" json:"group_name"`
	Sender          string    `gorm:"size:64;not null" json:"sender"`
	Message         string    `gorm:"type:text" json:"message"`
	ImageURL        string    `gorm:"type:text" json:"image_url,omitempty"`
	IsSystemMessage bool      `gorm:"not null;default:false" json:"is_system_message"`
	CreatedAt       time.Time `gorm:"index:idx_gm_group_time,priority:2;not null" json:"created_at"`
}
