package service

import (
	"math/rand"
	"net/url"
	"slices"
)

const avatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="

var avatarSeeds = []string{
	"Felix", "Aneka", "Princess", "Boots", "Snickers", "Milo", "Jasper", "Oscar", "Bailey", "Midnight",
	"Smokey", "Shadow", "Chloe", "Lily", "Bella", "Lucy", "Charlie", "Max", "Jack", "Buddy",
}

// Avatars 返回可选头像列表的副本。
func Avatars() []string {
	out := make([]string, 0, len(avatarSeeds))
	for _, s := range avatarSeeds {
		out = append(out, avatarBase+s)
	}
	return out
}

func RandomAvatar() string {
	return avatarBase + avatarSeeds[rand.Intn(len(avatarSeeds))]
}

func IsValidAvatar(avatar string) bool {
	return slices.Contains(Avatars(), avatar)
}

// GroupAvatar 由群组名确定性地生成头像地址。
func GroupAvatar(name string) string {
	return "https://api.dicebear.com/7.x/shapes/svg?seed=" + url.QueryEscape(name)
}
