package model

import "time"

// User 目录服务中的用户视图
// 展示名只保存一份，头像等展示字段在接口层派生
type User struct {
	ID                  int64     `json:"id,string" yaml:"id"`
	DisplayName         string    `json:"displayName" yaml:"display_name"`
	AvatarURL           string    `json:"avatarUrl" yaml:"avatar_url"`
	IsOnline            bool      `json:"isOnline" yaml:"-"`
	LastActive          time.Time `json:"lastActive" yaml:"-"`
	UnreadNotifications int64     `json:"unreadNotifications" yaml:"-"`
}

// UserSummary 列表中展示的精简用户信息
type UserSummary struct {
	ID          int64  `json:"id,string"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	IsOnline    bool   `json:"isOnline"`
}

// Summary 派生精简信息
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsOnline:    u.IsOnline,
	}
}
