package model

import (
	"strings"
	"time"
)

// User 用户资料（外部资料库的本地投影）
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Handle      string    `json:"handle" gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(128)"`
	AvatarURL   string    `json:"avatar_url" gorm:"type:varchar(512)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// NormalizeHandle handle 统一小写并去掉首尾空白
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
