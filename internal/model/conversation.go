package model

import (
	"sort"
	"strings"
	"time"
)

// ConversationKey 由两个用户 ID 按字典序拼接，与参数顺序无关
func ConversationKey(u1, u2 string) string {
	if u1 > u2 {
		u1, u2 = u2, u1
	}
	return u1 + "_" + u2
}

// Conversation 会话摘要，首次发消息时创建，之后只更新不删除
type Conversation struct {
	ID                  string               `gorm:"primaryKey;type:varchar(80)"`
	ParticipantA        string               `gorm:"type:varchar(36);index;not null"`
	ParticipantB        string               `gorm:"type:varchar(36);index;not null"`
	LastMessageText     string               `gorm:"type:text"`
	LastMessageSenderID string               `gorm:"type:varchar(36)"`
	LastMessageAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time            `gorm:"index"`
	Unread              []ConversationUnread `gorm:"foreignKey:ConversationID"`
}

func (Conversation) TableName() string { return "conversations" }

// NewConversation 构造空会话，参与者按字典序存放
func NewConversation(u1, u2 string) *Conversation {
	a, b := u1, u2
	if a > b {
		a, b = b, a
	}
	return &Conversation{ID: ConversationKey(a, b), ParticipantA: a, ParticipantB: b}
}

func (c *Conversation) Participants() []string { return []string{c.ParticipantA, c.ParticipantB} }

func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Peer 返回会话中另一方
func (c *Conversation) Peer(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// ConversationUnread 每个参与者的未读计数，一行一人，支持原子自增
type ConversationUnread struct {
	ConversationID string `gorm:"primaryKey;type:varchar(80)"`
	UserID         string `gorm:"primaryKey;type:varchar(36)"`
	Unread         int    `gorm:"not null"`
	UpdatedAt      time.Time
}

func (ConversationUnread) TableName() string { return "conversation_unreads" }

type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary 对外暴露的会话视图
type ConversationSummary struct {
	ID           string         `json:"id"`
	Participants []string       `json:"participants"`
	LastMessage  *LastMessage   `json:"last_message,omitempty"`
	UnreadCount  map[string]int `json:"unread_count"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Summary 转成对外视图；缺失的未读行按 0 处理
func (c *Conversation) Summary() ConversationSummary {
	s := ConversationSummary{
		ID:           c.ID,
		Participants: c.Participants(),
		UnreadCount:  map[string]int{c.ParticipantA: 0, c.ParticipantB: 0},
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessageAt != nil {
		s.LastMessage = &LastMessage{Text: c.LastMessageText, SenderID: c.LastMessageSenderID, CreatedAt: *c.LastMessageAt}
	}
	for _, u := range c.Unread {
		s.UnreadCount[u.UserID] = u.Unread
	}
	return s
}

func (s ConversationSummary) Peer(userID string) string {
	for _, p := range s.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// SortByRecent 按 UpdatedAt 倒序，时间相同按 ID 保证稳定
func SortByRecent(list []ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return strings.Compare(list[i].ID, list[j].ID) < 0
	})
}

// TotalUnread 用户在所有会话中的未读总数（侧边栏角标）
func TotalUnread(list []ConversationSummary, userID string) int {
	total := 0
	for _, s := range list {
		total += s.UnreadCount[userID]
	}
	return total
}
