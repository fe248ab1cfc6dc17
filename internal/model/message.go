package model

import "time"

// Message 会话内消息，写入后不可变。Seq 为存储分配的插入序，用于同一时间戳内排序
type Message struct {
	Seq            int64     `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID             string    `json:"id" gorm:"type:varchar(36);uniqueIndex;not null"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(80);index:idx_message_conv_created,priority:1;not null"`
	SenderID       string    `json:"sender_id" gorm:"type:varchar(36);not null"`
	Text           string    `json:"text" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_message_conv_created,priority:2"`
}

func (Message) TableName() string { return "messages" }
