// Package domain defines the persisted message entity and the wire-level
// event type shared by the engine, the gateway, and the broadcast bus.
package domain

import (
	"time"
)

// Message is a single chat message in the durable log. The id is assigned by
// the database on insert and is strictly increasing in insertion order; a
// Message without an id has not been committed yet.
//
// Fields:
//   - ID: autoincrement primary key, the authoritative message identity.
//   - Sender: display identity supplied by the originating client (opaque,
//     not authenticated).
//   - Text: message body, stored verbatim.
//   - ClientTime: client-supplied timestamp string, kept for display only.
//   - DeliveredAt / ReadAt: lifecycle markers, each set at most once.
//   - CreatedAt: server-assigned commit timestamp, the ordering key.
type Message struct {
	ID          uint       `json:"id"           gorm:"primaryKey;autoIncrement"`
	Sender      string     `json:"sender"       gorm:"type:varchar(128);not null"`
	Text        string     `json:"text"         gorm:"type:text;not null"`
	ClientTime  string     `json:"time"         gorm:"column:time;type:varchar(64)"`
	DeliveredAt *time.Time `json:"delivered_at" gorm:"index"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"   gorm:"index"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
