// Package repo implements the durable log. This file provides the narrow
// CRUD surface over the message entity: append, point lookup, lifecycle
// marker updates, delete, clear, and a paginated descending scan.
//
// Id assignment happens exclusively inside the database (autoincrement
// primary key), so concurrent writers on any number of instances never
// produce duplicate ids.
package repo

import (
	"time"

	"gorm.io/gorm"

	"github.com/akervik/go-chat-relay/internal/domain"
)

// CreateMessage appends a new message row. The returned Message carries the
// database-assigned id and commit timestamp; before this call returns
// successfully the message does not exist anywhere.
func CreateMessage(db *gorm.DB, sender, text, clientTime string) (*domain.Message, error) {
	m := &domain.Message{
		Sender:     sender,
		Text:       text,
		ClientTime: clientTime,
		CreatedAt:  time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// GetMessage fetches a message by id.
func GetMessage(db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkDelivered stamps delivered_at if the row exists and the marker is
// still unset. It reports whether a row was actually updated; a missing id
// or an already-delivered message is not an error.
func MarkDelivered(db *gorm.DB, id uint, at time.Time) (bool, error) {
	res := db.Model(&domain.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at)
	return res.RowsAffected > 0, res.Error
}

// MarkRead stamps read_at if the row exists and the marker is still unset.
// Read implies delivered in stored state: when the row has no delivered_at
// yet, it is stamped with the same time. A prior delivered marker is never
// required.
func MarkRead(db *gorm.DB, id uint, at time.Time) (bool, error) {
	res := db.Model(&domain.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	err := db.Model(&domain.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error
	return true, err
}

// DeleteMessage removes the row if present. Deleting a non-existent id
// succeeds without error.
func DeleteMessage(db *gorm.DB, id uint) error {
	return db.Delete(&domain.Message{}, id).Error
}

// ClearMessages removes every row. Clearing an empty log succeeds.
func ClearMessages(db *gorm.DB) error {
	return db.Exec("DELETE FROM messages").Error
}

// ListMessagesPage returns up to limit messages ordered newest first
// (CreatedAt DESC, ID DESC as tiebreak), skipping offset rows.
func ListMessagesPage(db *gorm.DB, limit, offset int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages").Scan(&total).Error
	return total, err
}
