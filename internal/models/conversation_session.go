package models

import "time"

// ConversationSession is the persisted state of a user's open nickname
// conversation. Absence of a row means the user is idle.
type ConversationSession struct {
	UserID    string    `gorm:"primaryKey;size:64"`
	State     string    `gorm:"size:32;not null"`
	UpdatedAt time.Time `gorm:"index"`
}
