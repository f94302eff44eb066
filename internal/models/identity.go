package models

import "time"

// UserIdentity records the display nickname a platform user chose. A row is
// created on the first nickname write and never deleted; removing a
// nickname clears the Nickname column.
type UserIdentity struct {
	UserID     string     `gorm:"primaryKey;size:64"`
	Nickname   *string    `gorm:"size:20"`
	AssignedAt *time.Time `gorm:"column:created_at"` // last nickname assignment
	UpdatedAt  time.Time
}
