package models

// CounterRowID is the primary key of the single Counter row.
const CounterRowID = 1

// Counter holds the global relay counters. There is exactly one row.
type Counter struct {
	ID            uint  `gorm:"primaryKey"`
	TotalMessages int64 `gorm:"not null;default:0"`
	TotalUsers    int64 `gorm:"not null;default:0"`
}
