package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/mailslot/internal/keylock"
	"github.com/zulandar/mailslot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on a SQL database through GORM. The schema is
// expected to be migrated (see db.AutoMigrate).
type GormStore struct {
	db        *gorm.DB
	users     keylock.Map
	counterMu sync.Mutex
	now       func() time.Time
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrStorage, err)
}

// Nickname implements IdentityStore.
func (s *GormStore) Nickname(ctx context.Context, userID string) (string, bool, error) {
	var ident models.UserIdentity
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&ident)
	if result.Error != nil {
		return "", false, storageErr("get nickname", result.Error)
	}
	if result.RowsAffected == 0 || ident.Nickname == nil {
		return "", false, nil
	}
	return *ident.Nickname, true, nil
}

// SetNickname implements IdentityStore. The first write for a user creates
// the record and recounts total_users from the identity table in the same
// transaction.
func (s *GormStore) SetNickname(ctx context.Context, userID, nickname string) error {
	unlock := s.users.Lock(userID)
	defer unlock()

	now := s.now().UTC()
	nick := nickname
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.UserIdentity
		result := tx.Where("user_id = ?", userID).Limit(1).Find(&existing)
		if result.Error != nil {
			return fmt.Errorf("lookup: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return tx.Model(&models.UserIdentity{}).
				Where("user_id = ?", userID).
				Updates(map[string]interface{}{
					"nickname":   nick,
					"created_at": now,
				}).Error
		}

		if err := tx.Create(&models.UserIdentity{
			UserID:     userID,
			Nickname:   &nick,
			AssignedAt: &now,
		}).Error; err != nil {
			return fmt.Errorf("create: %w", err)
		}
		var users int64
		if err := tx.Model(&models.UserIdentity{}).Count(&users).Error; err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		return tx.Model(&models.Counter{}).
			Where("id = ?", models.CounterRowID).
			Update("total_users", users).Error
	})
	if err != nil {
		return storageErr("set nickname", err)
	}
	return nil
}

// RemoveNickname implements IdentityStore.
func (s *GormStore) RemoveNickname(ctx context.Context, userID string) (bool, error) {
	unlock := s.users.Lock(userID)
	defer unlock()

	result := s.db.WithContext(ctx).Model(&models.UserIdentity{}).
		Where("user_id = ? AND nickname IS NOT NULL", userID).
		Update("nickname", nil)
	if result.Error != nil {
		return false, storageErr("remove nickname", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// NextMessageNumber implements CounterStore. The increment and the read run
// in one transaction, so the row lock held by the UPDATE also serializes
// other processes sharing the database.
func (s *GormStore) NextMessageNumber(ctx context.Context) (int64, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Counter{}).
			Where("id = ?", models.CounterRowID).
			Update("total_messages", gorm.Expr("total_messages + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.New("counter row missing (run db migrate)")
		}
		return tx.Model(&models.Counter{}).
			Where("id = ?", models.CounterRowID).
			Select("total_messages").Scan(&n).Error
	})
	if err != nil {
		return 0, storageErr("next message number", err)
	}
	return n, nil
}

// Stats implements CounterStore.
func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	var row models.Counter
	result := s.db.WithContext(ctx).Where("id = ?", models.CounterRowID).Limit(1).Find(&row)
	if result.Error != nil {
		return Stats{}, storageErr("stats", result.Error)
	}
	return Stats{TotalMessages: row.TotalMessages, TotalUsers: row.TotalUsers}, nil
}

// Snapshot implements Store.
func (s *GormStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var idents []models.UserIdentity
	if err := s.db.WithContext(ctx).Order("user_id").Find(&idents).Error; err != nil {
		return Snapshot{}, storageErr("snapshot identities", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Identities: make(map[string]IdentityRecord, len(idents)), Stats: stats}
	for _, ident := range idents {
		var rec IdentityRecord
		if ident.Nickname != nil {
			rec.Nickname = *ident.Nickname
		}
		if ident.AssignedAt != nil {
			rec.CreatedAt = ident.AssignedAt.UTC()
		}
		snap.Identities[ident.UserID] = rec
	}
	return snap, nil
}

// Restore implements Store.
func (s *GormStore) Restore(ctx context.Context, snap Snapshot) error {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, rec := range snap.Identities {
			ident := models.UserIdentity{UserID: userID}
			if rec.Nickname != "" {
				nick := rec.Nickname
				ident.Nickname = &nick
			}
			if !rec.CreatedAt.IsZero() {
				created := rec.CreatedAt.UTC()
				ident.AssignedAt = &created
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"nickname", "created_at", "updated_at"}),
			}).Create(&ident).Error; err != nil {
				return fmt.Errorf("identity %s: %w", userID, err)
			}
		}
		counter := models.Counter{
			ID:            models.CounterRowID,
			TotalMessages: snap.Stats.TotalMessages,
			TotalUsers:    snap.Stats.TotalUsers,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_messages", "total_users"}),
		}).Create(&counter).Error
	})
	if err != nil {
		return storageErr("restore", err)
	}
	return nil
}
