package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zulandar/mailslot/internal/db"
	"github.com/zulandar/mailslot/internal/store"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func openTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	s, err := store.NewGormStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return s
}

// flakyStore wraps a store.Store and fails selected operations.
type flakyStore struct {
	store.Store

	mu           sync.Mutex
	setFailures  int // remaining SetNickname calls to fail
	setCalls     int
	failNext     bool // fail NextMessageNumber
	failNickname bool // fail Nickname lookups
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) SetNickname(ctx context.Context, userID, nickname string) error {
	f.mu.Lock()
	f.setCalls++
	fail := f.setFailures > 0
	if fail {
		f.setFailures--
	}
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("flaky: set: %w: %w", store.ErrStorage, errDiskFull)
	}
	return f.Store.SetNickname(ctx, userID, nickname)
}

func (f *flakyStore) NextMessageNumber(ctx context.Context) (int64, error) {
	f.mu.Lock()
	fail := f.failNext
	f.mu.Unlock()
	if fail {
		return 0, fmt.Errorf("flaky: next: %w: %w", store.ErrStorage, errDiskFull)
	}
	return f.Store.NextMessageNumber(ctx)
}

func (f *flakyStore) Nickname(ctx context.Context, userID string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failNickname
	f.mu.Unlock()
	if fail {
		return "", false, fmt.Errorf("flaky: get: %w: %w", store.ErrStorage, errDiskFull)
	}
	return f.Store.Nickname(ctx, userID)
}

func (f *flakyStore) SetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

func textMsg(userID, text string) InboundMessage {
	return InboundMessage{
		Platform:  "mock",
		UserID:    userID,
		FirstName: "Alice",
		ChatID:    "chat-" + userID,
		Content:   Content{Kind: KindText, Text: text},
	}
}

func mediaMsg(userID string, kind Kind, fileID, caption string) InboundMessage {
	return InboundMessage{
		Platform: "mock",
		UserID:   userID,
		ChatID:   "chat-" + userID,
		Content:  Content{Kind: kind, FileID: fileID, Caption: caption},
	}
}
