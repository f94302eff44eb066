package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/mailslot/internal/models"
	"github.com/zulandar/mailslot/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// State is a nickname conversation state.
type State string

// Conversation states. StateIdle is never stored; it is the absence of a
// session.
const (
	StateIdle             State = "IDLE"
	StateChoosingMode     State = "CHOOSING_MODE"
	StateAwaitingNickname State = "AWAITING_NICKNAME"
)

// SessionStore holds open conversation sessions keyed by user ID.
type SessionStore interface {
	// State returns the user's current state, StateIdle when no session is open.
	State(ctx context.Context, userID string) (State, error)
	// Open creates or moves the user's session to state.
	Open(ctx context.Context, userID string, state State) error
	// End closes the user's session. Ending an absent session is a no-op.
	End(ctx context.Context, userID string) error
	// ExpireIdle ends every session last touched before cutoff and returns
	// how many were ended.
	ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormSessionStore persists sessions in the conversation_sessions table so
// they survive restarts and are shared between instances.
type GormSessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormSessionStore creates a GormSessionStore.
func NewGormSessionStore(db *gorm.DB) (*GormSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("relay: session store: db is required")
	}
	return &GormSessionStore{db: db, now: time.Now}, nil
}

// State implements SessionStore.
func (s *GormSessionStore) State(ctx context.Context, userID string) (State, error) {
	var sess models.ConversationSession
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&sess)
	if result.Error != nil {
		return StateIdle, fmt.Errorf("relay: session state %s: %w: %w", userID, store.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return StateIdle, nil
	}
	return State(sess.State), nil
}

// Open implements SessionStore.
func (s *GormSessionStore) Open(ctx context.Context, userID string, state State) error {
	if state == StateIdle {
		return s.End(ctx, userID)
	}
	sess := models.ConversationSession{
		UserID:    userID,
		State:     string(state),
		UpdatedAt: s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&sess).Error
	if err != nil {
		return fmt.Errorf("relay: open session %s: %w: %w", userID, store.ErrStorage, err)
	}
	return nil
}

// End implements SessionStore.
func (s *GormSessionStore) End(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.ConversationSession{}).Error
	if err != nil {
		return fmt.Errorf("relay: end session %s: %w: %w", userID, store.ErrStorage, err)
	}
	return nil
}

// ExpireIdle implements SessionStore.
func (s *GormSessionStore) ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("updated_at < ?", cutoff.UTC()).Delete(&models.ConversationSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("relay: expire sessions: %w: %w", store.ErrStorage, result.Error)
	}
	return result.RowsAffected, nil
}

// MemorySessionStore keeps sessions in process memory. It backs the file
// storage driver, where there is no database to hold them.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	state     State
	updatedAt time.Time
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

// State implements SessionStore.
func (s *MemorySessionStore) State(ctx context.Context, userID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return StateIdle, nil
	}
	return sess.state, nil
}

// Open implements SessionStore.
func (s *MemorySessionStore) Open(ctx context.Context, userID string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == StateIdle {
		delete(s.sessions, userID)
		return nil
	}
	s.sessions[userID] = memorySession{state: state, updatedAt: s.now()}
	return nil
}

// End implements SessionStore.
func (s *MemorySessionStore) End(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// ExpireIdle implements SessionStore.
func (s *MemorySessionStore) ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.updatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of open sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
