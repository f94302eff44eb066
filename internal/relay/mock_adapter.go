package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records broadcast posts and
// replies separately and allows simulating inbound messages via
// SimulateInbound.
type MockAdapter struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan InboundMessage
	posts        []Post
	replies      []Reply
	botUserID    string
	broadcastErr error
	replyErr     error
	onBroadcast  func(Post)
	textLimit    int
	captionLimit int
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundMessage, 100),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// SetLengthLimits sets the limits reported through LengthLimiter. Zero
// disables a limit.
func (m *MockAdapter) SetLengthLimits(text, caption int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textLimit = text
	m.captionLimit = caption
}

// MaxTextLen implements LengthLimiter.
func (m *MockAdapter) MaxTextLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textLimit
}

// MaxCaptionLen implements LengthLimiter.
func (m *MockAdapter) MaxCaptionLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captionLimit
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Broadcast records the post, or returns the injected broadcast error.
func (m *MockAdapter) Broadcast(ctx context.Context, post Post) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.broadcastErr != nil {
		err := m.broadcastErr
		m.mu.Unlock()
		return err
	}
	m.posts = append(m.posts, post)
	hook := m.onBroadcast
	m.mu.Unlock()
	if hook != nil {
		hook(post)
	}
	return nil
}

// Reply records the reply, or returns the injected reply error.
func (m *MockAdapter) Reply(ctx context.Context, reply Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, reply)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// FailBroadcasts makes every subsequent Broadcast return err. A nil err
// restores normal behaviour.
func (m *MockAdapter) FailBroadcasts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastErr = err
}

// FailReplies makes every subsequent Reply return err.
func (m *MockAdapter) FailReplies(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyErr = err
}

// OnBroadcast registers a hook called after each recorded post, outside
// the adapter lock.
func (m *MockAdapter) OnBroadcast(fn func(Post)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBroadcast = fn
}

// LastReply returns the most recently sent reply.
// Returns zero value and false if no replies have been sent.
func (m *MockAdapter) LastReply() (Reply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return Reply{}, false
	}
	return m.replies[len(m.replies)-1], true
}

// AllReplies returns a copy of all sent replies.
func (m *MockAdapter) AllReplies() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reply, len(m.replies))
	copy(out, m.replies)
	return out
}

// AllPosts returns a copy of all broadcast posts.
func (m *MockAdapter) AllPosts() []Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Post, len(m.posts))
	copy(out, m.posts)
	return out
}

// PostCount returns the number of successful broadcasts.
func (m *MockAdapter) PostCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}
