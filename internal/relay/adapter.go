// Package relay forwards user submissions to a broadcast channel under a
// nickname or an anonymous message number. It holds the nickname
// conversation, the attribution resolver and the dispatcher, and the daemon
// that pumps messages from a platform Adapter through them.
package relay

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, receiving private messages
// from users, and posting to the broadcast channel.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Broadcast posts content to a channel. It makes exactly one attempt.
	Broadcast(ctx context.Context, post Post) error

	// Reply sends a private message back to a user.
	Reply(ctx context.Context, reply Reply) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// LengthLimiter is an optional interface for adapters whose platform caps
// the visible length of a post, counted in UTF-16 code units. A limit of 0
// means no cap.
type LengthLimiter interface {
	MaxTextLen() int
	MaxCaptionLen() int
}

// Kind identifies the type of a relayed content item.
type Kind string

// Supported content kinds. KindUnsupported marks anything else the platform
// delivered (stickers, locations, polls...).
const (
	KindText        Kind = "text"
	KindPhoto       Kind = "photo"
	KindVideo       Kind = "video"
	KindAudio       Kind = "audio"
	KindVoice       Kind = "voice"
	KindDocument    Kind = "document"
	KindUnsupported Kind = "unsupported"
)

// Content is one content item. Text is set for KindText; FileID and the
// optional Caption are set for media kinds. FileID is whatever the platform
// needs to repost the file (a Telegram file ID, an attachment URL...).
type Content struct {
	Kind     Kind
	Text     string
	FileID   string
	FileName string
	Caption  string
}

// InboundMessage represents a private message received from a user.
type InboundMessage struct {
	Platform  string    // e.g. "telegram", "discord"
	UserID    string    // platform-specific user identifier
	FirstName string    // display first name, used only in greetings
	ChatID    string    // private chat to reply into
	Content   Content   // the submitted item; commands arrive as KindText
	Timestamp time.Time // when the message was sent
}

// Format selects the markup of outbound text.
type Format string

// FormatHTML is Telegram-style HTML with <b> emphasis. Adapters for
// platforms without HTML convert it to their own markup.
const FormatHTML Format = "html"

// Post is an outbound channel post. Content carries the composed text or
// caption, signature included.
type Post struct {
	ChannelID string
	Content   Content
	Format    Format
}

// Reply is a private message to a user. Options are quick-reply choices
// (a reply keyboard on Telegram); RemoveOptions clears a previous keyboard.
type Reply struct {
	ChatID        string
	Text          string
	Format        Format
	Options       []string
	RemoveOptions bool
}
