// Package discord implements the relay Adapter for Discord using the Gateway
// WebSocket. Users talk to the bot in direct messages; posts go to a guild
// text channel given by ID.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited replies.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
	// bold is the Discord markdown emphasis delimiter.
	bold = "**"
	// voiceFileName is the attachment name Discord clients give voice messages.
	voiceFileName = "voice-message.ogg"
	// maxTextLen is the message content limit for bots.
	maxTextLen = 2000
	// maxUploadBytes is the attachment size Discord accepts in unboosted guilds.
	maxUploadBytes = 10 << 20
	// downloadTimeout bounds fetching an attachment from the CDN.
	downloadTimeout = 60 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Adapter implements relay.Adapter for Discord.
type Adapter struct {
	sess          session
	botToken      string
	botUserID     string
	log           zerolog.Logger
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan relay.InboundMessage
	done          chan struct{}
	sendMu        sync.RWMutex // held for reading by handlers writing to inbound
	removeHandler func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	httpClient    *http.Client
	maxUpload     int64
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string
	Logger   *zerolog.Logger
	// HTTPClient fetches attachments for re-upload. Defaults to a client
	// with a 60s timeout.
	HTTPClient *http.Client
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		log:         logger.With().Str("component", "discord").Logger(),
		inbound:     make(chan relay.InboundMessage, 100),
		done:        make(chan struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		httpClient:  client,
		maxUpload:   maxUploadBytes,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = dg
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		a.log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("connected")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn().Msg("gateway disconnected, reconnecting")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen registers a direct-message handler and returns the inbound channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	if a.removeHandler == nil {
		a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(ctx, m)
		})
	}
	return a.inbound, nil
}

// Broadcast posts to a guild channel. Exactly one attempt is made.
func (a *Adapter) Broadcast(ctx context.Context, post relay.Post) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if post.ChannelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}
	data, err := a.buildPost(ctx, post)
	if err != nil {
		return err
	}
	if _, err := a.sess.ChannelMessageSendComplex(post.ChannelID, data, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: broadcast: %w", err)
	}
	return nil
}

// Reply sends a direct message, retrying when rate limited. Options are
// rendered as a numbered list.
func (a *Adapter) Reply(ctx context.Context, reply relay.Reply) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	data := &discordgo.MessageSend{
		Content:         relay.PlainReplyText(reply, bold),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(reply.ChatID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: reply: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.done)
	sess := a.sess
	a.mu.Unlock()

	a.sendMu.Lock()
	close(a.inbound)
	a.sendMu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// MaxTextLen implements relay.LengthLimiter.
func (a *Adapter) MaxTextLen() int { return maxTextLen }

// MaxCaptionLen implements relay.LengthLimiter. Captions become message
// content.
func (a *Adapter) MaxCaptionLen() int { return maxTextLen }

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// handleMessage converts a direct message to an InboundMessage. Guild
// messages, bot authors and the bot itself are dropped.
func (a *Adapter) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}
	if m.Author.ID == a.BotUserID() {
		return
	}

	ts, err := discordgo.SnowflakeTimestamp(m.ID)
	if err != nil {
		ts = time.Now()
	}
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	msg := relay.InboundMessage{
		Platform:  "discord",
		UserID:    m.Author.ID,
		FirstName: name,
		ChatID:    m.ChannelID,
		Content:   convertContent(m.Message),
		Timestamp: ts,
	}

	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case <-a.done:
	case <-ctx.Done():
	case a.inbound <- msg:
	}
}

// convertContent maps a Discord message to relay content. Only the first
// attachment is relayed; the message text becomes its caption. FileID holds
// the DM attachment URL, which is only ever fetched, never posted.
func convertContent(m *discordgo.Message) relay.Content {
	if len(m.Attachments) == 0 {
		if strings.TrimSpace(m.Content) == "" {
			return relay.Content{Kind: relay.KindUnsupported}
		}
		return relay.Content{Kind: relay.KindText, Text: m.Content}
	}
	att := m.Attachments[0]
	return relay.Content{
		Kind:     attachmentKind(att),
		FileID:   att.URL,
		FileName: att.Filename,
		Caption:  m.Content,
	}
}

func attachmentKind(att *discordgo.MessageAttachment) relay.Kind {
	ct := strings.ToLower(att.ContentType)
	switch {
	case att.Filename == voiceFileName:
		return relay.KindVoice
	case strings.HasPrefix(ct, "image/"):
		return relay.KindPhoto
	case strings.HasPrefix(ct, "video/"):
		return relay.KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return relay.KindAudio
	default:
		return relay.KindDocument
	}
}

// buildPost translates a Post into a Discord MessageSend. Media are
// downloaded and uploaded again as a new attachment so the post carries no
// link back to the sender's DM channel. Photos are shown in an embed.
func (a *Adapter) buildPost(ctx context.Context, post relay.Post) (*discordgo.MessageSend, error) {
	c := post.Content
	markup := func(s string) string {
		if post.Format == relay.FormatHTML {
			return relay.HTMLToMarkup(s, bold)
		}
		return s
	}
	data := &discordgo.MessageSend{AllowedMentions: &discordgo.MessageAllowedMentions{}}
	switch c.Kind {
	case relay.KindText:
		data.Content = markup(c.Text)
		return data, nil
	case relay.KindPhoto, relay.KindVideo, relay.KindAudio, relay.KindVoice, relay.KindDocument:
	default:
		return nil, fmt.Errorf("discord: unsupported content kind %q", c.Kind)
	}

	body, contentType, err := a.download(ctx, c.FileID)
	if err != nil {
		return nil, err
	}
	name := uploadName(c)
	data.Content = markup(c.Caption)
	data.Files = []*discordgo.File{{Name: name, ContentType: contentType, Reader: bytes.NewReader(body)}}
	if c.Kind == relay.KindPhoto {
		data.Embeds = []*discordgo.MessageEmbed{{
			Image: &discordgo.MessageEmbedImage{URL: "attachment://" + name},
		}}
	}
	return data, nil
}

// uploadName returns a generic file name for c that keeps only the
// extension of the original, so sender-chosen names are not published.
func uploadName(c relay.Content) string {
	if c.Kind == relay.KindVoice {
		return voiceFileName
	}
	ext := strings.ToLower(path.Ext(c.FileName))
	if len(ext) > 10 || strings.ContainsAny(ext, " /\\") {
		ext = ""
	}
	return string(c.Kind) + ext
}

// download fetches an attachment, refusing bodies larger than the upload
// limit.
func (a *Adapter) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("discord: fetch attachment: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("discord: fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("discord: fetch attachment: status %d", resp.StatusCode)
	}
	if resp.ContentLength > a.maxUpload {
		return nil, "", fmt.Errorf("discord: attachment exceeds %d bytes", a.maxUpload)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxUpload+1))
	if err != nil {
		return nil, "", fmt.Errorf("discord: read attachment: %w", err)
	}
	if int64(len(body)) > a.maxUpload {
		return nil, "", fmt.Errorf("discord: attachment exceeds %d bytes", a.maxUpload)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
