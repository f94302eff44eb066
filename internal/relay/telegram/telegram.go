// Package telegram implements the relay Adapter for the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited replies.
	maxRetries = 3
	// pollTimeout is the long-polling timeout in seconds.
	pollTimeout = 60
	// Bot API limits on message text and media captions after entity parsing.
	maxTextLen    = 4096
	maxCaptionLen = 1024
)

// botAPI abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter implements relay.Adapter for Telegram.
type Adapter struct {
	bot       botAPI
	token     string
	botUserID string
	log       zerolog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	listening bool
	inbound   chan relay.InboundMessage
	done      chan struct{}
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token  string // bot token from @BotFather
	Logger *zerolog.Logger
	// For testing: inject a mock bot instead of the real Bot API.
	Bot       botAPI
	BotUserID string
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Bot == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "telegram").Logger()
	}
	return &Adapter{
		bot:       opts.Bot,
		token:     opts.Token,
		botUserID: opts.BotUserID,
		log:       log,
		inbound:   make(chan relay.InboundMessage, 100),
		done:      make(chan struct{}),
	}, nil
}

// Connect authenticates with the Bot API.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.bot == nil {
		api, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			return fmt.Errorf("telegram: connect: %w", err)
		}
		a.bot = api
		a.botUserID = strconv.FormatInt(api.Self.ID, 10)
		a.log.Info().Str("username", api.Self.UserName).Msg("authorized")
	}

	a.connected = true
	return nil
}

// Listen starts long polling and returns the inbound message channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}
	a.listening = true

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := a.bot.GetUpdatesChan(u)

	go a.pump(ctx, updates)
	return a.inbound, nil
}

// pump forwards converted updates until the updates channel closes, the
// adapter is closed or ctx ends. It owns the inbound channel once started.
func (a *Adapter) pump(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(a.inbound)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			msg, ok := convertUpdate(upd)
			if !ok {
				continue
			}
			select {
			case a.inbound <- msg:
			case <-ctx.Done():
				return
			case <-a.done:
				return
			}
		}
	}
}

// Broadcast posts content to a channel given as "@username" or a numeric
// chat ID. Exactly one attempt is made.
func (a *Adapter) Broadcast(ctx context.Context, post relay.Post) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	c, err := buildPost(post)
	if err != nil {
		return err
	}
	if err := a.send(ctx, c); err != nil {
		return fmt.Errorf("telegram: broadcast: %w", err)
	}
	return nil
}

// Reply messages a user, retrying when rate limited.
func (a *Adapter) Reply(ctx context.Context, reply relay.Reply) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: reply: invalid chat id %q", reply.ChatID)
	}
	c := buildReply(chatID, reply)
	err = retryOnRateLimit(ctx, func() error { return a.send(ctx, c) })
	if err != nil {
		return fmt.Errorf("telegram: reply: %w", err)
	}
	return nil
}

// send runs one Bot API call, giving up early when ctx ends.
func (a *Adapter) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(c)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops polling and shuts down the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	close(a.done)
	if a.listening {
		a.bot.StopReceivingUpdates()
	} else {
		close(a.inbound)
	}
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// MaxTextLen implements relay.LengthLimiter.
func (a *Adapter) MaxTextLen() int { return maxTextLen }

// MaxCaptionLen implements relay.LengthLimiter.
func (a *Adapter) MaxCaptionLen() int { return maxCaptionLen }

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("telegram: not connected")
	}
	return nil
}

// convertUpdate maps a private-chat message update to an InboundMessage.
// Group messages, channel posts and edits are dropped.
func convertUpdate(upd tgbotapi.Update) (relay.InboundMessage, bool) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return relay.InboundMessage{}, false
	}
	if m.From.IsBot {
		return relay.InboundMessage{}, false
	}
	return relay.InboundMessage{
		Platform:  "telegram",
		UserID:    strconv.FormatInt(m.From.ID, 10),
		FirstName: m.From.FirstName,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Content:   convertContent(m),
		Timestamp: m.Time(),
	}, true
}

func convertContent(m *tgbotapi.Message) relay.Content {
	switch {
	case m.Text != "":
		return relay.Content{Kind: relay.KindText, Text: m.Text}
	case len(m.Photo) > 0:
		// Sizes are ordered smallest first.
		largest := m.Photo[len(m.Photo)-1]
		return relay.Content{Kind: relay.KindPhoto, FileID: largest.FileID, Caption: m.Caption}
	case m.Video != nil:
		return relay.Content{Kind: relay.KindVideo, FileID: m.Video.FileID, FileName: m.Video.FileName, Caption: m.Caption}
	case m.Audio != nil:
		return relay.Content{Kind: relay.KindAudio, FileID: m.Audio.FileID, FileName: m.Audio.FileName, Caption: m.Caption}
	case m.Voice != nil:
		return relay.Content{Kind: relay.KindVoice, FileID: m.Voice.FileID}
	case m.Document != nil:
		return relay.Content{Kind: relay.KindDocument, FileID: m.Document.FileID, FileName: m.Document.FileName, Caption: m.Caption}
	default:
		return relay.Content{Kind: relay.KindUnsupported}
	}
}

// target splits a channel address into a numeric chat ID or an @username.
func target(channel string) (int64, string, error) {
	channel = strings.TrimSpace(channel)
	if strings.HasPrefix(channel, "@") {
		return 0, channel, nil
	}
	id, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("telegram: invalid channel %q: want @username or numeric id", channel)
	}
	return id, "", nil
}

// buildPost translates a relay.Post into a Bot API request.
func buildPost(post relay.Post) (tgbotapi.Chattable, error) {
	chatID, username, err := target(post.ChannelID)
	if err != nil {
		return nil, err
	}
	parseMode := ""
	if post.Format == relay.FormatHTML {
		parseMode = tgbotapi.ModeHTML
	}
	c := post.Content
	file := tgbotapi.FileID(c.FileID)

	switch c.Kind {
	case relay.KindText:
		m := tgbotapi.NewMessage(chatID, c.Text)
		m.ChannelUsername = username
		m.ParseMode = parseMode
		return m, nil
	case relay.KindPhoto:
		p := tgbotapi.NewPhoto(chatID, file)
		p.ChannelUsername = username
		p.Caption, p.ParseMode = c.Caption, parseMode
		return p, nil
	case relay.KindVideo:
		v := tgbotapi.NewVideo(chatID, file)
		v.ChannelUsername = username
		v.Caption, v.ParseMode = c.Caption, parseMode
		return v, nil
	case relay.KindAudio:
		au := tgbotapi.NewAudio(chatID, file)
		au.ChannelUsername = username
		au.Caption, au.ParseMode = c.Caption, parseMode
		return au, nil
	case relay.KindVoice:
		v := tgbotapi.NewVoice(chatID, file)
		v.ChannelUsername = username
		v.Caption, v.ParseMode = c.Caption, parseMode
		return v, nil
	case relay.KindDocument:
		d := tgbotapi.NewDocument(chatID, file)
		d.ChannelUsername = username
		d.Caption, d.ParseMode = c.Caption, parseMode
		return d, nil
	default:
		return nil, fmt.Errorf("telegram: unsupported content kind %q", c.Kind)
	}
}

// buildReply translates a relay.Reply into a message with an optional
// one-time reply keyboard.
func buildReply(chatID int64, reply relay.Reply) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.Format == relay.FormatHTML {
		m.ParseMode = tgbotapi.ModeHTML
	}
	switch {
	case len(reply.Options) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(reply.Options))
		for _, opt := range reply.Options {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
		}
		kb := tgbotapi.NewReplyKeyboard(rows...)
		kb.ResizeKeyboard = true
		kb.OneTimeKeyboard = true
		m.ReplyMarkup = kb
	case reply.RemoveOptions:
		m.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return m
}

// retryOnRateLimit calls fn and retries after the server-provided delay on
// HTTP 429 responses. It respects context cancellation.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, limited := retryAfter(err)
		if !limited || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// retryAfter reports whether err is a Bot API rate limit and how long to wait.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		var valErr tgbotapi.Error
		if !errors.As(err, &valErr) {
			return 0, false
		}
		apiErr = &valErr
	}
	if apiErr.Code != 429 {
		return 0, false
	}
	wait := time.Second
	if apiErr.RetryAfter > 0 {
		wait = time.Duration(apiErr.RetryAfter) * time.Second
	}
	return wait, true
}
