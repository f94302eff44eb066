// Package slack implements the relay Adapter for Slack using Socket Mode.
// Users talk to the app in its direct-message tab; posts go to a channel
// given by ID.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/mailslot/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// bold is the mrkdwn emphasis delimiter.
	bold = "*"
	// maxTextLen is the chat.postMessage text limit; longer text is truncated.
	maxTextLen = 40000
)

// slackClient abstracts the Slack Web API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements relay.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	log          zerolog.Logger
	mu           sync.Mutex
	connected    bool
	closed       bool
	listening    bool
	inbound      chan relay.InboundMessage
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zerolog.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		log:          logger.With().Str("component", "slack").Logger(),
		inbound:      make(chan relay.InboundMessage, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect verifies the bot token and records the bot user ID.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		if a.socket == nil {
			a.socket = &realSocketClient{client: socketmode.New(api)}
		}
	}

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.log.Info().Str("user", auth.User).Str("team", auth.Team).Msg("authenticated")

	a.connected = true
	return nil
}

// Listen starts the Socket Mode client and event pump and returns the
// inbound channel. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}
	a.listening = true

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Broadcast posts to a channel. Exactly one attempt is made.
func (a *Adapter) Broadcast(ctx context.Context, post relay.Post) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if post.ChannelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}
	text, err := postText(post)
	if err != nil {
		return err
	}
	_, _, err = a.client.PostMessageContext(ctx, post.ChannelID,
		slackapi.MsgOptionText(text, true),
		slackapi.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack: broadcast: %w", err)
	}
	return nil
}

// Reply posts into the user's direct-message channel, retrying when rate
// limited. Options are rendered as a numbered list.
func (a *Adapter) Reply(ctx context.Context, reply relay.Reply) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	text := relay.PlainReplyText(reply, bold)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessageContext(ctx, reply.ChatID, slackapi.MsgOptionText(text, true))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: reply: %w", err)
	}
	return nil
}

// Close shuts down the adapter. The inbound channel is closed once the
// event pump has stopped.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if !a.listening {
		close(a.inbound)
	}
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// MaxTextLen implements relay.LengthLimiter.
func (a *Adapter) MaxTextLen() int { return maxTextLen }

// MaxCaptionLen implements relay.LengthLimiter. Captions are posted as text.
func (a *Adapter) MaxCaptionLen() int { return maxTextLen }

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("socket mode disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error().Int("attempts", a.maxReconnect).Msg("socket mode reconnection attempts exhausted")
}

// pumpEvents reads Socket Mode events and forwards direct messages. It owns
// the inbound channel and closes it on exit.
func (a *Adapter) pumpEvents(ctx context.Context) {
	defer close(a.inbound)
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			msg, ok := a.handleSocketEvent(ctx, evt)
			if !ok {
				continue
			}
			select {
			case a.inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) (relay.InboundMessage, bool) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return relay.InboundMessage{}, false
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return relay.InboundMessage{}, false
		}
		ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return relay.InboundMessage{}, false
		}
		return a.convertMessage(ctx, ev)

	case socketmode.EventTypeConnecting:
		a.log.Debug().Msg("connecting to socket mode")
	case socketmode.EventTypeConnected:
		a.log.Info().Msg("connected to socket mode")
	case socketmode.EventTypeConnectionError:
		a.log.Warn().Interface("data", evt.Data).Msg("connection error")
	case socketmode.EventTypeDisconnect:
		a.log.Info().Msg("server requested disconnect, will reconnect")
	}
	return relay.InboundMessage{}, false
}

// convertMessage maps a direct-message event to an InboundMessage. Channel
// messages, bot messages and edits are dropped. File shares are reported as
// unsupported content.
func (a *Adapter) convertMessage(ctx context.Context, ev *slackevents.MessageEvent) (relay.InboundMessage, bool) {
	if ev.ChannelType != "im" || ev.User == "" || ev.User == a.BotUserID() || ev.BotID != "" {
		return relay.InboundMessage{}, false
	}
	var content relay.Content
	switch ev.SubType {
	case "":
		content = relay.Content{Kind: relay.KindText, Text: unescape(ev.Text)}
	case "file_share":
		content = relay.Content{Kind: relay.KindUnsupported}
	default:
		return relay.InboundMessage{}, false
	}
	return relay.InboundMessage{
		Platform:  "slack",
		UserID:    ev.User,
		FirstName: a.resolveFirstName(ctx, ev.User),
		ChatID:    ev.Channel,
		Content:   content,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}, true
}

// resolveFirstName looks up a user's first name, falling back to the
// display name and then the user ID.
func (a *Adapter) resolveFirstName(ctx context.Context, userID string) string {
	user, err := a.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userID
	}
	switch {
	case user.Profile.FirstName != "":
		return user.Profile.FirstName
	case user.Profile.DisplayName != "":
		return user.Profile.DisplayName
	case user.RealName != "":
		return user.RealName
	}
	return userID
}

// postText renders a Post as mrkdwn. Media are posted as links.
func postText(post relay.Post) (string, error) {
	c := post.Content
	markup := func(s string) string {
		if post.Format == relay.FormatHTML {
			return relay.HTMLToMarkup(s, bold)
		}
		return s
	}
	switch c.Kind {
	case relay.KindText:
		return markup(c.Text), nil
	case relay.KindPhoto, relay.KindVideo, relay.KindAudio, relay.KindVoice, relay.KindDocument:
		if c.Caption == "" {
			return c.FileID, nil
		}
		return markup(c.Caption) + "\n" + c.FileID, nil
	}
	return "", fmt.Errorf("slack: unsupported content kind %q", c.Kind)
}

var slackEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

// unescape reverses the three entities Slack escapes in message text.
func unescape(s string) string {
	return slackEntities.Replace(s)
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		usec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, usec*int64(time.Microsecond))
}
