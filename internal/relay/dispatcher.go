package relay

import (
	"context"
	"fmt"
	"html"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog"
)

// DefaultBroadcastTimeout bounds a single broadcast attempt.
const DefaultBroadcastTimeout = 30 * time.Second

// signatureReserve is the room kept for "\n\n" plus the longest visible
// signature: a 20 character nickname with platform emphasis, or a 19 digit
// message number.
const signatureReserve = 64

// BroadcastError wraps a failed channel post.
type BroadcastError struct {
	ChannelID string
	Err       error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("relay: broadcast to %s: %v", e.ChannelID, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// Dispatcher signs user content and posts it to the broadcast channel.
type Dispatcher struct {
	resolver  *Resolver
	adapter   Adapter
	channelID string
	timeout   time.Duration
	log       zerolog.Logger
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Resolver  *Resolver
	Adapter   Adapter
	ChannelID string
	Timeout   time.Duration   // defaults to DefaultBroadcastTimeout
	Logger    *zerolog.Logger // defaults to a no-op logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("relay: dispatcher: resolver is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: dispatcher: adapter is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("relay: dispatcher: channel id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBroadcastTimeout
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "dispatcher").Logger()
	}
	return &Dispatcher{
		resolver:  opts.Resolver,
		adapter:   opts.Adapter,
		channelID: opts.ChannelID,
		timeout:   timeout,
		log:       log,
	}, nil
}

// Dispatch relays msg's content to the channel and returns the reply for
// the sender. The returned error is informational: a *BroadcastError, a
// storage failure from the resolver, or nil on success. The reply is always
// usable. A number consumed by a failed broadcast is not reused.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage) (Reply, error) {
	if !Relayable(msg.Content.Kind) {
		return Reply{Text: textUnsupported}, nil
	}
	if limit, ok := d.fits(msg.Content); !ok {
		d.log.Debug().Str("kind", string(msg.Content.Kind)).Int("limit", limit).Msg("content too long")
		return Reply{Text: textTooLong(limit)}, nil
	}

	sig, err := d.resolver.Resolve(ctx, msg.UserID)
	if err != nil {
		d.log.Error().Err(err).Msg("resolve signature")
		return Reply{Text: textStorageFailure}, err
	}

	post := Post{
		ChannelID: d.channelID,
		Content:   Compose(msg.Content, sig),
		Format:    FormatHTML,
	}

	bctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.adapter.Broadcast(bctx, post); err != nil {
		berr := &BroadcastError{ChannelID: d.channelID, Err: err}
		d.log.Error().Err(err).
			Str("kind", string(msg.Content.Kind)).
			Int64("number", sig.Number).
			Msg("broadcast failed")
		return Reply{Text: textPublishFailure}, berr
	}

	d.log.Info().
		Str("kind", string(msg.Content.Kind)).
		Int64("number", sig.Number).
		Bool("anonymous", sig.Anonymous()).
		Msg("relayed")
	return Reply{Text: textPublished(sig)}, nil
}

// fits reports whether c leaves room for a signature under the adapter's
// length limit. The first return is the body limit users must stay under.
func (d *Dispatcher) fits(c Content) (int, bool) {
	limiter, ok := d.adapter.(LengthLimiter)
	if !ok {
		return 0, true
	}
	var body string
	var limit int
	switch c.Kind {
	case KindText:
		body, limit = c.Text, limiter.MaxTextLen()
	case KindVoice:
		// Voice captions are replaced by the signature.
		return 0, true
	default:
		body, limit = c.Caption, limiter.MaxCaptionLen()
	}
	if limit <= 0 {
		return 0, true
	}
	room := limit - signatureReserve
	return room, len(utf16.Encode([]rune(body))) <= room
}

// Relayable reports whether content of kind k can be posted to the channel.
func Relayable(k Kind) bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindAudio, KindVoice, KindDocument:
		return true
	}
	return false
}

// Compose returns the outgoing content for c signed with sig. User text is
// HTML-escaped since posts are sent as HTML.
//
//	text:             body + "\n\n" + signature
//	media w/ caption: caption + "\n\n" + signature
//	media, no caption: signature
//	voice:            signature, any caption dropped
func Compose(c Content, sig Signature) Content {
	out := c
	signature := sig.Text()
	switch c.Kind {
	case KindText:
		out.Text = joinSigned(c.Text, signature)
	case KindVoice:
		out.Caption = signature
	default:
		out.Caption = joinSigned(c.Caption, signature)
	}
	return out
}

func joinSigned(body, signature string) string {
	if body == "" {
		return signature
	}
	return html.EscapeString(body) + "\n\n" + signature
}
