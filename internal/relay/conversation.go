package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/store"
)

// Conversation runs the nickname state machine. Sessions live in a
// SessionStore keyed by user ID; callers serialize calls per user.
//
//	IDLE --start, no nickname--> CHOOSING_MODE
//	CHOOSING_MODE --numbered--> IDLE
//	CHOOSING_MODE --set nickname--> AWAITING_NICKNAME
//	AWAITING_NICKNAME --valid nickname--> IDLE (stored)
//	AWAITING_NICKNAME --invalid--> AWAITING_NICKNAME
//	any --cancel--> IDLE
//	any --change_nickname--> AWAITING_NICKNAME
type Conversation struct {
	sessions   SessionStore
	identities store.IdentityStore
	log        zerolog.Logger
}

// ConversationOpts holds parameters for creating a Conversation.
type ConversationOpts struct {
	Sessions   SessionStore
	Identities store.IdentityStore
	Logger     *zerolog.Logger // defaults to a no-op logger
}

// NewConversation creates a Conversation.
func NewConversation(opts ConversationOpts) (*Conversation, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: conversation: session store is required")
	}
	if opts.Identities == nil {
		return nil, fmt.Errorf("relay: conversation: identity store is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "conversation").Logger()
	}
	return &Conversation{
		sessions:   opts.Sessions,
		identities: opts.Identities,
		log:        log,
	}, nil
}

// State returns the user's current conversation state.
func (c *Conversation) State(ctx context.Context, userID string) (State, error) {
	return c.sessions.State(ctx, userID)
}

// Start handles the entry command. Users without a nickname are asked to
// choose a mode; users with one get an informational reply and any open
// session is closed.
func (c *Conversation) Start(ctx context.Context, msg InboundMessage) Reply {
	nick, ok, err := c.identities.Nickname(ctx, msg.UserID)
	if err != nil {
		c.log.Error().Err(err).Msg("start: look up nickname")
		return Reply{Text: textStorageFailure}
	}
	if ok {
		if err := c.sessions.End(ctx, msg.UserID); err != nil {
			c.log.Warn().Err(err).Msg("start: end session")
		}
		return Reply{Text: textWelcomeNamed(msg.FirstName, nick), Format: FormatHTML, RemoveOptions: true}
	}
	if err := c.sessions.Open(ctx, msg.UserID, StateChoosingMode); err != nil {
		c.log.Error().Err(err).Msg("start: open session")
		return Reply{Text: textStorageFailure}
	}
	return Reply{
		Text:    textWelcomeChoose(msg.FirstName),
		Format:  FormatHTML,
		Options: []string{OptionSetNickname, OptionNumbered},
	}
}

// ChangeNickname jumps straight to AWAITING_NICKNAME whether or not the
// user already has a nickname.
func (c *Conversation) ChangeNickname(ctx context.Context, msg InboundMessage) Reply {
	if err := c.sessions.Open(ctx, msg.UserID, StateAwaitingNickname); err != nil {
		c.log.Error().Err(err).Msg("change nickname: open session")
		return Reply{Text: textStorageFailure}
	}
	return Reply{Text: textNewNicknamePrompt, RemoveOptions: true}
}

// Cancel ends any open session without touching identities.
func (c *Conversation) Cancel(ctx context.Context, msg InboundMessage) Reply {
	if err := c.sessions.End(ctx, msg.UserID); err != nil {
		c.log.Warn().Err(err).Msg("cancel: end session")
	}
	return Reply{Text: textCancelled, RemoveOptions: true}
}

// Handle feeds a non-command message into the user's open session. The
// second return is false when the user has no open session, in which case
// the message is not consumed.
func (c *Conversation) Handle(ctx context.Context, msg InboundMessage) (Reply, bool) {
	state, err := c.sessions.State(ctx, msg.UserID)
	if err != nil {
		c.log.Error().Err(err).Msg("handle: read session")
		return Reply{Text: textStorageFailure}, true
	}
	switch state {
	case StateChoosingMode:
		return c.chooseMode(ctx, msg), true
	case StateAwaitingNickname:
		return c.submitNickname(ctx, msg), true
	default:
		return Reply{}, false
	}
}

func (c *Conversation) chooseMode(ctx context.Context, msg InboundMessage) Reply {
	switch matchOption(msg.Content) {
	case OptionNumbered:
		if err := c.sessions.End(ctx, msg.UserID); err != nil {
			c.log.Error().Err(err).Msg("choose mode: end session")
			return Reply{Text: textStorageFailure}
		}
		return Reply{Text: textNumberedChosen, RemoveOptions: true}
	case OptionSetNickname:
		if err := c.sessions.Open(ctx, msg.UserID, StateAwaitingNickname); err != nil {
			c.log.Error().Err(err).Msg("choose mode: open session")
			return Reply{Text: textStorageFailure}
		}
		return Reply{Text: textNicknamePrompt, RemoveOptions: true}
	default:
		// Touch the session so the reaper measures idleness from now.
		if err := c.sessions.Open(ctx, msg.UserID, StateChoosingMode); err != nil {
			c.log.Warn().Err(err).Msg("choose mode: refresh session")
		}
		return Reply{
			Text:    textChoosePrompt,
			Options: []string{OptionSetNickname, OptionNumbered},
		}
	}
}

func (c *Conversation) submitNickname(ctx context.Context, msg InboundMessage) Reply {
	if msg.Content.Kind != KindText {
		c.keepAwaiting(ctx, msg.UserID)
		return Reply{Text: textNicknameNotText}
	}
	nick := NormalizeNickname(msg.Content.Text)
	if err := ValidateNickname(nick); err != nil {
		c.keepAwaiting(ctx, msg.UserID)
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.log.Debug().Str("reason", verr.Reason).Msg("nickname rejected")
			return Reply{Text: textValidation(verr)}
		}
		return Reply{Text: textNicknameCharset}
	}

	if err := c.setNickname(ctx, msg.UserID, nick); err != nil {
		c.log.Error().Err(err).Msg("store nickname")
		c.keepAwaiting(ctx, msg.UserID)
		return Reply{Text: textStorageFailure}
	}
	if err := c.sessions.End(ctx, msg.UserID); err != nil {
		c.log.Warn().Err(err).Msg("submit nickname: end session")
	}
	return Reply{Text: textNicknameSet(nick), Format: FormatHTML}
}

// keepAwaiting refreshes an AWAITING_NICKNAME session after a rejected
// attempt so the reaper measures idleness from the latest message.
func (c *Conversation) keepAwaiting(ctx context.Context, userID string) {
	if err := c.sessions.Open(ctx, userID, StateAwaitingNickname); err != nil {
		c.log.Warn().Err(err).Msg("submit nickname: refresh session")
	}
}

// setNickname writes the nickname, retrying once on a storage failure.
func (c *Conversation) setNickname(ctx context.Context, userID, nick string) error {
	err := c.identities.SetNickname(ctx, userID, nick)
	if err == nil || !errors.Is(err, store.ErrStorage) {
		return err
	}
	c.log.Warn().Err(err).Msg("store nickname failed, retrying once")
	return c.identities.SetNickname(ctx, userID, nick)
}

// matchOption maps a CHOOSING_MODE reply to one of the option labels. It
// accepts the exact label as well as the digits and keywords platforms
// without reply keyboards let users type.
func matchOption(content Content) string {
	if content.Kind != KindText {
		return ""
	}
	text := strings.ToLower(strings.TrimSpace(content.Text))
	switch text {
	case strings.ToLower(OptionSetNickname), "1", "1️⃣", "nickname", "set nickname":
		return OptionSetNickname
	case strings.ToLower(OptionNumbered), "2", "2️⃣", "number", "numbered", "post by number":
		return OptionNumbered
	}
	return ""
}
