package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/keylock"
)

// Router classifies inbound private messages and routes them:
// commands to the conversation or command handler, other messages to the
// open conversation session if there is one, and everything else to the
// dispatcher. All handling for one user is serialized.
type Router struct {
	conversation *Conversation
	commands     *CommandHandler
	dispatcher   *Dispatcher
	adapter      Adapter
	botUserID    string
	users        keylock.Map
	log          zerolog.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Conversation *Conversation
	Commands     *CommandHandler
	Dispatcher   *Dispatcher
	Adapter      Adapter
	BotUserID    string // bot's user ID for self-message filtering
	Logger       *zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Conversation == nil {
		return nil, fmt.Errorf("relay: router: conversation is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("relay: router: command handler is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("relay: router: dispatcher is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: router: adapter is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "router").Logger()
	}
	return &Router{
		conversation: opts.Conversation,
		commands:     opts.Commands,
		dispatcher:   opts.Dispatcher,
		adapter:      opts.Adapter,
		botUserID:    opts.BotUserID,
		log:          log,
	}, nil
}

// Handle routes a single inbound message and sends the reply. Routing:
//  1. Bot self-message or message without a user → ignore
//  2. Slash command → conversation or command handler
//  3. Open conversation session → conversation
//  4. Everything else → dispatcher
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if msg.UserID == "" || (r.botUserID != "" && msg.UserID == r.botUserID) {
		return
	}

	unlock := r.users.Lock(msg.UserID)
	defer unlock()

	log := r.log.With().Str("kind", string(msg.Content.Kind)).Logger()
	log.Debug().Str("user_id", msg.UserID).Msg("recv")

	reply := r.route(ctx, msg, &log)
	if reply.Text == "" {
		return
	}
	reply.ChatID = msg.ChatID
	if err := r.adapter.Reply(ctx, reply); err != nil {
		log.Error().Err(err).Msg("send reply")
	}
}

func (r *Router) route(ctx context.Context, msg InboundMessage, log *zerolog.Logger) Reply {
	if cmd, ok := parseCommand(msg.Content); ok {
		log.Debug().Str("command", string(cmd)).Msg("→ command")
		return r.handleCommand(ctx, cmd, msg)
	}

	if reply, ok := r.conversation.Handle(ctx, msg); ok {
		log.Debug().Msg("→ conversation")
		return reply
	}

	log.Debug().Msg("→ dispatch")
	reply, _ := r.dispatcher.Dispatch(ctx, msg)
	return reply
}

// handleCommand runs cmd. stats and help leave an open session as is.
func (r *Router) handleCommand(ctx context.Context, cmd Command, msg InboundMessage) Reply {
	switch cmd {
	case CmdStart:
		return r.conversation.Start(ctx, msg)
	case CmdChangeNickname:
		return r.conversation.ChangeNickname(ctx, msg)
	case CmdCancel:
		return r.conversation.Cancel(ctx, msg)
	case CmdRemoveNickname:
		return r.commands.RemoveNickname(ctx, msg.UserID)
	case CmdStats:
		return r.commands.Stats(ctx, msg.UserID)
	default:
		return r.commands.Help()
	}
}
