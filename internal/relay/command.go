package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/store"
)

// Command is a recognized slash command.
type Command string

// Commands understood by the router.
const (
	CmdStart          Command = "start"
	CmdChangeNickname Command = "change_nickname"
	CmdRemoveNickname Command = "remove_nickname"
	CmdStats          Command = "stats"
	CmdHelp           Command = "help"
	CmdCancel         Command = "cancel"
	CmdUnknown        Command = ""
)

var knownCommands = map[string]Command{
	"start":           CmdStart,
	"change_nickname": CmdChangeNickname,
	"remove_nickname": CmdRemoveNickname,
	"stats":           CmdStats,
	"help":            CmdHelp,
	"cancel":          CmdCancel,
}

// parseCommand extracts a command from a text message. The second return
// is false for non-command content. "/Stats@my_bot extra" parses as
// CmdStats; an unrecognized "/foo" returns CmdUnknown, true.
func parseCommand(c Content) (Command, bool) {
	if c.Kind != KindText {
		return CmdUnknown, false
	}
	text := strings.TrimSpace(c.Text)
	if !strings.HasPrefix(text, "/") {
		return CmdUnknown, false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if cmd, ok := knownCommands[strings.ToLower(name)]; ok {
		return cmd, true
	}
	return CmdUnknown, true
}

// CommandHandler answers the one-shot commands that sit outside the
// nickname conversation.
type CommandHandler struct {
	identities store.IdentityStore
	counter    store.CounterStore
	log        zerolog.Logger
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Identities store.IdentityStore
	Counter    store.CounterStore
	Logger     *zerolog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Identities == nil {
		return nil, fmt.Errorf("relay: command handler: identity store is required")
	}
	if opts.Counter == nil {
		return nil, fmt.Errorf("relay: command handler: counter store is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "commands").Logger()
	}
	return &CommandHandler{
		identities: opts.Identities,
		counter:    opts.Counter,
		log:        log,
	}, nil
}

// RemoveNickname clears the user's nickname. Later posts are numbered.
func (h *CommandHandler) RemoveNickname(ctx context.Context, userID string) Reply {
	removed, err := h.identities.RemoveNickname(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("remove nickname")
		return Reply{Text: textStorageFailure}
	}
	if !removed {
		return Reply{Text: textNoNickname}
	}
	return Reply{Text: textNicknameRemoved}
}

// Stats reports the global counters and how the caller's posts are signed.
func (h *CommandHandler) Stats(ctx context.Context, userID string) Reply {
	stats, err := h.counter.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("read stats")
		return Reply{Text: textStorageFailure}
	}
	nick, _, err := h.identities.Nickname(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("stats: look up nickname")
		return Reply{Text: textStorageFailure}
	}
	return Reply{Text: textStats(stats, nick), Format: FormatHTML}
}

// Help returns the usage text.
func (h *CommandHandler) Help() Reply {
	return Reply{Text: textHelp, Format: FormatHTML}
}
