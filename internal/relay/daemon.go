package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/config"
	"github.com/zulandar/mailslot/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxWorkers bounds concurrent message handling when the config
// leaves it unset.
const DefaultMaxWorkers = 32

// Daemon is the main relay process. It connects to a chat platform via an
// Adapter, hands every inbound message to a bounded pool of workers running
// the Router, and reaps idle conversation sessions on a schedule.
type Daemon struct {
	cfg      *config.Config
	adapter  Adapter
	store    store.Store
	sessions SessionStore
	log      zerolog.Logger
	out      io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config   *config.Config
	Adapter  Adapter
	Store    store.Store
	Sessions SessionStore    // defaults to an in-memory store
	Logger   *zerolog.Logger // defaults to a no-op logger
	Out      io.Writer       // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("relay: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: adapter is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Daemon{
		cfg:      opts.Config,
		adapter:  opts.Adapter,
		store:    opts.Store,
		sessions: sessions,
		log:      log,
		out:      out,
	}, nil
}

// Run connects the adapter, builds the relay pipeline and blocks until the
// context is cancelled or the adapter closes its inbound channel. In-flight
// messages are finished before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "mailslot connecting to %s...\n", d.cfg.Platform)
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("relay: connect: %w", err)
	}

	router, reaper, err := d.build()
	if err != nil {
		d.adapter.Close()
		return err
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: listen: %w", err)
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reaper.Run(reaperCtx)

	// Workers outlive ctx so a shutdown does not cut a broadcast short; each
	// one is still bounded by the broadcast timeout.
	workCtx := context.WithoutCancel(ctx)
	limit := d.cfg.Relay.MaxWorkers
	if limit <= 0 {
		limit = DefaultMaxWorkers
	}
	var workers errgroup.Group
	workers.SetLimit(limit)

	fmt.Fprintf(d.out, "mailslot online, relaying to %s\n", d.cfg.Channel)
	d.log.Info().Str("platform", d.cfg.Platform).Int("max_workers", limit).Msg("online")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "mailslot shutting down...\n")
			d.shutdown(&workers)
			fmt.Fprintf(d.out, "mailslot stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "mailslot inbound channel closed\n")
				d.shutdown(&workers)
				return nil
			}
			workers.Go(func() error {
				router.Handle(workCtx, msg)
				return nil
			})
		}
	}
}

func (d *Daemon) shutdown(workers *errgroup.Group) {
	workers.Wait()
	if err := d.adapter.Close(); err != nil {
		d.log.Warn().Err(err).Msg("close adapter")
	}
}

// build wires the resolver, conversation, dispatcher and router.
func (d *Daemon) build() (*Router, *Reaper, error) {
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	resolver, err := NewResolver(ResolverOpts{
		Identities:      d.store,
		Counter:         d.store,
		CountNamedPosts: d.cfg.CountsNamedPosts(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: build resolver: %w", err)
	}

	conv, err := NewConversation(ConversationOpts{
		Sessions:   d.sessions,
		Identities: d.store,
		Logger:     &d.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: build conversation: %w", err)
	}

	cmds, err := NewCommandHandler(CommandHandlerOpts{
		Identities: d.store,
		Counter:    d.store,
		Logger:     &d.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: build command handler: %w", err)
	}

	disp, err := NewDispatcher(DispatcherOpts{
		Resolver:  resolver,
		Adapter:   d.adapter,
		ChannelID: d.cfg.Channel,
		Timeout:   time.Duration(d.cfg.Relay.BroadcastTimeoutSec) * time.Second,
		Logger:    &d.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: build dispatcher: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Conversation: conv,
		Commands:     cmds,
		Dispatcher:   disp,
		Adapter:      d.adapter,
		BotUserID:    botUserID,
		Logger:       &d.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: build router: %w", err)
	}

	reaper, err := NewReaper(ReaperOpts{
		Sessions: d.sessions,
		Schedule: d.cfg.Relay.ReaperCron,
		Idle:     time.Duration(d.cfg.Relay.SessionIdleTimeoutSec) * time.Second,
		Logger:   &d.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: build reaper: %w", err)
	}
	return router, reaper, nil
}
