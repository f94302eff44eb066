package relay

import (
	"context"
	"fmt"
	"html"

	"github.com/zulandar/mailslot/internal/store"
)

// Signature is the attribution line appended to a relayed post.
type Signature struct {
	// Nickname is set when the sender has one.
	Nickname string
	// Number is the message number consumed for this post, or 0 when none
	// was consumed.
	Number int64
}

// Anonymous reports whether the post is signed by number only.
func (s Signature) Anonymous() bool { return s.Nickname == "" }

// Text renders the signature as HTML.
func (s Signature) Text() string {
	if s.Nickname != "" {
		return "✍️ attributed to <b>" + html.EscapeString(s.Nickname) + "</b>"
	}
	return fmt.Sprintf("🔢 anonymous post #%d", s.Number)
}

// Resolver decides how a post is signed.
type Resolver struct {
	identities store.IdentityStore
	counter    store.CounterStore
	countNamed bool
}

// ResolverOpts holds parameters for creating a Resolver.
type ResolverOpts struct {
	Identities store.IdentityStore
	Counter    store.CounterStore
	// CountNamedPosts makes nickname-signed posts consume a number too.
	CountNamedPosts bool
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOpts) (*Resolver, error) {
	if opts.Identities == nil {
		return nil, fmt.Errorf("relay: resolver: identity store is required")
	}
	if opts.Counter == nil {
		return nil, fmt.Errorf("relay: resolver: counter store is required")
	}
	return &Resolver{
		identities: opts.Identities,
		counter:    opts.Counter,
		countNamed: opts.CountNamedPosts,
	}, nil
}

// Resolve returns the signature for userID's next post. Anonymous posts
// always consume a message number; named posts consume one only when the
// resolver counts named posts.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Signature, error) {
	nick, ok, err := r.identities.Nickname(ctx, userID)
	if err != nil {
		return Signature{}, fmt.Errorf("relay: resolve %s: %w", userID, err)
	}

	var sig Signature
	if ok {
		sig.Nickname = nick
		if !r.countNamed {
			return sig, nil
		}
	}

	n, err := r.counter.NextMessageNumber(ctx)
	if err != nil {
		return Signature{}, fmt.Errorf("relay: resolve %s: %w", userID, err)
	}
	sig.Number = n
	return sig, nil
}
