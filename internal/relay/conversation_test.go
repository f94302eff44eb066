package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/zulandar/mailslot/internal/store"
)

func newTestConversation(t *testing.T, ids store.IdentityStore) (*Conversation, *MemorySessionStore) {
	t.Helper()
	sessions := NewMemorySessionStore()
	c, err := NewConversation(ConversationOpts{Sessions: sessions, Identities: ids})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	return c, sessions
}

func assertState(t *testing.T, c *Conversation, userID string, want State) {
	t.Helper()
	got, err := c.State(context.Background(), userID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got != want {
		t.Errorf("state = %q, want %q", got, want)
	}
}

func TestNewConversation_Validation(t *testing.T) {
	if _, err := NewConversation(ConversationOpts{Identities: openTestStore(t)}); err == nil {
		t.Error("expected error for nil session store")
	}
	if _, err := NewConversation(ConversationOpts{Sessions: NewMemorySessionStore()}); err == nil {
		t.Error("expected error for nil identity store")
	}
}

func TestConversation_StartWithoutNickname(t *testing.T) {
	c, _ := newTestConversation(t, openTestStore(t))
	msg := textMsg("u1", "/start")
	msg.FirstName = "<Al>"

	reply := c.Start(context.Background(), msg)
	if len(reply.Options) != 2 || reply.Options[0] != OptionSetNickname || reply.Options[1] != OptionNumbered {
		t.Errorf("Options = %v, want both mode options", reply.Options)
	}
	if !strings.Contains(reply.Text, "Hi, &lt;Al&gt;!") {
		t.Errorf("reply = %q, want escaped greeting", reply.Text)
	}
	assertState(t, c, "u1", StateChoosingMode)
}

func TestConversation_StartWithNickname(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.SetNickname(ctx, "u1", "bob")
	c, sessions := newTestConversation(t, s)
	sessions.Open(ctx, "u1", StateAwaitingNickname)

	reply := c.Start(ctx, textMsg("u1", "/start"))
	if !strings.Contains(reply.Text, "<b>bob</b>") {
		t.Errorf("reply = %q, want current nickname", reply.Text)
	}
	if len(reply.Options) != 0 {
		t.Errorf("Options = %v, want none", reply.Options)
	}
	assertState(t, c, "u1", StateIdle)
}

func TestConversation_ChooseMode(t *testing.T) {
	tests := []struct {
		input string
		want  State
	}{
		{OptionNumbered, StateIdle},
		{OptionSetNickname, StateAwaitingNickname},
		{"1", StateAwaitingNickname},
		{"2", StateIdle},
		{"  Number ", StateIdle},
		{"what?", StateChoosingMode},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, _ := newTestConversation(t, openTestStore(t))
			ctx := context.Background()
			c.Start(ctx, textMsg("u1", "/start"))

			reply, ok := c.Handle(ctx, textMsg("u1", tt.input))
			if !ok {
				t.Fatal("Handle should consume input in CHOOSING_MODE")
			}
			if reply.Text == "" {
				t.Error("expected a reply")
			}
			assertState(t, c, "u1", tt.want)
		})
	}
}

func TestConversation_ChooseModeUnrecognizedRepromptsOptions(t *testing.T) {
	c, _ := newTestConversation(t, openTestStore(t))
	ctx := context.Background()
	c.Start(ctx, textMsg("u1", "/start"))

	reply, _ := c.Handle(ctx, mediaMsg("u1", KindPhoto, "f", ""))
	if len(reply.Options) != 2 {
		t.Errorf("Options = %v, want the choice re-offered", reply.Options)
	}
	assertState(t, c, "u1", StateChoosingMode)
}

func TestConversation_SubmitNickname(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantReply string
		wantState State
		wantNick  string
	}{
		{"valid minimum", "ab", "", StateIdle, "ab"},
		{"trimmed", "  carol_9 ", "", StateIdle, "carol_9"},
		{"too short", "a", textNicknameLength, StateAwaitingNickname, ""},
		{"too long", strings.Repeat("z", 21), textNicknameLength, StateAwaitingNickname, ""},
		{"bad characters", "bo b", textNicknameCharset, StateAwaitingNickname, ""},
		{"short with bad characters", "!", textNicknameLength, StateAwaitingNickname, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			c, sessions := newTestConversation(t, s)
			ctx := context.Background()
			sessions.Open(ctx, "u1", StateAwaitingNickname)

			reply, ok := c.Handle(ctx, textMsg("u1", tt.input))
			if !ok {
				t.Fatal("Handle should consume input in AWAITING_NICKNAME")
			}
			if tt.wantReply != "" && reply.Text != tt.wantReply {
				t.Errorf("reply = %q, want %q", reply.Text, tt.wantReply)
			}
			assertState(t, c, "u1", tt.wantState)

			nick, ok, _ := s.Nickname(ctx, "u1")
			if nick != tt.wantNick || ok != (tt.wantNick != "") {
				t.Errorf("stored nickname = %q (%v), want %q", nick, ok, tt.wantNick)
			}
		})
	}
}

func TestConversation_InvalidNicknameKeepsExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.SetNickname(ctx, "u1", "bob")
	c, _ := newTestConversation(t, s)

	c.ChangeNickname(ctx, textMsg("u1", "/change_nickname"))
	c.Handle(ctx, textMsg("u1", "b!"))

	nick, _, _ := s.Nickname(ctx, "u1")
	if nick != "bob" {
		t.Errorf("nickname = %q, want %q unchanged", nick, "bob")
	}
	assertState(t, c, "u1", StateAwaitingNickname)
}

func TestConversation_NonTextWhileAwaiting(t *testing.T) {
	c, sessions := newTestConversation(t, openTestStore(t))
	ctx := context.Background()
	sessions.Open(ctx, "u1", StateAwaitingNickname)

	reply, _ := c.Handle(ctx, mediaMsg("u1", KindVoice, "v", ""))
	if reply.Text != textNicknameNotText {
		t.Errorf("reply = %q, want %q", reply.Text, textNicknameNotText)
	}
	assertState(t, c, "u1", StateAwaitingNickname)
}

func TestConversation_HandleIdleNotConsumed(t *testing.T) {
	c, _ := newTestConversation(t, openTestStore(t))
	if _, ok := c.Handle(context.Background(), textMsg("u1", "hello")); ok {
		t.Error("Handle should not consume input without a session")
	}
}

func TestConversation_Cancel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.SetNickname(ctx, "u1", "bob")
	c, sessions := newTestConversation(t, s)

	for _, st := range []State{StateChoosingMode, StateAwaitingNickname, StateIdle} {
		sessions.Open(ctx, "u1", st)
		reply := c.Cancel(ctx, textMsg("u1", "/cancel"))
		if reply.Text != textCancelled || !reply.RemoveOptions {
			t.Errorf("cancel from %s: reply = %+v", st, reply)
		}
		assertState(t, c, "u1", StateIdle)
	}
	if nick, _, _ := s.Nickname(ctx, "u1"); nick != "bob" {
		t.Errorf("nickname = %q, want %q after cancel", nick, "bob")
	}
}

func TestConversation_ChangeNicknameWithoutExisting(t *testing.T) {
	c, _ := newTestConversation(t, openTestStore(t))
	ctx := context.Background()

	c.ChangeNickname(ctx, textMsg("u1", "/change_nickname"))
	assertState(t, c, "u1", StateAwaitingNickname)
}

func TestConversation_StorageRetry(t *testing.T) {
	t.Run("succeeds on retry", func(t *testing.T) {
		s := &flakyStore{Store: openTestStore(t), setFailures: 1}
		c, sessions := newTestConversation(t, s)
		ctx := context.Background()
		sessions.Open(ctx, "u1", StateAwaitingNickname)

		reply, _ := c.Handle(ctx, textMsg("u1", "bob"))
		if !strings.Contains(reply.Text, "<b>bob</b>") {
			t.Errorf("reply = %q, want success", reply.Text)
		}
		if s.SetCalls() != 2 {
			t.Errorf("SetNickname calls = %d, want 2", s.SetCalls())
		}
		assertState(t, c, "u1", StateIdle)
	})

	t.Run("fails twice", func(t *testing.T) {
		s := &flakyStore{Store: openTestStore(t), setFailures: 2}
		c, sessions := newTestConversation(t, s)
		ctx := context.Background()
		sessions.Open(ctx, "u1", StateAwaitingNickname)

		reply, _ := c.Handle(ctx, textMsg("u1", "bob"))
		if reply.Text != textStorageFailure {
			t.Errorf("reply = %q, want storage failure", reply.Text)
		}
		if s.SetCalls() != 2 {
			t.Errorf("SetNickname calls = %d, want 2", s.SetCalls())
		}
		assertState(t, c, "u1", StateAwaitingNickname)
		if _, ok, _ := s.Nickname(ctx, "u1"); ok {
			t.Error("nickname should not be stored")
		}
	})
}

func TestConversation_StartLookupFailure(t *testing.T) {
	s := &flakyStore{Store: openTestStore(t), failNickname: true}
	c, _ := newTestConversation(t, s)

	reply := c.Start(context.Background(), textMsg("u1", "/start"))
	if reply.Text != textStorageFailure {
		t.Errorf("reply = %q, want storage failure", reply.Text)
	}
	assertState(t, c, "u1", StateIdle)
}
