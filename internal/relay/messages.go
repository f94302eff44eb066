package relay

import (
	"fmt"
	"html"
	"strings"

	"github.com/zulandar/mailslot/internal/store"
)

// Quick-reply labels offered in CHOOSING_MODE.
const (
	OptionSetNickname = "✏️ Set a nickname"
	OptionNumbered    = "🔢 Post by number"
)

const commandList = "/change_nickname - Change your nickname\n" +
	"/remove_nickname - Remove your nickname (posts get a number)\n" +
	"/stats - Bot statistics\n" +
	"/help - Help"

const (
	textChoosePrompt = "🎯 Choose how your messages should be signed:\n\n" +
		"1️⃣ With a personal nickname\n" +
		"2️⃣ With a message number (anonymous)"

	textNumberedChosen = "✅ Great! Your messages will be published under a number.\n\n" +
		"📝 Send me any message and it will appear in the channel!"

	textNicknamePrompt = "✏️ Enter your nickname:\n\n" +
		"⚠️ A nickname must be 2 to 20 characters long.\n" +
		"Use Latin letters, digits and _"

	textNewNicknamePrompt = "✏️ Enter your new nickname:\n\n" +
		"⚠️ A nickname must be 2 to 20 characters long.\n" +
		"Use Latin letters, digits and _"

	textNicknameLength  = "❌ A nickname must be 2 to 20 characters long. Try again:"
	textNicknameCharset = "❌ A nickname may contain only Latin letters, digits and _. Try again:"
	textNicknameNotText = "✏️ Please send your nickname as a text message, or /cancel."

	textCancelled = "❌ Action cancelled."

	textNicknameRemoved = "✅ Your nickname has been removed.\n\n" +
		"📝 Your messages will now be published under a number."
	textNoNickname = "ℹ️ You don't have a nickname set.\n\n" +
		"Use /start to set one up."

	textStorageFailure = "❌ Something went wrong while saving. Please try again later."

	textPublishFailure = "❌ The message could not be published.\n\n" +
		"⚠️ Make sure the bot has been added to the channel as an administrator with permission to post messages."

	textUnsupported = "⚠️ This kind of message is not supported.\n\n" +
		"Send text, a photo, a video, audio, a voice message or a document."

	textHelp = "📖 <b>How to use this bot</b>\n\n" +
		"🎭 <b>How does it work?</b>\n" +
		"Send me any message and it will be published in the channel without your name.\n\n" +
		"🔤 <b>Nickname or number?</b>\n" +
		"• With a nickname, your posts are signed with it\n" +
		"• Without one, posts are signed as 'anonymous post #123'\n\n" +
		"⚙️ <b>Commands</b>\n" +
		"/start - Get started\n" +
		commandList + "\n" +
		"/cancel - Cancel the current action\n\n" +
		"💬 <b>Supported messages</b>\n" +
		"• Text\n" +
		"• Photos\n" +
		"• Videos\n" +
		"• Audio\n" +
		"• Documents\n" +
		"• Voice messages"
)

func greeting(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	return "👋 Hi, " + html.EscapeString(name) + "!\n\n" +
		"🎭 This bot publishes your messages to the channel anonymously.\n\n"
}

func textWelcomeChoose(firstName string) string {
	return greeting(firstName) + textChoosePrompt
}

func textWelcomeNamed(firstName, nickname string) string {
	return greeting(firstName) +
		"✅ Your current nickname: <b>" + html.EscapeString(nickname) + "</b>\n\n" +
		"📝 Just send me a message and it will be published in the channel under your nickname.\n\n" +
		"🔄 Commands:\n" + commandList
}

func textTooLong(limit int) string {
	return fmt.Sprintf("⚠️ This message is too long to publish.\n\n"+
		"Keep it under %d characters so the signature fits.", limit)
}

func textNicknameSet(nickname string) string {
	return "✅ Done! Your nickname is now <b>" + html.EscapeString(nickname) + "</b>\n\n" +
		"📝 Send me a message and it will be published in the channel under your nickname!\n\n" +
		"💡 You can change it at any time with /change_nickname"
}

func textValidation(err *ValidationError) string {
	if err.Reason == ReasonLength {
		return textNicknameLength
	}
	return textNicknameCharset
}

func textPublished(sig Signature) string {
	if sig.Number == 0 {
		return "✅ Your message has been published in the channel!"
	}
	return fmt.Sprintf("✅ Your message has been published in the channel!\n\n📊 message #%d", sig.Number)
}

func textStats(stats store.Stats, nickname string) string {
	var b strings.Builder
	b.WriteString("📊 <b>Bot statistics</b>\n\n")
	fmt.Fprintf(&b, "📝 Total messages: %d\n", stats.TotalMessages)
	fmt.Fprintf(&b, "👥 Total users: %d\n\n", stats.TotalUsers)
	if nickname != "" {
		b.WriteString("🎭 Your nickname: <b>" + html.EscapeString(nickname) + "</b>")
	} else {
		b.WriteString("🔢 You post under a number")
	}
	return b.String()
}
