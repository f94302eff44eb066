package relay

import (
	"fmt"
	"html"
	"strings"
)

// HTMLToMarkup converts the HTML subset used in posts and replies (<b>
// emphasis plus entities) to a platform markup whose bold delimiter is
// bold, e.g. "**" for Discord or "*" for Slack mrkdwn.
func HTMLToMarkup(s, bold string) string {
	r := strings.NewReplacer("<b>", bold, "</b>", bold)
	return html.UnescapeString(r.Replace(s))
}

// OptionsText renders quick-reply options as a numbered list, for platforms
// without reply keyboards. The conversation accepts the numbers as answers.
func OptionsText(options []string) string {
	if len(options) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reply with a number:")
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	return b.String()
}

// PlainReplyText flattens a reply for a platform without keyboards: the
// options, if any, are appended to the text.
func PlainReplyText(reply Reply, bold string) string {
	text := reply.Text
	if reply.Format == FormatHTML {
		text = HTMLToMarkup(text, bold)
	}
	if opts := OptionsText(reply.Options); opts != "" {
		text += "\n\n" + opts
	}
	return text
}
