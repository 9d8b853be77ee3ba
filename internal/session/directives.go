package session

import (
	"strings"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
)

// resetCommands are the leading tokens that clear a conversation.
var resetCommands = []string{"/reset", "/new"}

// ParseDirectives extracts inline control commands from message text and
// returns the cleaned remainder.
func ParseDirectives(text string) (channels.Directives, string) {
	trimmed := strings.TrimSpace(text)
	for _, cmd := range resetCommands {
		if trimmed == cmd {
			return channels.Directives{Reset: true}, ""
		}
		if strings.HasPrefix(trimmed, cmd+" ") {
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, cmd))
			return channels.Directives{Reset: true}, rest
		}
	}
	return channels.Directives{}, text
}
