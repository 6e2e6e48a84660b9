package server

import "strings"

// CommandKind tags a decoded inbound frame.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandEmpty
	CommandPost
	CommandBoardPost
	CommandBoardGet
	CommandChat
	CommandExit
)

func (k CommandKind) String() string {
	switch k {
	case CommandEmpty:
		return "empty"
	case CommandPost:
		return "post"
	case CommandBoardPost:
		return "board_post"
	case CommandBoardGet:
		return "board_get"
	case CommandChat:
		return "chat"
	case CommandExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Command is one decoded frame. Payload is set for Post, BoardPost and Chat.
type Command struct {
	Kind    CommandKind
	Payload string
}

// ParseCommand decodes a frame. Prefixes are case-sensitive except for the
// whole-frame BOARD GET and EXIT commands.
func ParseCommand(frame string) Command {
	trimmed := strings.TrimSpace(frame)

	switch {
	case trimmed == "":
		return Command{Kind: CommandEmpty}
	case strings.HasPrefix(frame, "BOARD POST "):
		return Command{Kind: CommandBoardPost, Payload: frame[len("BOARD POST "):]}
	case strings.EqualFold(trimmed, "BOARD GET"):
		return Command{Kind: CommandBoardGet}
	case strings.HasPrefix(frame, "POST:"):
		return Command{Kind: CommandPost, Payload: strings.TrimSpace(frame[len("POST:"):])}
	case strings.HasPrefix(frame, "POST "):
		return Command{Kind: CommandPost, Payload: strings.TrimSpace(frame[len("POST "):])}
	case strings.HasPrefix(frame, "CHAT "):
		return Command{Kind: CommandChat, Payload: frame[len("CHAT "):]}
	case strings.EqualFold(trimmed, "EXIT"):
		return Command{Kind: CommandExit}
	default:
		return Command{Kind: CommandUnknown}
	}
}
