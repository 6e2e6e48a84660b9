package server

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    CommandKind
		payload string
	}{
		{name: "board post", frame: "BOARD POST hello world", want: CommandBoardPost, payload: "hello world"},
		{name: "board post keeps spacing", frame: "BOARD POST  two  spaces ", want: CommandBoardPost, payload: " two  spaces "},
		{name: "board get", frame: "BOARD GET", want: CommandBoardGet},
		{name: "board get lowercase", frame: "board get", want: CommandBoardGet},
		{name: "board get padded", frame: "  BOARD GET  ", want: CommandBoardGet},
		{name: "structured post", frame: "POST:Title;Body;Extra", want: CommandPost, payload: "Title;Body;Extra"},
		{name: "structured post trimmed", frame: "POST:  Title;Body  ", want: CommandPost, payload: "Title;Body"},
		{name: "structured post with space", frame: "POST Title;Body", want: CommandPost, payload: "Title;Body"},
		{name: "structured post empty title", frame: "POST:;Body;Extra", want: CommandPost, payload: ";Body;Extra"},
		{name: "chat", frame: "CHAT hi", want: CommandChat, payload: "hi"},
		{name: "chat keeps trailing text", frame: "CHAT hi there ", want: CommandChat, payload: "hi there "},
		{name: "chat is case sensitive", frame: "chat hi", want: CommandUnknown},
		{name: "chat without separator", frame: "CHAT", want: CommandUnknown},
		{name: "exit", frame: "EXIT", want: CommandExit},
		{name: "exit lowercase", frame: "exit", want: CommandExit},
		{name: "empty", frame: "", want: CommandEmpty},
		{name: "whitespace", frame: "   ", want: CommandEmpty},
		{name: "unknown", frame: "HELLO", want: CommandUnknown},
		{name: "board alone", frame: "BOARD", want: CommandUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommand(tt.frame)
			if got.Kind != tt.want {
				t.Fatalf("ParseCommand(%q) kind = %v, want %v", tt.frame, got.Kind, tt.want)
			}
			if got.Payload != tt.payload {
				t.Errorf("ParseCommand(%q) payload = %q, want %q", tt.frame, got.Payload, tt.payload)
			}
		})
	}
}

func TestCommandKindString(t *testing.T) {
	if CommandBoardGet.String() != "board_get" {
		t.Errorf("Expected board_get, got %s", CommandBoardGet)
	}
	if CommandKind(99).String() != "unknown" {
		t.Errorf("Expected unknown for out-of-range kind, got %s", CommandKind(99))
	}
}
