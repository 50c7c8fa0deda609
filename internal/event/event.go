// Package event turns the stream-json records printed by the worker into
// human readable job log lines.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed record")

const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"

	SubtypeInit = "init"

	ItemText       = "text"
	ItemToolUse    = "tool_use"
	ItemToolResult = "tool_result"
)

// Record is a single line of worker output. Only the fields the parser
// needs are decoded; everything else is ignored.
type Record struct {
	Type       string   `json:"type"`
	Subtype    string   `json:"subtype,omitempty"`
	SessionID  *string  `json:"session_id,omitempty"`
	Message    *Message `json:"message,omitempty"`
	IsError    bool     `json:"is_error,omitempty"`
	DurationMS float64  `json:"duration_ms,omitempty"`
}

// Message is the envelope of assistant and user records. Content is usually
// a list of items but the worker may send a plain string as well.
type Message struct {
	Content json.RawMessage `json:"content,omitempty"`
}

// Items returns the content items, nil when content is not a list.
func (m *Message) Items() []Item {
	if m == nil || len(m.Content) == 0 || m.Content[0] != '[' {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(m.Content, &raw); err != nil {
		return nil
	}
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var it Item
		if err := json.Unmarshal(r, &it); err != nil {
			// one odd item does not spoil its siblings
			continue
		}
		items = append(items, it)
	}
	return items
}

type Item struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Decode parses one output line. Errors wrap ErrMalformed.
func Decode(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return rec, nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
