package event

import (
	"encoding/json"
	"fmt"
)

const (
	UnknownTool = "unknown"

	commandPreview = 100
	queryPreview   = 80
	pathPreview    = 200
	resultPreview  = 150
)

// inputKeys is the priority order of tool arguments shown in the log.
var inputKeys = []struct {
	key    string
	label  string
	length int
}{
	{"command", "", commandPreview},
	{"file_path", "", pathPreview},
	{"pattern", "pattern: ", pathPreview},
	{"url", "", pathPreview},
	{"query", "query: ", queryPreview},
	{"prompt", "prompt: ", queryPreview},
}

// Parser formats the records of one worker run. It remembers which tool each
// call id belongs to so results can be labeled. A Parser must not be shared
// between runs or goroutines.
type Parser struct {
	tools map[string]string
}

func NewParser() *Parser {
	return &Parser{tools: make(map[string]string)}
}

// Line decodes and handles one output line.
func (p *Parser) Line(line []byte) ([]string, error) {
	rec, err := Decode(line)
	if err != nil {
		return nil, err
	}
	return p.Handle(rec), nil
}

// Handle returns the log lines for rec. Unknown record types yield nothing.
func (p *Parser) Handle(rec Record) []string {
	switch rec.Type {
	case TypeSystem:
		if rec.Subtype != SubtypeInit {
			return nil
		}
		session := "N/A"
		if rec.SessionID != nil && *rec.SessionID != "" {
			session = *rec.SessionID
		}
		return []string{"Session initialized: " + session}
	case TypeAssistant:
		var out []string
		for _, it := range rec.Message.Items() {
			switch it.Type {
			case ItemText:
				out = append(out, it.Text)
			case ItemToolUse:
				out = append(out, p.toolUse(it))
			}
		}
		return out
	case TypeUser:
		var out []string
		for _, it := range rec.Message.Items() {
			if it.Type == ItemToolResult {
				out = append(out, p.toolResult(it))
			}
		}
		return out
	case TypeResult:
		status := "success"
		if rec.IsError {
			status = "error"
		}
		return []string{fmt.Sprintf("Task %s (took %.1fs)", status, rec.DurationMS/1000)}
	default:
		return nil
	}
}

func (p *Parser) toolUse(it Item) string {
	name := it.Name
	if name == "" {
		name = UnknownTool
	}
	if it.ID != "" {
		p.tools[it.ID] = name
	}
	return "🔧 Tool: " + name + inputPreview(it.Input)
}

func inputPreview(raw json.RawMessage) string {
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return ""
	}
	for _, k := range inputKeys {
		v, ok := input[k.key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		s, _ = truncate(oneLine(s), k.length)
		return " → " + k.label + s
	}
	return ""
}

func (p *Parser) toolResult(it Item) string {
	name, ok := p.tools[it.ToolUseID]
	if !ok {
		name = UnknownTool
	}
	marker, status := "✓", "success"
	if it.IsError {
		marker, status = "✗", "error"
	}
	return "  " + marker + " " + name + ": " + status + resultSummary(it.Content)
}

func resultSummary(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		s = oneLine(s)
		if s == "" {
			return ""
		}
		if short, cut := truncate(s, resultPreview); cut {
			return " → " + short + "..."
		}
		return " → " + s
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return ""
		}
		return fmt.Sprintf(" → %d items", len(list))
	}
	return ""
}
