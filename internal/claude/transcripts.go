package claude

import (
	"encoding/json"
	"time"
)

// ParseEntry decodes one transcript line. ok is false for malformed lines
// and lines without a type.
func ParseEntry(line []byte) (entry TranscriptEntry, ok bool) {
	if err := json.Unmarshal(line, &entry); err != nil {
		return TranscriptEntry{}, false
	}
	return entry, entry.Type != ""
}

// DecodeMessage decodes the message field of an entry.
func DecodeMessage(raw json.RawMessage) (Message, bool) {
	if len(raw) == 0 {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false
	}
	return msg, true
}

// Blocks returns the content blocks, or nil when the content is a string.
func (m Message) Blocks() []ContentBlock {
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// PlainText returns the content when it is a plain string.
func (m Message) PlainText() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// DecodeToolInput decodes a tool_use input. Unknown shapes yield the zero
// value.
func DecodeToolInput(raw json.RawMessage) ToolInput {
	var in ToolInput
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &in)
	}
	return in
}

// ParseTimestamp parses an ISO 8601 timestamp string. It tries RFC3339Nano,
// RFC3339, and a plain datetime format without timezone. Returns the zero time
// if the string is empty or cannot be parsed by any supported format.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			// Fallback for datetime strings without a timezone suffix.
			t, err = time.Parse("2006-01-02T15:04:05", s)
			if err != nil {
				return time.Time{}
			}
		}
	}
	return t
}
