package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

var modelMessageTypes = map[string]bool{
	"gemini": true,
	"model":  true,
}

type wireMessage struct {
	Type      json.RawMessage `json:"type"`
	ID        json.RawMessage `json:"id"`
	Model     json.RawMessage `json:"model"`
	Timestamp json.RawMessage `json:"timestamp"`
	Tokens    json.RawMessage `json:"tokens"`
}

// ReadFile reads and decodes the session file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := DecodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// DecodeFile decodes a session file. It returns ErrMalformedJSON for content
// that is not JSON and ErrSchemaInvalid for JSON that is not a session shell.
func DecodeFile(data []byte) (*File, error) {
	if !json.Valid(data) {
		return nil, ErrMalformedJSON
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil || envelope == nil {
		return nil, fmt.Errorf("%w: not an object", ErrSchemaInvalid)
	}

	sessionID, ok := rawString(envelope["sessionId"])
	if !ok || sessionID == "" {
		return nil, fmt.Errorf("%w: missing sessionId", ErrSchemaInvalid)
	}

	rawMessages := bytes.TrimSpace(envelope["messages"])
	if len(rawMessages) == 0 || rawMessages[0] != '[' {
		return nil, fmt.Errorf("%w: messages is not an array", ErrSchemaInvalid)
	}
	var messages []json.RawMessage
	if err := json.Unmarshal(rawMessages, &messages); err != nil {
		return nil, fmt.Errorf("%w: messages: %v", ErrSchemaInvalid, err)
	}

	f := &File{SessionID: sessionID, Messages: messages}
	f.ProjectHash, _ = rawString(envelope["projectHash"])
	f.StartTime, _ = rawString(envelope["startTime"])
	f.LastUpdated, _ = rawString(envelope["lastUpdated"])
	return f, nil
}

// IsValidSessionFile reports whether data is an object with a non-empty
// string sessionId and an array-valued messages field.
func IsValidSessionFile(data []byte) bool {
	_, err := DecodeFile(data)
	return err == nil
}

// ParseUsageMessage returns the message when raw is a model response with a
// non-empty id and model, numeric input/output token counts, and at least one
// of them strictly positive.
func ParseUsageMessage(raw json.RawMessage) (Message, bool) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Message{}, false
	}

	kind, _ := rawString(wire.Type)
	if !modelMessageTypes[kind] {
		return Message{}, false
	}
	id, ok := rawString(wire.ID)
	if !ok || id == "" {
		return Message{}, false
	}
	model, ok := rawString(wire.Model)
	if !ok || strings.TrimSpace(model) == "" {
		return Message{}, false
	}

	var tokens map[string]json.RawMessage
	if err := json.Unmarshal(wire.Tokens, &tokens); err != nil || tokens == nil {
		return Message{}, false
	}
	input, ok := rawNumber(tokens["input"])
	if !ok {
		return Message{}, false
	}
	output, ok := rawNumber(tokens["output"])
	if !ok {
		return Message{}, false
	}
	if input <= 0 && output <= 0 {
		return Message{}, false
	}

	msg := Message{
		ID:    id,
		Type:  kind,
		Model: model,
		Tokens: TokenCounts{
			Input:  int64(input),
			Output: int64(output),
		},
	}
	msg.Timestamp, _ = rawString(wire.Timestamp)
	if v, ok := rawNumber(tokens["cached"]); ok {
		msg.Tokens.Cached = int64(v)
	}
	if v, ok := rawNumber(tokens["thoughts"]); ok {
		msg.Tokens.Thoughts = int64(v)
	}
	if v, ok := rawNumber(tokens["tool"]); ok {
		msg.Tokens.Tool = int64(v)
	}
	if v, ok := rawNumber(tokens["total"]); ok {
		msg.Tokens.Total = int64(v)
	}
	return msg, true
}

// IsUsageBearingMessage is ParseUsageMessage without the decoded value.
func IsUsageBearingMessage(raw json.RawMessage) bool {
	_, ok := ParseUsageMessage(raw)
	return ok
}

// MessageIDs returns the string ids of every message in f, whatever its kind.
func MessageIDs(f *File) []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f.Messages))
	for _, raw := range f.Messages {
		var wire wireMessage
		if err := json.Unmarshal(raw, &wire); err != nil {
			continue
		}
		if id, ok := rawString(wire.ID); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseTimestamp parses the agent's ISO-8601 timestamps, returning fallback
// when value is empty or unparseable.
func ParseTimestamp(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return fallback
}

func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
