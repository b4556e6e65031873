// Package session decodes the chat files the Gemini CLI writes under
// ~/.gemini/tmp/<project-hash>/chats and turns their model responses into
// usage rows.
package session

import (
	"encoding/json"
	"errors"
	"time"
)

// ProviderID is the provider every row from this agent is billed against.
const ProviderID = "google"

var (
	// ErrNotInstalled means the sessions root does not exist.
	ErrNotInstalled = errors.New("session: sessions directory not found")
	// ErrMalformedJSON means the file content is not JSON at all.
	ErrMalformedJSON = errors.New("session: malformed json")
	// ErrSchemaInvalid means the JSON is not a session file shell
	// (object with a non-empty sessionId and a messages array).
	ErrSchemaInvalid = errors.New("session: invalid session file")
)

// File is a decoded session file. Messages stay raw because the agent mixes
// user, info and model records with unrelated shapes in one array.
type File struct {
	SessionID   string
	ProjectHash string
	StartTime   string
	LastUpdated string
	Messages    []json.RawMessage
}

// TokenCounts mirrors the token object the agent attaches to model responses.
type TokenCounts struct {
	Input    int64
	Output   int64
	Cached   int64
	Thoughts int64
	Tool     int64
	Total    int64
}

// Message is a model response that carries token data.
type Message struct {
	ID        string
	Type      string
	Model     string
	Timestamp string
	Tokens    TokenCounts
}

type Tokens struct {
	Input     int64 `json:"input" yaml:"input"`
	Output    int64 `json:"output" yaml:"output"`
	CacheRead int64 `json:"cacheRead,omitempty" yaml:"cacheRead,omitempty"`
}

// UsageRow is one billable token-consumption event.
type UsageRow struct {
	SessionID        string    `json:"sessionId" yaml:"sessionId"`
	ProviderID       string    `json:"providerId" yaml:"providerId"`
	ModelID          string    `json:"modelId" yaml:"modelId"`
	Tokens           Tokens    `json:"tokens" yaml:"tokens"`
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	SessionUpdatedAt time.Time `json:"sessionUpdatedAt" yaml:"sessionUpdatedAt"`
}

// TokensFor converts raw counts into row tokens. Cached tokens are only kept
// when positive.
func TokensFor(c TokenCounts) Tokens {
	t := Tokens{Input: c.Input, Output: c.Output}
	if c.Cached > 0 {
		t.CacheRead = c.Cached
	}
	return t
}
