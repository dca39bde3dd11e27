// Package session persists conversations. A Store saves and loads Sessions;
// FileStore writes one JSON file per session and MongoStore keeps them in a
// MongoDB collection.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lowkaihon/unai/llm"
)

const previewLen = 100

// ErrNotFound is returned by Load and Delete for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Meta holds metadata about a saved session.
type Meta struct {
	ID        string    `json:"id" bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	Provider  string    `json:"provider,omitempty" bson:"provider,omitempty"`
	Model     string    `json:"model,omitempty" bson:"model,omitempty"`
	Preview   string    `json:"preview" bson:"preview"`
	MsgCount  int       `json:"msg_count" bson:"msg_count"`
	Tokens    int       `json:"tokens" bson:"tokens"`
}

// Session is a saved conversation.
type Session struct {
	Meta     Meta          `json:"meta"`
	Messages []llm.Message `json:"messages"`
}

// Store persists sessions.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	// List returns up to max sessions, most recently updated first. max <= 0
	// means no limit.
	List(ctx context.Context, max int) ([]Meta, error)
	Delete(ctx context.Context, id string) error
}

// New starts an empty session with a fresh id.
func New(provider, model string) *Session {
	now := time.Now().UTC()
	return &Session{Meta: Meta{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Provider:  provider,
		Model:     model,
	}}
}

// Append adds messages to the conversation.
func (s *Session) Append(msgs ...llm.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// touch refreshes the derived metadata before a save.
func (s *Session) touch() {
	s.Meta.UpdatedAt = time.Now().UTC()
	s.Meta.MsgCount = len(s.Messages)
	s.Meta.Tokens = llm.EstimateMessageTokens(s.Messages)
	s.Meta.Preview = preview(s.Messages)
}

// preview is the start of the first non-empty user message.
func preview(msgs []llm.Message) string {
	for _, m := range msgs {
		if m.Role() != llm.RoleUser {
			continue
		}
		if text := m.Text(); text != "" {
			r := []rune(text)
			if len(r) > previewLen {
				r = r[:previewLen]
			}
			return string(r)
		}
	}
	return ""
}
