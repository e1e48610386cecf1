package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
)

// ErrNotFound is returned when a session or context does not exist.
var ErrNotFound = errors.New("not found")

// Store persists sessions and their conversation contexts. Sessions and
// contexts are written separately; the context is the larger record and
// changes more often.
type Store interface {
	SaveSession(ctx context.Context, s *session.Session) error
	LoadSession(ctx context.Context, id uuid.UUID) (*session.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	SaveContext(ctx context.Context, id uuid.UUID, messages []chat.Message) error
	LoadContext(ctx context.Context, id uuid.UUID) ([]chat.Message, error)

	Ping(ctx context.Context) error
	Close() error
}
