package store

import (
	"context"
	"errors"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// ErrNotFound is returned when no record exists for a session ID.
var ErrNotFound = errors.New("store: session not found")

// Store persists session records and recording blobs. Implementations are the
// Supabase backend, the local JSON backend, and the Gateway that fronts both.
type Store interface {
	Save(ctx context.Context, rec interview.Record) error
	Load(ctx context.Context, sessionID string) (interview.Record, error)
	LoadAll(ctx context.Context) ([]interview.Record, error)
	Clear(ctx context.Context) error
}
