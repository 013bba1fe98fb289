package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/BeskiJoseph/interview/internal/interview"
)

const sessionsTable = "interview_sessions"

// Supabase persists records in a Postgres table and recording blobs in a
// storage bucket, both through the Supabase API.
type Supabase struct {
	client  *supabase.Client
	baseURL string
	bucket  string
}

// NewSupabase builds the remote backend. URL and key must be non-empty; the
// gateway decides whether a remote tier exists at all.
func NewSupabase(url, serviceRoleKey, bucket string) (*Supabase, error) {
	if url == "" || serviceRoleKey == "" {
		return nil, fmt.Errorf("store: missing Supabase configuration")
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: create Supabase client: %w", err)
	}
	return &Supabase{
		client:  client,
		baseURL: strings.TrimRight(url, "/"),
		bucket:  bucket,
	}, nil
}

// Save upserts the record keyed by session ID.
func (s *Supabase) Save(_ context.Context, rec interview.Record) error {
	_, _, err := s.client.From(sessionsTable).
		Insert(rec, true, "sessionId", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("store: upsert session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Load returns the record for one session.
func (s *Supabase) Load(_ context.Context, sessionID string) (interview.Record, error) {
	var rows []interview.Record
	_, err := s.client.From(sessionsTable).
		Select("*", "", false).
		Eq("sessionId", sessionID).
		ExecuteTo(&rows)
	if err != nil {
		return interview.Record{}, fmt.Errorf("store: load session %s: %w", sessionID, err)
	}
	if len(rows) == 0 {
		return interview.Record{}, ErrNotFound
	}
	return rows[0], nil
}

// LoadAll returns every stored record, newest first.
func (s *Supabase) LoadAll(_ context.Context) ([]interview.Record, error) {
	var rows []interview.Record
	_, err := s.client.From(sessionsTable).
		Select("*", "", false).
		Order("timestamp", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("store: load sessions: %w", err)
	}
	return rows, nil
}

// Clear deletes every stored record.
func (s *Supabase) Clear(_ context.Context) error {
	_, _, err := s.client.From(sessionsTable).
		Delete("minimal", "").
		Neq("sessionId", "").
		Execute()
	if err != nil {
		return fmt.Errorf("store: clear sessions: %w", err)
	}
	return nil
}

// StoreRecording uploads the blob and returns its public URL.
func (s *Supabase) StoreRecording(_ context.Context, sessionID string, blob []byte) (string, error) {
	key := "recordings/" + sessionID + ".webm"
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(blob)); err != nil {
		return "", fmt.Errorf("store: upload recording %s: %w", sessionID, err)
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key), nil
}
