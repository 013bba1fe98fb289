package store

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// Remote is the full contract of the remote backend.
type Remote interface {
	Store
	StoreRecording(ctx context.Context, sessionID string, blob []byte) (string, error)
}

// Gateway fronts the remote backend with a transparent local fallback: every
// operation prefers Supabase and degrades to the local JSON tier when the
// remote call fails or no remote is configured. It implements
// interview.SessionStore.
type Gateway struct {
	remote Remote // nil when Supabase is not configured
	local  *Local
}

// NewGateway wires the two tiers. remote may be nil.
func NewGateway(remote Remote, local *Local) *Gateway {
	return &Gateway{remote: remote, local: local}
}

// Save persists the record remotely, falling back to the local tier.
func (g *Gateway) Save(ctx context.Context, rec interview.Record) error {
	if g.remote != nil {
		err := g.remote.Save(ctx, rec)
		if err == nil {
			return nil
		}
		log.Printf("store: remote save failed, keeping local copy: %v", err)
	}
	return g.local.Save(ctx, rec)
}

// Load prefers the remote record and falls back to the local copy.
func (g *Gateway) Load(ctx context.Context, sessionID string) (interview.Record, error) {
	if g.remote != nil {
		rec, err := g.remote.Load(ctx, sessionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			log.Printf("store: remote load failed, trying local: %v", err)
		}
	}
	return g.local.Load(ctx, sessionID)
}

// LoadAll merges both tiers, deduplicated by session ID with the newer record
// winning, ordered newest first.
func (g *Gateway) LoadAll(ctx context.Context) ([]interview.Record, error) {
	local, err := g.local.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if g.remote == nil {
		return local, nil
	}
	remote, err := g.remote.LoadAll(ctx)
	if err != nil {
		log.Printf("store: remote list failed, serving local only: %v", err)
		return local, nil
	}
	return mergeRecords(remote, local), nil
}

// Clear removes records from both tiers. The local tier is cleared even when
// the remote delete fails.
func (g *Gateway) Clear(ctx context.Context) error {
	var remoteErr error
	if g.remote != nil {
		remoteErr = g.remote.Clear(ctx)
		if remoteErr != nil {
			log.Printf("store: remote clear failed: %v", remoteErr)
		}
	}
	if err := g.local.Clear(ctx); err != nil {
		return err
	}
	return remoteErr
}

// StoreRecording uploads the blob remotely, falling back to a local file. It
// returns an empty reference when both tiers fail; recordings never block
// session finalization.
func (g *Gateway) StoreRecording(ctx context.Context, sessionID string, blob []byte) string {
	if g.remote != nil {
		ref, err := g.remote.StoreRecording(ctx, sessionID, blob)
		if err == nil {
			return ref
		}
		log.Printf("store: remote upload failed, keeping local file: %v", err)
	}
	ref, err := g.local.StoreRecording(ctx, sessionID, blob)
	if err != nil {
		log.Printf("store: local recording write failed: %v", err)
		return ""
	}
	return ref
}

func mergeRecords(primary, secondary []interview.Record) []interview.Record {
	seen := make(map[string]int, len(primary))
	out := make([]interview.Record, 0, len(primary)+len(secondary))
	for _, rec := range primary {
		seen[rec.SessionID] = len(out)
		out = append(out, rec)
	}
	for _, rec := range secondary {
		if i, ok := seen[rec.SessionID]; ok {
			if rec.Timestamp.After(out[i].Timestamp) {
				out[i] = rec
			}
			continue
		}
		seen[rec.SessionID] = len(out)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
