package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tbxark/formchat/types"
)

// Registry maps session identifiers to live sessions.
type Registry struct {
	mu    sync.Mutex
	cache Cache[*Session]
}

func NewRegistry(cache Cache[*Session]) *Registry {
	if cache == nil {
		cache = NewMemoryCache[*Session]()
	}
	return &Registry{cache: cache}
}

func NewMemoryRegistry() *Registry {
	return NewRegistry(NewMemoryCache[*Session]())
}

// Create registers a new session, replacing any existing session with the same id.
// The labelset is trimmed and de-duplicated; an empty input labelset is rejected,
// while one that collapses to nothing yields a session with no fields.
func (r *Registry) Create(ctx context.Context, id string, labelset []string, callbackURL string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", types.ErrInvalidArgument)
	}
	if len(labelset) == 0 {
		return nil, fmt.Errorf("%w: labelset must not be empty", types.ErrInvalidArgument)
	}

	sess := newSession(id, NormalizeLabelset(labelset), callbackURL)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists, err := r.cache.Get(ctx, id); err != nil {
		return nil, err
	} else if exists {
		slog.Warn("Session already exists, resetting", "session_id", id)
	}
	if err := r.cache.Set(ctx, id, sess); err != nil {
		return nil, fmt.Errorf("store session %s: %w", id, err)
	}
	return sess, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	sess, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return sess, nil
}

// Owns reports whether id currently maps to sess. A session replaced by a new
// Create with the same id is no longer owned.
func (r *Registry) Owns(ctx context.Context, id string, sess *Session) bool {
	current, ok, err := r.cache.Get(ctx, id)
	return err == nil && ok && current == sess
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Del(ctx, id)
}

// Remove deletes id only while it still maps to sess.
func (r *Registry) Remove(ctx context.Context, id string, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok || current != sess {
		return nil
	}
	return r.cache.Del(ctx, id)
}

// List returns snapshots of all active sessions ordered by id.
func (r *Registry) List(ctx context.Context) ([]Snapshot, error) {
	keys, err := r.cache.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		sess, ok, gErr := r.cache.Get(ctx, key)
		if gErr != nil {
			return nil, gErr
		}
		if !ok {
			continue
		}
		out = append(out, sess.Snapshot())
	}
	return out, nil
}

// NormalizeLabelset trims labels and drops blanks and duplicates, keeping first occurrences.
func NormalizeLabelset(labelset []string) []string {
	seen := make(map[string]struct{}, len(labelset))
	out := make([]string, 0, len(labelset))
	for _, label := range labelset {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}
