// Package session implements the Session Store component: per-SessionKey
// conversation memory with atomic append and bounded context export.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/gatewaydev/dispatchcore/internal/gatewaytypes"
)

// Backend is an optional pass-through persistence layer. Writes through a
// Backend are asynchronous with best-effort durability: a failed write is
// logged, never dropped silently.
type Backend interface {
	Save(ctx context.Context, rec *gatewaytypes.SessionRecord) error
}

type entry struct {
	mu     sync.Mutex
	record gatewaytypes.SessionRecord
}

// Store is the in-memory Session Store, with each key guarded by its own
// mutex so that concurrent dispatches touching different sessions never
// contend, following the donor rate limiter's per-key map-of-state
// pattern and the KeyedMutex per-key locking discipline.
type Store struct {
	mu       sync.RWMutex
	sessions map[gatewaytypes.SessionKey]*entry
	ttl      time.Duration
	backend  Backend
	logger   zerolog.Logger
}

// NewStore builds a Store with the given default TTL and optional backend.
func NewStore(ttl time.Duration, backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[gatewaytypes.SessionKey]*entry),
		ttl:      ttl,
		backend:  backend,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

func (s *Store) getOrCreate(key gatewaytypes.SessionKey) *entry {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.sessions[key]; ok {
		return e
	}
	now := time.Now().UTC()
	e = &entry{record: gatewaytypes.SessionRecord{Key: key, CreatedAt: now, UpdatedAt: now}}
	s.sessions[key] = e
	return e
}

// Load returns the SessionRecord for key, creating it if absent.
func (s *Store) Load(ctx context.Context, key gatewaytypes.SessionKey) gatewaytypes.SessionRecord {
	e := s.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecord(e.record)
}

// Append atomically adds one message to the session and updates its
// bookkeeping fields. The append is visible to any Recent call that
// begins after it returns; a Recent call that begins before Append
// completes sees either the full record or the record as it was, never a
// partially-written message, since both operations hold the same per-key
// mutex for their entire critical section.
func (s *Store) Append(ctx context.Context, key gatewaytypes.SessionKey, role gatewaytypes.Role, content string, ts time.Time) {
	e := s.getOrCreate(key)
	e.mu.Lock()
	e.record.Messages = append(e.record.Messages, gatewaytypes.Message{Role: role, Content: content, Timestamp: ts})
	e.record.MessageCount = len(e.record.Messages)
	e.record.UpdatedAt = ts
	snapshot := cloneRecord(e.record)
	e.mu.Unlock()

	if s.backend != nil {
		go func() {
			if err := s.backend.Save(context.Background(), &snapshot); err != nil {
				s.logger.Error().Err(err).Str("session_key", string(key)).Msg("session backend write failed")
			}
		}()
	}
}

// Recent returns the last n messages in insertion order.
func (s *Store) Recent(ctx context.Context, key gatewaytypes.SessionKey, n int) []gatewaytypes.Message {
	e := s.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs := e.record.Messages
	if n <= 0 || n >= len(msgs) {
		out := make([]gatewaytypes.Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]gatewaytypes.Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

// Expire removes a session immediately, independent of the TTL sweep.
func (s *Store) Expire(key gatewaytypes.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

// sweepExpired removes sessions whose UpdatedAt is older than the TTL.
// Exposed for the background sweeper in ttl.go.
func (s *Store) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.sessions {
		e.mu.Lock()
		stale := now.Sub(e.record.UpdatedAt) > s.ttl
		e.mu.Unlock()
		if stale {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

func cloneRecord(r gatewaytypes.SessionRecord) gatewaytypes.SessionRecord {
	out := r
	out.Messages = make([]gatewaytypes.Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	return out
}
