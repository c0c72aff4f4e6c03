// Package memstore is the in-memory reference implementation of
// store.Store used by cmd/tunehubd when no external backend is
// configured, and by internal/gateway's tests. It mirrors celebrity.go's
// GameManager: a mutex-guarded map of structs, generalized from one
// collection of hubs to the three collections store.Store needs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tunehub/tunehub/internal/store"
)

const maxPlaylistHistory = 10

type Store struct {
	mu sync.Mutex

	rooms       map[string]store.RoomSnapshot
	leaderboard map[string]*store.LeaderboardEntry
	history     map[string][]store.PlaylistHistoryEntry
}

func New() *Store {
	return &Store{
		rooms:       make(map[string]store.RoomSnapshot),
		leaderboard: make(map[string]*store.LeaderboardEntry),
		history:     make(map[string][]store.PlaylistHistoryEntry),
	}
}

func (s *Store) SaveRoom(_ context.Context, code string, snapshot store.RoomSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[code] = snapshot
	return nil
}

func (s *Store) LoadRoom(_ context.Context, code string) (store.RoomSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.rooms[code]
	return snap, ok, nil
}

func (s *Store) DeleteRoom(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, code)
	return nil
}

func (s *Store) IncrementLeaderboard(_ context.Context, userID, name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.leaderboard[userID]
	if !ok {
		entry = &store.LeaderboardEntry{UserID: userID}
		s.leaderboard[userID] = entry
	}
	entry.Name = name
	entry.Score += delta
	entry.LastUpdated = time.Now()
	return nil
}

func (s *Store) GetLeaderboard(_ context.Context, limit int) ([]store.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]store.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].LastUpdated.Before(entries[j].LastUpdated)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) AppendRecentPlaylist(_ context.Context, userID string, entry store.PlaylistHistoryEntry) ([]store.PlaylistHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.history[userID]
	deduped := existing[:0:0]
	for _, e := range existing {
		if e.URL != entry.URL {
			deduped = append(deduped, e)
		}
	}
	updated := append([]store.PlaylistHistoryEntry{entry}, deduped...)
	if len(updated) > maxPlaylistHistory {
		updated = updated[:maxPlaylistHistory]
	}
	s.history[userID] = updated

	out := make([]store.PlaylistHistoryEntry, len(updated))
	copy(out, updated)
	return out, nil
}

func (s *Store) GetRecentPlaylists(_ context.Context, userID string) ([]store.PlaylistHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.history[userID]
	out := make([]store.PlaylistHistoryEntry, len(existing))
	copy(out, existing)
	return out, nil
}
