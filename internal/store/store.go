// Package store declares the external collaborator interfaces the room
// engine and gateway consume for durability, identity verification, and
// music-catalog access. The core never implements a real integration
// against any of these; callers wire in their own.
package store

import (
	"context"
	"time"
)

// RoomSnapshot is the serializable projection of a Room persisted for
// recovery, per spec.md §4.6.
type RoomSnapshot struct {
	Code         string
	HostUserID   string
	Mode         string
	GameType     string
	RoundIndex   int
	AnswersKnown bool
	Tracks       []SnapshotTrack
	CurrentRound *SnapshotRound
	Players      map[string]SnapshotPlayer // userID -> player
}

type SnapshotTrack struct {
	ID         string
	Title      string
	Artist     string
	PreviewURL string
	VideoID    string
	Cover      string
	Source     string
}

type SnapshotRound struct {
	StartedAt time.Time
	Track     SnapshotTrack
	Solved    bool
	Paused    bool
}

type SnapshotPlayer struct {
	Name      string
	Score     int
	AvatarURL string
}

// LeaderboardEntry is one row of the top-N leaderboard.
type LeaderboardEntry struct {
	UserID      string
	Name        string
	Score       int
	LastUpdated time.Time
}

// PlaylistHistoryEntry is one row of a user's recent-playlist log.
type PlaylistHistoryEntry struct {
	URL    string
	Name   string
	Source string
}

// Store is the persistence capability the core consumes. Implementations
// must be safe for concurrent use.
type Store interface {
	SaveRoom(ctx context.Context, code string, snapshot RoomSnapshot) error
	LoadRoom(ctx context.Context, code string) (RoomSnapshot, bool, error)
	DeleteRoom(ctx context.Context, code string) error

	// IncrementLeaderboard performs a transactional read-modify-write on
	// (score, name, lastUpdated), creating the row on first increment.
	IncrementLeaderboard(ctx context.Context, userID, name string, delta int) error
	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// AppendRecentPlaylist deduplicates by URL, moves the most recent
	// entry to the head, and caps history at 10 entries.
	AppendRecentPlaylist(ctx context.Context, userID string, entry PlaylistHistoryEntry) ([]PlaylistHistoryEntry, error)
	GetRecentPlaylists(ctx context.Context, userID string) ([]PlaylistHistoryEntry, error)
}

// VerifiedIdentity is the result of a successful token verification.
type VerifiedIdentity struct {
	UserID   string
	PhotoURL string
}

// TokenVerifier turns a bearer credential into a stable user identity.
// Verification failure is never fatal to the caller: joining as
// unauthenticated remains possible (spec.md §7, Auth).
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (VerifiedIdentity, error)
}

// Track is a single catalog entry, independent of any particular room.
type Track struct {
	ID         string
	Title      string
	Artist     string
	PreviewURL string
	VideoID    string
	Cover      string
	Source     string
}

// ParsedPlaylist is the result of resolving a playlist URL.
type ParsedPlaylist struct {
	Source       string
	PlaylistID   string
	PlaylistName string
	Total        int
	Playable     int
	Tracks       []Track
}

// PlaylistProvider resolves playlist URLs to track lists and performs
// catalog/video-site search, per spec.md §1 and §4.2.
type PlaylistProvider interface {
	// ParsePlaylist resolves a playlist URL into its track list. songCount
	// limits how many tracks are returned (0 means provider default).
	ParsePlaylist(ctx context.Context, url string, songCount int) (ParsedPlaylist, error)

	// SearchScraper performs a quota-free catalog search, returning the
	// best-match track or ok=false if nothing was found.
	SearchScraper(ctx context.Context, query string) (Track, bool, error)

	// SearchOfficial performs an official, quota-limited video-site search.
	// ErrQuotaExceeded (or an error satisfying errors.Is against it) trips
	// the playback resolver's circuit breaker.
	SearchOfficial(ctx context.Context, query string) (Track, bool, error)
}

// AuthTokenSource is an optional capability a PlaylistProvider implements
// when its official search API sits behind a periodically refreshed
// bearer token rather than (or in addition to) a static API key. When a
// provider implements this, the playback resolver caches the returned
// token process-wide until ttl minus a safety margin, serializing
// concurrent refreshes, and attaches it to the context it passes into
// SearchOfficial (retrievable with playback.TokenFromContext).
type AuthTokenSource interface {
	FetchAuthToken(ctx context.Context) (token string, ttl time.Duration, err error)
}
